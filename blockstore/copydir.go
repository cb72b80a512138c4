// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockstore

import (
	"os"
	"path/filepath"

	"github.com/jossemii/grpc-bb/internal/fsutil"
)

// filepathWalkCopy recursively copies the directory tree rooted at src to
// dst, used when a block itself is a multiblock directory (a block may
// itself recursively be multiblock).
func filepathWalkCopy(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return fsutil.CopyFile(path, target)
	})
}
