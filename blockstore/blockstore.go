// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockstore implements the content-addressed block repository: a
// flat directory keyed by hex digest, holding either a
// single file (the common case) or, for a multiblock block, a segmented
// directory recursively bounded by the store's MaxDepth.
package blockstore

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jossemii/grpc-bb/internal/fsutil"
	"github.com/jossemii/grpc-bb/internal/manifest"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "blockstore: " + string(e) }

// ErrUnknownBlock reports a digest that is not present in the store.
var ErrUnknownBlock error = Error("unknown block")

// ErrDepthExceeded reports recursion into a nested multiblock block beyond
// the configured limit.
var ErrDepthExceeded error = Error("multiblock depth exceeded")

// Store is a content-addressed block repository rooted at Dir.
type Store struct {
	Dir string

	// MaxDepth bounds recursion into nested multiblock blocks. Zero means
	// "no nested multiblock blocks allowed" (a block directory's own
	// references must all be flat files).
	MaxDepth int

	// ChunkSize sizes OpenStream's read buffering. Zero selects a 1 MiB
	// default.
	ChunkSize int
}

func (s *Store) path(hex string) string {
	return filepath.Join(s.Dir, hex)
}

func (s *Store) chunkSize() int {
	if s.ChunkSize > 0 {
		return s.ChunkSize
	}
	return 1 << 20
}

// Exists reports whether hex names a block (file or directory) in the
// store.
func (s *Store) Exists(hex string) bool {
	_, err := os.Stat(s.path(hex))
	return err == nil
}

// Size reports a block's content length: the file size for a flat block,
// or the recursive real size for a multiblock directory (the sum of its
// literal segments plus the real size of every block it references).
func (s *Store) Size(hex string) (int64, error) {
	info, err := os.Stat(s.path(hex))
	if os.IsNotExist(err) {
		return 0, ErrUnknownBlock
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return s.multiblockSize(s.path(hex), 0)
}

func (s *Store) multiblockSize(dir string, depth int) (int64, error) {
	if depth > s.MaxDepth {
		return 0, ErrDepthExceeded
	}
	entries, err := manifest.Load(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.IsRef {
			info, err := os.Stat(manifest.SegmentPath(dir, e.Segment))
			if err != nil {
				return 0, err
			}
			total += info.Size()
			continue
		}
		refSize, err := s.sizeAtDepth(e.Ref.DigestHex, depth+1)
		if err != nil {
			return 0, err
		}
		total += refSize
	}
	return total, nil
}

func (s *Store) sizeAtDepth(hex string, depth int) (int64, error) {
	info, err := os.Stat(s.path(hex))
	if os.IsNotExist(err) {
		return 0, ErrUnknownBlock
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	return s.multiblockSize(s.path(hex), depth)
}

// IngestByMove renames tmpPath into the store under hex. It is idempotent:
// if hex already exists, tmpPath is discarded without being re-examined.
// On EXDEV it falls back to copy+unlink.
func (s *Store) IngestByMove(tmpPath, hex string) error {
	if s.Exists(hex) {
		return os.RemoveAll(tmpPath)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	if isDir, err := isDirectory(tmpPath); err != nil {
		return err
	} else if isDir {
		return moveDir(tmpPath, s.path(hex))
	}
	return fsutil.MoveFile(tmpPath, s.path(hex))
}

// IngestByCopy is IngestByMove's copy-preserving counterpart: srcPath is
// left in place.
func (s *Store) IngestByCopy(srcPath, hex string) error {
	if s.Exists(hex) {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	if isDir, err := isDirectory(srcPath); err != nil {
		return err
	} else if isDir {
		return copyDir(srcPath, s.path(hex))
	}
	return fsutil.CopyFile(srcPath, s.path(hex))
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// OpenStream returns a reader over a block's content in manifest order: for
// a flat block, the file itself; for a multiblock directory, the
// concatenation of its literal segments and the recursively-expanded
// content of every block it references, up to MaxDepth. Recursion
// terminates because a block cannot reference its own not-yet-computed
// digest.
//
// A background goroutine walks the manifest and writes into an io.Pipe so
// the caller can read at its own pace without this call first
// materializing the whole (potentially very large) block in memory.
func (s *Store) OpenStream(hex string) (io.ReadCloser, error) {
	info, err := os.Stat(s.path(hex))
	if os.IsNotExist(err) {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return os.Open(s.path(hex))
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.streamMultiblock(pw, s.path(hex), 0))
	}()
	return pr, nil
}

func (s *Store) streamMultiblock(w io.Writer, dir string, depth int) error {
	if depth > s.MaxDepth {
		return ErrDepthExceeded
	}
	entries, err := manifest.Load(dir)
	if err != nil {
		return err
	}
	buf := make([]byte, s.chunkSize())
	for _, e := range entries {
		if !e.IsRef {
			f, err := os.Open(manifest.SegmentPath(dir, e.Segment))
			if err != nil {
				return err
			}
			_, err = io.CopyBuffer(w, f, buf)
			f.Close()
			if err != nil {
				return err
			}
			continue
		}
		if err := s.streamBlockAtDepth(w, e.Ref.DigestHex, depth+1, buf); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) streamBlockAtDepth(w io.Writer, hex string, depth int, buf []byte) error {
	info, err := os.Stat(s.path(hex))
	if os.IsNotExist(err) {
		return ErrUnknownBlock
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		f, err := os.Open(s.path(hex))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.CopyBuffer(w, f, buf)
		return err
	}
	return s.streamMultiblock(w, s.path(hex), depth)
}

func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDir(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyDir(src, dst string) error {
	return filepathWalkCopy(src, dst)
}
