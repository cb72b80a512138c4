// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"io"
	"iter"
	"os"

	"github.com/jossemii/grpc-bb/blockbuilder"
	"github.com/jossemii/grpc-bb/blockstore"
	"github.com/jossemii/grpc-bb/digest"
	"github.com/jossemii/grpc-bb/env"
	"github.com/jossemii/grpc-bb/internal/manifest"
	"github.com/jossemii/grpc-bb/message"
	"github.com/jossemii/grpc-bb/pointerwalk"
)

// SerializeOptions configures Serialize and SerializeAsync.
type SerializeOptions struct {
	Store     *blockstore.Store
	Alg       digest.Algorithm
	Allow     map[string]struct{}
	ChunkSize int

	// Signal, if non-nil, is polled before every outbound chunk
	// (flow control). A nil Signal behaves as never-paused.
	Signal *Signal

	// TempDir is where oversized messages are materialised into a
	// segmented directory before streaming. Empty selects os.TempDir().
	TempDir string
}

func (o SerializeOptions) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return env.DefaultChunkSize
}

func (o SerializeOptions) wait() {
	if o.Signal != nil {
		o.Signal.Wait()
	}
}

// Serialize implements the "serialise" operation as a Go 1.23
// range-over-func iterator: a lazy, ordered stream of frames, one logical
// message (head…separator) per input item.
func Serialize(items iter.Seq[Item], opts SerializeOptions) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for item := range items {
			if !serializeItem(item, opts, yield) {
				return
			}
		}
	}
}

func serializeItem(item Item, opts SerializeOptions, yield func(Frame, error) bool) bool {
	switch {
	case item.Message != nil:
		return serializeMessage(item.Index, item.Message, opts, yield)
	case item.Directory != nil:
		return serializeDirectory(item.Index, item.Directory.Dir, opts, yield)
	default:
		return emitSelfContained(item.Index, item.Raw, opts, yield)
	}
}

// serializeMessage handles the small-message case: a small, pointer-free
// message goes out as one self-contained frame; anything else is
// materialised via blockbuilder and streamed as a directory.
func serializeMessage(index int, w message.Walker, opts SerializeOptions, yield func(Frame, error) bool) bool {
	buf := message.Encode(w)
	if len(buf) < opts.chunkSize() && !pointerwalk.ContainsBlock(w, opts.Allow, opts.Alg) {
		return emitSelfContained(index, buf, opts, yield)
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(tempDir, "grpc-bb-out-")
	if err != nil {
		return yield(Frame{}, err)
	}
	defer os.RemoveAll(dir)
	if _, err := blockbuilder.Build(w, opts.Allow, opts.Alg, opts.Store, dir); err != nil {
		return yield(Frame{}, err)
	}
	return serializeDirectory(index, dir, opts, yield)
}

func emitSelfContained(index int, buf []byte, opts SerializeOptions, yield func(Frame, error) bool) bool {
	if !yield(Frame{Kind: KindHead, Index: index}, nil) {
		return false
	}
	opts.wait()
	if !yield(Frame{Kind: KindChunk, Chunk: buf}, nil) {
		return false
	}
	return yield(Frame{Kind: KindSeparator, SeparatorEnd: true}, nil)
}

// serializeDirectory handles the oversized-message case: stream a segmented
// directory's segments and block references in manifest order.
func serializeDirectory(index int, dir string, opts SerializeOptions, yield func(Frame, error) bool) bool {
	if !yield(Frame{Kind: KindHead, Index: index}, nil) {
		return false
	}
	entries, err := manifest.Load(dir)
	if err != nil {
		return yield(Frame{}, err)
	}
	buf := make([]byte, opts.chunkSize())
	for _, e := range entries {
		if !e.IsRef {
			f, err := os.Open(manifest.SegmentPath(dir, e.Segment))
			if err != nil {
				return yield(Frame{}, err)
			}
			ok := streamChunks(f, buf, opts, yield)
			f.Close()
			if !ok {
				return false
			}
			continue
		}
		pos := 0
		if len(e.Ref.Path) > 0 {
			pos = e.Ref.Path[len(e.Ref.Path)-1]
		}
		if !yield(Frame{Kind: KindBlock, BlockDigest: e.Ref.DigestHex, PrevLengthsPos: pos}, nil) {
			return false
		}
		rc, err := opts.Store.OpenStream(e.Ref.DigestHex)
		if err != nil {
			return yield(Frame{}, err)
		}
		ok := streamChunks(rc, buf, opts, yield)
		rc.Close()
		if !ok {
			return false
		}
		if !yield(Frame{Kind: KindBlock, BlockDigest: e.Ref.DigestHex, PrevLengthsPos: pos}, nil) {
			return false
		}
	}
	return yield(Frame{Kind: KindSeparator, SeparatorEnd: true}, nil)
}

func streamChunks(r io.Reader, buf []byte, opts SerializeOptions, yield func(Frame, error) bool) bool {
	for {
		opts.wait()
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !yield(Frame{Kind: KindChunk, Chunk: chunk}, nil) {
				return false
			}
		}
		if err == io.EOF {
			return true
		}
		if err != nil {
			return yield(Frame{}, err)
		}
	}
}
