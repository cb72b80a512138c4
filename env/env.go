// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package env holds the process-wide configuration table: cache directory,
// block store directory, chosen digest algorithm, recursion depth, and a
// pluggable memory-accounting scope.
package env

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/jossemii/grpc-bb/digest"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "env: " + string(e) }

// ErrAlgorithmChangeRejected reports an attempt to switch the active digest
// algorithm while the block store already holds blocks, without opting into
// AllowReset to clear it first.
var ErrAlgorithmChangeRejected error = Error("active digest algorithm change would invalidate a non-empty block store; set AllowReset to clear it")

const (
	// DefaultChunkSize is the default read/write chunk size for block
	// streaming.
	DefaultChunkSize = 1 << 20 // 1 MiB

	// DefaultBlockDepth bounds recursion into nested multiblock blocks
	// during parse.
	DefaultBlockDepth = 1
)

// MemoryScope is a handle on a bulk-materialization accounting region.
// Release ends the region.
type MemoryScope interface {
	Release()
}

type noopScope struct{}

func (noopScope) Release() {}

// NoopMemoryScope never enforces a quota; it is the default.
func NoopMemoryScope(expected int) MemoryScope { return noopScope{} }

// Environment is the process's singleton settings table. It is
// initialized once via Configure and is read-only thereafter.
type Environment struct {
	CacheDir    string
	BlockDir    string
	BlockDepth  int
	ChunkSize   int
	Digest      digest.Algorithm
	MemoryScope func(expected int) MemoryScope
}

var (
	mu      sync.Mutex
	current *Environment
)

// Options configures a new Environment via Configure.
type Options struct {
	CacheDir    string
	BlockDir    string
	BlockDepth  int
	ChunkSize   int
	Digest      digest.Algorithm
	MemoryScope func(expected int) MemoryScope

	// AllowReset permits Configure to clear an existing, non-empty
	// BlockDir when the digest algorithm is changing.
	AllowReset bool
}

// Configure initializes the process-wide Environment. It is meant to be
// called once at startup and is read-only thereafter; subsequent
// calls that change the active digest algorithm while BlockDir already
// holds blocks fail unless AllowReset is set, in which case BlockDir's
// contents are removed first.
func Configure(opts Options) (*Environment, error) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Digest == nil {
		opts.Digest = digest.SHA256
	}
	if opts.BlockDepth <= 0 {
		opts.BlockDepth = DefaultBlockDepth
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MemoryScope == nil {
		opts.MemoryScope = NoopMemoryScope
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "grpc-bb", "cache")
	}
	if opts.BlockDir == "" {
		opts.BlockDir = filepath.Join(os.TempDir(), "grpc-bb", "blocks")
	}

	if current != nil && current.Digest.ID() != opts.Digest.ID() {
		empty, err := dirIsEmpty(current.BlockDir)
		if err != nil {
			return nil, err
		}
		if !empty {
			if !opts.AllowReset {
				return nil, ErrAlgorithmChangeRejected
			}
			if err := os.RemoveAll(current.BlockDir); err != nil {
				return nil, err
			}
		}
	}

	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.BlockDir, 0o755); err != nil {
		return nil, err
	}

	current = &Environment{
		CacheDir:    opts.CacheDir,
		BlockDir:    opts.BlockDir,
		BlockDepth:  opts.BlockDepth,
		ChunkSize:   opts.ChunkSize,
		Digest:      opts.Digest,
		MemoryScope: opts.MemoryScope,
	}
	return current, nil
}

// Current returns the process's active Environment, configuring defaults in
// a temporary location on first use.
func Current() *Environment {
	mu.Lock()
	e := current
	mu.Unlock()
	if e != nil {
		return e
	}
	e, err := Configure(Options{})
	if err != nil {
		// Defaults never fail to configure in a writable temp dir; a
		// caller that needs custom, fallible paths should call Configure
		// directly instead of relying on this lazy default.
		panic(err)
	}
	return e
}

func dirIsEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err == nil {
		return false, nil
	}
	return true, nil
}
