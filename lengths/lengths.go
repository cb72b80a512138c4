// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lengths implements the lengths tree builder and real-length
// solver: the bookkeeping that lets the block
// builder and wbp reconstructor translate between a message's "real"
// lengths (as if block pointers were inlined) and its "pruned" lengths
// (as the descriptors stand on the wire).
package lengths

import (
	"sort"

	"github.com/jossemii/grpc-bb/blockstore"
	"github.com/jossemii/grpc-bb/pointerwalk"
	"github.com/jossemii/grpc-bb/wire"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "lengths: " + string(e) }

// ErrInconsistentLengths reports that a pruned length prefix read from the
// buffer is smaller than the bodies its own children demand — a
// catastrophic invariant violation indicating manifest/buffer drift.
var ErrInconsistentLengths error = Error("inconsistent lengths")

// Entry is one node of a Tree: either a leaf (Digest set, Children nil) or
// an interior node (Children non-nil).
type Entry struct {
	Digest   string
	Children Tree
}

// Tree is the nested offset -> Entry mapping making up a lengths tree.
type Tree map[int]Entry

// BuildTree inserts every (digest, path) pair from a pointer walk into a
// nested Tree, creating interior nodes for every path prefix.
func BuildTree(found map[string][]pointerwalk.Path) Tree {
	root := Tree{}
	for digest, paths := range found {
		for _, path := range paths {
			insert(root, path, digest)
		}
	}
	return root
}

func insert(t Tree, path pointerwalk.Path, digest string) {
	for i, offset := range path {
		if i == len(path)-1 {
			t[offset] = Entry{Digest: digest}
			return
		}
		e, ok := t[offset]
		if !ok || e.Children == nil {
			e = Entry{Children: Tree{}}
			t[offset] = e
		}
		t = e.Children
	}
}

// SortedOffsets returns t's keys in ascending order — the ordering of keys
// at each level is ascending by offset.
func (t Tree) SortedOffsets() []int {
	offsets := make([]int, 0, len(t))
	for o := range t {
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)
	return offsets
}

// Record is the per-offset real/pruned/is-leaf triple.
type Record struct {
	RealLength   int64
	PrunedLength int64
	IsLeaf       bool
}

// Solve walks tree against the pruned buffer buf and
// the block store, producing a flat offset -> Record map covering every
// offset the tree mentions. descLen is L_desc, the fixed encoded size of a
// single-hash descriptor under the active algorithm (digest.L_desc).
func Solve(tree Tree, buf []byte, store *blockstore.Store, descLen int) (result map[int]Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	result = map[int]Record{}
	solveChildren(tree, buf, store, descLen, result)
	return result, nil
}

// solveChildren solves every entry of t and returns the real/pruned body
// contributions it makes to its parent, following the recursive
// definition of real/pruned length. Errors from the block store and from
// varint decoding are raised as panics, and so is a pruned length smaller
// than its children's bodies (ErrInconsistentLengths); Solve recovers all of
// them and returns them as its error.
func solveChildren(t Tree, buf []byte, store *blockstore.Store, descLen int, out map[int]Record) (realBody, prunedBody int64) {
	for _, o := range t.SortedOffsets() {
		e := t[o]
		var rec Record
		if e.Children == nil {
			size, err := store.Size(e.Digest)
			if err != nil {
				panic(err)
			}
			rec = Record{RealLength: size, PrunedLength: int64(descLen), IsLeaf: true}
		} else {
			prunedLen, _, err := wire.DecodeVarint(buf, o)
			if err != nil {
				panic(err)
			}
			childReal, childPruned := solveChildren(e.Children, buf, store, descLen, out)
			if int64(prunedLen) < childPruned {
				panic(ErrInconsistentLengths)
			}
			realLen := childReal + (int64(prunedLen) - childPruned)
			rec = Record{RealLength: realLen, PrunedLength: int64(prunedLen), IsLeaf: false}
		}
		out[o] = rec
		realBody += rec.RealLength + int64(wire.VarintWidth(uint64(rec.RealLength))) + 1
		prunedBody += rec.PrunedLength + int64(wire.VarintWidth(uint64(rec.PrunedLength))) + 1
	}
	return realBody, prunedBody
}
