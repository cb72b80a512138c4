// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockdriver implements the wbp reconstructor: given a segmented
// directory produced by blockbuilder, it rewrites every
// length prefix along every root-to-leaf path from the builder's real
// lengths back to the pruned lengths the original wire form had, and writes
// the result as wbp.bin.
package blockdriver

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/jossemii/grpc-bb/blockstore"
	"github.com/jossemii/grpc-bb/digest"
	"github.com/jossemii/grpc-bb/internal/manifest"
	"github.com/jossemii/grpc-bb/lengths"
	"github.com/jossemii/grpc-bb/pointerwalk"
	"github.com/jossemii/grpc-bb/wire"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "blockdriver: " + string(e) }

// GenerateWBP loads dir's manifest and segments,
// recomputes every length prefix's pruned value, splices in a minimal
// single-hash descriptor at each block reference's slot, and writes the
// result to dir/wbp.bin, overwriting any existing file.
func GenerateWBP(dir string, store *blockstore.Store, alg digest.Algorithm) error {
	raw, err := Reconstruct(dir, store, alg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "wbp.bin"), raw, 0o644)
}

// Reconstruct returns the pruned wire buffer without writing it to disk;
// GenerateWBP is its disk-writing counterpart.
func Reconstruct(dir string, store *blockstore.Store, alg digest.Algorithm) ([]byte, error) {
	entries, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}

	// V: the concatenation of the literal segment
	// bytes only. A block's content is a zero-width marker in this
	// addressing scheme — its slot is the position between the segment
	// bytes that precede and follow it. The preceding segment ends with the
	// reference's own length prefix (holding the block's real length),
	// whose offset blockbuilder recorded as the last element of Ref.Path.
	raw, leafDigest, found := assembleView(dir, entries)

	descLen := digest.L_desc(alg)
	tree := lengths.BuildTree(found)

	result, err := solveInverse(tree, raw, store, descLen)
	if err != nil {
		return nil, err
	}

	offsets := make([]int, 0, len(result))
	for o := range result {
		offsets = append(offsets, o)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(offsets)))

	// Descending order: rewriting or inserting at a later offset never
	// invalidates an earlier one still to be processed.
	for _, o := range offsets {
		rec := result[o]
		if rec.IsLeaf {
			desc, err := minimalDescriptor(alg, leafDigest[o])
			if err != nil {
				return nil, err
			}
			_, oldWidth, err := wire.DecodeVarint(raw, o)
			if err != nil {
				return nil, err
			}
			prefixed := append(wire.EncodeVarint(uint64(rec.PrunedLength)), desc...)
			raw = splice(raw, o, oldWidth, prefixed)
			continue
		}
		_, oldWidth, err := wire.DecodeVarint(raw, o)
		if err != nil {
			return nil, err
		}
		raw = splice(raw, o, oldWidth, wire.EncodeVarint(uint64(rec.PrunedLength)))
	}
	return raw, nil
}

// assembleView reads dir's literal segment files in manifest order,
// concatenating them into raw, and collects the block references keyed by
// digest (for lengths.BuildTree) and by offset (to know which digest to
// re-mint a descriptor for at reconstruction time).
func assembleView(dir string, entries []manifest.Entry) (raw []byte, leafDigest map[int]string, found map[string][]pointerwalk.Path) {
	leafDigest = map[int]string{}
	found = map[string][]pointerwalk.Path{}
	for _, e := range entries {
		if e.IsRef {
			p := pointerwalk.Path(append([]int(nil), e.Ref.Path...))
			found[e.Ref.DigestHex] = append(found[e.Ref.DigestHex], p)
			leafDigest[p[len(p)-1]] = e.Ref.DigestHex
			continue
		}
		data, err := os.ReadFile(manifest.SegmentPath(dir, e.Segment))
		if err != nil {
			panic(err) // a missing segment file is a corrupt directory, not a recoverable condition here
		}
		raw = append(raw, data...)
	}
	return raw, leafDigest, found
}

// solveInverse is blockdriver's mirror of lengths.Solve: at a leaf, the
// real length still comes from the block store (the leaf's content occupies
// no bytes in raw) and the pruned length is the fixed descriptor size; at
// an interior offset, the *real* length is read from raw (blockbuilder
// wrote it there) and the *pruned* length is derived — the exact algebraic
// inverse of the forward real-length formula.
func solveInverse(tree lengths.Tree, raw []byte, store *blockstore.Store, descLen int) (map[int]lengths.Record, error) {
	result := map[int]lengths.Record{}
	if err := solveInverseChildren(tree, raw, store, descLen, result); err != nil {
		return nil, err
	}
	return result, nil
}

func solveInverseChildren(t lengths.Tree, raw []byte, store *blockstore.Store, descLen int, out map[int]lengths.Record) error {
	for _, o := range t.SortedOffsets() {
		e := t[o]
		if e.Children == nil {
			size, err := store.Size(e.Digest)
			if err != nil {
				return err
			}
			out[o] = lengths.Record{RealLength: size, PrunedLength: int64(descLen), IsLeaf: true}
			continue
		}
		realLen, _, err := wire.DecodeVarint(raw, o)
		if err != nil {
			return err
		}
		if err := solveInverseChildren(e.Children, raw, store, descLen, out); err != nil {
			return err
		}
		var realBody, prunedBody int64
		for co := range e.Children {
			child := out[co]
			realBody += child.RealLength + int64(wire.VarintWidth(uint64(child.RealLength))) + 1
			prunedBody += child.PrunedLength + int64(wire.VarintWidth(uint64(child.PrunedLength))) + 1
		}
		prunedLen := int64(realLen) - realBody + prunedBody
		out[o] = lengths.Record{RealLength: int64(realLen), PrunedLength: prunedLen, IsLeaf: false}
	}
	return nil
}

func minimalDescriptor(alg digest.Algorithm, digestHex string) ([]byte, error) {
	raw, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, err
	}
	return digest.DescriptorFor(alg, raw).Encode(), nil
}

// splice replaces buf[offset:offset+oldWidth] with replacement, returning a
// freshly allocated slice so earlier callers' views of buf are undisturbed.
func splice(buf []byte, offset, oldWidth int, replacement []byte) []byte {
	out := make([]byte, 0, len(buf)-oldWidth+len(replacement))
	out = append(out, buf[:offset]...)
	out = append(out, replacement...)
	out = append(out, buf[offset+oldWidth:]...)
	return out
}
