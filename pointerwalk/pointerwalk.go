// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pointerwalk implements the traversal that, given a
// structured message and an allow-listed set of block digests, locates every
// leaf byte field that parses as a block-pointer descriptor for one of
// those digests, and record the root-to-leaf offset path to each.
package pointerwalk

import (
	"github.com/jossemii/grpc-bb/digest"
	"github.com/jossemii/grpc-bb/message"
	"github.com/jossemii/grpc-bb/wire"
)

// Path is an ordered sequence of byte offsets from the root to a
// particular sub-object's length prefix. For a block
// pointer, the last element is the offset of the pointer's own length
// prefix.
type Path []int

// clone returns a copy of p with extra appended, so callers holding onto an
// earlier path slice are never aliased into a later append's backing array.
func (p Path) clone(extra ...int) Path {
	out := make(Path, len(p)+len(extra))
	copy(out, p)
	copy(out[len(p):], extra)
	return out
}

// Walk traverses w and returns, for every digest in allow that some byte
// leaf's descriptor resolves to (under alg), the list of paths to every
// occurrence — duplicates preserved: the same digest may appear in
// multiple paths, and all paths are retained.
func Walk(w message.Walker, allow map[string]struct{}, alg digest.Algorithm) map[string][]Path {
	found := map[string][]Path{}
	walkMessage(w, allow, alg, nil, 0, found)
	return found
}

// ContainsBlock reports whether w has at least one byte leaf whose digest
// (under alg) is in allow, without building the full path map. Grounded on
// the original project's contain_blocks (client.py), used by the transport
// layer's single-frame fast path.
func ContainsBlock(w message.Walker, allow map[string]struct{}, alg digest.Algorithm) bool {
	found := false
	w.Fields(func(_ int, kind message.FieldKind, value any) bool {
		switch kind {
		case message.KindBytes:
			if isBlock(value.([]byte), allow, alg) {
				found = true
			}
		case message.KindSubMessage:
			if ContainsBlock(value.(message.Walker), allow, alg) {
				found = true
			}
		case message.KindRepeatedSubMessage:
			for _, sub := range value.([]message.Walker) {
				if ContainsBlock(sub, allow, alg) {
					found = true
					break
				}
			}
		}
		return !found
	})
	return found
}

// walkMessage walks w's fields in encounter order, accumulating byte
// offsets exactly by field kind: each length-delimited field
// contributes 1 (tag) + width(len) + len bytes; scalars are skipped via
// their own re-encoded width.
func walkMessage(w message.Walker, allow map[string]struct{}, alg digest.Algorithm, path Path, base int, found map[string][]Path) {
	pos := base
	w.Fields(func(fieldNumber int, kind message.FieldKind, value any) bool {
		switch kind {
		case message.KindSubMessage:
			sub := value.(message.Walker)
			size := sub.Size()
			walkMessage(sub, allow, alg, path.clone(pos+1), pos+1+wire.VarintWidth(uint64(size)), found)
			pos += 1 + wire.VarintWidth(uint64(size)) + size

		case message.KindRepeatedSubMessage:
			for _, sub := range value.([]message.Walker) {
				size := sub.Size()
				walkMessage(sub, allow, alg, path.clone(pos+1), pos+1+wire.VarintWidth(uint64(size)), found)
				pos += 1 + wire.VarintWidth(uint64(size)) + size
			}

		case message.KindBytes:
			b := value.([]byte)
			if d, ok := isBlockDigest(b, allow, alg); ok {
				p := path.clone(pos + 1)
				found[d] = append(found[d], p)
			}
			pos += 1 + wire.VarintWidth(uint64(len(b))) + len(b)

		case message.KindScalar:
			enc := value.(message.Encoder).EncodeField(nil)
			pos += len(enc)
		}
		return true
	})
}

func isBlock(b []byte, allow map[string]struct{}, alg digest.Algorithm) bool {
	_, ok := isBlockDigest(b, allow, alg)
	return ok
}

// isBlockDigest implements the two-part qualification test: b
// parses as a Descriptor, and the digest for the environment's active
// algorithm is a member of allow.
func isBlockDigest(b []byte, allow map[string]struct{}, alg digest.Algorithm) (string, bool) {
	d, ok := digest.ParseDescriptor(b)
	if !ok {
		return "", false
	}
	hex, ok := d.Hex(alg)
	if !ok {
		return "", false
	}
	if _, allowed := allow[hex]; !allowed {
		return "", false
	}
	return hex, true
}
