// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pointerwalk

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jossemii/grpc-bb/digest"
	"github.com/jossemii/grpc-bb/message/testmsg"
)

func descriptorBytes(t *testing.T, alg digest.Algorithm, seed byte) []byte {
	t.Helper()
	d := digest.DescriptorFor(alg, append([]byte(nil), make([]byte, alg.Size())...))
	d.Hashes[0].Value[0] = seed
	return d.Encode()
}

func TestWalkRootFieldPointer(t *testing.T) {
	alg := digest.SHA256
	desc := descriptorBytes(t, alg, 0x01)
	d, _ := digest.ParseDescriptor(desc)
	hex, _ := d.Hex(alg)

	r := &testmsg.Record{Name: "root", Payload: desc}
	allow := map[string]struct{}{hex: {}}

	got := Walk(r, allow, alg)
	if len(got[hex]) != 1 {
		t.Fatalf("expected exactly one path for %s, got %v", hex, got)
	}
}

func TestWalkNestedFiveLevelsDeep(t *testing.T) {
	alg := digest.SHA256
	desc := descriptorBytes(t, alg, 0x02)
	d, _ := digest.ParseDescriptor(desc)
	hex, _ := d.Hex(alg)

	leaf := &testmsg.Record{Name: "L5", Payload: desc}
	l4 := &testmsg.Record{Name: "L4", Child: leaf}
	l3 := &testmsg.Record{Name: "L3", Child: l4}
	l2 := &testmsg.Record{Name: "L2", Child: l3}
	root := &testmsg.Record{Name: "L1", Child: l2}

	allow := map[string]struct{}{hex: {}}
	got := Walk(root, allow, alg)
	if len(got[hex]) != 1 {
		t.Fatalf("expected exactly one path for the deeply nested pointer, got %v", got)
	}
	if len(got[hex][0]) != 5 {
		t.Errorf("expected a 5-element path (one offset per nesting level), got %v", got[hex][0])
	}
}

func TestWalkTwoIdenticalDigestsDistinctPaths(t *testing.T) {
	alg := digest.SHA256
	desc := descriptorBytes(t, alg, 0x03)
	d, _ := digest.ParseDescriptor(desc)
	hex, _ := d.Hex(alg)

	child1 := &testmsg.Record{Name: "c1", Payload: desc}
	child2 := &testmsg.Record{Name: "c2", Payload: desc}
	root := &testmsg.Record{Name: "root", Children: []*testmsg.Record{child1, child2}}

	allow := map[string]struct{}{hex: {}}
	got := Walk(root, allow, alg)
	if len(got[hex]) != 2 {
		t.Fatalf("expected the shared digest recorded twice (once per occurrence), got %d paths: %v", len(got[hex]), got[hex])
	}
	if cmp.Equal(got[hex][0], got[hex][1]) {
		t.Errorf("expected the two occurrences to have distinct paths, both were %v", got[hex][0])
	}
}

func TestWalkIgnoresNonAllowlistedDescriptor(t *testing.T) {
	alg := digest.SHA256
	desc := descriptorBytes(t, alg, 0x04)

	r := &testmsg.Record{Name: "root", Payload: desc}
	got := Walk(r, map[string]struct{}{}, alg)
	if len(got) != 0 {
		t.Errorf("expected no matches for an empty allow-list, got %v", got)
	}
}

func TestWalkIgnoresPlainBytesThatDoNotParseAsDescriptor(t *testing.T) {
	alg := digest.SHA256
	r := &testmsg.Record{Name: "root", Payload: []byte("just some plain bytes, not a descriptor")}
	allow := map[string]struct{}{"anything": {}}
	got := Walk(r, allow, alg)
	if len(got) != 0 {
		t.Errorf("expected no matches for non-descriptor bytes, got %v", got)
	}
}

func TestContainsBlock(t *testing.T) {
	alg := digest.SHA256
	desc := descriptorBytes(t, alg, 0x05)
	d, _ := digest.ParseDescriptor(desc)
	hex, _ := d.Hex(alg)
	allow := map[string]struct{}{hex: {}}

	withPointer := &testmsg.Record{Name: "root", Child: &testmsg.Record{Payload: desc}}
	if !ContainsBlock(withPointer, allow, alg) {
		t.Error("expected ContainsBlock to find the nested pointer")
	}

	without := &testmsg.Record{Name: "root", Payload: []byte("plain")}
	if ContainsBlock(without, allow, alg) {
		t.Error("expected ContainsBlock to report false when no pointer is present")
	}
}
