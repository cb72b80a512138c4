// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockdriver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jossemii/grpc-bb/blockbuilder"
	"github.com/jossemii/grpc-bb/blockstore"
	"github.com/jossemii/grpc-bb/digest"
	"github.com/jossemii/grpc-bb/message"
	"github.com/jossemii/grpc-bb/message/testmsg"
)

func newStoreWithBlock(t *testing.T, alg digest.Algorithm, content []byte) *blockstore.Store {
	t.Helper()
	dir := t.TempDir()
	s := &blockstore.Store{Dir: dir, MaxDepth: 2}
	src := filepath.Join(t.TempDir(), "block")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	hex := digest.Sum(alg, content)
	if err := s.IngestByCopy(src, hex); err != nil {
		t.Fatal(err)
	}
	return s
}

// TestGenerateWBPSingleLeafPointer: after building a
// single-leaf-pointer message, GenerateWBP must reproduce a wbp.bin
// byte-equal to the original pruned serialisation.
func TestGenerateWBPSingleLeafPointer(t *testing.T) {
	alg := digest.SHA256
	content := bytes.Repeat([]byte{0x9c}, 600)
	store := newStoreWithBlock(t, alg, content)

	h := alg.New()
	h.Write(content)
	desc := digest.DescriptorFor(alg, h.Sum(nil)).Encode()
	hex := digest.Sum(alg, content)

	r := &testmsg.Record{Name: "item1", Payload: desc}
	allow := map[string]struct{}{hex: {}}
	wantBuf := message.Encode(r)

	outDir := t.TempDir()
	if _, err := blockbuilder.Build(r, allow, alg, store, outDir); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := GenerateWBP(outDir, store, alg); err != nil {
		t.Fatalf("GenerateWBP: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "wbp.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, wantBuf) {
		t.Errorf("wbp.bin mismatch:\ngot  %x\nwant %x", got, wantBuf)
	}
}

// TestGenerateWBPNestedFourLevels: a nested
// chain where the deepest leaf is a pointer to a sizeable block, checked via
// the full build+reconstruct round trip rather than by hand-deriving
// real_length (blockbuilder's own Build already exercises the forward
// solver; this confirms the inverse produces the exact original bytes).
func TestGenerateWBPNestedFourLevels(t *testing.T) {
	alg := digest.SHA256
	content := bytes.Repeat([]byte{0x5f}, 1024)
	store := newStoreWithBlock(t, alg, content)

	h := alg.New()
	h.Write(content)
	desc := digest.DescriptorFor(alg, h.Sum(nil)).Encode()
	hex := digest.Sum(alg, content)

	leaf := &testmsg.Record{Name: "L4", Payload: desc}
	l3 := &testmsg.Record{Name: "L3", Child: leaf}
	l2 := &testmsg.Record{Name: "L2", Child: l3}
	root := &testmsg.Record{Name: "L1", Child: l2}

	allow := map[string]struct{}{hex: {}}
	wantBuf := message.Encode(root)

	outDir := t.TempDir()
	if _, err := blockbuilder.Build(root, allow, alg, store, outDir); err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := Reconstruct(outDir, store, alg)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(got, wantBuf) {
		t.Errorf("reconstructed buffer mismatch:\ngot  %d bytes\nwant %d bytes", len(got), len(wantBuf))
	}

	// The reconstructed buffer must itself parse back into an equivalent
	// Record (sanity: not just byte-identical to wantBuf by coincidence of
	// this test's construction, but a genuinely valid encoding).
	parsed, err := testmsg.Parse(got)
	if err != nil {
		t.Fatalf("testmsg.Parse(reconstructed): %v", err)
	}
	if parsed.Name != "L1" || parsed.Child == nil || parsed.Child.Child == nil || parsed.Child.Child.Child == nil {
		t.Errorf("reconstructed message has unexpected shape: %+v", parsed)
	}
	if !bytes.Equal(parsed.Child.Child.Child.Payload, desc) {
		t.Errorf("reconstructed leaf descriptor mismatch")
	}
}

// TestGenerateWBPTwoSiblingsSharingOneBlock confirms reconstruction holds
// when the same digest is referenced from two sibling offsets.
func TestGenerateWBPTwoSiblingsSharingOneBlock(t *testing.T) {
	alg := digest.SHA256
	content := bytes.Repeat([]byte{0x22}, 300)
	store := newStoreWithBlock(t, alg, content)

	h := alg.New()
	h.Write(content)
	desc := digest.DescriptorFor(alg, h.Sum(nil)).Encode()
	hex := digest.Sum(alg, content)

	child1 := &testmsg.Record{Name: "c1", Payload: desc}
	child2 := &testmsg.Record{Name: "c2", Payload: desc}
	root := &testmsg.Record{Name: "root", Children: []*testmsg.Record{child1, child2}}
	allow := map[string]struct{}{hex: {}}
	wantBuf := message.Encode(root)

	outDir := t.TempDir()
	if _, err := blockbuilder.Build(root, allow, alg, store, outDir); err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := Reconstruct(outDir, store, alg)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(got, wantBuf) {
		t.Errorf("reconstructed buffer mismatch:\ngot  %d bytes\nwant %d bytes", len(got), len(wantBuf))
	}
}
