// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jossemii/grpc-bb/internal/manifest"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return &Store{Dir: dir, MaxDepth: 1}
}

func TestIngestByMoveIdempotent(t *testing.T) {
	s := newStore(t)
	tmp := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(tmp, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.IngestByMove(tmp, "abc"); err != nil {
		t.Fatalf("IngestByMove: %v", err)
	}
	if !s.Exists("abc") {
		t.Fatal("expected block to exist after ingest")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("expected source to be moved away, stat err = %v", err)
	}

	// A second ingest under the same digest with a fresh source file must
	// succeed without touching the existing block (idempotent ingest).
	tmp2 := filepath.Join(t.TempDir(), "src2")
	if err := os.WriteFile(tmp2, []byte("different-bytes-same-hash-in-theory"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.IngestByMove(tmp2, "abc"); err != nil {
		t.Fatalf("second IngestByMove: %v", err)
	}
	data, err := os.ReadFile(s.path("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("expected original block contents preserved, got %q", data)
	}
}

func TestIngestByCopyPreservesSource(t *testing.T) {
	s := newStore(t)
	tmp := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(tmp, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.IngestByCopy(tmp, "xyz"); err != nil {
		t.Fatalf("IngestByCopy: %v", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Errorf("expected source to remain, stat err = %v", err)
	}
	size, err := s.Size("xyz")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("payload")) {
		t.Errorf("Size mismatch: got %d, want %d", size, len("payload"))
	}
}

func TestSizeUnknownBlock(t *testing.T) {
	s := newStore(t)
	if _, err := s.Size("missing"); err != ErrUnknownBlock {
		t.Errorf("got %v, want ErrUnknownBlock", err)
	}
}

func TestMultiblockSizeAndStream(t *testing.T) {
	s := newStore(t)

	// A leaf block referenced from the multiblock directory.
	leafTmp := filepath.Join(t.TempDir(), "leaf")
	if err := os.WriteFile(leafTmp, bytes.Repeat([]byte{0x42}, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.IngestByCopy(leafTmp, "leafhash"); err != nil {
		t.Fatal(err)
	}

	// A multiblock directory: segment "1" + ref(leafhash) + segment "2".
	mbDir := filepath.Join(t.TempDir(), "mb")
	if err := os.MkdirAll(mbDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mbDir, "1"), []byte("AAAA"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mbDir, "2"), []byte("BBBB"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries := []manifest.Entry{
		{Segment: 1},
		{IsRef: true, Ref: manifest.Ref{DigestHex: "leafhash", Path: []int{3}}},
		{Segment: 2},
	}
	if err := manifest.Save(mbDir, entries); err != nil {
		t.Fatal(err)
	}
	if err := s.IngestByMove(mbDir, "mbhash"); err != nil {
		t.Fatalf("IngestByMove(multiblock): %v", err)
	}

	size, err := s.Size("mbhash")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	want := int64(len("AAAA") + 100 + len("BBBB"))
	if size != want {
		t.Errorf("multiblock Size mismatch: got %d, want %d", size, want)
	}

	rc, err := s.OpenStream("mbhash")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	wantBytes := append(append([]byte("AAAA"), bytes.Repeat([]byte{0x42}, 100)...), []byte("BBBB")...)
	if !bytes.Equal(got, wantBytes) {
		t.Errorf("multiblock stream mismatch: got %d bytes, want %d bytes", len(got), len(wantBytes))
	}
}

func TestDepthExceeded(t *testing.T) {
	s := &Store{Dir: t.TempDir(), MaxDepth: 0}

	innerLeaf := filepath.Join(t.TempDir(), "inner-leaf")
	os.WriteFile(innerLeaf, []byte("x"), 0o644)
	s.IngestByCopy(innerLeaf, "innerleaf")

	nested := filepath.Join(t.TempDir(), "nested")
	os.MkdirAll(nested, 0o755)
	os.WriteFile(filepath.Join(nested, "1"), []byte("y"), 0o644)
	manifest.Save(nested, []manifest.Entry{
		{Segment: 1},
		{IsRef: true, Ref: manifest.Ref{DigestHex: "innerleaf", Path: []int{1}}},
	})
	s.IngestByMove(nested, "nestedhash")

	outer := filepath.Join(t.TempDir(), "outer")
	os.MkdirAll(outer, 0o755)
	os.WriteFile(filepath.Join(outer, "1"), []byte("z"), 0o644)
	manifest.Save(outer, []manifest.Entry{
		{Segment: 1},
		{IsRef: true, Ref: manifest.Ref{DigestHex: "nestedhash", Path: []int{1}}},
	})
	s.IngestByMove(outer, "outerhash")

	if _, err := s.Size("outerhash"); err != ErrDepthExceeded {
		t.Errorf("got %v, want ErrDepthExceeded", err)
	}
}
