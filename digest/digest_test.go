// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package digest

import (
	"bytes"
	"testing"
)

func TestDescriptorRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, Blake2b256} {
		sum := Sum(alg, []byte("hello world"))
		h := alg.New()
		h.Write([]byte("hello world"))
		want := h.Sum(nil)

		d := DescriptorFor(alg, want)
		buf := d.Encode()

		got, ok := ParseDescriptor(buf)
		if !ok {
			t.Fatalf("algorithm %d: ParseDescriptor failed on freshly-encoded descriptor", alg.ID())
		}
		val, ok := got.ForAlgorithm(alg)
		if !ok || !bytes.Equal(val, want) {
			t.Errorf("algorithm %d: digest mismatch: got %x, want %x", alg.ID(), val, want)
		}
		if hx, _ := got.Hex(alg); hx != sum {
			t.Errorf("algorithm %d: hex mismatch: got %s, want %s", alg.ID(), hx, sum)
		}
		if n := L_desc(alg); n != len(buf) {
			t.Errorf("algorithm %d: L_desc mismatch: got %d, want %d", alg.ID(), n, len(buf))
		}
	}
}

func TestParseDescriptorRejectsGarbage(t *testing.T) {
	var vectors = [][]byte{
		nil,
		{0x01, 0x02, 0x03},
		[]byte("plain opaque bytes that happen to be short"),
	}
	for i, v := range vectors {
		if _, ok := ParseDescriptor(v); ok {
			t.Errorf("test %d: expected ParseDescriptor to reject garbage input", i)
		}
	}
}

func TestMultiHashDescriptorPicksActiveAlgorithm(t *testing.T) {
	d := Descriptor{Hashes: []Hash{
		{Algorithm: Blake2b256.ID(), Value: bytes.Repeat([]byte{0xaa}, Blake2b256.Size())},
		{Algorithm: SHA256.ID(), Value: bytes.Repeat([]byte{0xbb}, SHA256.Size())},
	}}
	buf := d.Encode()
	got, ok := ParseDescriptor(buf)
	if !ok {
		t.Fatalf("ParseDescriptor failed")
	}
	v, ok := got.ForAlgorithm(SHA256)
	if !ok || !bytes.Equal(v, bytes.Repeat([]byte{0xbb}, SHA256.Size())) {
		t.Errorf("expected to resolve SHA256 entry regardless of the unrelated Blake2b256 entry, got %x", v)
	}
}

func TestByID(t *testing.T) {
	if _, err := ByID(SHA256.ID()); err != nil {
		t.Errorf("unexpected error looking up SHA256: %v", err)
	}
	if _, err := ByID(0xff); err != ErrUnknownAlgorithm {
		t.Errorf("got %v, want ErrUnknownAlgorithm", err)
	}
}
