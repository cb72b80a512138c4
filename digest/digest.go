// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package digest implements the pluggable content-digest algorithms used to
// address blocks and to identify a fully-expanded message.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/jossemii/grpc-bb/wire"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "digest: " + string(e) }

var ErrUnknownAlgorithm error = Error("unknown digest algorithm identifier")

// Algorithm is the active, process-wide choice of content digest. Changing
// it invalidates any existing block store.
type Algorithm interface {
	// ID is the single-byte algorithm identifier embedded in a Hash
	// descriptor entry.
	ID() byte

	// Size is the fixed digest length in bytes this algorithm produces.
	Size() int

	// New returns a fresh hash.Hash accumulator.
	New() hash.Hash
}

type sha256Algo struct{}

func (sha256Algo) ID() byte        { return 1 }
func (sha256Algo) Size() int       { return sha256.Size }
func (sha256Algo) New() hash.Hash  { return sha256.New() }

type blake2b256Algo struct{}

func (blake2b256Algo) ID() byte  { return 2 }
func (blake2b256Algo) Size() int { return 32 }
func (blake2b256Algo) New() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key length, and we pass none.
		panic(err)
	}
	return h
}

var (
	// SHA256 is the stdlib crypto/sha256 algorithm, identifier 1.
	SHA256 Algorithm = sha256Algo{}

	// Blake2b256 is the golang.org/x/crypto/blake2b algorithm, identifier 2.
	Blake2b256 Algorithm = blake2b256Algo{}

	byID = map[byte]Algorithm{
		SHA256.ID():     SHA256,
		Blake2b256.ID(): Blake2b256,
	}
)

// Register makes alg available to ByID and to descriptor parsing. Intended
// for hosts that plug in an additional algorithm at startup.
func Register(alg Algorithm) {
	byID[alg.ID()] = alg
}

// ByID looks up a previously-registered algorithm by its wire identifier.
func ByID(id byte) (Algorithm, error) {
	alg, ok := byID[id]
	if !ok {
		return nil, ErrUnknownAlgorithm
	}
	return alg, nil
}

// Sum computes the hex-encoded digest of data under alg.
func Sum(alg Algorithm, data []byte) string {
	h := alg.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash is one (algorithm, digest) pair of a block-pointer descriptor.
type Hash struct {
	Algorithm byte
	Value     []byte
}

// Descriptor is the small structured record a large byte leaf is replaced
// by: a repeated set of (algorithm, digest) pairs, at least one of which
// must match the environment's active algorithm for the leaf to be treated
// as a block pointer.
type Descriptor struct {
	Hashes []Hash
}

// DescriptorFor builds a single-hash descriptor for alg, the form this
// system mints internally for a block it just ingested (see
// original_source client.py's internal_block path).
func DescriptorFor(alg Algorithm, digestValue []byte) Descriptor {
	return Descriptor{Hashes: []Hash{{Algorithm: alg.ID(), Value: digestValue}}}
}

// Encode serializes d into its fixed-width wire form: for each hash, a
// length-delimited sub-message holding a varint algorithm id and a
// length-delimited digest value, each sub-message itself length-prefixed as
// field 1 (repeated).
func (d Descriptor) Encode() []byte {
	var buf []byte
	for _, h := range d.Hashes {
		var entry []byte
		entry = wire.AppendVarint(entry, wire.MakeTag(1, wire.WireVarint))
		entry = wire.AppendVarint(entry, uint64(h.Algorithm))
		entry = wire.AppendVarint(entry, wire.MakeTag(2, wire.WireBytes))
		entry = wire.AppendVarint(entry, uint64(len(h.Value)))
		entry = append(entry, h.Value...)

		buf = wire.AppendVarint(buf, wire.MakeTag(1, wire.WireBytes))
		buf = wire.AppendVarint(buf, uint64(len(entry)))
		buf = append(buf, entry...)
	}
	return buf
}

// ParseDescriptor decodes a Descriptor from raw leaf bytes. It returns
// ok=false (not an error) when buf does not parse as a well-formed
// Descriptor, since the pointer walker's qualification test is
// "parses as a descriptor AND is allow-listed", not a hard requirement that
// every byte leaf be one.
func ParseDescriptor(buf []byte) (d Descriptor, ok bool) {
	pos := 0
	for pos < len(buf) {
		tag, n, err := wire.DecodeVarint(buf, pos)
		if err != nil {
			return Descriptor{}, false
		}
		pos += n
		field, wt := wire.ParseTag(tag)
		if field != 1 || wt != wire.WireBytes {
			return Descriptor{}, false
		}
		entryLen, n, err := wire.DecodeVarint(buf, pos)
		if err != nil {
			return Descriptor{}, false
		}
		pos += n
		if pos+int(entryLen) > len(buf) {
			return Descriptor{}, false
		}
		entry := buf[pos : pos+int(entryLen)]
		pos += int(entryLen)

		h, hok := parseHashEntry(entry)
		if !hok {
			return Descriptor{}, false
		}
		d.Hashes = append(d.Hashes, h)
	}
	if len(d.Hashes) == 0 {
		return Descriptor{}, false
	}
	return d, true
}

func parseHashEntry(entry []byte) (Hash, bool) {
	var h Hash
	var haveAlgo, haveValue bool
	pos := 0
	for pos < len(entry) {
		tag, n, err := wire.DecodeVarint(entry, pos)
		if err != nil {
			return Hash{}, false
		}
		pos += n
		field, wt := wire.ParseTag(tag)
		switch {
		case field == 1 && wt == wire.WireVarint:
			v, n, err := wire.DecodeVarint(entry, pos)
			if err != nil {
				return Hash{}, false
			}
			pos += n
			h.Algorithm = byte(v)
			haveAlgo = true
		case field == 2 && wt == wire.WireBytes:
			l, n, err := wire.DecodeVarint(entry, pos)
			if err != nil {
				return Hash{}, false
			}
			pos += n
			if pos+int(l) > len(entry) {
				return Hash{}, false
			}
			h.Value = entry[pos : pos+int(l)]
			pos += int(l)
			haveValue = true
		default:
			return Hash{}, false
		}
	}
	return h, haveAlgo && haveValue
}

// ForAlgorithm returns the digest bytes within d for alg's identifier, and
// whether one was present. A descriptor with multiple hash algorithms is
// resolved by considering only alg's entry and ignoring the rest.
func (d Descriptor) ForAlgorithm(alg Algorithm) ([]byte, bool) {
	for _, h := range d.Hashes {
		if h.Algorithm == alg.ID() {
			return h.Value, true
		}
	}
	return nil, false
}

// Hex returns the hex-encoded digest for alg, if present.
func (d Descriptor) Hex(alg Algorithm) (string, bool) {
	v, ok := d.ForAlgorithm(alg)
	if !ok {
		return "", false
	}
	return hex.EncodeToString(v), true
}

// L_desc computes the fixed encoded size of a single-hash descriptor minted
// internally for alg — fixed because descriptor length depends only on the
// algorithm, not the message.
func L_desc(alg Algorithm) int {
	return len(DescriptorFor(alg, make([]byte, alg.Size())).Encode())
}
