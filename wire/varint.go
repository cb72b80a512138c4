// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the length-delimited tag/varint primitives that
// the rest of this module rewrites lengths on top of: unsigned
// variable-length integers and field tags, as used by the structured binary
// encoding this system transports (see the package doc for blockbuilder).
package wire

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "wire: " + string(e) }

// ErrMalformedEncoding reports a varint (or tag) that ran out of buffer
// before its continuation bit cleared.
var ErrMalformedEncoding error = Error("malformed varint encoding")

const continuationBit = 0x80

// VarintWidth reports the number of bytes AppendVarint(nil, n) would emit.
// VarintWidth(0) == 1.
func VarintWidth(n uint64) int {
	w := 1
	for n >= continuationBit {
		n >>= 7
		w++
	}
	return w
}

// AppendVarint appends the little-endian base-128 encoding of n to buf and
// returns the extended slice.
func AppendVarint(buf []byte, n uint64) []byte {
	for n >= continuationBit {
		buf = append(buf, byte(n)|continuationBit)
		n >>= 7
	}
	return append(buf, byte(n))
}

// EncodeVarint is a convenience wrapper around AppendVarint for callers that
// want a fresh slice rather than appending to an existing buffer.
func EncodeVarint(n uint64) []byte {
	return AppendVarint(make([]byte, 0, VarintWidth(n)), n)
}

// DecodeVarint reads a varint starting at buf[pos] and returns its value
// together with the number of bytes consumed. Unlike the reference decoder
// (which reports only the value), callers here always need the width to
// advance a cursor, so the two are returned together; VarintWidth remains
// the standalone primitive for computing the footprint of a value that has
// not been encoded yet.
func DecodeVarint(buf []byte, pos int) (value uint64, width int, err error) {
	var shift uint
	for i := pos; i < len(buf); i++ {
		b := buf[i]
		value |= uint64(b&0x7f) << shift
		width++
		if b&continuationBit == 0 {
			return value, width, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, ErrMalformedEncoding
		}
	}
	return 0, 0, ErrMalformedEncoding
}
