// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// WireType identifies how a field's value is encoded on the wire. Only
// WireBytes is ever rewritten by this system; every other wire type passes
// through as opaque bytes and contributes its native width uniformly to
// real and pruned lengths.
type WireType byte

const (
	WireVarint WireType = 0
	WireFixed8 WireType = 1
	WireBytes  WireType = 2
	WireFixed4 WireType = 5
)

// MakeTag packs a field number and wire type into the single tag value
// (field_number<<3)|wire_type; callers write it to the wire as a varint.
func MakeTag(field int, wt WireType) uint64 {
	return uint64(field)<<3 | uint64(wt&0x7)
}

// ParseTag unpacks a tag produced by MakeTag.
func ParseTag(tag uint64) (field int, wt WireType) {
	return int(tag >> 3), WireType(tag & 0x7)
}
