// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testmsg provides a small, hand-rolled message.Walker
// implementation used by this module's tests in place of a generated
// protobuf type. A real deployment plugs in its own generated messages the
// same way the original Python project plugs in buffer_pb2.Buffer.
package testmsg

import (
	"github.com/jossemii/grpc-bb/message"
	"github.com/jossemii/grpc-bb/wire"
)

// Record is a minimal recursive structured message:
//
//	field 1: Name      (bytes/string)
//	field 2: Payload   (bytes — the field that may hold a block descriptor)
//	field 3: Child     (single sub-message)
//	field 4: Children  (repeated sub-message)
//	field 5: Count     (scalar varint)
type Record struct {
	Name     string
	Payload  []byte
	Child    *Record
	Children []*Record
	Count    int64
	HasCount bool
}

var _ message.Walker = (*Record)(nil)

type scalarVarint int64

func (s scalarVarint) EncodeField(dst []byte) []byte {
	dst = wire.AppendVarint(dst, wire.MakeTag(5, wire.WireVarint))
	return wire.AppendVarint(dst, uint64(s))
}

// Fields implements message.Walker.
func (r *Record) Fields(yield func(fieldNumber int, kind message.FieldKind, value any) bool) {
	if r.Name != "" {
		if !yield(1, message.KindBytes, []byte(r.Name)) {
			return
		}
	}
	if r.Payload != nil {
		if !yield(2, message.KindBytes, r.Payload) {
			return
		}
	}
	if r.Child != nil {
		if !yield(3, message.KindSubMessage, message.Walker(r.Child)) {
			return
		}
	}
	if len(r.Children) > 0 {
		walkers := make([]message.Walker, len(r.Children))
		for i, c := range r.Children {
			walkers[i] = c
		}
		if !yield(4, message.KindRepeatedSubMessage, walkers) {
			return
		}
	}
	if r.HasCount {
		if !yield(5, message.KindScalar, scalarVarint(r.Count)) {
			return
		}
	}
}

// Size implements message.Walker: the encoded size of this message's body
// with any descriptors already inline in Payload.
func (r *Record) Size() int {
	n := 0
	if r.Name != "" {
		n += fieldBytesSize(1, len(r.Name))
	}
	if r.Payload != nil {
		n += fieldBytesSize(2, len(r.Payload))
	}
	if r.Child != nil {
		s := r.Child.Size()
		n += fieldBytesSize(3, s)
	}
	for _, c := range r.Children {
		s := c.Size()
		n += fieldBytesSize(4, s)
	}
	if r.HasCount {
		n += wire.VarintWidth(wire.MakeTag(5, wire.WireVarint)) + wire.VarintWidth(uint64(r.Count))
	}
	return n
}

func fieldBytesSize(fieldNumber, bodyLen int) int {
	return wire.VarintWidth(wire.MakeTag(fieldNumber, wire.WireBytes)) + wire.VarintWidth(uint64(bodyLen)) + bodyLen
}

// Parse decodes a Record previously produced by message.Encode(r). It is a
// small hand-rolled decoder mirroring what a generated message type's
// Unmarshal would do; used only by tests to check round-trips.
func Parse(buf []byte) (*Record, error) {
	r := &Record{}
	pos := 0
	for pos < len(buf) {
		tag, n, err := wire.DecodeVarint(buf, pos)
		if err != nil {
			return nil, err
		}
		pos += n
		field, wt := wire.ParseTag(tag)
		switch {
		case field == 5 && wt == wire.WireVarint:
			v, n, err := wire.DecodeVarint(buf, pos)
			if err != nil {
				return nil, err
			}
			pos += n
			r.Count = int64(v)
			r.HasCount = true
			continue
		case wt != wire.WireBytes:
			return nil, wire.ErrMalformedEncoding
		}
		l, n, err := wire.DecodeVarint(buf, pos)
		if err != nil {
			return nil, err
		}
		pos += n
		if pos+int(l) > len(buf) {
			return nil, wire.ErrMalformedEncoding
		}
		body := buf[pos : pos+int(l)]
		pos += int(l)

		switch field {
		case 1:
			r.Name = string(body)
		case 2:
			r.Payload = append([]byte(nil), body...)
		case 3:
			child, err := Parse(body)
			if err != nil {
				return nil, err
			}
			r.Child = child
		case 4:
			child, err := Parse(body)
			if err != nil {
				return nil, err
			}
			r.Children = append(r.Children, child)
		default:
			return nil, wire.ErrMalformedEncoding
		}
	}
	return r, nil
}
