// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package message defines the schema-reflection capability this module
// needs from its structured-message collaborator. The actual schema layer —
// generated message types walking their own fields — is explicitly out of
// scope; this package only names the interface the encoder (pointerwalk,
// blockbuilder)
// programs against.
package message

// FieldKind distinguishes the four shapes of field value the pointer walker
// and block builder need to tell apart.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindBytes
	KindSubMessage
	KindRepeatedSubMessage
)

// Encoder is the minimal single-field re-encoding capability the pointer
// walker needs to determine the width of "any other scalar" field and skip past
// it.
type Encoder interface {
	// EncodeField appends this field's wire representation (tag included)
	// to dst and returns the extended slice.
	EncodeField(dst []byte) []byte
}

// Walker is the capability a structured message type exposes so the encoder
// can operate over an event stream of its fields without depending on a
// concrete schema. Implementations yield fields in declaration
// order; Fields stops early if yield returns false.
type Walker interface {
	// Fields iterates the message's present fields in declaration order.
	// value is one of:
	//   - []byte               for KindBytes
	//   - Walker                for KindSubMessage
	//   - []Walker               for KindRepeatedSubMessage
	//   - Encoder                for KindScalar
	Fields(yield func(fieldNumber int, kind FieldKind, value any) bool)

	// Size is the encoded size of this (sub-)message's body, with any
	// block-pointer descriptors inline rather than their referenced
	// content — i.e. the pruned size.
	Size() int
}

// Encode serializes w into its length-delimited wire form (descriptors
// inline), matching the capability's Size() exactly. It is the
// "serialise message once into a pruned buffer B" step of multiblock
// encoding.
func Encode(w Walker) []byte {
	buf := make([]byte, 0, w.Size())
	return appendMessage(buf, w)
}

func appendMessage(buf []byte, w Walker) []byte {
	var err error
	w.Fields(func(fieldNumber int, kind FieldKind, value any) bool {
		buf, err = appendField(buf, fieldNumber, kind, value)
		return err == nil
	})
	if err != nil {
		panic(err)
	}
	return buf
}

func appendField(buf []byte, fieldNumber int, kind FieldKind, value any) ([]byte, error) {
	switch kind {
	case KindBytes:
		b := value.([]byte)
		buf = appendTagLen(buf, fieldNumber, len(b))
		buf = append(buf, b...)
	case KindSubMessage:
		sub := value.(Walker)
		buf = appendTagLen(buf, fieldNumber, sub.Size())
		buf = appendMessage(buf, sub)
	case KindRepeatedSubMessage:
		for _, sub := range value.([]Walker) {
			buf = appendTagLen(buf, fieldNumber, sub.Size())
			buf = appendMessage(buf, sub)
		}
	case KindScalar:
		buf = value.(Encoder).EncodeField(buf)
	default:
		return nil, errUnknownFieldKind
	}
	return buf, nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errUnknownFieldKind = errString("message: unknown field kind")
