// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beefile

import (
	"github.com/jossemii/grpc-bb/transport"
	"github.com/jossemii/grpc-bb/wire"
)

// Wire layout for one transport.Frame record. This is the module's own
// wire schema (there being no generated message type for it), following the
// same tag/length/value shape message.Encode produces elsewhere in this
// module.
const (
	fieldKind           = 1
	fieldIndex          = 2
	fieldChunk          = 3
	fieldBlockDigest    = 4
	fieldPrevLengthsPos = 5
	fieldSignalRaised   = 6
	fieldSeparatorEnd   = 7
)

func encodeFrame(f transport.Frame) []byte {
	var buf []byte
	buf = appendVarintField(buf, fieldKind, uint64(f.Kind))
	if f.Index != 0 {
		buf = appendVarintField(buf, fieldIndex, uint64(f.Index))
	}
	if f.Chunk != nil {
		buf = appendBytesField(buf, fieldChunk, f.Chunk)
	}
	if f.BlockDigest != "" {
		buf = appendBytesField(buf, fieldBlockDigest, []byte(f.BlockDigest))
		buf = appendVarintField(buf, fieldPrevLengthsPos, uint64(f.PrevLengthsPos))
	}
	if f.SignalRaised {
		buf = appendVarintField(buf, fieldSignalRaised, 1)
	}
	if f.SeparatorEnd {
		buf = appendVarintField(buf, fieldSeparatorEnd, 1)
	}
	return buf
}

func appendVarintField(buf []byte, field int, v uint64) []byte {
	buf = wire.AppendVarint(buf, wire.MakeTag(field, wire.WireVarint))
	return wire.AppendVarint(buf, v)
}

func appendBytesField(buf []byte, field int, v []byte) []byte {
	buf = wire.AppendVarint(buf, wire.MakeTag(field, wire.WireBytes))
	buf = wire.AppendVarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func decodeFrame(buf []byte) (transport.Frame, error) {
	var f transport.Frame
	pos := 0
	for pos < len(buf) {
		tag, n, err := wire.DecodeVarint(buf, pos)
		if err != nil {
			return transport.Frame{}, err
		}
		pos += n
		field, wt := wire.ParseTag(tag)

		if wt == wire.WireVarint {
			v, n, err := wire.DecodeVarint(buf, pos)
			if err != nil {
				return transport.Frame{}, err
			}
			pos += n
			switch field {
			case fieldKind:
				f.Kind = transport.Kind(v)
			case fieldIndex:
				f.Index = int(v)
			case fieldPrevLengthsPos:
				f.PrevLengthsPos = int(v)
			case fieldSignalRaised:
				f.SignalRaised = v != 0
			case fieldSeparatorEnd:
				f.SeparatorEnd = v != 0
			default:
				return transport.Frame{}, wire.ErrMalformedEncoding
			}
			continue
		}

		if wt != wire.WireBytes {
			return transport.Frame{}, wire.ErrMalformedEncoding
		}
		l, n, err := wire.DecodeVarint(buf, pos)
		if err != nil {
			return transport.Frame{}, err
		}
		pos += n
		if pos+int(l) > len(buf) {
			return transport.Frame{}, wire.ErrMalformedEncoding
		}
		body := buf[pos : pos+int(l)]
		pos += int(l)
		switch field {
		case fieldChunk:
			f.Chunk = append([]byte(nil), body...)
		case fieldBlockDigest:
			f.BlockDigest = string(body)
		default:
			return transport.Frame{}, wire.ErrMalformedEncoding
		}
	}
	return f, nil
}
