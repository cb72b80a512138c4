// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package beefile persists a transport.Frame stream to a `.bee` container:
// each frame is preceded by a 4-byte big-endian length, looping to EOF at a
// record boundary.
package beefile

import (
	"encoding/binary"
	"io"

	"github.com/jossemii/grpc-bb/transport"
	"github.com/jossemii/grpc-bb/wire"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "beefile: " + string(e) }

const errIncompleteRecord = Error("incomplete record")

// Writer appends transport.Frame values to an underlying io.Writer as
// length-prefixed records.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame encodes f and appends it as one length-prefixed record.
func (bw *Writer) WriteFrame(f transport.Frame) error {
	body := encodeFrame(f)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := bw.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := bw.w.Write(body)
	return err
}

// Reader reads transport.Frame records previously written by Writer.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// ReadFrame reads the next length-prefixed record and decodes it. It
// returns io.EOF when the underlying reader is exhausted exactly at a
// record boundary.
func (br *Reader) ReadFrame() (transport.Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(br.r, lenBuf[:]); err != nil {
		return transport.Frame{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(br.r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = errIncompleteRecord
		}
		return transport.Frame{}, err
	}
	return decodeFrame(body)
}

// Frames returns a lazy iterator over br's remaining records, stopping
// (without yielding an error) at a clean io.EOF.
func (br *Reader) Frames() func(yield func(transport.Frame, error) bool) {
	return func(yield func(transport.Frame, error) bool) {
		for {
			f, err := br.ReadFrame()
			if err == io.EOF {
				return
			}
			if !yield(f, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}
