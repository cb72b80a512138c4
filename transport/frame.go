// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport implements the streaming codec: framing
// a sequence of items (structured messages, segmented directories, or raw
// bytes) into a lazy, ordered frame stream, inlining small payloads and
// switching to out-of-band block streaming for large or content-addressed
// ones, with a cooperative pause/resume signal shared between serialiser
// and parser.
package transport

import "github.com/jossemii/grpc-bb/message"

// Kind distinguishes the five frame shapes of the frame grammar:
//
//	Frame = head? chunk? block? signal? separator?
type Kind int

const (
	KindHead Kind = iota
	KindChunk
	KindBlock
	KindSignal
	KindSeparator
)

// Frame is one wire record. Which fields are meaningful depends on Kind.
type Frame struct {
	Kind Kind

	// Index opens a logical message (KindHead); it selects the routing
	// table entry that determines Message vs Directory mode on parse.
	Index int

	// Chunk carries opaque payload bytes (KindChunk).
	Chunk []byte

	// BlockDigest is the hex digest carried by a block boundary frame
	// (KindBlock); the same value opens and closes a block's body.
	BlockDigest string

	// PrevLengthsPos is the block reference's own offset — the position of
	// its length prefix in the reconstructed stream ("block ->
	// (digest-descriptor, previous_lengths_position?)").
	PrevLengthsPos int

	// SignalRaised carries a pause (true) or resume (false) request
	// (KindSignal).
	SignalRaised bool

	// SeparatorEnd closes the current logical message (KindSeparator); it
	// is always true when present.
	SeparatorEnd bool
}

// Mode selects how Parse reassembles a logical message's frames, keyed by
// its head frame's Index.
type Mode int

const (
	// ModeMessage accumulates all chunks and referenced blocks into one
	// byte buffer for the caller to parse into its structured type.
	ModeMessage Mode = iota

	// ModeDirectory writes a fresh segmented directory.
	ModeDirectory
)

// DirectoryHandle points at a segmented directory on disk — one of the
// three shapes Serialise accepts as an input Item.
type DirectoryHandle struct {
	Dir string
}

// Item is one input to Serialize: exactly one of Message, Directory or Raw
// is set.
type Item struct {
	Index     int
	Message   message.Walker
	Directory *DirectoryHandle
	Raw       []byte
}

// ParsedItem is one output of Parse: exactly one of Message or Directory is
// set, depending on the item's Mode.
type ParsedItem struct {
	Index     int
	Message   []byte
	Directory *DirectoryHandle
}
