// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manifest implements the _.json manifest shared by segmented
// directories: the ordered interleaving of literal segment files and block
// references that blockstore, blockbuilder and blockdriver all read or
// write.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// FileName is the manifest's fixed name within a segmented directory.
const FileName = "_.json"

// Literal segment files within a segmented directory are simply named "1",
// "2", and so on, handled by Entry.Segment below.

// Ref is a block reference: the digest it points at, and the path of
// length-prefix offsets from the root to this reference's own length
// prefix.
type Ref struct {
	DigestHex string
	Path      []int
}

// Entry is one element of the manifest's ordered sequence: either a literal
// segment file index, or a block Ref. Exactly one of the two is set.
type Entry struct {
	Segment  int // valid when IsRef is false
	Ref      Ref
	IsRef    bool
}

// MarshalJSON writes the JSON-level shape: either a bare integer or a
// 2-tuple [digest_hex, [offsets...]].
func (e Entry) MarshalJSON() ([]byte, error) {
	if !e.IsRef {
		return json.Marshal(e.Segment)
	}
	return json.Marshal([]any{e.Ref.DigestHex, e.Ref.Path})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		*e = Entry{Segment: asInt}
		return nil
	}
	var asTuple []json.RawMessage
	if err := json.Unmarshal(data, &asTuple); err != nil {
		return err
	}
	if len(asTuple) != 2 {
		return errInvalidManifestEntry
	}
	var hex string
	if err := json.Unmarshal(asTuple[0], &hex); err != nil {
		return err
	}
	var path []int
	if err := json.Unmarshal(asTuple[1], &path); err != nil {
		return err
	}
	*e = Entry{IsRef: true, Ref: Ref{DigestHex: hex, Path: path}}
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errInvalidManifestEntry = errString("manifest: invalid entry (want int or [digest_hex, [offsets]])")

// Load reads and parses the manifest file from dir.
func Load(dir string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save writes entries as dir's manifest file.
func Save(dir string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0o644)
}

// SegmentPath returns the path of a numbered literal segment file within
// dir.
func SegmentPath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index))
}

// Refs extracts just the block references from entries, in order.
func Refs(entries []Entry) []Ref {
	var refs []Ref
	for _, e := range entries {
		if e.IsRef {
			refs = append(refs, e.Ref)
		}
	}
	return refs
}
