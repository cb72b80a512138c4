// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"io"
	"iter"
	"os"

	"github.com/jossemii/grpc-bb/blockstore"
	"github.com/jossemii/grpc-bb/digest"
	"github.com/jossemii/grpc-bb/internal/manifest"
)

// Error is the wrapper type for errors specific to this library.
type Error string

func (e Error) Error() string { return "transport: " + string(e) }

const (
	// ErrAbortedIteration is yielded when the upstream frame source ends
	// with an assembly still open (no KindSeparator seen). It is
	// unrecoverable for that logical message; any partial segmented
	// directory or open block temp file is removed before it surfaces.
	ErrAbortedIteration = Error("aborted iteration: frame source ended mid-message")

	// ErrIntersection is yielded when a KindBlock frame names a digest
	// different from the block already open: two nested blocks whose
	// boundaries overlap, a protocol violation. Fatal for the message.
	ErrIntersection = Error("intersection: nested block frames overlap")
)

// ParseOptions configures Parse and ParseAsync.
type ParseOptions struct {
	Store *blockstore.Store
	Alg   digest.Algorithm

	// Modes selects Message vs Directory reassembly per head Index.
	// A missing entry defaults to ModeMessage.
	Modes map[int]Mode

	// EmptyTypes declares, per head Index, that a zero-byte ModeMessage
	// result is a valid empty-typed value rather than a discarded slot:
	// Parse yields it as an empty ParsedItem instead of skipping it.
	EmptyTypes map[int]struct{}

	// Signal, if non-nil, is set/cleared as KindSignal frames arrive.
	Signal *Signal

	// OutDir is where fresh segmented directories (Directory mode) and
	// staged block files are created. Empty selects os.TempDir().
	OutDir string
}

func (o ParseOptions) modeFor(index int) Mode {
	if o.Modes == nil {
		return ModeMessage
	}
	return o.Modes[index]
}

func (o ParseOptions) isEmptyType(index int) bool {
	_, ok := o.EmptyTypes[index]
	return ok
}

func (o ParseOptions) outDir() string {
	if o.OutDir != "" {
		return o.OutDir
	}
	return os.TempDir()
}

// assembly tracks the in-progress reassembly of one logical message between
// its head and separator frames.
type assembly struct {
	index int
	mode  Mode

	// ModeMessage
	buf []byte

	// ModeDirectory
	dirPath    string
	segCount   int
	curSeg     *os.File
	entries    []manifest.Entry
	openDigest string
	openFile   *os.File
	openTmp    string
	skipping   bool
	openPos    int
}

// abort discards every on-disk artifact a partially-assembled message has
// produced so far: an open block's temp file, an open segment file, and
// (Directory mode) the segmented directory itself.
func (a *assembly) abort() {
	if a.openFile != nil {
		a.openFile.Close()
		os.Remove(a.openTmp)
	}
	if a.curSeg != nil {
		a.curSeg.Close()
	}
	if a.mode == ModeDirectory && a.dirPath != "" {
		os.RemoveAll(a.dirPath)
	}
}

// Parse implements the "parse" operation: given a frame stream,
// reassemble each logical message (per opts.modeFor(head.Index)) and yield the
// finished items in order.
func Parse(frames iter.Seq2[Frame, error], opts ParseOptions) iter.Seq2[ParsedItem, error] {
	return func(yield func(ParsedItem, error) bool) {
		var cur *assembly
		for frame, ferr := range frames {
			if ferr != nil {
				if cur != nil {
					cur.abort()
				}
				yield(ParsedItem{}, ferr)
				return
			}
			switch frame.Kind {
			case KindHead:
				a := &assembly{index: frame.Index, mode: opts.modeFor(frame.Index)}
				if a.mode == ModeDirectory {
					dir, err := os.MkdirTemp(opts.outDir(), "grpc-bb-in-")
					if err != nil {
						if !yield(ParsedItem{}, err) {
							return
						}
						continue
					}
					a.dirPath = dir
				}
				cur = a

			case KindSignal:
				if opts.Signal != nil {
					if frame.SignalRaised {
						opts.Signal.Raise()
					} else {
						opts.Signal.Lower()
					}
				}

			case KindChunk:
				if cur == nil {
					continue
				}
				if err := handleChunk(cur, frame, opts); err != nil {
					cur.abort()
					cur = nil
					if !yield(ParsedItem{}, err) {
						return
					}
				}

			case KindBlock:
				if cur == nil {
					continue
				}
				if err := handleBlock(cur, frame, opts); err != nil {
					cur.abort()
					cur = nil
					if !yield(ParsedItem{}, err) {
						return
					}
				}

			case KindSeparator:
				if cur == nil {
					continue
				}
				item, ok, err := finalize(cur, opts)
				cur = nil
				if err != nil {
					if !yield(ParsedItem{}, err) {
						return
					}
					continue
				}
				if !ok {
					continue // EmptyBuffer: slot not declared as the empty type
				}
				if !yield(item, nil) {
					return
				}
			}
		}
		if cur != nil {
			cur.abort()
			yield(ParsedItem{}, ErrAbortedIteration)
		}
	}
}

func handleChunk(a *assembly, frame Frame, opts ParseOptions) error {
	if a.mode == ModeMessage {
		if a.openDigest != "" {
			if a.skipping {
				return nil // discard the body of a block the receiver already has
			}
			if _, err := a.openFile.Write(frame.Chunk); err != nil {
				return err
			}
		}
		a.buf = append(a.buf, frame.Chunk...)
		return nil
	}
	if a.openDigest != "" {
		if a.skipping {
			return nil
		}
		_, err := a.openFile.Write(frame.Chunk)
		return err
	}
	if err := ensureSegment(a); err != nil {
		return err
	}
	_, err := a.curSeg.Write(frame.Chunk)
	return err
}

func handleBlock(a *assembly, frame Frame, opts ParseOptions) error {
	if a.openDigest != "" {
		if a.openDigest != frame.BlockDigest {
			// A second block opened before the first one closed: their
			// boundaries overlap rather than nest cleanly.
			return ErrIntersection
		}
		// Closing marker.
		if !a.skipping {
			a.openFile.Close()
			if err := opts.Store.IngestByMove(a.openTmp, a.openDigest); err != nil {
				return err
			}
		}
		if a.mode == ModeDirectory {
			a.entries = append(a.entries, manifest.Entry{IsRef: true, Ref: manifest.Ref{
				DigestHex: a.openDigest,
				Path:      []int{a.openPos},
			}})
		}
		a.openDigest = ""
		a.openFile = nil
		a.openTmp = ""
		a.skipping = false
		return nil
	}

	// Opening marker.
	if a.mode == ModeDirectory {
		if err := closeSegment(a); err != nil {
			return err
		}
	}
	a.openDigest = frame.BlockDigest
	a.openPos = frame.PrevLengthsPos
	a.skipping = opts.Store.Exists(frame.BlockDigest)
	if a.skipping && a.mode == ModeMessage {
		// The wire body is discarded; the block's bytes come from the store.
		rc, err := opts.Store.OpenStream(frame.BlockDigest)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		a.buf = append(a.buf, data...)
	}
	if !a.skipping {
		f, err := os.CreateTemp(opts.outDir(), "grpc-bb-block-*")
		if err != nil {
			return err
		}
		a.openFile = f
		a.openTmp = f.Name()
	}
	return nil
}

func ensureSegment(a *assembly) error {
	if a.curSeg != nil {
		return nil
	}
	a.segCount++
	f, err := os.Create(manifest.SegmentPath(a.dirPath, a.segCount))
	if err != nil {
		return err
	}
	a.curSeg = f
	return nil
}

func closeSegment(a *assembly) error {
	if err := ensureSegment(a); err != nil {
		return err
	}
	a.curSeg.Close()
	a.entries = append(a.entries, manifest.Entry{Segment: a.segCount})
	a.curSeg = nil
	return nil
}

// finalize completes an assembly at its separator frame. The ok result
// reports whether an item should be yielded at all: a zero-byte
// ModeMessage result (EmptyBuffer) yields an empty sentinel item only if
// its index is declared in opts.EmptyTypes, and is otherwise skipped.
func finalize(a *assembly, opts ParseOptions) (item ParsedItem, ok bool, err error) {
	if a.mode == ModeMessage {
		if len(a.buf) == 0 && !opts.isEmptyType(a.index) {
			return ParsedItem{}, false, nil
		}
		return ParsedItem{Index: a.index, Message: a.buf}, true, nil
	}
	if err := closeSegment(a); err != nil {
		return ParsedItem{}, false, err
	}
	if err := manifest.Save(a.dirPath, a.entries); err != nil {
		return ParsedItem{}, false, err
	}

	// If the resulting directory has exactly one segment and
	// no references, promote to a flat file.
	if len(a.entries) == 1 && !a.entries[0].IsRef {
		data, err := os.ReadFile(manifest.SegmentPath(a.dirPath, a.entries[0].Segment))
		if err != nil {
			return ParsedItem{}, false, err
		}
		if err := os.RemoveAll(a.dirPath); err != nil {
			return ParsedItem{}, false, err
		}
		if err := os.WriteFile(a.dirPath, data, 0o644); err != nil {
			return ParsedItem{}, false, err
		}
	}
	return ParsedItem{Index: a.index, Directory: &DirectoryHandle{Dir: a.dirPath}}, true, nil
}
