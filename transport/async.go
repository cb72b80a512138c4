// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import "iter"

// frameErr pairs a Frame with a terminal error, used to carry Serialize's
// (Frame, error) pairs across a channel.
type frameErr struct {
	frame Frame
	err   error
}

// SerializeAsync runs Serialize in a background goroutine and delivers its
// frames over a channel, for callers that need to produce frames on one
// goroutine while a peer's Parse consumes them on another — the situation
// Signal is actually designed for: the parser can call
// opts.Signal.Raise() from its own goroutine and have the writer observe it
// before its very next chunk, something a synchronous pull-based iterator
// cannot model since there is only one goroutine to pause.
func SerializeAsync(items iter.Seq[Item], opts SerializeOptions) <-chan frameErr {
	out := make(chan frameErr)
	go func() {
		defer close(out)
		for frame, err := range Serialize(items, opts) {
			out <- frameErr{frame, err}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// channelFrames adapts a <-chan frameErr back into an iter.Seq2[Frame,
// error], so ParseAsync can reuse Parse's reassembly logic unchanged.
func channelFrames(ch <-chan frameErr) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for fe := range ch {
			if !yield(fe.frame, fe.err) {
				return
			}
		}
	}
}

// ParseAsync consumes a channel of frames (typically produced by
// SerializeAsync running on another goroutine) and delivers parsed items
// over a returned channel.
func ParseAsync(frames <-chan frameErr, opts ParseOptions) <-chan struct {
	Item ParsedItem
	Err  error
} {
	out := make(chan struct {
		Item ParsedItem
		Err  error
	})
	go func() {
		defer close(out)
		for item, err := range Parse(channelFrames(frames), opts) {
			out <- struct {
				Item ParsedItem
				Err  error
			}{item, err}
		}
	}()
	return out
}
