// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package message_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jossemii/grpc-bb/message"
	"github.com/jossemii/grpc-bb/message/testmsg"
)

func TestEncodeSizeAgree(t *testing.T) {
	r := &testmsg.Record{
		Name:    "hello",
		Payload: []byte("item1"),
		Child: &testmsg.Record{
			Name:     "child",
			HasCount: true,
			Count:    42,
		},
		Children: []*testmsg.Record{
			{Name: "a"},
			{Name: "b"},
		},
	}

	buf := message.Encode(r)
	if len(buf) != r.Size() {
		t.Fatalf("len(Encode(r)) = %d, Size() = %d", len(buf), r.Size())
	}

	got, err := testmsg.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptySubMessage(t *testing.T) {
	r := &testmsg.Record{Child: &testmsg.Record{}}
	buf := message.Encode(r)
	got, err := testmsg.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Child == nil || got.Child.Size() != 0 {
		t.Errorf("expected a zero-length child sub-message, got %+v", got.Child)
	}
}
