// Copyright 2024 The grpc-bb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package message

import "github.com/jossemii/grpc-bb/wire"

func appendTagLen(buf []byte, fieldNumber, length int) []byte {
	buf = wire.AppendVarint(buf, wire.MakeTag(fieldNumber, wire.WireBytes))
	buf = wire.AppendVarint(buf, uint64(length))
	return buf
}
