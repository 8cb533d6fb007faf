// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bench provides benchmark fixtures for the frame codec and stream engine.
package bench

import (
	"bytes"

	"github.com/blinklabs-io/gocodarpc/protocol"
)

// FrameFixture is a pre-encoded frame for benchmarking
type FrameFixture struct {
	Name  string
	Frame []byte
}

// FrameFixtures returns frames of the kinds and sizes seen on a busy connection: small
// control frames, a typical query and responses up to the size of a block.
func FrameFixtures() []FrameFixture {
	method := protocol.Method{Tag: "get_transition_chain", Version: 2}
	return []FrameFixture{
		{Name: "heartbeat", Frame: protocol.HeartbeatFrame()},
		{Name: "query", Frame: protocol.EncodeQuery(method, 42, bytes.Repeat([]byte{0x20}, 32*10))},
		{Name: "response-1k", Frame: protocol.EncodeResponse(42, bytes.Repeat([]byte{0xab}, 1024))},
		{Name: "response-1m", Frame: protocol.EncodeResponse(42, bytes.Repeat([]byte{0xab}, 1024*1024))},
	}
}

// FrameStream returns count copies of frame back to back
func FrameStream(frame []byte, count int) []byte {
	return bytes.Repeat(frame, count)
}
