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

// Package protocol implements the frame codec of the coda/rpcs wire protocol.
//
// Every frame is an 8-byte little-endian length prefix followed by a message
// header and an opaque payload. The header identifies the frame as a heartbeat,
// a query for a versioned method, or a response correlated to a query by its id.
package protocol

import (
	"encoding/binary"
	"time"
)

const (
	// ProtocolName is the substream protocol identifier negotiated with peers
	ProtocolName = "coda/rpcs/0.0.1"

	// NegotiationTimeout bounds how long a substream open attempt may take
	NegotiationTimeout = 15 * time.Second

	// LengthPrefixSize is the size of the frame length prefix
	LengthPrefixSize = 8
)

// HandshakeAckId is the correlation id carried by the handshake preamble. Responses
// with this id are protocol-level acknowledgements and never reach the application.
var HandshakeAckId = int64(binary.LittleEndian.Uint64([]byte("RPC\x00\x00\x00\x00\x00")))

var handshakePreamble = []byte{
	0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x02, 0xfd, 0x52, 0x50, 0x43, 0x00, 0x01,
}

var heartbeatFrame = []byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00,
}

// HandshakePreamble returns the bytes sent once at the start of every substream
func HandshakePreamble() []byte {
	return append([]byte(nil), handshakePreamble...)
}

// HeartbeatFrame returns an encoded heartbeat. The same frame acknowledges a
// received heartbeat.
func HeartbeatFrame() []byte {
	return append([]byte(nil), heartbeatFrame...)
}
