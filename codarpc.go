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

// Package codarpc implements the coda/rpcs request/response engine used by blockchain
// nodes to exchange RPCs with their peers.
//
// A ConnectionManager tracks one current transport connection per peer and runs a
// stream multiplexer for each of them. An Engine sits on top of the manager and
// offers call-style requests correlated with their responses, while answering the
// queries peers send us with registered responders.
//
// The other packages can be used outside of this one: protocol contains the frame
// codec, muxer the stream engine, and transport/libp2p and transport/quic adapt
// real transports to the transport.Conn interface.
package codarpc

import "errors"

var (
	// ErrConnectionClosed is returned for requests whose connection closed before a response arrived
	ErrConnectionClosed = errors.New("connection closed")
	// ErrEngineClosed is returned for requests issued after the engine stopped
	ErrEngineClosed = errors.New("engine closed")
	// ErrInvalidResponse wraps failures to decode a response payload
	ErrInvalidResponse = errors.New("invalid response")
	// ErrManagerClosed is returned when adding connections to a closed manager
	ErrManagerClosed = errors.New("connection manager closed")
)
