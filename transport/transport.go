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

// Package transport defines what the RPC engine needs from an underlying peer-to-peer
// transport: physical connections able to open and accept byte-stream substreams.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/blinklabs-io/gocodarpc/connection"
)

var ErrConnectionClosed = errors.New("transport connection closed")

// Conn is one physical connection to a peer
type Conn interface {
	// Id returns the identifier of this connection
	Id() connection.ConnectionId
	// OpenSubstream opens a new outbound substream negotiated for the coda/rpcs protocol
	OpenSubstream(ctx context.Context) (io.ReadWriteCloser, error)
	// AcceptSubstream waits for the remote peer to open a substream
	AcceptSubstream(ctx context.Context) (io.ReadWriteCloser, error)
	// Done is closed when the connection is gone
	Done() <-chan struct{}
	Close() error
}
