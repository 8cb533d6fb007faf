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

// Package memtransport provides in-process transport connections for tests. Each
// substream is a net.Pipe.
package memtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/transport"
)

var ErrOpenRejected = errors.New("substream open rejected")

var handleCounter atomic.Uint64

// Conn is one end of an in-memory connection
type Conn struct {
	id         connection.ConnectionId
	remote     *Conn
	acceptChan chan io.ReadWriteCloser
	doneChan   chan struct{}
	closeOnce  *sync.Once
	mutex      sync.Mutex
	pipes      []net.Conn
	failOpens  int
	opens      int
}

var _ transport.Conn = (*Conn)(nil)

// Pair returns the two ends of a connection between local and remote. The first
// end is held by local and identifies remote as its peer.
func Pair(local connection.PeerId, remote connection.PeerId) (*Conn, *Conn) {
	handle := fmt.Sprintf("mem-%d", handleCounter.Add(1))
	doneChan := make(chan struct{})
	closeOnce := &sync.Once{}
	a := &Conn{
		id:         connection.ConnectionId{Peer: remote, Handle: handle},
		acceptChan: make(chan io.ReadWriteCloser),
		doneChan:   doneChan,
		closeOnce:  closeOnce,
	}
	b := &Conn{
		id:         connection.ConnectionId{Peer: local, Handle: handle},
		acceptChan: make(chan io.ReadWriteCloser),
		doneChan:   doneChan,
		closeOnce:  closeOnce,
	}
	a.remote = b
	b.remote = a
	return a, b
}

func (c *Conn) Id() connection.ConnectionId {
	return c.id
}

// FailOpens makes the next n OpenSubstream calls fail
func (c *Conn) FailOpens(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failOpens = n
}

// Opens returns the number of OpenSubstream calls so far
func (c *Conn) Opens() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.opens
}

func (c *Conn) OpenSubstream(ctx context.Context) (io.ReadWriteCloser, error) {
	c.mutex.Lock()
	c.opens++
	if c.failOpens > 0 {
		c.failOpens--
		c.mutex.Unlock()
		return nil, ErrOpenRejected
	}
	c.mutex.Unlock()
	local, remote := net.Pipe()
	c.track(local)
	c.remote.track(remote)
	select {
	case c.remote.acceptChan <- remote:
	case <-ctx.Done():
		_ = local.Close()
		_ = remote.Close()
		return nil, ctx.Err()
	case <-c.doneChan:
		_ = local.Close()
		_ = remote.Close()
		return nil, transport.ErrConnectionClosed
	}
	return local, nil
}

func (c *Conn) AcceptSubstream(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case sub := <-c.acceptChan:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneChan:
		return nil, transport.ErrConnectionClosed
	}
}

func (c *Conn) Done() <-chan struct{} {
	return c.doneChan
}

// Close closes both ends of the connection and every substream
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.doneChan)
		c.closePipes()
		c.remote.closePipes()
	})
	return nil
}

func (c *Conn) track(pipe net.Conn) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pipes = append(c.pipes, pipe)
}

func (c *Conn) closePipes() {
	c.mutex.Lock()
	pipes := c.pipes
	c.pipes = nil
	c.mutex.Unlock()
	for _, pipe := range pipes {
		_ = pipe.Close()
	}
}
