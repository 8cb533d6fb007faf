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

// Package libp2p runs the RPC engine over a go-libp2p host. Every libp2p connection
// becomes a transport.Conn and every coda/rpcs stream on it a substream.
package libp2p

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	codarpc "github.com/blinklabs-io/gocodarpc"
	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/protocol"
	"github.com/blinklabs-io/gocodarpc/transport"
)

const ProtocolID = p2pprotocol.ID(protocol.ProtocolName)

// ConnectionAdder receives the connections of the host. It is satisfied by
// *codarpc.ConnectionManager.
type ConnectionAdder interface {
	AddConnection(transport.Conn, ...codarpc.ConnectionManagerTag) (connection.ConnectionId, error)
}

type OptionFunc func(*Transport)

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Transport connects a libp2p host to a connection manager
type Transport struct {
	host     host.Host
	adder    ConnectionAdder
	logger   *slog.Logger
	notifiee *network.NotifyBundle
	mutex    sync.Mutex
	conns    map[string]*Conn
	peerTags map[peer.ID][]codarpc.ConnectionManagerTag
}

// New registers the coda/rpcs stream handler on h and hands every connection of the
// host to adder, including the ones already established
func New(h host.Host, adder ConnectionAdder, options ...OptionFunc) *Transport {
	t := &Transport{
		host:     h,
		adder:    adder,
		conns:    make(map[string]*Conn),
		peerTags: make(map[peer.ID][]codarpc.ConnectionManagerTag),
	}
	for _, option := range options {
		option(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "libp2p_transport")
	t.notifiee = &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			t.connFor(c)
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			t.disconnected(c)
		},
	}
	h.SetStreamHandler(ProtocolID, t.handleStream)
	h.Network().Notify(t.notifiee)
	for _, c := range h.Network().Conns() {
		t.connFor(c)
	}
	return t
}

// Connect dials the peer at addr, a multiaddr that includes the peer id. The resulting
// connection carries the given tags.
func (t *Transport) Connect(ctx context.Context, addr string, tags ...codarpc.ConnectionManagerTag) (peer.ID, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	if len(tags) > 0 {
		t.mutex.Lock()
		t.peerTags[info.ID] = tags
		t.mutex.Unlock()
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close stops handing connections to the manager and closes the ones it holds
func (t *Transport) Close() error {
	t.host.Network().StopNotify(t.notifiee)
	t.host.RemoveStreamHandler(ProtocolID)
	t.mutex.Lock()
	conns := t.conns
	t.conns = make(map[string]*Conn)
	t.mutex.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
	return nil
}

func (t *Transport) connFor(c network.Conn) *Conn {
	t.mutex.Lock()
	if conn, ok := t.conns[c.ID()]; ok {
		t.mutex.Unlock()
		return conn
	}
	conn := &Conn{
		id: connection.ConnectionId{
			Peer:   connection.PeerId(c.RemotePeer().String()),
			Handle: c.ID(),
		},
		host:       t.host,
		netConn:    c,
		acceptChan: make(chan network.Stream),
		doneChan:   make(chan struct{}),
	}
	t.conns[c.ID()] = conn
	tags := []codarpc.ConnectionManagerTag{codarpc.ConnectionManagerTagRoleResponder}
	if c.Stat().Direction == network.DirOutbound {
		tags = []codarpc.ConnectionManagerTag{codarpc.ConnectionManagerTagRoleInitiator}
	}
	tags = append(tags, t.peerTags[c.RemotePeer()]...)
	t.mutex.Unlock()
	if _, err := t.adder.AddConnection(conn, tags...); err != nil {
		t.logger.Error("failed to add connection", "connection_id", conn.id.String(), "error", err)
		t.mutex.Lock()
		delete(t.conns, c.ID())
		t.mutex.Unlock()
		conn.shutdown()
		return nil
	}
	t.logger.Debug("connection added", "connection_id", conn.id.String(), "remote_addr", c.RemoteMultiaddr().String())
	return conn
}

func (t *Transport) disconnected(c network.Conn) {
	t.mutex.Lock()
	conn, ok := t.conns[c.ID()]
	delete(t.conns, c.ID())
	t.mutex.Unlock()
	if ok {
		conn.shutdown()
	}
}

func (t *Transport) handleStream(stream network.Stream) {
	conn := t.connFor(stream.Conn())
	if conn == nil {
		_ = stream.Reset()
		return
	}
	select {
	case conn.acceptChan <- stream:
	case <-conn.doneChan:
		_ = stream.Reset()
	}
}

// Conn is one libp2p connection to a peer
type Conn struct {
	id         connection.ConnectionId
	host       host.Host
	netConn    network.Conn
	acceptChan chan network.Stream
	doneChan   chan struct{}
	closeOnce  sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Id() connection.ConnectionId {
	return c.id
}

func (c *Conn) OpenSubstream(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case <-c.doneChan:
		return nil, transport.ErrConnectionClosed
	default:
	}
	// The host picks the connection, which is this one unless the peer holds several
	stream, err := c.host.NewStream(ctx, c.netConn.RemotePeer(), ProtocolID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *Conn) AcceptSubstream(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case stream := <-c.acceptChan:
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneChan:
		return nil, transport.ErrConnectionClosed
	}
}

func (c *Conn) Done() <-chan struct{} {
	return c.doneChan
}

// Close closes the underlying libp2p connection
func (c *Conn) Close() error {
	err := c.netConn.Close()
	c.shutdown()
	return err
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.doneChan)
	})
}
