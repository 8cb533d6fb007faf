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

package codarpc

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/internal/queue"
	"github.com/blinklabs-io/gocodarpc/metrics"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
	"github.com/blinklabs-io/gocodarpc/transport"
)

// ConnectionManagerConnClosedFunc is a function that takes a connection ID and an optional error
type ConnectionManagerConnClosedFunc func(connection.ConnectionId, error)

// ConnectionManagerTag represents the various tags that can be associated with a connection
type ConnectionManagerTag uint16

const (
	ConnectionManagerTagNone ConnectionManagerTag = iota

	ConnectionManagerTagHostBootstrap
	ConnectionManagerTagHostTrusted

	ConnectionManagerTagRoleInitiator
	ConnectionManagerTagRoleResponder
)

func (c ConnectionManagerTag) String() string {
	tmp := map[ConnectionManagerTag]string{
		ConnectionManagerTagHostBootstrap: "HostBootstrap",
		ConnectionManagerTagHostTrusted:   "HostTrusted",
		ConnectionManagerTagRoleInitiator: "RoleInitiator",
		ConnectionManagerTagRoleResponder: "RoleResponder",
	}
	ret, ok := tmp[c]
	if !ok {
		return "Unknown"
	}
	return ret
}

type ConnectionManagerConfig struct {
	Logger         *slog.Logger
	ConnClosedFunc ConnectionManagerConnClosedFunc
	// MuxerOptions configure the multiplexer of every connection
	MuxerOptions []muxer.MuxerOptionFunc
	Metrics      *metrics.Metrics
}

// ConnectionManager tracks the current connection of every peer. Commands for peers
// without a current connection are held and delivered in order once one is added.
type ConnectionManager struct {
	config           ConnectionManagerConfig
	logger           *slog.Logger
	muxerConfig      muxer.Config
	connections      map[connection.PeerId]*ConnectionManagerConnection
	pending          map[connection.PeerId][]muxer.Command
	connectionsMutex sync.Mutex
	closed           bool
	events           *queue.Queue[Event]
	eventChan        chan Event
	ctx              context.Context
	cancel           context.CancelFunc
	dispatchCancel   context.CancelFunc
	dispatchDone     chan struct{}
	waitGroup        sync.WaitGroup
	onceClose        sync.Once
}

type ConnectionManagerConnection struct {
	Conn  transport.Conn
	Tags  map[ConnectionManagerTag]bool
	muxer *muxer.Muxer
}

func (c *ConnectionManagerConnection) Id() connection.ConnectionId {
	return c.Conn.Id()
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	muxerOptions := append(
		[]muxer.MuxerOptionFunc{
			muxer.WithLogger(cfg.Logger),
			muxer.WithMetrics(cfg.Metrics),
		},
		cfg.MuxerOptions...,
	)
	ctx, cancel := context.WithCancel(context.Background())
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	c := &ConnectionManager{
		config:         cfg,
		logger:         cfg.Logger.With("component", "connection_manager"),
		muxerConfig:    muxer.NewConfig(muxerOptions...),
		connections:    make(map[connection.PeerId]*ConnectionManagerConnection),
		pending:        make(map[connection.PeerId][]muxer.Command),
		events:         queue.New[Event](),
		eventChan:      make(chan Event),
		ctx:            ctx,
		cancel:         cancel,
		dispatchCancel: dispatchCancel,
		dispatchDone:   make(chan struct{}),
	}
	go c.dispatch(dispatchCtx)
	return c
}

// Menu returns the menu advertised on every connection
func (c *ConnectionManager) Menu() protocol.Menu {
	return c.muxerConfig.Menu
}

// Events returns the channel of events from every connection. It is closed by Close.
func (c *ConnectionManager) Events() <-chan Event {
	return c.eventChan
}

func (c *ConnectionManager) dispatch(ctx context.Context) {
	defer close(c.dispatchDone)
	defer close(c.eventChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.events.Notify():
			for _, event := range c.events.Drain() {
				select {
				case c.eventChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// AddConnection makes the connection current for its peer, replacing any previous
// one, and starts servicing it. Commands held for the peer are delivered in the
// order they were issued.
func (c *ConnectionManager) AddConnection(conn transport.Conn, tags ...ConnectionManagerTag) (connection.ConnectionId, error) {
	connId := conn.Id()
	tmpTags := map[ConnectionManagerTag]bool{}
	for _, tag := range tags {
		tmpTags[tag] = true
	}
	mux := muxer.New(conn, &c.muxerConfig)
	c.connectionsMutex.Lock()
	if c.closed {
		c.connectionsMutex.Unlock()
		_ = conn.Close()
		return connId, ErrManagerClosed
	}
	if old, ok := c.connections[connId.Peer]; ok {
		c.logger.Info("replacing connection", "peer", connId.Peer.String(), "old_connection_id", old.Id().String(), "connection_id", connId.String())
	} else {
		c.config.Metrics.ConnectionAdded()
	}
	c.connections[connId.Peer] = &ConnectionManagerConnection{
		Conn:  conn,
		Tags:  tmpTags,
		muxer: mux,
	}
	c.events.Push(Event{
		Type:         EventTypeConnectionEstablished,
		Peer:         connId.Peer,
		ConnectionId: connId,
	})
	pending := c.pending[connId.Peer]
	delete(c.pending, connId.Peer)
	for _, cmd := range pending {
		mux.Submit(cmd)
	}
	c.waitGroup.Add(1)
	c.connectionsMutex.Unlock()
	c.logger.Info("connection established", "connection_id", connId.String(), "pending_commands", len(pending))
	go c.run(connId, mux)
	return connId, nil
}

func (c *ConnectionManager) run(connId connection.ConnectionId, mux *muxer.Muxer) {
	defer c.waitGroup.Done()
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for event := range mux.Events() {
			c.events.Push(newStreamEvent(connId, event))
		}
	}()
	err := mux.Run(c.ctx)
	<-forwardDone
	c.connectionClosed(connId, err)
}

func (c *ConnectionManager) connectionClosed(connId connection.ConnectionId, err error) {
	c.connectionsMutex.Lock()
	if current, ok := c.connections[connId.Peer]; ok && current.Id() == connId {
		delete(c.connections, connId.Peer)
		c.config.Metrics.ConnectionRemoved()
	} else {
		c.logger.Debug("superseded connection closed", "connection_id", connId.String())
	}
	c.events.Push(Event{
		Type:         EventTypeConnectionClosed,
		Peer:         connId.Peer,
		ConnectionId: connId,
		Err:          err,
	})
	c.connectionsMutex.Unlock()
	c.logger.Info("connection closed", "connection_id", connId.String(), "error", err)
	// Call configured connection closed callback func
	if c.config.ConnClosedFunc != nil {
		c.config.ConnClosedFunc(connId, err)
	}
}

// RemoveConnection closes the connection. Its closing is reported like any other.
func (c *ConnectionManager) RemoveConnection(connId connection.ConnectionId) {
	c.connectionsMutex.Lock()
	current, ok := c.connections[connId.Peer]
	c.connectionsMutex.Unlock()
	if ok && current.Id() == connId {
		_ = current.Conn.Close()
	}
}

// GetConnection returns the current connection of a peer
func (c *ConnectionManager) GetConnection(peer connection.PeerId) *ConnectionManagerConnection {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return c.connections[peer]
}

// GetConnectionsByTags returns the current connections carrying all of the tags,
// ordered by peer
func (c *ConnectionManager) GetConnectionsByTags(tags ...ConnectionManagerTag) []*ConnectionManagerConnection {
	var ret []*ConnectionManagerConnection
	c.connectionsMutex.Lock()
	for _, conn := range c.connections {
		skipConn := false
		for _, tag := range tags {
			if _, ok := conn.Tags[tag]; !ok {
				skipConn = true
				break
			}
		}
		if !skipConn {
			ret = append(ret, conn)
		}
	}
	c.connectionsMutex.Unlock()
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Id().Peer < ret[j].Id().Peer
	})
	return ret
}

// Submit routes a command to the peer's current connection, or holds it until the
// peer connects
func (c *ConnectionManager) Submit(peer connection.PeerId, cmd muxer.Command) {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	if current, ok := c.connections[peer]; ok && current.muxer.Submit(cmd) {
		return
	}
	c.pending[peer] = append(c.pending[peer], cmd)
}

// submitTo routes a command to the connection only while it is current for its peer.
// Nothing is held for later connections.
func (c *ConnectionManager) submitTo(connId connection.ConnectionId, cmd muxer.Command) bool {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	current, ok := c.connections[connId.Peer]
	if !ok || current.Id() != connId {
		return false
	}
	return current.muxer.Submit(cmd)
}

// Open requests a new outbound stream to the peer
func (c *ConnectionManager) Open(peer connection.PeerId, index uint64) {
	c.Submit(peer, muxer.NewOpenCommand(index))
}

// SendQuery sends a query for the method on a stream of the peer's connection
func (c *ConnectionManager) SendQuery(peer connection.PeerId, streamId muxer.StreamId, method protocol.Method, id int64, data []byte) {
	c.Submit(peer, muxer.NewSendCommand(streamId, protocol.EncodeQuery(method, id, data)))
}

// SendQueryOn sends a query on a stream of the given connection. It returns false,
// sending nothing, if the connection is no longer current for its peer.
func (c *ConnectionManager) SendQueryOn(connId connection.ConnectionId, streamId muxer.StreamId, method protocol.Method, id int64, data []byte) bool {
	return c.submitTo(connId, muxer.NewSendCommand(streamId, protocol.EncodeQuery(method, id, data)))
}

// CancelQuery abandons a query sent with SendQueryOn so that it is not sent again
// when the stream's substream is replaced
func (c *ConnectionManager) CancelQuery(connId connection.ConnectionId, streamId muxer.StreamId, id int64) {
	c.submitTo(connId, muxer.NewCancelCommand(streamId, id))
}

// SendResponse answers a query received on a stream of the peer's connection
func (c *ConnectionManager) SendResponse(peer connection.PeerId, streamId muxer.StreamId, id int64, data []byte) {
	c.Submit(peer, muxer.NewSendCommand(streamId, protocol.EncodeResponse(id, data)))
}

// SendError reports a failure to handle a query received on a stream of the peer's connection
func (c *ConnectionManager) SendError(peer connection.PeerId, streamId muxer.StreamId, id int64, rpcErr *protocol.RpcError) {
	c.Submit(peer, muxer.NewSendCommand(streamId, protocol.EncodeErrorResponse(id, rpcErr)))
}

// Close shuts down every connection and stops event delivery
func (c *ConnectionManager) Close() error {
	c.onceClose.Do(func() {
		c.connectionsMutex.Lock()
		c.closed = true
		c.pending = make(map[connection.PeerId][]muxer.Command)
		c.connectionsMutex.Unlock()
		c.cancel()
		c.waitGroup.Wait()
		c.dispatchCancel()
		<-c.dispatchDone
	})
	return nil
}
