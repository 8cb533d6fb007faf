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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jinzhu/copier"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/metrics"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

// requestStream is the outgoing stream opened on every connection for our requests
const requestStream = 0

// ResponderFunc answers a query from a peer with the encoded response value. Returning
// a *protocol.RpcError sends that error to the peer; any other error is reported as an
// uncaught exception.
type ResponderFunc func(ctx context.Context, peer connection.PeerId, query []byte) ([]byte, error)

// PeerInfo describes a peer ready to serve requests
type PeerInfo struct {
	Peer         connection.PeerId
	ConnectionId connection.ConnectionId
	StreamId     muxer.StreamId
	Menu         protocol.Menu
	Busy         bool
}

type peerState struct {
	info  PeerInfo
	ready bool
}

type callResult struct {
	data []byte
	err  error
}

type pendingCall struct {
	peer       connection.PeerId
	connId     connection.ConnectionId
	id         int64
	method     protocol.Method
	resultChan chan callResult
}

// Engine turns the connection manager's event stream into call-style requests. At
// most one request is outstanding per connection at a time.
type Engine struct {
	manager    *ConnectionManager
	logger     *slog.Logger
	metrics    *metrics.Metrics
	responders map[protocol.Method]ResponderFunc
	mutex      sync.Mutex
	peers      map[connection.PeerId]*peerState
	calls      map[connection.ConnectionId]*pendingCall
	readyChan  chan struct{}
	nextId     int64
	closed     bool
	workers    int
	pool       *responderPool
}

func NewEngine(manager *ConnectionManager, options ...EngineOptionFunc) *Engine {
	e := &Engine{
		manager:    manager,
		responders: make(map[protocol.Method]ResponderFunc),
		peers:      make(map[connection.PeerId]*peerState),
		calls:      make(map[connection.ConnectionId]*pendingCall),
		readyChan:  make(chan struct{}),
		// Id 0 is used by the menu query
		nextId:  1,
		workers: DefaultResponderWorkers,
	}
	for _, option := range options {
		option(e)
	}
	e.pool = newResponderPool(e.workers, e.respond)
	if e.logger == nil {
		e.logger = manager.config.Logger
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Run consumes the connection manager's events until ctx is cancelled or the manager
// is closed. Requests can only complete while Run is active.
func (e *Engine) Run(ctx context.Context) error {
	e.pool.Start(ctx)
	defer e.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-e.manager.Events():
			if !ok {
				return nil
			}
			e.handleEvent(event)
		}
	}
}

func (e *Engine) shutdown() {
	e.mutex.Lock()
	e.closed = true
	for connId, call := range e.calls {
		call.resultChan <- callResult{err: ErrEngineClosed}
		delete(e.calls, connId)
	}
	e.broadcast()
	e.mutex.Unlock()
	if dropped := e.pool.Stop(); dropped > 0 {
		e.logger.Warn("dropped unanswered queries", "count", dropped)
	}
}

// broadcast wakes requests waiting for a peer. The caller must hold the mutex.
func (e *Engine) broadcast() {
	close(e.readyChan)
	e.readyChan = make(chan struct{})
}

func (e *Engine) handleEvent(event Event) {
	switch event.Type {
	case EventTypeConnectionEstablished:
		e.mutex.Lock()
		e.peers[event.Peer] = &peerState{
			info: PeerInfo{
				Peer:         event.Peer,
				ConnectionId: event.ConnectionId,
				StreamId:     muxer.Outgoing(requestStream),
			},
		}
		e.mutex.Unlock()
		e.manager.Open(event.Peer, requestStream)
	case EventTypeStreamNegotiated:
		e.mutex.Lock()
		if state, ok := e.peers[event.Peer]; ok && state.info.ConnectionId == event.ConnectionId && state.info.StreamId == event.StreamId {
			state.info.Menu = event.Menu
			if !state.ready {
				state.ready = true
				e.logger.Info("peer ready", "peer", event.Peer.String(), "methods", len(event.Menu))
			}
			e.broadcast()
		}
		e.mutex.Unlock()
	case EventTypeStream:
		switch event.Header.Type {
		case protocol.MessageTypeQuery:
			e.handleQuery(event)
		case protocol.MessageTypeResponse:
			e.handleResponse(event)
		}
	case EventTypeConnectionClosed:
		e.mutex.Lock()
		if call, ok := e.calls[event.ConnectionId]; ok {
			err := ErrConnectionClosed
			if event.Err != nil {
				err = fmt.Errorf("%w: %w", ErrConnectionClosed, event.Err)
			}
			call.resultChan <- callResult{err: err}
			delete(e.calls, event.ConnectionId)
		}
		if state, ok := e.peers[event.Peer]; ok && state.info.ConnectionId == event.ConnectionId {
			delete(e.peers, event.Peer)
		}
		e.broadcast()
		e.mutex.Unlock()
	}
}

func (e *Engine) handleResponse(event Event) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	call, ok := e.calls[event.ConnectionId]
	if !ok || call.id != event.Header.Id {
		e.logger.Debug("ignoring uncorrelated response", "connection_id", event.ConnectionId.String(), "query_id", event.Header.Id)
		return
	}
	data, err := protocol.DecodeResponsePayload(event.Payload)
	var rpcErr *protocol.RpcError
	if err != nil && !errors.As(err, &rpcErr) {
		err = fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	call.resultChan <- callResult{data: data, err: err}
	e.release(call)
}

// release frees the capacity claimed by a call. The caller must hold the mutex.
func (e *Engine) release(call *pendingCall) {
	if e.calls[call.connId] != call {
		return
	}
	delete(e.calls, call.connId)
	if state, ok := e.peers[call.peer]; ok && state.info.ConnectionId == call.connId {
		state.info.Busy = false
	}
	e.broadcast()
}

func (e *Engine) handleQuery(event Event) {
	method := event.Header.Method()
	responder, ok := e.responders[method]
	if !ok {
		e.logger.Warn("query for unimplemented method", "peer", event.Peer.String(), "method", method.String())
		e.manager.SendError(event.Peer, event.StreamId, event.Header.Id, protocol.NewUnimplementedRpcError(method))
		return
	}
	query, err := protocol.DecodeQueryPayload(event.Payload)
	if err != nil {
		e.manager.SendError(event.Peer, event.StreamId, event.Header.Id, &protocol.RpcError{
			Kind:   protocol.RpcErrorBinIoExn,
			Detail: protocol.SexpAtom(err.Error()),
		})
		return
	}
	e.pool.Submit(&inboundQuery{
		event:     event,
		responder: responder,
		query:     query,
	})
}

func (e *Engine) respond(ctx context.Context, q *inboundQuery) {
	event := q.event
	data, err := q.responder(ctx, event.Peer, q.query)
	if err != nil {
		var rpcErr *protocol.RpcError
		if !errors.As(err, &rpcErr) {
			rpcErr = &protocol.RpcError{
				Kind:   protocol.RpcErrorUncaughtExn,
				Detail: protocol.SexpAtom(err.Error()),
			}
		}
		e.manager.SendError(event.Peer, event.StreamId, event.Header.Id, rpcErr)
		return
	}
	e.manager.SendResponse(event.Peer, event.StreamId, event.Header.Id, data)
}

func (e *Engine) claim(method protocol.Method) *pendingCall {
	var best *peerState
	for _, state := range e.peers {
		if !state.ready || state.info.Busy {
			continue
		}
		if best == nil || state.info.Peer < best.info.Peer {
			best = state
		}
	}
	if best == nil {
		return nil
	}
	best.info.Busy = true
	call := &pendingCall{
		peer:       best.info.Peer,
		connId:     best.info.ConnectionId,
		id:         e.nextId,
		method:     method,
		resultChan: make(chan callResult, 1),
	}
	e.nextId++
	e.calls[call.connId] = call
	return call
}

// Request sends the encoded query to a peer with spare capacity, waiting for one if
// needed, and returns the encoded response value. A failure reported by the peer is
// returned as a *protocol.RpcError. No timeout applies beyond ctx.
func (e *Engine) Request(ctx context.Context, method protocol.Method, query []byte) ([]byte, error) {
	start := time.Now()
	var call *pendingCall
	for call == nil {
		e.mutex.Lock()
		if e.closed {
			e.mutex.Unlock()
			return nil, ErrEngineClosed
		}
		call = e.claim(method)
		waitChan := e.readyChan
		e.mutex.Unlock()
		if call != nil {
			break
		}
		select {
		case <-ctx.Done():
			e.metrics.RequestCompleted(method.String(), metrics.OutcomeCancelled, time.Since(start))
			return nil, ctx.Err()
		case <-waitChan:
		}
	}
	e.logger.Debug("sending request", "peer", call.peer.String(), "method", method.String(), "query_id", call.id)
	if !e.manager.SendQueryOn(call.connId, muxer.Outgoing(requestStream), method, call.id, query) {
		// The connection went away after the call was claimed
		e.mutex.Lock()
		if e.calls[call.connId] == call {
			call.resultChan <- callResult{err: ErrConnectionClosed}
			e.release(call)
		}
		e.mutex.Unlock()
	}
	select {
	case result := <-call.resultChan:
		e.metrics.RequestCompleted(method.String(), outcome(result.err), time.Since(start))
		return result.data, result.err
	case <-ctx.Done():
		e.mutex.Lock()
		abandoned := e.calls[call.connId] == call
		e.release(call)
		e.mutex.Unlock()
		if abandoned {
			e.manager.CancelQuery(call.connId, muxer.Outgoing(requestStream), call.id)
		}
		e.metrics.RequestCompleted(method.String(), metrics.OutcomeCancelled, time.Since(start))
		return nil, ctx.Err()
	}
}

func outcome(err error) string {
	var rpcErr *protocol.RpcError
	switch {
	case err == nil:
		return metrics.OutcomeOk
	case errors.As(err, &rpcErr):
		return metrics.OutcomeRpcError
	case errors.Is(err, ErrInvalidResponse):
		return metrics.OutcomeDecode
	}
	return metrics.OutcomeTransport
}

// Peers returns a snapshot of the peers ready to serve requests, ordered by peer
func (e *Engine) Peers() ([]PeerInfo, error) {
	e.mutex.Lock()
	var tmp []PeerInfo
	for _, state := range e.peers {
		if state.ready {
			tmp = append(tmp, state.info)
		}
	}
	e.mutex.Unlock()
	var ret []PeerInfo
	if err := copier.CopyWithOption(&ret, tmp, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Peer < ret[j].Peer
	})
	return ret, nil
}

// WaitPeer blocks until the request stream to peer is negotiated and returns the
// peer's menu
func (e *Engine) WaitPeer(ctx context.Context, peer connection.PeerId) (protocol.Menu, error) {
	for {
		e.mutex.Lock()
		if e.closed {
			e.mutex.Unlock()
			return nil, ErrEngineClosed
		}
		if state, ok := e.peers[peer]; ok && state.ready {
			menu := append(protocol.Menu(nil), state.info.Menu...)
			e.mutex.Unlock()
			return menu, nil
		}
		waitChan := e.readyChan
		e.mutex.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitChan:
		}
	}
}

// Menu returns the methods advertised by a ready peer
func (e *Engine) Menu(peer connection.PeerId) (protocol.Menu, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	state, ok := e.peers[peer]
	if !ok || !state.ready {
		return nil, false
	}
	return append(protocol.Menu(nil), state.info.Menu...), true
}
