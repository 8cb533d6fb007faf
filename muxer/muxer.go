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

// Package muxer implements the stream layer of the coda/rpcs protocol.
//
// A Muxer owns every logical stream of one physical connection. Each stream is
// driven by a Stream engine attached to a transport substream: outbound streams
// request substreams from the transport and transparently request a new one when
// a substream ends cleanly, while inbound streams are created as the peer opens them.
package muxer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/internal/queue"
	"github.com/blinklabs-io/gocodarpc/protocol"
	"github.com/blinklabs-io/gocodarpc/transport"
)

var ErrNegotiationFailed = errors.New("substream negotiation failed")

type streamState uint8

const (
	stateNotRequested streamState = iota
	stateRequested
	stateNegotiated
)

type streamEntry struct {
	state  streamState
	stream *Stream
	// consecutive failed opens and clean ends without any frame received
	failures int
}

type inputType uint8

const (
	inputFrame inputType = iota
	inputEnd
	inputOpened
	inputAccepted
	inputAcceptFailed
)

type input struct {
	typ      inputType
	streamId StreamId
	frame    *Frame
	sub      io.ReadWriteCloser
	err      error
}

// Muxer multiplexes logical streams over one transport connection
type Muxer struct {
	id              connection.ConnectionId
	conn            transport.Conn
	config          Config
	logger          *slog.Logger
	commands        *queue.Queue[Command]
	inputs          *queue.Queue[input]
	eventChan       chan Event
	kickChan        chan struct{}
	streams         map[StreamId]*streamEntry
	pendingOutgoing []StreamId
	nextIncoming    uint64
	waitGroup       sync.WaitGroup
}

// New returns a Muxer for the connection. Commands may be submitted before Run is called.
func New(conn transport.Conn, cfg *Config) *Muxer {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	m := &Muxer{
		id:        conn.Id(),
		conn:      conn,
		config:    *cfg,
		commands:  queue.New[Command](),
		inputs:    queue.New[input](),
		eventChan: make(chan Event, 64),
		kickChan:  make(chan struct{}, 1),
		streams:   make(map[StreamId]*streamEntry),
	}
	m.logger = m.config.Logger.With(
		"component", "muxer",
		"connection_id", m.id.String(),
	)
	return m
}

func (m *Muxer) Id() connection.ConnectionId {
	return m.id
}

// Submit queues a command without blocking. It returns false once the muxer has stopped.
func (m *Muxer) Submit(cmd Command) bool {
	return m.commands.Push(cmd)
}

// Events returns the channel of stream events. It is closed when Run returns.
func (m *Muxer) Events() <-chan Event {
	return m.eventChan
}

// Run services the connection until ctx is cancelled or a fatal error occurs. The
// transport connection is closed before Run returns. A nil error means ctx was cancelled.
func (m *Muxer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.waitGroup.Add(1)
	go m.acceptLoop(ctx)
	err := m.loop(ctx)
	if err != nil {
		m.logger.Error("connection failed", "error", err)
	}
	cancel()
	_ = m.conn.Close()
	m.commands.Close()
	m.waitGroup.Wait()
	for _, in := range m.inputs.Close() {
		if in.sub != nil {
			_ = in.sub.Close()
		}
	}
	close(m.eventChan)
	return err
}

func (m *Muxer) loop(ctx context.Context) error {
	for {
		m.requestNext(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-m.conn.Done():
			return transport.ErrConnectionClosed
		case <-m.kickChan:
		case <-m.commands.Notify():
			for _, cmd := range m.commands.Drain() {
				m.handleCommand(cmd)
			}
		case <-m.inputs.Notify():
			for _, in := range m.inputs.Drain() {
				if err := m.handleInput(ctx, in); err != nil {
					return err
				}
			}
		}
	}
}

func (m *Muxer) newEntry(id StreamId) *streamEntry {
	return &streamEntry{
		state:  stateNotRequested,
		stream: NewStream(m.id, id, &m.config),
	}
}

func (m *Muxer) handleCommand(cmd Command) {
	id := cmd.StreamId
	switch cmd.Type {
	case CommandTypeOpen:
		if !id.IsOutgoing() {
			m.logger.Warn("ignoring open for inbound stream", "stream_id", id.String())
			return
		}
		if _, ok := m.streams[id]; ok {
			m.logger.Debug("stream already open", "stream_id", id.String())
			return
		}
		m.streams[id] = m.newEntry(id)
	case CommandTypeSend:
		entry, ok := m.streams[id]
		if !ok {
			if !id.IsOutgoing() {
				m.logger.Warn("dropping frame for unknown inbound stream", "stream_id", id.String())
				return
			}
			entry = m.newEntry(id)
			m.streams[id] = entry
		}
		entry.stream.Enqueue(cmd.Data)
	case CommandTypeCancel:
		if entry, ok := m.streams[id]; ok {
			entry.stream.Cancel(cmd.QueryId)
		}
	default:
		m.logger.Warn("ignoring unknown command", "type", cmd.Type)
	}
}

// requestNext asks the transport for a substream for the lowest stream that needs one.
// Only one request is issued per call.
func (m *Muxer) requestNext(ctx context.Context) {
	var next *StreamId
	waiting := 0
	for id, entry := range m.streams {
		if entry.state != stateNotRequested {
			continue
		}
		waiting++
		if next == nil || id.Less(*next) {
			next = &id
		}
	}
	if next == nil {
		return
	}
	id := *next
	m.streams[id].state = stateRequested
	m.pendingOutgoing = append(m.pendingOutgoing, id)
	m.logger.Debug("requesting substream", "stream_id", id.String())
	m.waitGroup.Add(1)
	go func() {
		defer m.waitGroup.Done()
		openCtx, cancel := context.WithTimeout(ctx, m.config.NegotiationTimeout)
		defer cancel()
		sub, err := m.conn.OpenSubstream(openCtx)
		if !m.inputs.Push(input{typ: inputOpened, sub: sub, err: err}) && sub != nil {
			_ = sub.Close()
		}
	}()
	if waiting > 1 {
		select {
		case m.kickChan <- struct{}{}:
		default:
		}
	}
}

func (m *Muxer) acceptLoop(ctx context.Context) {
	defer m.waitGroup.Done()
	for {
		sub, err := m.conn.AcceptSubstream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.inputs.Push(input{typ: inputAcceptFailed, err: err})
			}
			return
		}
		if !m.inputs.Push(input{typ: inputAccepted, sub: sub}) {
			_ = sub.Close()
			return
		}
	}
}

func (m *Muxer) attach(ctx context.Context, id StreamId, entry *streamEntry, sub io.ReadWriteCloser) {
	entry.state = stateNegotiated
	stream := entry.stream
	m.waitGroup.Add(1)
	go func() {
		defer m.waitGroup.Done()
		err := stream.Run(ctx, sub, func(frame *Frame) {
			m.inputs.Push(input{typ: inputFrame, streamId: id, frame: frame})
		})
		m.inputs.Push(input{typ: inputEnd, streamId: id, err: err})
	}()
}

func (m *Muxer) handleInput(ctx context.Context, in input) error {
	if ctx.Err() != nil {
		if in.sub != nil {
			_ = in.sub.Close()
		}
		return nil
	}
	switch in.typ {
	case inputAccepted:
		id := Incoming(m.nextIncoming)
		m.nextIncoming++
		entry := m.newEntry(id)
		m.streams[id] = entry
		m.logger.Debug("accepted substream", "stream_id", id.String())
		m.attach(ctx, id, entry, in.sub)
	case inputAcceptFailed:
		return fmt.Errorf("accept substream: %w", in.err)
	case inputOpened:
		if len(m.pendingOutgoing) == 0 {
			if in.sub != nil {
				_ = in.sub.Close()
			}
			return nil
		}
		id := m.pendingOutgoing[0]
		m.pendingOutgoing = m.pendingOutgoing[1:]
		entry := m.streams[id]
		if in.err != nil {
			entry.failures++
			if entry.failures >= m.config.MaxOpenAttempts {
				return fmt.Errorf("%w: stream %s: %w", ErrNegotiationFailed, id, in.err)
			}
			m.logger.Warn("substream open failed, retrying", "stream_id", id.String(), "error", in.err)
			entry.state = stateNotRequested
			return nil
		}
		m.attach(ctx, id, entry, in.sub)
	case inputEnd:
		entry := m.streams[in.streamId]
		if in.streamId.IsOutgoing() && errors.Is(in.err, ErrStreamEnd) {
			entry.failures++
			if entry.failures >= m.config.MaxOpenAttempts {
				return fmt.Errorf("%w: stream %s: %w", ErrNegotiationFailed, in.streamId, in.err)
			}
			m.logger.Info("outbound substream ended, requesting a new one", "stream_id", in.streamId.String())
			m.config.Metrics.SubstreamRecovered()
			entry.state = stateNotRequested
			return nil
		}
		return fmt.Errorf("stream %s: %w", in.streamId, in.err)
	case inputFrame:
		if entry, ok := m.streams[in.streamId]; ok {
			entry.failures = 0
		}
		return m.handleFrame(ctx, in.streamId, in.frame)
	}
	return nil
}

func (m *Muxer) handleFrame(ctx context.Context, id StreamId, frame *Frame) error {
	header := frame.Header
	if id.IsOutgoing() && header.Type == protocol.MessageTypeResponse && header.Id == protocol.MenuQueryId {
		data, err := protocol.DecodeResponsePayload(frame.Payload)
		if err != nil {
			return fmt.Errorf("%w: menu response on %s: %w", ErrNegotiationFailed, id, err)
		}
		menu, err := protocol.DecodeMenu(data)
		if err != nil {
			return fmt.Errorf("%w: menu response on %s: %w", ErrNegotiationFailed, id, err)
		}
		m.logger.Debug("stream negotiated", "stream_id", id.String(), "methods", len(menu))
		m.emit(ctx, Event{
			Type:     EventTypeStreamNegotiated,
			StreamId: id,
			Menu:     menu,
		})
		return nil
	}
	m.emit(ctx, Event{
		Type:     EventTypeStream,
		StreamId: id,
		Header:   header,
		Payload:  frame.Payload,
	})
	return nil
}

func (m *Muxer) emit(ctx context.Context, event Event) {
	select {
	case m.eventChan <- event:
	case <-ctx.Done():
	}
}
