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

package muxer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

// ErrStreamEnd is returned when a substream reaches a clean end
var ErrStreamEnd = errors.New("unexpected end of stream")

type outboundFrame struct {
	data   []byte
	offset int
	// control frames belong to one substream and are dropped when the stream is reset
	control bool
	// query frames on an outbound stream are tracked until answered
	query   bool
	queryId int64
	// started is set once the first byte may have been handed to the writer
	started bool
}

// Stream is the protocol engine for one logical stream. It owns the read buffer and
// the outbound queue, and absorbs the handshake, heartbeat and built-in queries so
// that only application frames are surfaced.
type Stream struct {
	id           StreamId
	connectionId connection.ConnectionId
	config       *Config
	logger       *slog.Logger
	buffer       *Buffer
	queueMutex   sync.Mutex
	queue        []*outboundFrame
	// queries handed to the writer on an outbound stream that have not been answered yet
	inFlight   []*outboundFrame
	notifyChan chan struct{}
	attached   bool
}

// NewStream returns the engine for a stream. Outbound streams start with the handshake
// preamble followed by the menu query. Inbound streams only send the preamble.
func NewStream(connId connection.ConnectionId, id StreamId, cfg *Config) *Stream {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	s := &Stream{
		id:           id,
		connectionId: connId,
		config:       cfg,
		logger: cfg.Logger.With(
			"component", "muxer",
			"connection_id", connId.String(),
			"stream_id", id.String(),
		),
		buffer:     NewBuffer(cfg.InitialBufferSize, cfg.MaxBufferSize),
		notifyChan: make(chan struct{}, 1),
	}
	s.queue = s.preamble()
	return s
}

func (s *Stream) Id() StreamId {
	return s.id
}

func (s *Stream) preamble() []*outboundFrame {
	ret := []*outboundFrame{
		{data: protocol.HandshakePreamble(), control: true},
	}
	if s.id.IsOutgoing() {
		ret = append(ret, &outboundFrame{data: protocol.EncodeMenuQuery(), control: true})
	}
	return ret
}

// Enqueue appends an encoded application frame to the outbound queue. The stream
// takes ownership of the data.
func (s *Stream) Enqueue(data []byte) {
	frame := &outboundFrame{data: data}
	if s.id.IsOutgoing() {
		if header, _, err := protocol.DecodeHeader(data); err == nil && header.Type == protocol.MessageTypeQuery {
			frame.query = true
			frame.queryId = header.Id
		}
	}
	s.push(frame)
}

func (s *Stream) enqueueControl(data []byte) {
	s.push(&outboundFrame{data: data, control: true})
}

func (s *Stream) push(frame *outboundFrame) {
	s.queueMutex.Lock()
	s.queue = append(s.queue, frame)
	s.queueMutex.Unlock()
	select {
	case s.notifyChan <- struct{}{}:
	default:
	}
}

// Pending returns the number of frames not yet fully written
func (s *Stream) Pending() int {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()
	return len(s.queue)
}

// Reset prepares the stream for a new substream. Control frames queued for the old
// substream are dropped, partially written frames start over, and queries that were
// written but never answered are sent again after a fresh preamble.
func (s *Stream) Reset() {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()
	var rest []*outboundFrame
	for _, frame := range s.queue {
		// Started queries are either answered or still in flight
		if frame.control || (frame.query && frame.started) {
			continue
		}
		frame.offset = 0
		frame.started = false
		rest = append(rest, frame)
	}
	queue := s.preamble()
	for _, frame := range s.inFlight {
		frame.offset = 0
		frame.started = false
		queue = append(queue, frame)
	}
	s.inFlight = nil
	s.queue = append(queue, rest...)
	s.buffer = NewBuffer(s.config.InitialBufferSize, s.config.MaxBufferSize)
}

// Flush writes queued frames to w until the queue is empty or a write fails. A frame
// is removed from the queue only once all of its bytes have been written.
func (s *Stream) Flush(w io.Writer) error {
	for {
		s.queueMutex.Lock()
		if len(s.queue) == 0 {
			s.queueMutex.Unlock()
			return nil
		}
		frame := s.queue[0]
		if !frame.started {
			frame.started = true
			// Tracked before writing, since the answer may be read before Write returns
			if frame.query {
				s.inFlight = append(s.inFlight, frame)
			}
		}
		s.queueMutex.Unlock()
		n, err := w.Write(frame.data[frame.offset:])
		s.advance(frame, n)
		if err != nil {
			return err
		}
	}
}

func (s *Stream) advance(frame *outboundFrame, n int) {
	frame.offset += n
	if frame.offset < len(frame.data) {
		return
	}
	s.queueMutex.Lock()
	if len(s.queue) > 0 && s.queue[0] == frame {
		s.queue = s.queue[1:]
	}
	s.queueMutex.Unlock()
	header, payload, err := protocol.DecodeHeader(frame.data)
	if err != nil {
		// Application frames are opaque to the stream
		return
	}
	s.config.Metrics.FrameSent(header.Type.String())
	s.observe(header, payload, false)
}

func (s *Stream) observe(header protocol.MessageHeader, payload []byte, inbound bool) {
	if s.config.FrameObserver == nil {
		return
	}
	s.config.FrameObserver.ObserveFrame(FrameRecord{
		ConnectionId: s.connectionId,
		StreamId:     s.id,
		Inbound:      inbound,
		Header:       header,
		Payload:      payload,
	})
}

// Next reads from r until an application frame is available. Heartbeats, handshake
// acknowledgements and built-in queries are answered or discarded along the way.
func (s *Stream) Next(r io.Reader) (*Frame, error) {
	for {
		for {
			frame, err := s.buffer.TryCut()
			if err != nil {
				return nil, err
			}
			if frame == nil {
				break
			}
			s.config.Metrics.FrameReceived(frame.Header.Type.String())
			s.observe(frame.Header, frame.Payload, true)
			absorbed, err := s.absorb(frame)
			if err != nil {
				return nil, err
			}
			if !absorbed {
				return frame, nil
			}
		}
		if _, err := s.buffer.Fill(r); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrStreamEnd
			}
			return nil, err
		}
	}
}

func (s *Stream) absorb(frame *Frame) (bool, error) {
	header := frame.Header
	switch header.Type {
	case protocol.MessageTypeHeartbeat:
		// Streams sending their own periodic heartbeats do not echo the peer's
		if s.config.HeartbeatPeriod <= 0 {
			s.enqueueControl(protocol.HeartbeatFrame())
		}
		return true, nil
	case protocol.MessageTypeResponse:
		if header.Id == protocol.HandshakeAckId {
			return true, nil
		}
		s.answered(header.Id)
		return false, nil
	case protocol.MessageTypeQuery:
		fn, ok := s.config.Builtins.Lookup(header)
		if !ok {
			return false, nil
		}
		resp, err := fn(header, frame.Payload)
		if err != nil {
			return false, fmt.Errorf("built-in %s: %w", header.Method(), err)
		}
		s.logger.Debug("answered built-in query", "method", header.Method().String(), "query_id", header.Id)
		s.enqueueControl(resp)
		return true, nil
	}
	return false, nil
}

// Cancel stops tracking the query with the given id. A query that has not started
// to be written is removed from the queue, and an unanswered one is not sent again
// after a reset.
func (s *Stream) Cancel(id int64) {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()
	for i, frame := range s.queue {
		if frame.query && !frame.started && frame.queryId == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.forget(id)
}

func (s *Stream) answered(id int64) {
	s.queueMutex.Lock()
	defer s.queueMutex.Unlock()
	s.forget(id)
}

// forget removes id from the in-flight queries. The caller must hold queueMutex.
func (s *Stream) forget(id int64) {
	for i, frame := range s.inFlight {
		if frame.queryId == id {
			s.inFlight = append(s.inFlight[:i], s.inFlight[i+1:]...)
			return
		}
	}
}

// Run attaches the stream to a substream and drives both directions until the
// substream fails, ends, or ctx is cancelled. Application frames are passed to deliver
// from the reading goroutine, in the order they arrive. Running a stream again after
// it returns resets it first.
func (s *Stream) Run(ctx context.Context, sub io.ReadWriteCloser, deliver func(*Frame)) error {
	if s.attached {
		s.Reset()
	}
	s.attached = true
	s.config.Metrics.StreamAttached(s.id.Direction.String())
	defer s.config.Metrics.StreamDetached(s.id.Direction.String())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errChan := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errChan <- s.readLoop(sub, deliver)
	}()
	go func() {
		defer wg.Done()
		errChan <- s.writeLoop(runCtx, sub)
	}()
	var err error
	select {
	case err = <-errChan:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	// Unblock any pending read or write
	_ = sub.Close()
	wg.Wait()
	s.logger.Debug("stream detached", "error", err)
	return err
}

func (s *Stream) readLoop(r io.Reader, deliver func(*Frame)) error {
	for {
		frame, err := s.Next(r)
		if err != nil {
			return err
		}
		deliver(frame)
	}
}

func (s *Stream) writeLoop(ctx context.Context, w io.Writer) error {
	var heartbeatChan <-chan time.Time
	if s.config.HeartbeatPeriod > 0 {
		ticker := time.NewTicker(s.config.HeartbeatPeriod)
		defer ticker.Stop()
		heartbeatChan = ticker.C
	}
	for {
		if err := s.Flush(w); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notifyChan:
		case <-heartbeatChan:
			s.enqueueControl(protocol.HeartbeatFrame())
		}
	}
}
