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

package muxer_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

var (
	testConnId = connection.ConnectionId{Peer: "peer-b", Handle: "test"}
	testMenu   = protocol.NewMenu(
		protocol.Method{Tag: "get_transition_chain", Version: 1},
		protocol.Method{Tag: "get_best_tip", Version: 2},
	)
	bestTip = protocol.Method{Tag: "get_best_tip", Version: 2}
)

func newTestConfig(options ...muxer.MuxerOptionFunc) *muxer.Config {
	cfg := muxer.NewConfig(
		append([]muxer.MuxerOptionFunc{muxer.WithMenu(testMenu)}, options...)...,
	)
	return &cfg
}

func concat(frames ...[]byte) []byte {
	return bytes.Join(frames, nil)
}

func TestStreamInboundAbsorbsHeartbeatAndMenu(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Incoming(0), newTestConfig())
	input := concat(protocol.HeartbeatFrame(), protocol.EncodeMenuQuery())
	frame, err := s.Next(bytes.NewReader(input))
	if !errors.Is(err, muxer.ErrStreamEnd) {
		t.Fatalf("expected ErrStreamEnd, got %v", err)
	}
	if frame != nil {
		t.Fatalf("unexpected frame surfaced: %s", frame.Header)
	}
	var out bytes.Buffer
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected := concat(
		protocol.HandshakePreamble(),
		protocol.HeartbeatFrame(),
		protocol.EncodeMenuResponse(protocol.MenuQueryId, testMenu),
	)
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("unexpected output:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
}

func TestStreamOneAckPerHeartbeat(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Incoming(0), newTestConfig())
	input := concat(protocol.HeartbeatFrame(), protocol.HeartbeatFrame(), protocol.HeartbeatFrame())
	if _, err := s.Next(bytes.NewReader(input)); !errors.Is(err, muxer.ErrStreamEnd) {
		t.Fatalf("expected ErrStreamEnd, got %v", err)
	}
	// Preamble plus one acknowledgement for each heartbeat
	if s.Pending() != 4 {
		t.Fatalf("expected 4 queued frames, got %d", s.Pending())
	}
}

func TestStreamOutboundPreload(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Outgoing(0), newTestConfig())
	query := protocol.EncodeQuery(bestTip, 7, []byte{0x00})
	s.Enqueue(query)
	var out bytes.Buffer
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected := concat(protocol.HandshakePreamble(), protocol.EncodeMenuQuery(), query)
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("unexpected output:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
}

func TestStreamSurfacesApplicationFrames(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Outgoing(0), newTestConfig())
	input := concat(
		protocol.HandshakePreamble(),
		protocol.EncodeMenuResponse(protocol.MenuQueryId, testMenu),
		protocol.HeartbeatFrame(),
		protocol.EncodeResponse(7, []byte{0x01, 0x02}),
	)
	r := bytes.NewReader(input)
	frame, err := s.Next(r)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if frame.Header != protocol.NewResponseHeader(protocol.MenuQueryId) {
		t.Fatalf("expected menu response, got %s", frame.Header)
	}
	frame, err = s.Next(r)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if frame.Header != protocol.NewResponseHeader(7) {
		t.Fatalf("expected response 7, got %s", frame.Header)
	}
	data, err := protocol.DecodeResponsePayload(frame.Payload)
	if err != nil || !bytes.Equal(data, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected response payload %x, %v", data, err)
	}
	if _, err := s.Next(r); !errors.Is(err, muxer.ErrStreamEnd) {
		t.Fatalf("expected ErrStreamEnd, got %v", err)
	}
}

func TestStreamUnknownQuerySurfaced(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Incoming(0), newTestConfig())
	query := protocol.EncodeQuery(bestTip, 3, []byte{0x00})
	frame, err := s.Next(bytes.NewReader(query))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if frame.Header != protocol.NewQueryHeader(bestTip.Tag, bestTip.Version, 3) {
		t.Fatalf("unexpected frame %s", frame.Header)
	}
}

func TestStreamCustomBuiltin(t *testing.T) {
	ping := protocol.Method{Tag: "ping", Version: 1}
	cfg := newTestConfig(
		muxer.WithBuiltin(ping, func(header protocol.MessageHeader, _ []byte) ([]byte, error) {
			return protocol.EncodeResponse(header.Id, []byte("pong")), nil
		}),
	)
	s := muxer.NewStream(testConnId, muxer.Incoming(0), cfg)
	if _, err := s.Next(bytes.NewReader(protocol.EncodeQuery(ping, 5, nil))); !errors.Is(err, muxer.ErrStreamEnd) {
		t.Fatalf("expected ErrStreamEnd, got %v", err)
	}
	var out bytes.Buffer
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected := concat(protocol.HandshakePreamble(), protocol.EncodeResponse(5, []byte("pong")))
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("unexpected output:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
}

func TestStreamResetResendsUnansweredQueries(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Outgoing(0), newTestConfig())
	first := protocol.EncodeQuery(bestTip, 7, []byte{0x00})
	second := protocol.EncodeQuery(bestTip, 8, []byte{0x00})
	s.Enqueue(first)
	var out bytes.Buffer
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	// A heartbeat acknowledgement queued for the old substream is dropped on reset
	if _, err := s.Next(bytes.NewReader(protocol.HeartbeatFrame())); !errors.Is(err, muxer.ErrStreamEnd) {
		t.Fatalf("expected ErrStreamEnd, got %v", err)
	}
	s.Enqueue(second)
	s.Reset()
	out.Reset()
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected := concat(protocol.HandshakePreamble(), protocol.EncodeMenuQuery(), first, second)
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("unexpected output after reset:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
	// Once answered, queries are not sent again
	input := concat(protocol.EncodeResponse(7, nil), protocol.EncodeResponse(8, nil))
	r := bytes.NewReader(input)
	for range 2 {
		if _, err := s.Next(r); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}
	s.Reset()
	out.Reset()
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected = concat(protocol.HandshakePreamble(), protocol.EncodeMenuQuery())
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("unexpected output after second reset:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
}

var errWouldBlock = errors.New("would block")

// limitedWriter accepts at most limit bytes per call
type limitedWriter struct {
	limit int
	out   bytes.Buffer
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if len(p) <= w.limit {
		return w.out.Write(p)
	}
	n, _ := w.out.Write(p[:w.limit])
	return n, errWouldBlock
}

func TestStreamPartialWrites(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Outgoing(0), newTestConfig())
	query := protocol.EncodeQuery(bestTip, 7, bytes.Repeat([]byte{0x33}, 100))
	s.Enqueue(query)
	w := &limitedWriter{limit: 3}
	for i := 0; ; i++ {
		err := s.Flush(w)
		if err == nil {
			break
		}
		if !errors.Is(err, errWouldBlock) {
			t.Fatalf("unexpected error: %s", err)
		}
		if i > 1000 {
			t.Fatalf("flush did not complete")
		}
	}
	expected := concat(protocol.HandshakePreamble(), protocol.EncodeMenuQuery(), query)
	if !bytes.Equal(w.out.Bytes(), expected) {
		t.Fatalf("unexpected output:\n  got:      %x\n  expected: %x", w.out.Bytes(), expected)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d frames", s.Pending())
	}
}

func TestStreamPeriodicHeartbeatsDoNotEcho(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Incoming(0), newTestConfig(muxer.WithHeartbeatPeriod(time.Hour)))
	if _, err := s.Next(bytes.NewReader(protocol.HeartbeatFrame())); !errors.Is(err, muxer.ErrStreamEnd) {
		t.Fatalf("expected ErrStreamEnd, got %v", err)
	}
	if s.Pending() != 1 {
		t.Fatalf("expected only the preamble queued, got %d frames", s.Pending())
	}
}

// answeringWriter feeds the stream the response to a query before the write of that
// query returns, like a fast peer seen from the reading goroutine
type answeringWriter struct {
	s   *muxer.Stream
	out bytes.Buffer
	err error
}

func (w *answeringWriter) Write(p []byte) (int, error) {
	n, _ := w.out.Write(p)
	header, _, err := protocol.DecodeHeader(p)
	if err == nil && header.Type == protocol.MessageTypeQuery && header.Id != protocol.MenuQueryId {
		frame, err := w.s.Next(bytes.NewReader(protocol.EncodeResponse(header.Id, nil)))
		if err != nil {
			w.err = err
		} else if frame.Header != protocol.NewResponseHeader(header.Id) {
			w.err = fmt.Errorf("unexpected frame %s", frame.Header)
		}
	}
	return n, nil
}

func TestStreamResetAfterEarlyAnswer(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Outgoing(0), newTestConfig())
	s.Enqueue(protocol.EncodeQuery(bestTip, 7, []byte{0x00}))
	w := &answeringWriter{s: s}
	if err := s.Flush(w); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if w.err != nil {
		t.Fatalf("unexpected error reading response: %s", w.err)
	}
	s.Reset()
	var out bytes.Buffer
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected := concat(protocol.HandshakePreamble(), protocol.EncodeMenuQuery())
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("answered query sent again after reset:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
}

func TestStreamCancel(t *testing.T) {
	s := muxer.NewStream(testConnId, muxer.Outgoing(0), newTestConfig())
	first := protocol.EncodeQuery(bestTip, 7, []byte{0x00})
	second := protocol.EncodeQuery(bestTip, 8, []byte{0x00})
	third := protocol.EncodeQuery(bestTip, 9, []byte{0x00})
	s.Enqueue(first)
	s.Enqueue(second)
	var out bytes.Buffer
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	s.Enqueue(third)
	// Abandon one written query and one still queued
	s.Cancel(7)
	s.Cancel(9)
	if s.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d frames", s.Pending())
	}
	s.Reset()
	out.Reset()
	if err := s.Flush(&out); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expected := concat(protocol.HandshakePreamble(), protocol.EncodeMenuQuery(), second)
	if !bytes.Equal(out.Bytes(), expected) {
		t.Fatalf("unexpected output after reset:\n  got:      %x\n  expected: %x", out.Bytes(), expected)
	}
}
