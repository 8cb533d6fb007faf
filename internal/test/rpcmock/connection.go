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

// Package rpcmock plays a scripted conversation against the owner of a connection,
// standing in for a remote peer in tests.
package rpcmock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/internal/test/memtransport"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/transport"
)

const (
	MockLocalPeer  connection.PeerId = "mock-local"
	MockRemotePeer connection.PeerId = "mock-remote"
)

// Connection mocks a remote peer. The end returned by Conn is handed to the code
// under test while the conversation runs on the other end.
type Connection struct {
	conn         *memtransport.Conn
	mockConn     *memtransport.Conn
	conversation []ConversationEntry
	streams      []*mockStream
	errorChan    chan error
	doneChan     chan struct{}
	cancel       context.CancelFunc
	onceClose    sync.Once
}

type mockStream struct {
	sub    io.ReadWriteCloser
	buffer *muxer.Buffer
}

// NewConnection returns a new Connection with the provided conversation entries
func NewConnection(conversation []ConversationEntry) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conversation: conversation,
		errorChan:    make(chan error, 1),
		doneChan:     make(chan struct{}),
		cancel:       cancel,
	}
	c.conn, c.mockConn = memtransport.Pair(MockLocalPeer, MockRemotePeer)
	// Start async conversation handler
	go c.asyncLoop(ctx)
	return c
}

// Conn returns the end of the connection for the code under test
func (c *Connection) Conn() transport.Conn {
	return c.conn
}

// ErrorChan returns a channel that receives the first conversation error. It is
// closed once the conversation finishes.
func (c *Connection) ErrorChan() <-chan error {
	return c.errorChan
}

// Close closes both ends of the connection and waits for the conversation to stop
func (c *Connection) Close() error {
	c.onceClose.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		<-c.doneChan
	})
	return nil
}

func (c *Connection) asyncLoop(ctx context.Context) {
	defer close(c.doneChan)
	defer close(c.errorChan)
	for idx, entry := range c.conversation {
		var err error
		switch entry.Type {
		case EntryTypeAcceptStream:
			err = c.processAcceptStreamEntry(ctx)
		case EntryTypeOpenStream:
			err = c.processOpenStreamEntry(ctx)
		case EntryTypeInput:
			err = c.processInputEntry(entry)
		case EntryTypeOutput:
			err = c.processOutputEntry(entry)
		case EntryTypeCloseStream:
			var stream *mockStream
			if stream, err = c.stream(entry.Stream); err == nil {
				err = stream.sub.Close()
			}
		case EntryTypeClose:
			err = c.mockConn.Close()
		default:
			err = fmt.Errorf("unknown conversation entry type: %d: %#v", entry.Type, entry)
		}
		if err != nil {
			c.errorChan <- fmt.Errorf("conversation entry %d: %w", idx, err)
			return
		}
	}
}

func (c *Connection) stream(idx int) (*mockStream, error) {
	if idx < 0 || idx >= len(c.streams) {
		return nil, fmt.Errorf("no stream with index %d", idx)
	}
	return c.streams[idx], nil
}

func (c *Connection) addStream(sub io.ReadWriteCloser) {
	c.streams = append(
		c.streams,
		&mockStream{
			sub:    sub,
			buffer: muxer.NewBuffer(muxer.DefaultInitialBufferSize, muxer.DefaultMaxBufferSize),
		},
	)
}

func (c *Connection) processAcceptStreamEntry(ctx context.Context) error {
	sub, err := c.mockConn.AcceptSubstream(ctx)
	if err != nil {
		return err
	}
	c.addStream(sub)
	return nil
}

func (c *Connection) processOpenStreamEntry(ctx context.Context) error {
	sub, err := c.mockConn.OpenSubstream(ctx)
	if err != nil {
		return err
	}
	c.addStream(sub)
	return nil
}

func (c *Connection) processInputEntry(entry ConversationEntry) error {
	stream, err := c.stream(entry.Stream)
	if err != nil {
		return err
	}
	// Wait for a complete frame to be received
	var frame *muxer.Frame
	for {
		frame, err = stream.buffer.TryCut()
		if err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		if frame != nil {
			break
		}
		if _, err := stream.buffer.Fill(stream.sub); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream ended before expected input")
			}
			return err
		}
	}
	if !reflect.DeepEqual(frame.Header, entry.InputHeader) {
		return fmt.Errorf(
			"input header does not match expected value: got %s, expected %s",
			frame.Header,
			entry.InputHeader,
		)
	}
	if entry.InputPayload != nil && !bytes.Equal(frame.Payload, entry.InputPayload) {
		return fmt.Errorf(
			"input payload does not match expected value: got %x, expected %x",
			frame.Payload,
			entry.InputPayload,
		)
	}
	return nil
}

func (c *Connection) processOutputEntry(entry ConversationEntry) error {
	stream, err := c.stream(entry.Stream)
	if err != nil {
		return err
	}
	for _, frame := range entry.OutputFrames {
		if _, err := stream.sub.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
