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
	"fmt"

	"github.com/blinklabs-io/gocodarpc/protocol"
)

type Direction uint8

const (
	DirectionIncoming Direction = 0
	DirectionOutgoing Direction = 1
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// StreamId identifies a logical stream within one connection. Indexes are counted
// separately per direction and are never reused.
type StreamId struct {
	Direction Direction
	Index     uint64
}

func Incoming(index uint64) StreamId {
	return StreamId{Direction: DirectionIncoming, Index: index}
}

func Outgoing(index uint64) StreamId {
	return StreamId{Direction: DirectionOutgoing, Index: index}
}

func (s StreamId) IsOutgoing() bool {
	return s.Direction == DirectionOutgoing
}

func (s StreamId) String() string {
	if s.IsOutgoing() {
		return fmt.Sprintf("Outgoing(%d)", s.Index)
	}
	return fmt.Sprintf("Incoming(%d)", s.Index)
}

// Less orders incoming streams before outgoing ones, then by index
func (s StreamId) Less(other StreamId) bool {
	if s.Direction != other.Direction {
		return s.Direction < other.Direction
	}
	return s.Index < other.Index
}

type CommandType uint8

const (
	CommandTypeOpen   CommandType = 1
	CommandTypeSend   CommandType = 2
	CommandTypeCancel CommandType = 3
)

// Command is an instruction from the application to a connection
type Command struct {
	Type     CommandType
	StreamId StreamId
	// Data is a complete encoded frame, for send commands
	Data []byte
	// QueryId is the query abandoned by a cancel command
	QueryId int64
}

// NewOpenCommand requests a new outbound substream for the outgoing stream index
func NewOpenCommand(index uint64) Command {
	return Command{
		Type:     CommandTypeOpen,
		StreamId: Outgoing(index),
	}
}

// NewSendCommand enqueues an encoded frame on a stream
func NewSendCommand(streamId StreamId, data []byte) Command {
	return Command{
		Type:     CommandTypeSend,
		StreamId: streamId,
		Data:     data,
	}
}

// NewCancelCommand abandons a query sent on an outbound stream. It is not sent if it
// is still queued, and it is not sent again after the substream is replaced.
func NewCancelCommand(streamId StreamId, queryId int64) Command {
	return Command{
		Type:     CommandTypeCancel,
		StreamId: streamId,
		QueryId:  queryId,
	}
}

type EventType uint8

const (
	// EventTypeStreamNegotiated reports the menu received on an outbound stream
	EventTypeStreamNegotiated EventType = 1
	// EventTypeStream carries one application frame
	EventTypeStream EventType = 2
)

type Event struct {
	Type     EventType
	StreamId StreamId
	Menu     protocol.Menu
	Header   protocol.MessageHeader
	Payload  []byte
}
