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
	"fmt"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

type EventType uint8

const (
	EventTypeConnectionEstablished EventType = 1
	EventTypeConnectionClosed      EventType = 2
	EventTypeStreamNegotiated      EventType = 3
	EventTypeStream                EventType = 4
)

func (t EventType) String() string {
	switch t {
	case EventTypeConnectionEstablished:
		return "ConnectionEstablished"
	case EventTypeConnectionClosed:
		return "ConnectionClosed"
	case EventTypeStreamNegotiated:
		return "StreamNegotiated"
	case EventTypeStream:
		return "Stream"
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Event is a connection lifecycle change or stream event, tagged with the peer and
// connection it originates from
type Event struct {
	Type         EventType
	Peer         connection.PeerId
	ConnectionId connection.ConnectionId
	StreamId     muxer.StreamId
	// Menu is set for StreamNegotiated
	Menu protocol.Menu
	// Header and Payload are set for Stream
	Header  protocol.MessageHeader
	Payload []byte
	// Err is the reason for ConnectionClosed, if any
	Err error
}

func newStreamEvent(connId connection.ConnectionId, event muxer.Event) Event {
	ret := Event{
		Peer:         connId.Peer,
		ConnectionId: connId,
		StreamId:     event.StreamId,
	}
	switch event.Type {
	case muxer.EventTypeStreamNegotiated:
		ret.Type = EventTypeStreamNegotiated
		ret.Menu = event.Menu
	default:
		ret.Type = EventTypeStream
		ret.Header = event.Header
		ret.Payload = event.Payload
	}
	return ret
}
