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

package rpcmock

import (
	"github.com/blinklabs-io/gocodarpc/protocol"
)

type EntryType int

const (
	EntryTypeNone         EntryType = 0
	EntryTypeInput        EntryType = 1
	EntryTypeOutput       EntryType = 2
	EntryTypeClose        EntryType = 3
	EntryTypeAcceptStream EntryType = 4
	EntryTypeOpenStream   EntryType = 5
	EntryTypeCloseStream  EntryType = 6
)

// ConversationEntry is one step of a scripted conversation. Stream selects a substream
// by the order in which the conversation accepted or opened it.
type ConversationEntry struct {
	Type         EntryType
	Stream       int
	InputHeader  protocol.MessageHeader
	InputPayload []byte
	OutputFrames [][]byte
}

// ConversationEntryAcceptStream waits for the connection owner to open a substream
var ConversationEntryAcceptStream = ConversationEntry{
	Type: EntryTypeAcceptStream,
}

// ConversationEntryOpenStream opens a substream towards the connection owner
var ConversationEntryOpenStream = ConversationEntry{
	Type: EntryTypeOpenStream,
}

// ConversationEntryPreambleInput matches the preamble sent when a stream starts
var ConversationEntryPreambleInput = ConversationEntry{
	Type:         EntryTypeInput,
	InputHeader:  protocol.NewResponseHeader(protocol.HandshakeAckId),
	InputPayload: []byte{0x01},
}

var ConversationEntryPreambleOutput = ConversationEntry{
	Type:         EntryTypeOutput,
	OutputFrames: [][]byte{protocol.HandshakePreamble()},
}

// ConversationEntryMenuQueryInput matches the menu query of an outbound stream
var ConversationEntryMenuQueryInput = ConversationEntry{
	Type:        EntryTypeInput,
	InputHeader: protocol.NewQueryHeader(protocol.MenuTag, protocol.MenuVersion, protocol.MenuQueryId),
}

var ConversationEntryMenuQueryOutput = ConversationEntry{
	Type:         EntryTypeOutput,
	OutputFrames: [][]byte{protocol.EncodeMenuQuery()},
}

var ConversationEntryHeartbeatOutput = ConversationEntry{
	Type:         EntryTypeOutput,
	OutputFrames: [][]byte{protocol.HeartbeatFrame()},
}

var ConversationEntryHeartbeatInput = ConversationEntry{
	Type:        EntryTypeInput,
	InputHeader: protocol.NewHeartbeatHeader(),
}

// ConversationEntryMenuResponseOutput answers the menu query with menu
func ConversationEntryMenuResponseOutput(menu protocol.Menu) ConversationEntry {
	return ConversationEntry{
		Type:         EntryTypeOutput,
		OutputFrames: [][]byte{protocol.EncodeMenuResponse(protocol.MenuQueryId, menu)},
	}
}

// ConversationEntryMenuResponseInput matches the answer to our menu query
func ConversationEntryMenuResponseInput(menu protocol.Menu) ConversationEntry {
	header, payload, _ := protocol.DecodeHeader(protocol.EncodeMenuResponse(protocol.MenuQueryId, menu))
	return ConversationEntry{
		Type:         EntryTypeInput,
		InputHeader:  header,
		InputPayload: payload,
	}
}

// OnStream returns a copy of the entry that applies to the given substream
func (e ConversationEntry) OnStream(stream int) ConversationEntry {
	e.Stream = stream
	return e
}
