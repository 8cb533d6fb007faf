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

package rpcmock_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/blinklabs-io/gocodarpc/internal/test/rpcmock"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

const testTimeout = 5 * time.Second

var testMethod = protocol.Method{Tag: "get_best_tip", Version: 2}

func waitConversation(t *testing.T, mockConn *rpcmock.Connection) {
	t.Helper()
	select {
	case err, ok := <-mockConn.ErrorChan():
		if ok && err != nil {
			t.Fatalf("conversation error: %s", err)
		}
	case <-time.After(testTimeout):
		t.Fatalf("conversation did not complete before timeout")
	}
}

func nextEvent(t *testing.T, m *muxer.Muxer) muxer.Event {
	t.Helper()
	select {
	case event := <-m.Events():
		return event
	case <-time.After(testTimeout):
		t.Fatalf("did not receive event before timeout")
	}
	return muxer.Event{}
}

// Basic test of conversation mock functionality against an outbound stream
func TestOutboundStream(t *testing.T) {
	defer goleak.VerifyNone(t)
	menu := protocol.NewMenu(testMethod)
	mockConn := rpcmock.NewConnection(
		[]rpcmock.ConversationEntry{
			rpcmock.ConversationEntryAcceptStream,
			rpcmock.ConversationEntryPreambleInput,
			rpcmock.ConversationEntryMenuQueryInput,
			rpcmock.ConversationEntryPreambleOutput,
			rpcmock.ConversationEntryMenuResponseOutput(menu),
			{
				Type:         rpcmock.EntryTypeInput,
				InputHeader:  protocol.NewQueryHeader(testMethod.Tag, testMethod.Version, 5),
				InputPayload: []byte{0x02, 0xca, 0xfe},
			},
			{
				Type:         rpcmock.EntryTypeOutput,
				OutputFrames: [][]byte{protocol.EncodeResponse(5, []byte{0xbe, 0xef})},
			},
		},
	)
	cfg := muxer.NewConfig()
	m := muxer.New(mockConn.Conn(), &cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Run(ctx)
	}()
	m.Submit(muxer.NewOpenCommand(0))
	m.Submit(muxer.NewSendCommand(muxer.Outgoing(0), protocol.EncodeQuery(testMethod, 5, []byte{0xca, 0xfe})))
	event := nextEvent(t, m)
	if event.Type != muxer.EventTypeStreamNegotiated || !event.Menu.Contains(testMethod) {
		t.Fatalf("did not get expected negotiation event: %#v", event)
	}
	event = nextEvent(t, m)
	if event.Type != muxer.EventTypeStream || event.Header.Id != 5 {
		t.Fatalf("did not get expected response event: %#v", event)
	}
	data, err := protocol.DecodeResponsePayload(event.Payload)
	if err != nil {
		t.Fatalf("unexpected error decoding response: %s", err)
	}
	if string(data) != "\xbe\xef" {
		t.Fatalf("did not get expected response data: %x", data)
	}
	waitConversation(t, mockConn)
	cancel()
	if err := <-errChan; err != nil {
		t.Fatalf("unexpected muxer error: %s", err)
	}
	if err := mockConn.Close(); err != nil {
		t.Fatalf("unexpected error closing mock connection: %s", err)
	}
}

// The stream engine answers the menu query of an inbound stream by itself
func TestInboundStreamMenu(t *testing.T) {
	defer goleak.VerifyNone(t)
	menu := protocol.NewMenu(testMethod)
	mockConn := rpcmock.NewConnection(
		[]rpcmock.ConversationEntry{
			rpcmock.ConversationEntryOpenStream,
			rpcmock.ConversationEntryPreambleOutput,
			rpcmock.ConversationEntryMenuQueryOutput,
			rpcmock.ConversationEntryPreambleInput,
			rpcmock.ConversationEntryMenuResponseInput(menu),
			rpcmock.ConversationEntryHeartbeatOutput,
			rpcmock.ConversationEntryHeartbeatInput,
			{Type: rpcmock.EntryTypeClose},
		},
	)
	cfg := muxer.NewConfig(muxer.WithMenu(menu))
	m := muxer.New(mockConn.Conn(), &cfg)
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Run(context.Background())
	}()
	waitConversation(t, mockConn)
	select {
	case err := <-errChan:
		if err == nil {
			t.Fatalf("did not get expected muxer error")
		}
	case <-time.After(testTimeout):
		t.Fatalf("muxer did not stop before timeout")
	}
	if err := mockConn.Close(); err != nil {
		t.Fatalf("unexpected error closing mock connection: %s", err)
	}
}
