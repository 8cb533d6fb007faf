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

package codarpc_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	codarpc "github.com/blinklabs-io/gocodarpc"
	"github.com/blinklabs-io/gocodarpc/binprot"
	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/internal/test/memtransport"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

const testTimeout = 5 * time.Second

var echoMethod = protocol.Method{Tag: "echo", Version: 1}

var greetMethod = codarpc.Method[string, string]{
	Tag:            "greet",
	Version:        2,
	EncodeQuery:    encodeString,
	DecodeQuery:    decodeString,
	EncodeResponse: encodeString,
	DecodeResponse: decodeString,
}

func encodeString(s string) ([]byte, error) {
	w := binprot.NewWriter(nil)
	w.WriteString(s)
	return w.Bytes(), nil
}

func decodeString(data []byte) (string, error) {
	return binprot.NewReader(data).ReadString()
}

func echoResponder(ctx context.Context, peer connection.PeerId, query []byte) ([]byte, error) {
	return query, nil
}

type testNode struct {
	manager *codarpc.ConnectionManager
	engine  *codarpc.Engine
	cancel  context.CancelFunc
	errChan chan error
}

func newTestNode(t *testing.T, muxerOptions []muxer.MuxerOptionFunc, options ...codarpc.EngineOptionFunc) *testNode {
	manager := codarpc.NewConnectionManager(
		codarpc.ConnectionManagerConfig{
			Logger:       slogt.New(t),
			MuxerOptions: muxerOptions,
		},
	)
	ctx, cancel := context.WithCancel(context.Background())
	n := &testNode{
		manager: manager,
		engine:  codarpc.NewEngine(manager, options...),
		cancel:  cancel,
		errChan: make(chan error, 1),
	}
	go func() {
		n.errChan <- n.engine.Run(ctx)
	}()
	return n
}

func (n *testNode) stop(t *testing.T) {
	t.Helper()
	n.cancel()
	select {
	case <-n.errChan:
	case <-time.After(testTimeout):
		t.Fatalf("engine did not stop before timeout")
	}
	if err := n.manager.Close(); err != nil {
		t.Fatalf("unexpected error closing connection manager: %s", err)
	}
}

// connectNodes links client to server, naming them "client" and "server"
func connectNodes(t *testing.T, client *testNode, server *testNode) *memtransport.Conn {
	t.Helper()
	clientConn, serverConn := memtransport.Pair("client", "server")
	_, err := client.manager.AddConnection(clientConn, codarpc.ConnectionManagerTagRoleInitiator)
	require.NoError(t, err)
	_, err = server.manager.AddConnection(serverConn, codarpc.ConnectionManagerTagRoleResponder)
	require.NoError(t, err)
	return clientConn
}

func testContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), testTimeout)
}

func TestEngineRequestResponse(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestNode(t, nil)
	server := newTestNode(
		t,
		[]muxer.MuxerOptionFunc{muxer.WithMenu(protocol.NewMenu(echoMethod))},
		codarpc.WithResponder(echoMethod, echoResponder),
	)
	connectNodes(t, client, server)
	ctx, cancel := testContext()
	defer cancel()
	menu, err := client.engine.WaitPeer(ctx, "server")
	require.NoError(t, err)
	require.Equal(t, protocol.NewMenu(echoMethod), menu)
	for i := range 3 {
		query := []byte(fmt.Sprintf("query %d", i))
		resp, err := client.engine.Request(ctx, echoMethod, query)
		require.NoError(t, err)
		require.Equal(t, query, resp)
	}
	menu, ok := client.engine.Menu("server")
	require.True(t, ok)
	require.True(t, menu.Contains(echoMethod))
	peers, err := client.engine.Peers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, connection.PeerId("server"), peers[0].Peer)
	require.Equal(t, muxer.Outgoing(0), peers[0].StreamId)
	require.False(t, peers[0].Busy)
	// Snapshots do not share the engine's menu
	peers[0].Menu[0].Tag = "changed"
	menu, _ = client.engine.Menu("server")
	require.True(t, menu.Contains(echoMethod))
	client.stop(t)
	server.stop(t)
}

func TestEngineUnimplementedMethod(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestNode(t, nil)
	server := newTestNode(t, nil)
	connectNodes(t, client, server)
	ctx, cancel := testContext()
	defer cancel()
	method := protocol.Method{Tag: "get_ancestry", Version: 4}
	_, err := client.engine.Request(ctx, method, []byte{0x01})
	var rpcErr *protocol.RpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, protocol.RpcErrorUnimplementedRpc, rpcErr.Kind)
	require.Equal(t, method, rpcErr.Method)
	client.stop(t)
	server.stop(t)
}

func TestEngineResponderError(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestNode(t, nil)
	server := newTestNode(
		t,
		nil,
		codarpc.WithResponder(echoMethod, func(context.Context, connection.PeerId, []byte) ([]byte, error) {
			return nil, errors.New("no blocks")
		}),
	)
	connectNodes(t, client, server)
	ctx, cancel := testContext()
	defer cancel()
	_, err := client.engine.Request(ctx, echoMethod, nil)
	var rpcErr *protocol.RpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, protocol.RpcErrorUncaughtExn, rpcErr.Kind)
	require.Equal(t, protocol.SexpAtom("no blocks"), rpcErr.Detail)
	client.stop(t)
	server.stop(t)
}

func TestEngineTypedCall(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestNode(t, nil)
	server := newTestNode(
		t,
		nil,
		codarpc.WithResponder(
			greetMethod.Method(),
			codarpc.Responder(greetMethod, func(_ context.Context, peer connection.PeerId, name string) (string, error) {
				return fmt.Sprintf("hello %s from %s", name, peer), nil
			}),
		),
	)
	connectNodes(t, client, server)
	ctx, cancel := testContext()
	defer cancel()
	resp, err := codarpc.Call(ctx, client.engine, greetMethod, "bob")
	require.NoError(t, err)
	require.Equal(t, "hello bob from client", resp)
	// A response the caller cannot decode
	badMethod := greetMethod
	badMethod.DecodeResponse = func([]byte) (string, error) {
		return "", binprot.ErrUnexpectedEnd
	}
	_, err = codarpc.Call(ctx, client.engine, badMethod, "bob")
	require.ErrorIs(t, err, codarpc.ErrInvalidResponse)
	require.ErrorIs(t, err, binprot.ErrUnexpectedEnd)
	client.stop(t)
	server.stop(t)
}

func TestEngineConnectionClosedFailsRequest(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := make(chan struct{}, 4)
	client := newTestNode(t, nil)
	server := newTestNode(
		t,
		nil,
		codarpc.WithResponder(echoMethod, func(ctx context.Context, _ connection.PeerId, _ []byte) ([]byte, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	clientConn := connectNodes(t, client, server)
	ctx, cancel := testContext()
	defer cancel()
	errChan := make(chan error, 1)
	go func() {
		_, err := client.engine.Request(ctx, echoMethod, nil)
		errChan <- err
	}()
	select {
	case <-started:
	case <-time.After(testTimeout):
		t.Fatalf("did not receive query before timeout")
	}
	require.NoError(t, clientConn.Close())
	select {
	case err := <-errChan:
		require.ErrorIs(t, err, codarpc.ErrConnectionClosed)
	case <-time.After(testTimeout):
		t.Fatalf("request did not fail before timeout")
	}
	client.stop(t)
	server.stop(t)
}

func TestEngineRequestCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	client := newTestNode(t, nil)
	server := newTestNode(
		t,
		nil,
		codarpc.WithResponder(echoMethod, func(ctx context.Context, _ connection.PeerId, query []byte) ([]byte, error) {
			if calls.Add(1) == 1 {
				started <- struct{}{}
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
			return query, nil
		}),
	)
	connectNodes(t, client, server)
	reqCtx, reqCancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		_, err := client.engine.Request(reqCtx, echoMethod, []byte("slow"))
		errChan <- err
	}()
	select {
	case <-started:
	case <-time.After(testTimeout):
		t.Fatalf("did not receive query before timeout")
	}
	reqCancel()
	select {
	case err := <-errChan:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(testTimeout):
		t.Fatalf("request did not return before timeout")
	}
	// The connection is free for another request once the first is abandoned
	peers, err := client.engine.Peers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.False(t, peers[0].Busy)
	ctx, cancel := testContext()
	defer cancel()
	resp, err := client.engine.Request(ctx, echoMethod, []byte("fast"))
	require.NoError(t, err)
	require.Equal(t, []byte("fast"), resp)
	close(release)
	client.stop(t)
	server.stop(t)
}

func TestEngineClosed(t *testing.T) {
	defer goleak.VerifyNone(t)
	node := newTestNode(t, nil)
	node.stop(t)
	_, err := node.engine.Request(context.Background(), echoMethod, nil)
	require.ErrorIs(t, err, codarpc.ErrEngineClosed)
}
