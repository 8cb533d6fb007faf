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

package quic_test

import (
	"context"
	"crypto/ed25519"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	codarpc "github.com/blinklabs-io/gocodarpc"
	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/protocol"
	"github.com/blinklabs-io/gocodarpc/transport/quic"
)

func TestIdentityPeerId(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	identity, err := quic.NewIdentityFromKey(ed25519.NewKeyFromSeed(seed))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(identity.PeerId), quic.PeerIdPrefix+"1"))
	// Same key, same id
	other, err := quic.NewIdentityFromKey(ed25519.NewKeyFromSeed(seed))
	require.NoError(t, err)
	require.Equal(t, identity.PeerId, other.PeerId)
	random, err := quic.NewIdentity()
	require.NoError(t, err)
	require.NotEqual(t, identity.PeerId, random.PeerId)
}

func listen(t *testing.T) (*quic.Listener, *quic.Identity) {
	identity, err := quic.NewIdentity()
	require.NoError(t, err)
	ln, err := quic.Listen("127.0.0.1:0", identity)
	require.NoError(t, err)
	return ln, identity
}

func TestSubstream(t *testing.T) {
	ln, serverIdentity := listen(t)
	defer ln.Close()
	clientIdentity, err := quic.NewIdentity()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	acceptChan := make(chan *quic.Conn, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			acceptChan <- conn
		}
		close(acceptChan)
	}()
	clientConn, err := quic.Dial(ctx, ln.Addr().String(), clientIdentity)
	require.NoError(t, err)
	defer clientConn.Close()
	require.Equal(t, serverIdentity.PeerId, clientConn.Id().Peer)
	sub, err := clientConn.OpenSubstream(ctx)
	require.NoError(t, err)
	_, err = sub.Write(protocol.HeartbeatFrame())
	require.NoError(t, err)
	serverConn, ok := <-acceptChan
	require.True(t, ok)
	defer serverConn.Close()
	require.Equal(t, clientIdentity.PeerId, serverConn.Id().Peer)
	serverSub, err := serverConn.AcceptSubstream(ctx)
	require.NoError(t, err)
	buf := make([]byte, len(protocol.HeartbeatFrame()))
	_, err = io.ReadFull(serverSub, buf)
	require.NoError(t, err)
	require.Equal(t, protocol.HeartbeatFrame(), buf)
	_ = sub.Close()
	_ = serverSub.Close()
	require.NoError(t, clientConn.Close())
	select {
	case <-serverConn.Done():
	case <-ctx.Done():
		t.Fatalf("server connection was not closed before timeout")
	}
}

func TestEngineOverQuic(t *testing.T) {
	method := protocol.Method{Tag: "get_node_status", Version: 1}
	ln, _ := listen(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	serverManager := codarpc.NewConnectionManager(codarpc.ConnectionManagerConfig{})
	serverEngine := codarpc.NewEngine(
		serverManager,
		codarpc.WithResponder(method, func(_ context.Context, peer connection.PeerId, _ []byte) ([]byte, error) {
			return []byte(peer), nil
		}),
	)
	clientManager := codarpc.NewConnectionManager(codarpc.ConnectionManagerConfig{})
	clientEngine := codarpc.NewEngine(clientManager)
	runCtx, runCancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{}, 2)
	for _, e := range []*codarpc.Engine{serverEngine, clientEngine} {
		go func() {
			_ = e.Run(runCtx)
			engineDone <- struct{}{}
		}()
	}
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ln.Serve(runCtx, func(conn *quic.Conn) {
			_, _ = serverManager.AddConnection(conn, codarpc.ConnectionManagerTagRoleResponder)
		})
	}()
	clientIdentity, err := quic.NewIdentity()
	require.NoError(t, err)
	conn, err := quic.Dial(ctx, ln.Addr().String(), clientIdentity)
	require.NoError(t, err)
	_, err = clientManager.AddConnection(conn, codarpc.ConnectionManagerTagRoleInitiator)
	require.NoError(t, err)
	resp, err := clientEngine.Request(ctx, method, nil)
	require.NoError(t, err)
	require.Equal(t, string(clientIdentity.PeerId), string(resp))
	runCancel()
	<-engineDone
	<-engineDone
	require.NoError(t, <-serveDone)
	require.NoError(t, clientManager.Close())
	require.NoError(t, serverManager.Close())
	require.NoError(t, ln.Close())
	_ = conn.Close()
}
