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

// Package quic runs the RPC engine directly over QUIC. Each QUIC connection becomes a
// transport.Conn and each bidirectional QUIC stream a substream. Nodes authenticate
// with self-signed ed25519 certificates and are named by a hash of their public key.
package quic

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/quic-go/quic-go"
	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/protocol"
	"github.com/blinklabs-io/gocodarpc/transport"
)

const (
	ALPN = protocol.ProtocolName

	// PeerIdPrefix is the bech32 human readable part of peer ids
	PeerIdPrefix = "peer"

	// Application error code used when closing connections normally
	closeErrorCode quic.ApplicationErrorCode = 0
)

var ErrInvalidCertificate = errors.New("invalid peer certificate")

// Identity is the key pair and certificate a node presents to its peers
type Identity struct {
	PrivateKey  ed25519.PrivateKey
	Certificate tls.Certificate
	PeerId      connection.PeerId
}

// NewIdentity generates a new random identity
func NewIdentity() (*Identity, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return NewIdentityFromKey(privKey)
}

// NewIdentityFromKey builds the identity for an existing key
func NewIdentityFromKey(privKey ed25519.PrivateKey) (*Identity, error) {
	pubKey := privKey.Public()
	peerId, err := PeerIdFromPublicKey(pubKey)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: string(peerId),
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return &Identity{
		PrivateKey: privKey,
		Certificate: tls.Certificate{
			Certificate: [][]byte{derBytes},
			PrivateKey:  privKey,
		},
		PeerId: peerId,
	}, nil
}

// PeerIdFromPublicKey derives a peer id from the blake2b-256 hash of the public key's
// DER encoded SubjectPublicKeyInfo
func PeerIdFromPublicKey(pubKey any) (connection.PeerId, error) {
	spki, err := x509.MarshalPKIXPublicKey(pubKey)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(spki)
	convData, err := bech32.ConvertBits(sum[:], 8, 5, true)
	if err != nil {
		return "", err
	}
	encoded, err := bech32.Encode(PeerIdPrefix, convData)
	if err != nil {
		return "", err
	}
	return connection.PeerId(encoded), nil
}

func (i *Identity) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{i.Certificate},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
		// Peers are self-signed, so trust comes from the key rather than a CA
		InsecureSkipVerify:    true,
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeerCertificate,
	}
}

func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) != 1 {
		return fmt.Errorf("%w: expected one certificate, got %d", ErrInvalidCertificate, len(rawCerts))
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	if _, ok := cert.PublicKey.(ed25519.PublicKey); !ok {
		return fmt.Errorf("%w: key type %T", ErrInvalidCertificate, cert.PublicKey)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: certificate not valid at %s", ErrInvalidCertificate, now.Format(time.RFC3339))
	}
	return nil
}

func defaultQuicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  60 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	}
}

type Listener struct {
	listener *quic.Listener
}

// Listen accepts QUIC connections on addr, a UDP host:port
func Listen(addr string, identity *Identity) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, identity.tlsConfig(), defaultQuicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{listener: ln}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for the next connection
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	qc, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := newConn(qc)
	if err != nil {
		_ = qc.CloseWithError(closeErrorCode, err.Error())
		return nil, err
	}
	return conn, nil
}

// Serve accepts connections until ctx is cancelled or the listener is closed, passing
// each one to handler
func (l *Listener) Serve(ctx context.Context, handler func(*Conn)) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			if errors.Is(err, ErrInvalidCertificate) {
				continue
			}
			return err
		}
		handler(conn)
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

// Dial connects to the node listening on addr
func Dial(ctx context.Context, addr string, identity *Identity) (*Conn, error) {
	qc, err := quic.DialAddr(ctx, addr, identity.tlsConfig(), defaultQuicConfig())
	if err != nil {
		return nil, err
	}
	conn, err := newConn(qc)
	if err != nil {
		_ = qc.CloseWithError(closeErrorCode, err.Error())
		return nil, err
	}
	return conn, nil
}

// Conn is one QUIC connection to a peer
type Conn struct {
	id connection.ConnectionId
	qc *quic.Conn
}

var _ transport.Conn = (*Conn)(nil)

func newConn(qc *quic.Conn) (*Conn, error) {
	certs := qc.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: none presented", ErrInvalidCertificate)
	}
	peerId, err := PeerIdFromPublicKey(certs[0].PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	return &Conn{
		id: connection.ConnectionId{
			Peer:   peerId,
			Handle: qc.LocalAddr().String() + "-" + qc.RemoteAddr().String(),
		},
		qc: qc,
	}, nil
}

func (c *Conn) Id() connection.ConnectionId {
	return c.id
}

func (c *Conn) OpenSubstream(ctx context.Context) (io.ReadWriteCloser, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, c.wrapError(err)
	}
	return &stream{Stream: s}, nil
}

func (c *Conn) AcceptSubstream(ctx context.Context) (io.ReadWriteCloser, error) {
	s, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, c.wrapError(err)
	}
	return &stream{Stream: s}, nil
}

func (c *Conn) wrapError(err error) error {
	if c.qc.Context().Err() != nil {
		return fmt.Errorf("%w: %w", transport.ErrConnectionClosed, err)
	}
	return err
}

func (c *Conn) Done() <-chan struct{} {
	return c.qc.Context().Done()
}

func (c *Conn) Close() error {
	return c.qc.CloseWithError(closeErrorCode, "closed")
}

// stream closes both directions of a QUIC stream on Close
type stream struct {
	*quic.Stream
}

func (s *stream) Close() error {
	s.CancelRead(quic.StreamErrorCode(closeErrorCode))
	return s.Stream.Close()
}
