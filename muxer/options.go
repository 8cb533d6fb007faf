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
	"log/slog"
	"time"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/metrics"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

const (
	DefaultMaxOpenAttempts   = 3
	DefaultInitialBufferSize = 0x1000
	DefaultMaxBufferSize     = 128 * 1024 * 1024
)

// FrameObserver is notified of every frame received from or fully written to a substream
type FrameObserver interface {
	ObserveFrame(record FrameRecord)
}

type FrameRecord struct {
	ConnectionId connection.ConnectionId
	StreamId     StreamId
	Inbound      bool
	Header       protocol.MessageHeader
	Payload      []byte
}

// Config contains the settings shared by every stream of a connection
type Config struct {
	Menu               protocol.Menu
	Builtins           protocol.Builtins
	Logger             *slog.Logger
	NegotiationTimeout time.Duration
	MaxOpenAttempts    int
	InitialBufferSize  int
	MaxBufferSize      int
	HeartbeatPeriod    time.Duration
	FrameObserver      FrameObserver
	Metrics            *metrics.Metrics
	extraBuiltins      protocol.Builtins
}

// MuxerOptionFunc is a function that modifies a Config
type MuxerOptionFunc func(*Config)

// NewConfig returns a Config with default values and the provided options applied
func NewConfig(options ...MuxerOptionFunc) Config {
	c := Config{
		NegotiationTimeout: protocol.NegotiationTimeout,
		MaxOpenAttempts:    DefaultMaxOpenAttempts,
		InitialBufferSize:  DefaultInitialBufferSize,
		MaxBufferSize:      DefaultMaxBufferSize,
	}
	for _, option := range options {
		option(&c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Builtins = protocol.NewBuiltins(c.Menu)
	for method, fn := range c.extraBuiltins {
		c.Builtins[method] = fn
	}
	return c
}

// WithMenu sets the methods advertised to peers
func WithMenu(menu protocol.Menu) MuxerOptionFunc {
	return func(c *Config) {
		c.Menu = protocol.NewMenu(menu...)
	}
}

// WithBuiltin answers a method inside the stream engine. The method is not added to the menu.
func WithBuiltin(method protocol.Method, fn protocol.BuiltinFunc) MuxerOptionFunc {
	return func(c *Config) {
		if c.extraBuiltins == nil {
			c.extraBuiltins = protocol.Builtins{}
		}
		c.extraBuiltins[method] = fn
	}
}

func WithLogger(logger *slog.Logger) MuxerOptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithNegotiationTimeout bounds each substream open attempt
func WithNegotiationTimeout(timeout time.Duration) MuxerOptionFunc {
	return func(c *Config) {
		c.NegotiationTimeout = timeout
	}
}

// WithMaxOpenAttempts sets how many consecutive failed open attempts a stream tolerates
// before the connection is failed
func WithMaxOpenAttempts(attempts int) MuxerOptionFunc {
	return func(c *Config) {
		c.MaxOpenAttempts = attempts
	}
}

func WithInitialBufferSize(size int) MuxerOptionFunc {
	return func(c *Config) {
		c.InitialBufferSize = size
	}
}

// WithMaxBufferSize limits the size of a single frame, and so the read buffer of a stream
func WithMaxBufferSize(size int) MuxerOptionFunc {
	return func(c *Config) {
		c.MaxBufferSize = size
	}
}

// WithHeartbeatPeriod makes every attached stream send a heartbeat at the given
// interval instead of echoing the heartbeats it receives. Zero disables periodic
// heartbeats.
func WithHeartbeatPeriod(period time.Duration) MuxerOptionFunc {
	return func(c *Config) {
		c.HeartbeatPeriod = period
	}
}

func WithFrameObserver(observer FrameObserver) MuxerOptionFunc {
	return func(c *Config) {
		c.FrameObserver = observer
	}
}

func WithMetrics(m *metrics.Metrics) MuxerOptionFunc {
	return func(c *Config) {
		c.Metrics = m
	}
}
