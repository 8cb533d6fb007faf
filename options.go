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
	"log/slog"

	"github.com/blinklabs-io/gocodarpc/metrics"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

// EngineOptionFunc is a type that represents functions that modify the Engine config
type EngineOptionFunc func(*Engine)

// WithLogger specifies the logger. The connection manager's logger is used if none is provided
func WithLogger(logger *slog.Logger) EngineOptionFunc {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithResponder answers queries for the method with the provided function. Queries
// for methods without a responder are answered with an Unimplemented_rpc error.
func WithResponder(method protocol.Method, responder ResponderFunc) EngineOptionFunc {
	return func(e *Engine) {
		e.responders[method] = responder
	}
}

// WithMetrics specifies the collectors for request metrics
func WithMetrics(m *metrics.Metrics) EngineOptionFunc {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithResponderWorkers sets how many queries from peers are answered at the same time
func WithResponderWorkers(workers int) EngineOptionFunc {
	return func(e *Engine) {
		e.workers = workers
	}
}
