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

// Package metrics provides Prometheus collectors for the RPC engine.
//
// All methods are safe to call on a nil *Metrics, which disables collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "codarpc"
)

// Request outcomes
const (
	OutcomeOk        = "ok"
	OutcomeRpcError  = "rpc_error"
	OutcomeDecode    = "decode_error"
	OutcomeTransport = "transport_error"
	OutcomeCancelled = "cancelled"
)

type Metrics struct {
	framesReceived     *prometheus.CounterVec
	framesSent         *prometheus.CounterVec
	openStreams        *prometheus.GaugeVec
	substreamRecovered prometheus.Counter
	connections        prometheus.Gauge
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with the provided registerer. A nil
// registerer leaves the collectors unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		framesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_received_total",
				Help:      "Frames received, by message type",
			},
			[]string{"type"},
		),
		framesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_sent_total",
				Help:      "Frames fully written to substreams, by message type",
			},
			[]string{"type"},
		),
		openStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "open",
				Help:      "Streams with an attached substream, by direction",
			},
			[]string{"direction"},
		),
		substreamRecovered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "recoveries_total",
				Help:      "Outbound substreams re-requested after a clean end",
			},
		),
		connections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "current",
				Help:      "Peers with a current connection",
			},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "requests_total",
				Help:      "Completed requests, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		),
	}
}

func (m *Metrics) FrameReceived(messageType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(messageType).Inc()
}

func (m *Metrics) FrameSent(messageType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(messageType).Inc()
}

func (m *Metrics) StreamAttached(direction string) {
	if m == nil {
		return
	}
	m.openStreams.WithLabelValues(direction).Inc()
}

func (m *Metrics) StreamDetached(direction string) {
	if m == nil {
		return
	}
	m.openStreams.WithLabelValues(direction).Dec()
}

func (m *Metrics) SubstreamRecovered() {
	if m == nil {
		return
	}
	m.substreamRecovered.Inc()
}

func (m *Metrics) ConnectionAdded() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionRemoved() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// RequestCompleted records the outcome and duration of one request
func (m *Metrics) RequestCompleted(method string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
