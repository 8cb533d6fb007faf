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

package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/gocodarpc/metrics"
)

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	m.FrameReceived("Query")
	m.FrameSent("Response")
	m.StreamAttached("outgoing")
	m.StreamDetached("outgoing")
	m.SubstreamRecovered()
	m.ConnectionAdded()
	m.ConnectionRemoved()
	m.RequestCompleted("get_best_tip/2", metrics.OutcomeOk, time.Second)
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.FrameReceived("Heartbeat")
	m.FrameReceived("Heartbeat")
	m.SubstreamRecovered()
	m.RequestCompleted("get_best_tip/2", metrics.OutcomeOk, 10*time.Millisecond)
	count, err := testutil.GatherAndCount(reg, "codarpc_stream_frames_received_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(reg, "codarpc_engine_requests_total", "codarpc_engine_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
