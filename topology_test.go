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
	"reflect"
	"strings"
	"testing"

	codarpc "github.com/blinklabs-io/gocodarpc"
)

type topologyTestDefinition struct {
	jsonData      string
	expectedPeers []codarpc.TopologyPeer
}

var topologyTests = []topologyTestDefinition{
	{
		jsonData: `
{
  "bootstrapPeers": [
    {
      "address": "/dns4/seed-1.example.net/tcp/10001/p2p/12D3KooWAFFq2yEQFFzhU5dt64AWqawRuomG9hL8rSmm5vxhAsgr",
      "comment": "seed 1"
    }
  ]
}
`,
		expectedPeers: []codarpc.TopologyPeer{
			{
				Address: "/dns4/seed-1.example.net/tcp/10001/p2p/12D3KooWAFFq2yEQFFzhU5dt64AWqawRuomG9hL8rSmm5vxhAsgr",
				Tags:    []codarpc.ConnectionManagerTag{codarpc.ConnectionManagerTagHostBootstrap},
			},
		},
	},
	{
		jsonData: `
{
  "bootstrapPeers": [
    { "address": "/ip4/10.0.0.1/tcp/8302/p2p/12D3KooWKnDvZbD4bXpHPqdLMGJhyLgCNU7HvbXRPDNKzAFVCbUd" },
    { "address": "/ip4/10.0.0.2/tcp/8302/p2p/12D3KooWBxMLje7yExEBhZQqbuVL1giKPpN8DieYkL3Wz7sTku7T" }
  ],
  "trustedPeers": [
    { "address": "/ip4/10.0.0.2/tcp/8302/p2p/12D3KooWBxMLje7yExEBhZQqbuVL1giKPpN8DieYkL3Wz7sTku7T" }
  ]
}
`,
		expectedPeers: []codarpc.TopologyPeer{
			{
				Address: "/ip4/10.0.0.1/tcp/8302/p2p/12D3KooWKnDvZbD4bXpHPqdLMGJhyLgCNU7HvbXRPDNKzAFVCbUd",
				Tags:    []codarpc.ConnectionManagerTag{codarpc.ConnectionManagerTagHostBootstrap},
			},
			{
				Address: "/ip4/10.0.0.2/tcp/8302/p2p/12D3KooWBxMLje7yExEBhZQqbuVL1giKPpN8DieYkL3Wz7sTku7T",
				Tags: []codarpc.ConnectionManagerTag{
					codarpc.ConnectionManagerTagHostBootstrap,
					codarpc.ConnectionManagerTagHostTrusted,
				},
			},
		},
	},
}

func TestParseTopologyConfig(t *testing.T) {
	for _, test := range topologyTests {
		topology, err := codarpc.NewTopologyConfigFromReader(strings.NewReader(test.jsonData))
		if err != nil {
			t.Fatalf("failed to load TopologyConfig from JSON data: %s", err)
		}
		if peers := topology.Peers(); !reflect.DeepEqual(peers, test.expectedPeers) {
			t.Fatalf("did not get expected peers\n  got:    %#v\n  wanted: %#v", peers, test.expectedPeers)
		}
	}
}
