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
	"encoding/json"
	"io"
	"os"
)

// TopologyConfig lists the peers a node dials at startup. Addresses are multiaddrs
// including the peer id, for example /ip4/1.2.3.4/tcp/8302/p2p/12D3KooW...
type TopologyConfig struct {
	BootstrapPeers []TopologyConfigPeer `json:"bootstrapPeers"`
	TrustedPeers   []TopologyConfigPeer `json:"trustedPeers"`
}

type TopologyConfigPeer struct {
	Address string `json:"address"`
	Comment string `json:"comment,omitempty"`
}

// TopologyPeer is a peer address along with the tags its connections should carry
type TopologyPeer struct {
	Address string
	Tags    []ConnectionManagerTag
}

func NewTopologyConfigFromFile(path string) (*TopologyConfig, error) {
	dataFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer dataFile.Close()
	return NewTopologyConfigFromReader(dataFile)
}

func NewTopologyConfigFromReader(r io.Reader) (*TopologyConfig, error) {
	t := &TopologyConfig{}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Peers returns every configured peer with its tags. A peer listed in both sections
// is returned once.
func (t *TopologyConfig) Peers() []TopologyPeer {
	var ret []TopologyPeer
	index := map[string]int{}
	add := func(peers []TopologyConfigPeer, tag ConnectionManagerTag) {
		for _, peer := range peers {
			if idx, ok := index[peer.Address]; ok {
				ret[idx].Tags = append(ret[idx].Tags, tag)
				continue
			}
			index[peer.Address] = len(ret)
			ret = append(ret, TopologyPeer{
				Address: peer.Address,
				Tags:    []ConnectionManagerTag{tag},
			})
		}
	}
	add(t.BootstrapPeers, ConnectionManagerTagHostBootstrap)
	add(t.TrustedPeers, ConnectionManagerTagHostTrusted)
	return ret
}
