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

// Package connection contains identifiers for peers and their physical connections.
package connection

import "fmt"

// PeerId identifies a remote node. It is stable for the lifetime of a connection.
type PeerId string

func (p PeerId) String() string {
	return string(p)
}

// ConnectionId identifies one physical connection to a peer. The handle is assigned
// by the transport and is unique among that peer's connections.
type ConnectionId struct {
	Peer   PeerId
	Handle string
}

func (c ConnectionId) String() string {
	return fmt.Sprintf("%s/%s", c.Peer, c.Handle)
}
