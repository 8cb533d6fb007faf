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

package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	codarpc "github.com/blinklabs-io/gocodarpc"
	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

var (
	pingMethod = protocol.Method{Tag: "ping", Version: 1}

	heartbeatPeriod time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer ping queries until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(flags.listen) == 0 {
			return errors.New("serve needs at least one --listen address")
		}
		ctx, cancel := signalContext()
		defer cancel()
		n, err := newNode(
			[]muxer.MuxerOptionFunc{
				muxer.WithMenu(protocol.NewMenu(pingMethod)),
				muxer.WithHeartbeatPeriod(heartbeatPeriod),
			},
			codarpc.WithResponder(pingMethod, func(_ context.Context, peer connection.PeerId, query []byte) ([]byte, error) {
				return query, nil
			}),
		)
		if err != nil {
			return err
		}
		defer n.Close()
		if len(flags.peers) > 0 || flags.topology != "" {
			if _, err := n.connect(ctx); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	serveCmd.Flags().DurationVar(&heartbeatPeriod, "heartbeat", 0, "send heartbeats at this interval instead of echoing the peer's")
}
