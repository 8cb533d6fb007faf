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

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/gocodarpc/connection"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Print the methods each peer advertises",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		n, err := newNode(nil)
		if err != nil {
			return err
		}
		defer n.Close()
		peers, err := n.connect(ctx)
		if err != nil {
			return err
		}
		for _, peer := range peers {
			waitCtx, waitCancel := context.WithTimeout(ctx, flags.timeout)
			menu, err := n.engine.WaitPeer(waitCtx, connection.PeerId(peer))
			waitCancel()
			if err != nil {
				n.logger.Warn("peer did not negotiate", "peer", peer, "error", err)
				continue
			}
			printMenu(peer, menu)
		}
		return nil
	},
}
