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
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/gocodarpc/protocol"
)

var callCmd = &cobra.Command{
	Use:   "call <method> <version> [query-hex]",
	Short: "Send one query and print the hex encoded response",
	Long: "Send one query to the first ready peer. The query is the bin_prot encoding of the\n" +
		"method's query type, given as hex. It defaults to unit (00).",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		method := protocol.Method{Tag: args[0], Version: int32(version)}
		query := []byte{0x00}
		if len(args) == 3 {
			if query, err = hex.DecodeString(args[2]); err != nil {
				return fmt.Errorf("invalid query hex: %w", err)
			}
		}
		ctx, cancel := signalContext()
		defer cancel()
		n, err := newNode(nil)
		if err != nil {
			return err
		}
		defer n.Close()
		if _, err := n.connect(ctx); err != nil {
			return err
		}
		reqCtx, reqCancel := context.WithTimeout(ctx, flags.timeout)
		defer reqCancel()
		resp, err := n.engine.Request(reqCtx, method, query)
		if err != nil {
			var rpcErr *protocol.RpcError
			if errors.As(err, &rpcErr) {
				return fmt.Errorf("%s failed on the remote peer: %w", method, rpcErr)
			}
			return err
		}
		fmt.Println(hex.EncodeToString(resp))
		return nil
	},
}
