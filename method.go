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
	"context"
	"fmt"

	"github.com/blinklabs-io/gocodarpc/connection"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

// Method describes a versioned RPC with typed query and response values. The encode
// and decode functions implement the method's payload schema, which the engine treats
// as opaque bytes.
type Method[Q any, R any] struct {
	Tag            string
	Version        int32
	EncodeQuery    func(Q) ([]byte, error)
	DecodeQuery    func([]byte) (Q, error)
	EncodeResponse func(R) ([]byte, error)
	DecodeResponse func([]byte) (R, error)
}

func (m Method[Q, R]) Method() protocol.Method {
	return protocol.Method{Tag: m.Tag, Version: m.Version}
}

// Call issues a typed request through the engine. A response that cannot be decoded
// is reported as ErrInvalidResponse.
func Call[Q any, R any](ctx context.Context, e *Engine, m Method[Q, R], query Q) (R, error) {
	var ret R
	data, err := m.EncodeQuery(query)
	if err != nil {
		return ret, fmt.Errorf("encode %s query: %w", m.Method(), err)
	}
	respData, err := e.Request(ctx, m.Method(), data)
	if err != nil {
		return ret, err
	}
	ret, err = m.DecodeResponse(respData)
	if err != nil {
		return ret, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, m.Method(), err)
	}
	return ret, nil
}

// Responder adapts a typed handler to a ResponderFunc for WithResponder. Queries that
// cannot be decoded are reported to the peer as Bin_io_exn.
func Responder[Q any, R any](m Method[Q, R], handler func(context.Context, connection.PeerId, Q) (R, error)) ResponderFunc {
	return func(ctx context.Context, peer connection.PeerId, data []byte) ([]byte, error) {
		query, err := m.DecodeQuery(data)
		if err != nil {
			return nil, &protocol.RpcError{
				Kind:   protocol.RpcErrorBinIoExn,
				Detail: protocol.SexpAtom(err.Error()),
			}
		}
		resp, err := handler(ctx, peer, query)
		if err != nil {
			return nil, err
		}
		return m.EncodeResponse(resp)
	}
}
