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

package protocol

import (
	"fmt"

	"github.com/blinklabs-io/gocodarpc/binprot"
)

const (
	resultOk    uint8 = 0
	resultError uint8 = 1
)

// EncodeQuery builds a query frame. The data is the already encoded query value and
// is carried with its length so that peers can skip it without decoding.
func EncodeQuery(method Method, id int64, data []byte) []byte {
	w := binprot.NewWriter(make([]byte, 0, len(data)+9))
	w.WriteBytes(data)
	return Encode(NewQueryHeader(method.Tag, method.Version, id), w.Bytes())
}

// EncodeResponse builds a successful response frame carrying the encoded value
func EncodeResponse(id int64, data []byte) []byte {
	w := binprot.NewWriter(make([]byte, 0, len(data)+10))
	w.WriteTag(resultOk)
	w.WriteBytes(data)
	return Encode(NewResponseHeader(id), w.Bytes())
}

// EncodeErrorResponse builds a response frame reporting a failure to the querying peer
func EncodeErrorResponse(id int64, rpcErr *RpcError) []byte {
	w := binprot.NewWriter(nil)
	w.WriteTag(resultError)
	rpcErr.encode(w)
	return Encode(NewResponseHeader(id), w.Bytes())
}

// DecodeQueryPayload returns the encoded query value carried by a query frame payload
func DecodeQueryPayload(payload []byte) ([]byte, error) {
	r := binprot.NewReader(payload)
	data, err := r.ReadBytes()
	if err != nil {
		return nil, &DecodeError{Offset: r.Offset(), Err: err}
	}
	return data, nil
}

// DecodeResponsePayload returns the encoded value carried by a response frame
// payload. A failure reported by the peer is returned as an *RpcError.
func DecodeResponsePayload(payload []byte) ([]byte, error) {
	r := binprot.NewReader(payload)
	tag, err := r.ReadTag()
	if err != nil {
		return nil, &DecodeError{Offset: r.Offset(), Err: err}
	}
	switch tag {
	case resultOk:
		data, err := r.ReadBytes()
		if err != nil {
			return nil, &DecodeError{Offset: r.Offset(), Err: err}
		}
		return data, nil
	case resultError:
		rpcErr, err := decodeRpcError(r)
		if err != nil {
			return nil, &DecodeError{Offset: r.Offset(), Err: err}
		}
		return nil, rpcErr
	}
	return nil, &DecodeError{
		Offset: 0,
		Err:    fmt.Errorf("%w: result tag %d", binprot.ErrInvalidValue, tag),
	}
}

// EncodeMenuQuery builds the capability menu query sent at the start of every
// outbound substream
func EncodeMenuQuery() []byte {
	unit := binprot.NewWriter(nil)
	unit.WriteUnit()
	return EncodeQuery(MenuMethod, MenuQueryId, unit.Bytes())
}

// EncodeMenuResponse builds the answer to a capability menu query
func EncodeMenuResponse(id int64, m Menu) []byte {
	return EncodeResponse(id, EncodeMenu(m))
}
