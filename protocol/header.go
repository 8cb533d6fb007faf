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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blinklabs-io/gocodarpc/binprot"
)

type MessageType uint8

const (
	MessageTypeHeartbeat MessageType = 0
	MessageTypeQuery     MessageType = 1
	MessageTypeResponse  MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHeartbeat:
		return "Heartbeat"
	case MessageTypeQuery:
		return "Query"
	case MessageTypeResponse:
		return "Response"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

var (
	ErrFrameTooShort      = errors.New("frame shorter than length prefix")
	ErrLengthMismatch     = errors.New("frame length prefix does not match frame size")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// DecodeError reports malformed frame content
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %s", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MessageHeader identifies a frame. Tag and Version are only meaningful for queries
// and Id only for queries and responses.
type MessageHeader struct {
	Type    MessageType
	Tag     string
	Version int32
	Id      int64
}

func NewHeartbeatHeader() MessageHeader {
	return MessageHeader{Type: MessageTypeHeartbeat}
}

func NewQueryHeader(tag string, version int32, id int64) MessageHeader {
	return MessageHeader{
		Type:    MessageTypeQuery,
		Tag:     tag,
		Version: version,
		Id:      id,
	}
}

func NewResponseHeader(id int64) MessageHeader {
	return MessageHeader{Type: MessageTypeResponse, Id: id}
}

// Method returns the versioned method addressed by a query header
func (h MessageHeader) Method() Method {
	return Method{Tag: h.Tag, Version: h.Version}
}

func (h MessageHeader) String() string {
	switch h.Type {
	case MessageTypeQuery:
		return fmt.Sprintf("Query{%s v%d id=%d}", h.Tag, h.Version, h.Id)
	case MessageTypeResponse:
		return fmt.Sprintf("Response{id=%d}", h.Id)
	}
	return h.Type.String()
}

// Encode produces a complete frame for the header followed by the payload bytes
func Encode(header MessageHeader, payload []byte) []byte {
	w := binprot.NewWriter(make([]byte, LengthPrefixSize, LengthPrefixSize+16+len(header.Tag)+len(payload)))
	w.WriteTag(uint8(header.Type))
	switch header.Type {
	case MessageTypeQuery:
		w.WriteString(header.Tag)
		w.WriteInt(int64(header.Version))
		w.WriteInt(header.Id)
	case MessageTypeResponse:
		w.WriteInt(header.Id)
	}
	w.WriteRaw(payload)
	frame := w.Bytes()
	binary.LittleEndian.PutUint64(frame, uint64(len(frame)-LengthPrefixSize))
	return frame
}

// DecodeHeader parses the header of a complete frame and returns it along with the
// undecoded payload. The payload aliases the frame.
func DecodeHeader(frame []byte) (MessageHeader, []byte, error) {
	var header MessageHeader
	if len(frame) < LengthPrefixSize {
		return header, nil, &DecodeError{Offset: 0, Err: ErrFrameTooShort}
	}
	length := binary.LittleEndian.Uint64(frame)
	if length != uint64(len(frame)-LengthPrefixSize) {
		return header, nil, &DecodeError{
			Offset: 0,
			Err:    fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, length, len(frame)-LengthPrefixSize),
		}
	}
	r := binprot.NewReader(frame[LengthPrefixSize:])
	fail := func(err error) (MessageHeader, []byte, error) {
		return MessageHeader{}, nil, &DecodeError{Offset: LengthPrefixSize + r.Offset(), Err: err}
	}
	tag, err := r.ReadTag()
	if err != nil {
		return fail(err)
	}
	header.Type = MessageType(tag)
	switch header.Type {
	case MessageTypeHeartbeat:
	case MessageTypeQuery:
		if header.Tag, err = r.ReadString(); err != nil {
			return fail(err)
		}
		if header.Version, err = r.ReadInt32(); err != nil {
			return fail(err)
		}
		if header.Id, err = r.ReadInt(); err != nil {
			return fail(err)
		}
	case MessageTypeResponse:
		if header.Id, err = r.ReadInt(); err != nil {
			return fail(err)
		}
	default:
		return MessageHeader{}, nil, &DecodeError{
			Offset: LengthPrefixSize,
			Err:    fmt.Errorf("%w: %d", ErrUnknownMessageType, tag),
		}
	}
	return header, r.Remaining(), nil
}
