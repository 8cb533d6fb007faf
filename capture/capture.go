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

// Package capture records the frames seen by connections to a file and reads them back.
// Each record is a CBOR array, so a capture is a plain sequence of CBOR items.
package capture

import (
	"errors"
	"io"
	"sync"
	"time"

	_cbor "github.com/fxamacker/cbor/v2"

	"github.com/blinklabs-io/gocodarpc/cbor"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

// Record is one captured frame
type Record struct {
	cbor.StructAsArray
	cbor.DecodeStoreCbor
	// Timestamp is in nanoseconds since the Unix epoch
	Timestamp  int64
	Connection string
	Outgoing   bool
	Stream     uint64
	Inbound    bool
	Type       uint8
	Tag        string
	Version    int32
	Id         int64
	Payload    []byte
}

func (r *Record) UnmarshalCBOR(data []byte) error {
	type tRecord Record
	var tmp tRecord
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return err
	}
	*r = Record(tmp)
	r.SetCbor(data)
	return nil
}

func (r *Record) StreamId() muxer.StreamId {
	if r.Outgoing {
		return muxer.Outgoing(r.Stream)
	}
	return muxer.Incoming(r.Stream)
}

func (r *Record) Header() protocol.MessageHeader {
	return protocol.MessageHeader{
		Type:    protocol.MessageType(r.Type),
		Tag:     r.Tag,
		Version: r.Version,
		Id:      r.Id,
	}
}

// Frame returns the captured frame as it appears on the wire
func (r *Record) Frame() []byte {
	return protocol.Encode(r.Header(), r.Payload)
}

// Writer appends a record for every observed frame. It can be installed on connections
// with muxer.WithFrameObserver.
type Writer struct {
	mutex   sync.Mutex
	encoder *_cbor.Encoder
	now     func() time.Time
	count   int
	err     error
}

var _ muxer.FrameObserver = (*Writer)(nil)

func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := cbor.NewEncoder(w)
	if err != nil {
		return nil, err
	}
	return &Writer{
		encoder: enc,
		now:     time.Now,
	}, nil
}

func (w *Writer) ObserveFrame(frame muxer.FrameRecord) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	// Stop at the first failure so the capture stays readable up to that point
	if w.err != nil {
		return
	}
	record := &Record{
		Timestamp:  w.now().UnixNano(),
		Connection: frame.ConnectionId.String(),
		Outgoing:   frame.StreamId.IsOutgoing(),
		Stream:     frame.StreamId.Index,
		Inbound:    frame.Inbound,
		Type:       uint8(frame.Header.Type),
		Tag:        frame.Header.Tag,
		Version:    frame.Header.Version,
		Id:         frame.Header.Id,
		Payload:    frame.Payload,
	}
	if err := w.encoder.Encode(record); err != nil {
		w.err = err
		return
	}
	w.count++
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.count
}

// Err returns the error that stopped the capture, if any
func (w *Writer) Err() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.err
}

type Reader struct {
	decoder *_cbor.Decoder
}

func NewReader(r io.Reader) (*Reader, error) {
	dec, err := cbor.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &Reader{decoder: dec}, nil
}

// Next returns the next record, or io.EOF at the end of the capture
func (r *Reader) Next() (*Record, error) {
	record := &Record{}
	if err := r.decoder.Decode(record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return record, nil
}
