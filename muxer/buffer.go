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

package muxer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/blinklabs-io/gocodarpc/protocol"
)

var ErrBufferLimit = errors.New("frame exceeds buffer limit")

// Frame is one decoded frame. The payload is owned by the frame.
type Frame struct {
	Header  protocol.MessageHeader
	Payload []byte
}

// Buffer accumulates bytes read from a substream and cuts them into frames. It holds
// zero or more complete frames followed by at most one partial frame.
type Buffer struct {
	data    []byte
	filled  int
	minSize int
	maxSize int
}

// NewBuffer returns a buffer whose capacity stays a power of two between minSize and
// maxSize
func NewBuffer(minSize int, maxSize int) *Buffer {
	minSize = nextPowerOfTwo(max(minSize, protocol.LengthPrefixSize))
	maxSize = max(maxSize, minSize)
	return &Buffer{
		data:    make([]byte, minSize),
		minSize: minSize,
		maxSize: maxSize,
	}
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	return b.filled
}

// Cap returns the current capacity
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Fill performs one read into the unfilled tail, doubling the capacity first if the
// buffer is full. It returns io.EOF once the reader reaches a clean end.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if b.filled == len(b.data) {
		if len(b.data) >= b.maxSize {
			return 0, fmt.Errorf("%w: %d bytes buffered", ErrBufferLimit, b.filled)
		}
		b.resize(min(len(b.data)*2, b.maxSize))
	}
	n, err := r.Read(b.data[b.filled:])
	b.filled += n
	if n > 0 && errors.Is(err, io.EOF) {
		// Report the end on the next read
		return n, nil
	}
	return n, err
}

// TryCut extracts the next complete frame, or returns nil if more bytes are needed
func (b *Buffer) TryCut() (*Frame, error) {
	if b.filled < protocol.LengthPrefixSize {
		return nil, nil
	}
	length := binary.LittleEndian.Uint64(b.data)
	if length > uint64(b.maxSize-protocol.LengthPrefixSize) {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrBufferLimit, length)
	}
	total := protocol.LengthPrefixSize + int(length)
	if total > b.filled {
		return nil, nil
	}
	header, payload, err := protocol.DecodeHeader(b.data[:total])
	if err != nil {
		return nil, err
	}
	frame := &Frame{
		Header:  header,
		Payload: append([]byte(nil), payload...),
	}
	b.consume(total)
	return frame, nil
}

// consume drops the first n bytes and resizes to fit what remains
func (b *Buffer) consume(n int) {
	remaining := b.filled - n
	size := nextPowerOfTwo(max(remaining, b.minSize))
	if size != len(b.data) {
		data := make([]byte, size)
		copy(data, b.data[n:b.filled])
		b.data = data
	} else {
		copy(b.data, b.data[n:b.filled])
	}
	b.filled = remaining
}

func (b *Buffer) resize(size int) {
	data := make([]byte, size)
	copy(data, b.data[:b.filled])
	b.data = data
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
