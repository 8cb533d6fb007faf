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

package binprot

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader decodes bin_prot values from a byte slice
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the number of bytes consumed so far
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining returns the unconsumed bytes without copying them
func (r *Reader) Remaining() []byte {
	return r.data[r.pos:]
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.pos < n {
		return nil, fmt.Errorf("%w at offset %d", ErrUnexpectedEnd, r.pos)
	}
	ret := r.data[r.pos : r.pos+n]
	r.pos += n
	return ret, nil
}

func (r *Reader) ReadTag() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUnit() error {
	tag, err := r.ReadTag()
	if err != nil {
		return err
	}
	if tag != 0 {
		return fmt.Errorf("%w: unit 0x%02x at offset %d", ErrInvalidValue, tag, r.pos-1)
	}
	return nil
}

func (r *Reader) ReadBool() (bool, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return false, err
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: bool 0x%02x at offset %d", ErrInvalidValue, tag, r.pos-1)
}

// ReadNat0 decodes a non-negative integer
func (r *Reader) ReadNat0() (uint64, error) {
	start := r.pos
	code, err := r.ReadTag()
	if err != nil {
		return 0, err
	}
	if code < maxSingleByte {
		return uint64(code), nil
	}
	switch code {
	case CodeInt16:
		b, err := r.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case CodeInt32:
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case CodeInt64:
		b, err := r.take(8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("%w: nat0 code 0x%02x at offset %d", ErrInvalidCode, code, start)
}

// ReadInt decodes a signed integer
func (r *Reader) ReadInt() (int64, error) {
	start := r.pos
	code, err := r.ReadTag()
	if err != nil {
		return 0, err
	}
	if code < maxSingleByte {
		return int64(code), nil
	}
	switch code {
	case CodeNeg8:
		b, err := r.take(1)
		if err != nil {
			return 0, err
		}
		return int64(int8(b[0])), nil
	case CodeInt16:
		b, err := r.take(2)
		if err != nil {
			return 0, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case CodeInt32:
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case CodeInt64:
		b, err := r.take(8)
		if err != nil {
			return 0, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	}
	return 0, fmt.Errorf("%w: int code 0x%02x at offset %d", ErrInvalidCode, code, start)
}

// ReadInt32 decodes a signed integer that must fit in 32 bits
func (r *Reader) ReadInt32() (int32, error) {
	start := r.pos
	v, err := r.ReadInt()
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d at offset %d", ErrOverflow, v, start)
	}
	return int32(v), nil
}

// ReadLength decodes a Nat0 used as a length and checks it against the remaining input
func (r *Reader) ReadLength() (int, error) {
	start := r.pos
	n, err := r.ReadNat0()
	if err != nil {
		return 0, err
	}
	if n > uint64(len(r.data)-r.pos) {
		return 0, fmt.Errorf("%w: length %d at offset %d", ErrUnexpectedEnd, n, start)
	}
	return int(n), nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes decodes a length-prefixed byte string. The result aliases the input.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	return r.take(n)
}

// ReadVariant decodes a polymorphic variant tag and returns its hash
func (r *Reader) ReadVariant() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)) >> 1, nil
}
