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
	"math"
)

// Writer accumulates bin_prot encoded values
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer that appends to the provided buffer
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Bytes returns the encoded data
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// WriteRaw appends bytes verbatim
func (w *Writer) WriteRaw(data []byte) {
	w.buf = append(w.buf, data...)
}

func (w *Writer) WriteTag(tag uint8) {
	w.buf = append(w.buf, tag)
}

func (w *Writer) WriteUnit() {
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteNat0 appends a non-negative integer
func (w *Writer) WriteNat0(v uint64) {
	switch {
	case v < maxSingleByte:
		w.buf = append(w.buf, byte(v))
	case v <= math.MaxUint16:
		w.buf = append(w.buf, CodeInt16)
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
	case v <= math.MaxUint32:
		w.buf = append(w.buf, CodeInt32)
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	default:
		w.buf = append(w.buf, CodeInt64)
		w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	}
}

// WriteInt appends a signed integer
func (w *Writer) WriteInt(v int64) {
	switch {
	case v >= 0 && v < maxSingleByte:
		w.buf = append(w.buf, byte(v))
	case v < 0 && v >= math.MinInt8:
		w.buf = append(w.buf, CodeNeg8, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		w.buf = append(w.buf, CodeInt16)
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(int16(v)))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		w.buf = append(w.buf, CodeInt32)
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(int32(v)))
	default:
		w.buf = append(w.buf, CodeInt64)
		w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
	}
}

// WriteString appends a length-prefixed string
func (w *Writer) WriteString(s string) {
	w.WriteNat0(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes appends a length-prefixed byte string
func (w *Writer) WriteBytes(data []byte) {
	w.WriteNat0(uint64(len(data)))
	w.buf = append(w.buf, data...)
}

// WriteVariant appends the tag of a polymorphic variant constructor
func (w *Writer) WriteVariant(name string) {
	v := (VariantHash(name) << 1) | 1
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}
