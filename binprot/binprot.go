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

// Package binprot implements the subset of the bin_prot binary encoding used by
// the coda/rpcs wire protocol.
//
// Integers use a variable-length encoding: values in [0, 0x80) are a single byte,
// larger values are introduced by a code byte followed by a fixed-width little-endian
// integer. Strings and lists are prefixed with their length encoded as a Nat0.
package binprot

import "errors"

// Code bytes introducing fixed-width integers
const (
	CodeNeg8  byte = 0xff
	CodeInt16 byte = 0xfe
	CodeInt32 byte = 0xfd
	CodeInt64 byte = 0xfc
)

const maxSingleByte = 0x80

var (
	ErrUnexpectedEnd = errors.New("binprot: unexpected end of input")
	ErrInvalidCode   = errors.New("binprot: invalid integer code")
	ErrOverflow      = errors.New("binprot: value overflows target type")
	ErrInvalidValue  = errors.New("binprot: invalid value")
)

// VariantHash returns the hash assigned to a polymorphic variant constructor name
func VariantHash(name string) int32 {
	var accu uint32
	for i := 0; i < len(name); i++ {
		accu = 223*accu + uint32(name[i])
	}
	accu &= 0x7fffffff
	if accu > 0x3fffffff {
		return int32(int64(accu) - (1 << 31))
	}
	return int32(accu)
}
