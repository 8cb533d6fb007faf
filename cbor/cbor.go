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

// Package cbor wraps github.com/fxamacker/cbor/v2 with the encoding modes used for
// frame capture files.
//
// Embeddable types for struct encoding:
//   - StructAsArray: Embed to encode struct fields as a CBOR array instead of a map
//   - DecodeStoreCbor: Embed to keep the original CBOR bytes of a decoded item
package cbor

import (
	_cbor "github.com/fxamacker/cbor/v2"
)

// Create an alias for RawMessage for convenience
type RawMessage = _cbor.RawMessage

// Useful for embedding and easier to remember
type StructAsArray struct {
	// Tells the CBOR decoder to convert to/from a struct and a CBOR array
	_ struct{} `cbor:",toarray"`
}

type DecodeStoreCbor struct {
	cborData []byte
}

// SetCbor stores a copy of the original CBOR for the object
func (d *DecodeStoreCbor) SetCbor(cborData []byte) {
	d.cborData = make([]byte, len(cborData))
	copy(d.cborData, cborData)
}

// Cbor returns the original CBOR for the object
func (d *DecodeStoreCbor) Cbor() []byte {
	return d.cborData
}
