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

package cbor

import (
	"bytes"
	"io"
	"sync"

	_cbor "github.com/fxamacker/cbor/v2"
)

var (
	cachedDecMode     _cbor.DecMode
	cachedDecModeErr  error
	cachedDecModeOnce sync.Once
)

// getDecMode returns a cached DecMode, initializing it on first use
func getDecMode() (_cbor.DecMode, error) {
	cachedDecModeOnce.Do(func() {
		decOptions := _cbor.DecOptions{
			ExtraReturnErrors: _cbor.ExtraDecErrorUnknownField,
			// Frame payloads are carried as byte strings, so records never nest deeply
			MaxNestedLevels: 16,
		}
		cachedDecMode, cachedDecModeErr = decOptions.DecMode()
	})
	return cachedDecMode, cachedDecModeErr
}

// Decode decodes the first CBOR item in dataBytes into dest and returns the number of
// bytes it used
func Decode(dataBytes []byte, dest any) (int, error) {
	dec, err := NewDecoder(bytes.NewReader(dataBytes))
	if err != nil {
		return 0, err
	}
	err = dec.Decode(dest)
	return dec.NumBytesRead(), err
}

// NewDecoder returns a decoder reading a sequence of CBOR items from r
func NewDecoder(r io.Reader) (*_cbor.Decoder, error) {
	decMode, err := getDecMode()
	if err != nil {
		return nil, err
	}
	return decMode.NewDecoder(r), nil
}
