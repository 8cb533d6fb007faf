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

package test

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// DecodeHexString is a helper function for tests that decodes hex strings. It doesn't return
// an error value, which makes it usable inline. Whitespace inside the string is ignored so
// that frames can be laid out field by field.
func DecodeHexString(hexData string) []byte {
	hexData = strings.Join(strings.Fields(hexData), "")
	decoded, err := hex.DecodeString(hexData)
	if err != nil {
		panic(fmt.Sprintf("error decoding hex: %s", err))
	}
	return decoded
}

// ChunkReader returns data in chunks of the given sizes, cycling through the sizes until
// the data is exhausted. It simulates a transport delivering a byte stream in arbitrary pieces.
type ChunkReader struct {
	data   []byte
	sizes  []int
	offset int
	calls  int
}

func NewChunkReader(data []byte, sizes ...int) *ChunkReader {
	if len(sizes) == 0 {
		sizes = []int{len(data)}
	}
	return &ChunkReader{data: data, sizes: sizes}
}

func (c *ChunkReader) Read(p []byte) (int, error) {
	if c.offset >= len(c.data) {
		return 0, io.EOF
	}
	size := c.sizes[c.calls%len(c.sizes)]
	c.calls++
	if size <= 0 {
		size = 1
	}
	size = min(size, len(p), len(c.data)-c.offset)
	copy(p, c.data[c.offset:c.offset+size])
	c.offset += size
	return size, nil
}
