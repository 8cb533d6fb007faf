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

package bench

import (
	"bytes"
	"io"
	"testing"

	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
)

func BenchmarkDecodeHeader(b *testing.B) {
	for _, fixture := range FrameFixtures() {
		b.Run(fixture.Name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(fixture.Frame)))
			for b.Loop() {
				if _, _, err := protocol.DecodeHeader(fixture.Frame); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEncodeResponse(b *testing.B) {
	data := bytes.Repeat([]byte{0xab}, 64*1024)
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_ = protocol.EncodeResponse(7, data)
	}
}

func BenchmarkBufferCut(b *testing.B) {
	const framesPerStream = 64
	for _, fixture := range FrameFixtures() {
		stream := FrameStream(fixture.Frame, framesPerStream)
		b.Run(fixture.Name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(stream)))
			for b.Loop() {
				buf := muxer.NewBuffer(muxer.DefaultInitialBufferSize, muxer.DefaultMaxBufferSize)
				r := bytes.NewReader(stream)
				frames := 0
				for frames < framesPerStream {
					frame, err := buf.TryCut()
					if err != nil {
						b.Fatal(err)
					}
					if frame != nil {
						frames++
						continue
					}
					if _, err := buf.Fill(r); err != nil && err != io.EOF {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
