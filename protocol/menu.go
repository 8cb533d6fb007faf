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
	"fmt"
	"sort"

	"github.com/blinklabs-io/gocodarpc/binprot"
)

// Built-in menu method, answered inside the stream engine
const (
	MenuTag     = "__Versioned_rpc.Menu"
	MenuVersion = 1
	// MenuQueryId is the correlation id of the menu query sent on every outbound substream
	MenuQueryId int64 = 0
)

// MenuMethod is the versioned method used for capability negotiation
var MenuMethod = Method{Tag: MenuTag, Version: MenuVersion}

// Method is a versioned RPC method
type Method struct {
	Tag     string
	Version int32
}

func (m Method) String() string {
	return fmt.Sprintf("%s/%d", m.Tag, m.Version)
}

func (m Method) less(other Method) bool {
	if m.Tag != other.Tag {
		return m.Tag < other.Tag
	}
	return m.Version < other.Version
}

// Menu is the set of methods a node advertises
type Menu []Method

// NewMenu returns a menu containing the provided methods ordered by tag and version,
// with duplicates removed
func NewMenu(methods ...Method) Menu {
	ret := make(Menu, len(methods))
	copy(ret, methods)
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].less(ret[j])
	})
	out := ret[:0]
	for i, m := range ret {
		if i > 0 && m == ret[i-1] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Contains reports whether the menu advertises the method
func (m Menu) Contains(method Method) bool {
	idx := sort.Search(len(m), func(i int) bool {
		return !m[i].less(method)
	})
	return idx < len(m) && m[idx] == method
}

// EncodeMenu encodes the menu as a list of (tag, version) pairs
func EncodeMenu(m Menu) []byte {
	w := binprot.NewWriter(nil)
	w.WriteNat0(uint64(len(m)))
	for _, method := range m {
		w.WriteString(method.Tag)
		w.WriteInt(int64(method.Version))
	}
	return w.Bytes()
}

// DecodeMenu decodes a list of (tag, version) pairs, preserving the peer's order
func DecodeMenu(data []byte) (Menu, error) {
	r := binprot.NewReader(data)
	count, err := r.ReadNat0()
	if err != nil {
		return nil, &DecodeError{Offset: r.Offset(), Err: err}
	}
	// Each entry takes at least two bytes
	if count > uint64(len(data)) {
		return nil, &DecodeError{
			Offset: 0,
			Err:    fmt.Errorf("%w: menu of %d entries", binprot.ErrUnexpectedEnd, count),
		}
	}
	ret := make(Menu, 0, count)
	for i := uint64(0); i < count; i++ {
		var method Method
		if method.Tag, err = r.ReadString(); err != nil {
			return nil, &DecodeError{Offset: r.Offset(), Err: err}
		}
		if method.Version, err = r.ReadInt32(); err != nil {
			return nil, &DecodeError{Offset: r.Offset(), Err: err}
		}
		ret = append(ret, method)
	}
	return ret, nil
}
