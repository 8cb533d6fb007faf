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

// BuiltinFunc answers a query without involving the application. It returns the
// complete response frame to send back on the same stream.
type BuiltinFunc func(header MessageHeader, payload []byte) ([]byte, error)

// Builtins maps versioned methods to responders handled by the stream engine
type Builtins map[Method]BuiltinFunc

// NewBuiltins returns the default table, which answers the capability menu query
// with the provided menu
func NewBuiltins(menu Menu) Builtins {
	return Builtins{
		MenuMethod: MenuResponder(menu),
	}
}

// Lookup returns the responder for a query header, if any
func (b Builtins) Lookup(header MessageHeader) (BuiltinFunc, bool) {
	if header.Type != MessageTypeQuery {
		return nil, false
	}
	fn, ok := b[header.Method()]
	return fn, ok
}

// MenuResponder answers capability menu queries with a fixed menu
func MenuResponder(menu Menu) BuiltinFunc {
	encoded := EncodeMenu(menu)
	return func(header MessageHeader, _ []byte) ([]byte, error) {
		return EncodeResponse(header.Id, encoded), nil
	}
}
