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
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/gocodarpc/binprot"
)

const versionVariant = "Version"

var ErrUnknownRpcError = errors.New("unknown rpc error variant")

// Sexp is an S-expression carried by remote error reports
type Sexp struct {
	Atom   string
	List   []Sexp
	IsList bool
}

func SexpAtom(atom string) Sexp {
	return Sexp{Atom: atom}
}

func SexpList(items ...Sexp) Sexp {
	return Sexp{List: items, IsList: true}
}

func (s Sexp) String() string {
	if !s.IsList {
		return s.Atom
	}
	parts := make([]string, len(s.List))
	for i, item := range s.List {
		parts[i] = item.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (s Sexp) encode(w *binprot.Writer) {
	if !s.IsList {
		w.WriteTag(0)
		w.WriteString(s.Atom)
		return
	}
	w.WriteTag(1)
	w.WriteNat0(uint64(len(s.List)))
	for _, item := range s.List {
		item.encode(w)
	}
}

// Lists may nest, so decoding is bounded to avoid unbounded recursion on hostile input
const maxSexpDepth = 64

func decodeSexp(r *binprot.Reader, depth int) (Sexp, error) {
	if depth > maxSexpDepth {
		return Sexp{}, fmt.Errorf("%w: sexp nested too deeply", binprot.ErrInvalidValue)
	}
	tag, err := r.ReadTag()
	if err != nil {
		return Sexp{}, err
	}
	switch tag {
	case 0:
		atom, err := r.ReadString()
		if err != nil {
			return Sexp{}, err
		}
		return SexpAtom(atom), nil
	case 1:
		count, err := r.ReadNat0()
		if err != nil {
			return Sexp{}, err
		}
		if count > uint64(len(r.Remaining())) {
			return Sexp{}, fmt.Errorf("%w: sexp list of %d items", binprot.ErrUnexpectedEnd, count)
		}
		ret := Sexp{IsList: true, List: make([]Sexp, 0, count)}
		for i := uint64(0); i < count; i++ {
			item, err := decodeSexp(r, depth+1)
			if err != nil {
				return Sexp{}, err
			}
			ret.List = append(ret.List, item)
		}
		return ret, nil
	}
	return Sexp{}, fmt.Errorf("%w: sexp tag %d", binprot.ErrInvalidValue, tag)
}

type RpcErrorKind uint8

const (
	RpcErrorBinIoExn         RpcErrorKind = 0
	RpcErrorConnectionClosed RpcErrorKind = 1
	RpcErrorWriteError       RpcErrorKind = 2
	RpcErrorUncaughtExn      RpcErrorKind = 3
	RpcErrorUnimplementedRpc RpcErrorKind = 4
	RpcErrorUnknownQueryId   RpcErrorKind = 5
)

func (k RpcErrorKind) String() string {
	switch k {
	case RpcErrorBinIoExn:
		return "Bin_io_exn"
	case RpcErrorConnectionClosed:
		return "Connection_closed"
	case RpcErrorWriteError:
		return "Write_error"
	case RpcErrorUncaughtExn:
		return "Uncaught_exn"
	case RpcErrorUnimplementedRpc:
		return "Unimplemented_rpc"
	case RpcErrorUnknownQueryId:
		return "Unknown_query_id"
	}
	return fmt.Sprintf("RpcErrorKind(%d)", uint8(k))
}

// RpcError is a failure reported by the remote peer in place of a response
type RpcError struct {
	Kind RpcErrorKind
	// Detail is set for Bin_io_exn, Write_error and Uncaught_exn
	Detail Sexp
	// Method is set for Unimplemented_rpc
	Method Method
	// QueryId is set for Unknown_query_id
	QueryId int64
}

func NewUnimplementedRpcError(method Method) *RpcError {
	return &RpcError{Kind: RpcErrorUnimplementedRpc, Method: method}
}

func (e *RpcError) Error() string {
	switch e.Kind {
	case RpcErrorBinIoExn, RpcErrorWriteError, RpcErrorUncaughtExn:
		return fmt.Sprintf("rpc error: %s: %s", e.Kind, e.Detail)
	case RpcErrorUnimplementedRpc:
		return fmt.Sprintf("rpc error: %s: %s", e.Kind, e.Method)
	case RpcErrorUnknownQueryId:
		return fmt.Sprintf("rpc error: %s: %d", e.Kind, e.QueryId)
	}
	return "rpc error: " + e.Kind.String()
}

func (e *RpcError) encode(w *binprot.Writer) {
	w.WriteTag(uint8(e.Kind))
	switch e.Kind {
	case RpcErrorBinIoExn, RpcErrorWriteError, RpcErrorUncaughtExn:
		e.Detail.encode(w)
	case RpcErrorUnimplementedRpc:
		w.WriteString(e.Method.Tag)
		w.WriteVariant(versionVariant)
		w.WriteInt(int64(e.Method.Version))
	case RpcErrorUnknownQueryId:
		w.WriteInt(e.QueryId)
	}
}

func decodeRpcError(r *binprot.Reader) (*RpcError, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	ret := &RpcError{Kind: RpcErrorKind(tag)}
	switch ret.Kind {
	case RpcErrorConnectionClosed:
	case RpcErrorBinIoExn, RpcErrorWriteError, RpcErrorUncaughtExn:
		if ret.Detail, err = decodeSexp(r, 0); err != nil {
			return nil, err
		}
	case RpcErrorUnimplementedRpc:
		if ret.Method.Tag, err = r.ReadString(); err != nil {
			return nil, err
		}
		hash, err := r.ReadVariant()
		if err != nil {
			return nil, err
		}
		if hash != binprot.VariantHash(versionVariant) {
			return nil, fmt.Errorf("%w: variant hash %d", binprot.ErrInvalidValue, hash)
		}
		if ret.Method.Version, err = r.ReadInt32(); err != nil {
			return nil, err
		}
	case RpcErrorUnknownQueryId:
		if ret.QueryId, err = r.ReadInt(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRpcError, tag)
	}
	return ret, nil
}
