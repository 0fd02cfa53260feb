//
// Copyright 2026 The Handcrafted-DP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//


// Package checkpoint stores training state between epochs: model
// parameters, optimizer buffers and the counters needed to resume a run
// with consistent privacy accounting.
//
// Records are encoded in the protocol buffer wire format, behind a short
// magic prefix. Unknown fields are skipped on decode.
package checkpoint

import (
	"fmt"
	"math"
	"sort"

	"github.com/bogdan-kulynych/Handcrafted-DP/optim"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record is the state saved after every epoch.
type Record struct {
	// Epoch is the number of completed epochs; a resumed run starts at it.
	Epoch    int
	ModelTag string
	Params   map[string][]float64
	// Optimizer holds the base updater buffers, if any.
	Optimizer *optim.State
	TestAcc   float64
	BestAcc   float64
	// Steps is the number of parameter updates so far, which is what the
	// accountant charges.
	Steps     int64
	FlatCount int
	// Epsilon is the last reported ε, or nil when training is not private.
	Epsilon *float64
	RunID   string
}

const magic = "DPSCKPT\x01"

// Record fields.
const (
	fieldEpoch     protowire.Number = 1
	fieldModelTag  protowire.Number = 2
	fieldParam     protowire.Number = 3
	fieldOptimizer protowire.Number = 4
	fieldTestAcc   protowire.Number = 5
	fieldBestAcc   protowire.Number = 6
	fieldSteps     protowire.Number = 7
	fieldFlatCount protowire.Number = 8
	fieldEpsilon   protowire.Number = 9
	fieldRunID     protowire.Number = 10
)

// Tensor, optimizer and buffer fields.
const (
	fieldName   protowire.Number = 1
	fieldValues protowire.Number = 2
	fieldBuffer protowire.Number = 2
	fieldTensor protowire.Number = 2
)

// Marshal encodes r. Maps are written in key order, so equal records encode
// to equal bytes.
func Marshal(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("checkpoint.Marshal: nil record")
	}
	if r.Epoch < 0 || r.Steps < 0 || r.FlatCount < 0 {
		return nil, fmt.Errorf("checkpoint.Marshal: negative counter in epoch %d, steps %d, flat count %d", r.Epoch, r.Steps, r.FlatCount)
	}
	b := []byte(magic)
	b = appendVarint(b, fieldEpoch, uint64(r.Epoch))
	b = appendString(b, fieldModelTag, r.ModelTag)
	for _, name := range sortedKeys(r.Params) {
		var t []byte
		t = appendString(t, fieldName, name)
		t = appendDoubles(t, fieldValues, r.Params[name])
		b = appendMessage(b, fieldParam, t)
	}
	if r.Optimizer != nil {
		b = appendMessage(b, fieldOptimizer, marshalState(r.Optimizer))
	}
	b = appendDouble(b, fieldTestAcc, r.TestAcc)
	b = appendDouble(b, fieldBestAcc, r.BestAcc)
	b = appendVarint(b, fieldSteps, uint64(r.Steps))
	b = appendVarint(b, fieldFlatCount, uint64(r.FlatCount))
	if r.Epsilon != nil {
		b = appendDouble(b, fieldEpsilon, *r.Epsilon)
	}
	if r.RunID != "" {
		b = appendString(b, fieldRunID, r.RunID)
	}
	return b, nil
}

func marshalState(s *optim.State) []byte {
	var b []byte
	b = appendString(b, fieldName, s.Name)
	for _, name := range sortedKeys(s.Buffers) {
		var buf []byte
		buf = appendString(buf, fieldName, name)
		for _, values := range s.Buffers[name] {
			buf = appendMessage(buf, fieldTensor, appendDoubles(nil, fieldValues, values))
		}
		b = appendMessage(b, fieldBuffer, buf)
	}
	return b
}

// Unmarshal decodes a record encoded by Marshal.
func Unmarshal(b []byte) (*Record, error) {
	if len(b) < len(magic) || string(b[:len(magic)]) != magic {
		return nil, fmt.Errorf("checkpoint.Unmarshal: not a checkpoint")
	}
	r := &Record{Params: map[string][]float64{}}
	err := forEachField(b[len(magic):], func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldEpoch:
			x, n, err := consumeVarint(typ, v)
			if x > math.MaxInt32 {
				return 0, fmt.Errorf("epoch %d out of range", x)
			}
			r.Epoch = int(x)
			return n, err
		case fieldModelTag:
			s, n, err := consumeBytes(typ, v)
			r.ModelTag = string(s)
			return n, err
		case fieldParam:
			m, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			name, values, err := unmarshalTensor(m)
			if err != nil {
				return 0, err
			}
			if _, dup := r.Params[name]; dup {
				return 0, fmt.Errorf("duplicate parameter %s", name)
			}
			r.Params[name] = values
			return n, nil
		case fieldOptimizer:
			m, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			r.Optimizer, err = unmarshalState(m)
			return n, err
		case fieldTestAcc:
			x, n, err := consumeDouble(typ, v)
			r.TestAcc = x
			return n, err
		case fieldBestAcc:
			x, n, err := consumeDouble(typ, v)
			r.BestAcc = x
			return n, err
		case fieldSteps:
			x, n, err := consumeVarint(typ, v)
			if x > math.MaxInt64 {
				return 0, fmt.Errorf("step count %d out of range", x)
			}
			r.Steps = int64(x)
			return n, err
		case fieldFlatCount:
			x, n, err := consumeVarint(typ, v)
			if x > math.MaxInt32 {
				return 0, fmt.Errorf("flat count %d out of range", x)
			}
			r.FlatCount = int(x)
			return n, err
		case fieldEpsilon:
			x, n, err := consumeDouble(typ, v)
			r.Epsilon = &x
			return n, err
		case fieldRunID:
			s, n, err := consumeBytes(typ, v)
			r.RunID = string(s)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint.Unmarshal: %w", err)
	}
	return r, nil
}

// unmarshalTensor decodes a named tensor. The name is empty for optimizer
// buffer tensors.
func unmarshalTensor(b []byte) (string, []float64, error) {
	var (
		name   string
		values []float64
	)
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldName:
			s, n, err := consumeBytes(typ, v)
			name = string(s)
			return n, err
		case fieldValues:
			x, n, err := consumeDoubles(typ, v)
			values = append(values, x...)
			return n, err
		}
		return 0, nil
	})
	return name, values, err
}

func unmarshalState(b []byte) (*optim.State, error) {
	s := &optim.State{Buffers: map[string][][]float64{}}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldName:
			name, n, err := consumeBytes(typ, v)
			s.Name = string(name)
			return n, err
		case fieldBuffer:
			m, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			name, tensors, err := unmarshalBuffer(m)
			if err != nil {
				return 0, err
			}
			if _, dup := s.Buffers[name]; dup {
				return 0, fmt.Errorf("duplicate optimizer buffer %s", name)
			}
			s.Buffers[name] = tensors
			return n, nil
		}
		return 0, nil
	})
	return s, err
}

func unmarshalBuffer(b []byte) (string, [][]float64, error) {
	var (
		name    string
		tensors [][]float64
	)
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldName:
			s, n, err := consumeBytes(typ, v)
			name = string(s)
			return n, err
		case fieldTensor:
			m, n, err := consumeBytes(typ, v)
			if err != nil {
				return 0, err
			}
			_, values, err := unmarshalTensor(m)
			tensors = append(tensors, values)
			return n, err
		}
		return 0, nil
	})
	return name, tensors, err
}

// forEachField calls f with the value bytes of every field of b. f returns
// the number of bytes it consumed, or 0 for fields it does not know, which
// are skipped.
func forEachField(b []byte, f func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := f(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n == 0 {
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// appendDoubles writes vs as a packed repeated double.
func appendDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("wire type %d, want fixed64", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDoubles(typ protowire.Type, b []byte) ([]float64, int, error) {
	if typ == protowire.Fixed64Type {
		v, n, err := consumeDouble(typ, b)
		return []float64{v}, n, err
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}
	if len(packed)%8 != 0 {
		return nil, 0, fmt.Errorf("packed doubles of %d bytes", len(packed))
	}
	vs := make([]float64, 0, len(packed)/8)
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		vs = append(vs, math.Float64frombits(v))
		packed = packed[m:]
	}
	return vs, n, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
