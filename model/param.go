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

package model

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// Param is a trainable parameter. Data is laid out row-major according to
// Shape.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
}

func newParam(shape ...int) *Param {
	return &Param{Shape: append([]int(nil), shape...), Data: make([]float64, tensor.Size(shape))}
}

// Len returns the number of values.
func (p *Param) Len() int { return len(p.Data) }

// initUniform fills p with values drawn uniformly from (-bound, bound].
func (p *Param) initUniform(ctx *rand.Context, bound float64) {
	for i := range p.Data {
		p.Data[i] = bound * (2*ctx.Uniform() - 1)
	}
}

// kaimingBound returns the bound of PyTorch's default initialization of
// convolutional and linear layers, which draws weights and biases from
// U(-1/√fanIn, 1/√fanIn).
func kaimingBound(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}

// CheckShapes verifies that values has one slice per parameter with the
// parameter's number of elements.
func CheckShapes(label string, params []*Param, values [][]float64) error {
	if len(values) != len(params) {
		return fmt.Errorf("%s: got %d tensors for %d parameters", label, len(values), len(params))
	}
	for i, p := range params {
		if len(values[i]) != p.Len() {
			return fmt.Errorf("%s: parameter %s has %d values, got %d: %w", label, p.Name, p.Len(), len(values[i]), tensor.ErrShapeMismatch)
		}
	}
	return nil
}

// ZerosLike returns zeroed value slices laid out like params.
func ZerosLike(params []*Param) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, p.Len())
	}
	return out
}
