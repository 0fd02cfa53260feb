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

package rdp

import "fmt"

// Vector holds one Rényi divergence per order. It is only meaningful
// together with the orders it was computed for.
type Vector []float64

// Zero returns the divergence of a mechanism that releases nothing.
func Zero(orders []float64) Vector {
	return make(Vector, len(orders))
}

// Add returns the composition v + w. Both vectors must be computed for the
// same orders.
func (v Vector) Add(w Vector) (Vector, error) {
	if len(v) != len(w) {
		return nil, fmt.Errorf("rdp.Vector.Add: lengths differ (%d vs %d)", len(v), len(w))
	}
	out := make(Vector, len(v))
	for i := range v {
		out[i] = v[i] + w[i]
	}
	return out, nil
}

// Scale returns the composition of steps independent runs of v.
func (v Vector) Scale(steps float64) Vector {
	out := make(Vector, len(v))
	for i := range v {
		if v[i] == 0 {
			// 0 × ∞ steps stays 0 instead of NaN.
			continue
		}
		out[i] = v[i] * steps
	}
	return out
}

// Compose sums any number of vectors.
func Compose(orders []float64, vs ...Vector) (Vector, error) {
	total := Zero(orders)
	for _, v := range vs {
		var err error
		if total, err = total.Add(v); err != nil {
			return nil, err
		}
	}
	return total, nil
}
