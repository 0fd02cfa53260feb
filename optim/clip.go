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

package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// GlobalNorm returns the L2 norm of all values of a sample's gradient taken
// together.
func GlobalNorm(grads [][]float64) float64 {
	sum := 0.0
	for _, g := range grads {
		n := floats.Norm(g, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// ClipPerSample scales grads in place so that their joint L2 norm is at most
// maxNorm, and returns the norm before clipping.
func ClipPerSample(grads [][]float64, maxNorm float64) float64 {
	norm := GlobalNorm(grads)
	if norm > maxNorm {
		scale := maxNorm / norm
		for _, g := range grads {
			floats.Scale(scale, g)
		}
	}
	return norm
}
