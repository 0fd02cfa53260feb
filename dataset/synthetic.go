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

package dataset

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// SyntheticOptions configures NewSynthetic.
type SyntheticOptions struct {
	N       int     // Number of records.
	Classes int     // Number of classes.
	Shape   []int   // C×H×W.
	Noise   float64 // Standard deviation of pixel noise around the class prototype.
}

// NewSynthetic generates a dataset where every class has a random prototype
// image and records are noisy copies of their class prototype. Prototypes
// are drawn from ctx.Child("prototypes") and records from ctx.Child(split),
// so splits generated from equal contexts share prototypes.
func NewSynthetic(opt SyntheticOptions, ctx *rand.Context, split string) (*Dataset, error) {
	if opt.N <= 0 || opt.Classes <= 0 {
		return nil, fmt.Errorf("dataset.NewSynthetic: N (%d) and Classes (%d) must be positive", opt.N, opt.Classes)
	}
	if len(opt.Shape) != 3 {
		return nil, fmt.Errorf("dataset.NewSynthetic: shape %v is not C×H×W", opt.Shape)
	}
	size := tensor.Size(opt.Shape)
	protoRNG := ctx.Child("prototypes")
	protos := make([][]float64, opt.Classes)
	for k := range protos {
		protos[k] = make([]float64, size)
		for j := range protos[k] {
			protos[k][j] = protoRNG.Float64()
		}
	}
	rng := ctx.Child(split)
	pixels := make([]uint8, 0, opt.N*size)
	labels := make([]uint8, opt.N)
	for i := range labels {
		k := i % opt.Classes
		labels[i] = uint8(k)
		for _, p := range protos[k] {
			v := p + opt.Noise*rng.Normal()
			v = math.Min(math.Max(v, 0), 1)
			pixels = append(pixels, uint8(math.Round(v*255)))
		}
	}
	// Shuffle so that consecutive records mix classes.
	perm := rng.Perm(opt.N)
	shuffledPixels := make([]uint8, len(pixels))
	shuffledLabels := make([]uint8, opt.N)
	for dst, src := range perm {
		copy(shuffledPixels[dst*size:(dst+1)*size], pixels[src*size:(src+1)*size])
		shuffledLabels[dst] = labels[src]
	}
	return New(Synthetic, opt.Shape, opt.Classes, shuffledPixels, shuffledLabels)
}
