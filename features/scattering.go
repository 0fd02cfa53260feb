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

package features

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// ScatteringChannels is the number of feature maps produced per input
// channel: one low-pass map, 3 first-order maps of the low-pass image, and
// for each of the 3 first-level detail bands one low-pass map and 3
// second-order maps.
const ScatteringChannels = 1 + 3 + 3*(1+3)

// Scattering is a two-scale Haar scattering transform. Each scale applies
// the 2×2 Haar filter bank (one averaging and three oriented difference
// filters) followed by a pointwise modulus, halving the spatial resolution.
// An H×W image therefore yields H/4×W/4 maps.
type Scattering struct{}

// Name implements Extractor.
func (Scattering) Name() string { return "haar-scattering-j2" }

// OutputShape implements Extractor.
func (Scattering) OutputShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("features.Scattering: input shape %v is not C×H×W", in)
	}
	c, h, w := in[0], in[1], in[2]
	if c <= 0 || h <= 0 || w <= 0 || h%4 != 0 || w%4 != 0 {
		return nil, fmt.Errorf("features.Scattering: input shape %v needs positive dimensions with H and W divisible by 4", in)
	}
	return []int{ScatteringChannels * c, h / 4, w / 4}, nil
}

// Extract implements Extractor.
func (s Scattering) Extract(x *tensor.Tensor) (*tensor.Tensor, error) {
	outShape, err := s.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	out := tensor.New(outShape...)
	plane := (h / 4) * (w / 4)
	for ch := 0; ch < c; ch++ {
		maps := scatterPlane(x.Data[ch*h*w:(ch+1)*h*w], h, w)
		for k, m := range maps {
			copy(out.Data[(ch*ScatteringChannels+k)*plane:], m)
		}
	}
	return out, nil
}

// scatterPlane returns the ScatteringChannels maps of a single h×w plane.
func scatterPlane(p []float64, h, w int) [][]float64 {
	maps := make([][]float64, 0, ScatteringChannels)
	low1, detail1 := haar(p, h, w)
	low2, detail2 := haar(low1, h/2, w/2)
	maps = append(maps, low2)
	for _, d := range detail2 {
		maps = append(maps, modulus(d))
	}
	for _, d := range detail1 {
		low, detail := haar(modulus(d), h/2, w/2)
		maps = append(maps, low)
		for _, dd := range detail {
			maps = append(maps, modulus(dd))
		}
	}
	return maps
}

// haar applies the 2×2 Haar filter bank with stride 2.
func haar(p []float64, h, w int) (low []float64, detail [3][]float64) {
	oh, ow := h/2, w/2
	low = make([]float64, oh*ow)
	for k := range detail {
		detail[k] = make([]float64, oh*ow)
	}
	for i := 0; i < oh; i++ {
		for j := 0; j < ow; j++ {
			a := p[(2*i)*w+2*j]
			b := p[(2*i)*w+2*j+1]
			c := p[(2*i+1)*w+2*j]
			d := p[(2*i+1)*w+2*j+1]
			o := i*ow + j
			low[o] = (a + b + c + d) / 4
			detail[0][o] = (a + b - c - d) / 4
			detail[1][o] = (a - b + c - d) / 4
			detail[2][o] = (a - b - c + d) / 4
		}
	}
	return low, detail
}

func modulus(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = math.Abs(v)
	}
	return out
}
