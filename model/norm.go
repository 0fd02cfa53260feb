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

	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// normEpsilon is added to variances before taking square roots.
const normEpsilon = 1e-5

// GroupNorm normalizes each group of consecutive channels of a sample to
// zero mean and unit variance. It has no affine parameters.
type GroupNorm struct {
	Groups, Channels int
}

type groupNormCache struct {
	xhat   *tensor.Tensor
	invStd []float64
}

func (GroupNorm) Kind() string { return "GroupNorm" }

func (GroupNorm) Params() []*Param { return nil }

func (g GroupNorm) OutputShape(in []int) ([]int, error) {
	if len(in) != 3 || in[0] != g.Channels {
		return nil, fmt.Errorf("GroupNorm: input shape %v, want %d×H×W: %w", in, g.Channels, tensor.ErrShapeMismatch)
	}
	if g.Groups <= 0 || g.Channels%g.Groups != 0 {
		return nil, fmt.Errorf("GroupNorm: %d groups do not divide %d channels", g.Groups, g.Channels)
	}
	return append([]int(nil), in...), nil
}

func (g GroupNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	n := x.Len() / g.Groups
	y := tensor.New(x.Shape...)
	invStd := make([]float64, g.Groups)
	for grp := 0; grp < g.Groups; grp++ {
		vs := x.Data[grp*n : (grp+1)*n]
		mean, variance := 0.0, 0.0
		for _, v := range vs {
			mean += v
		}
		mean /= float64(n)
		for _, v := range vs {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(n)
		invStd[grp] = 1 / math.Sqrt(variance+normEpsilon)
		out := y.Data[grp*n : (grp+1)*n]
		for i, v := range vs {
			out[i] = (v - mean) * invStd[grp]
		}
	}
	return y, &groupNormCache{xhat: y, invStd: invStd}
}

func (g GroupNorm) Backward(cache Cache, dy *tensor.Tensor, _ [][]float64) *tensor.Tensor {
	gc := cache.(*groupNormCache)
	n := dy.Len() / g.Groups
	dx := tensor.New(dy.Shape...)
	for grp := 0; grp < g.Groups; grp++ {
		d := dy.Data[grp*n : (grp+1)*n]
		xh := gc.xhat.Data[grp*n : (grp+1)*n]
		sum, dot := 0.0, 0.0
		for i := range d {
			sum += d[i]
			dot += d[i] * xh[i]
		}
		scale := gc.invStd[grp] / float64(n)
		out := dx.Data[grp*n : (grp+1)*n]
		for i := range d {
			out[i] = scale * (float64(n)*d[i] - sum - xh[i]*dot)
		}
	}
	return dx
}

// Standardize normalizes every channel with fixed statistics computed before
// training.
type Standardize struct {
	Mean, Var []float64
}

func (Standardize) Kind() string { return "Standardize" }

func (Standardize) Params() []*Param { return nil }

func (s Standardize) OutputShape(in []int) ([]int, error) {
	if len(s.Mean) != len(s.Var) {
		return nil, fmt.Errorf("Standardize: %d means for %d variances", len(s.Mean), len(s.Var))
	}
	if len(in) != 3 || in[0] != len(s.Mean) {
		return nil, fmt.Errorf("Standardize: input shape %v, want %d×H×W: %w", in, len(s.Mean), tensor.ErrShapeMismatch)
	}
	return append([]int(nil), in...), nil
}

func (s Standardize) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	plane := x.Len() / x.Shape[0]
	y := tensor.New(x.Shape...)
	for c := range s.Mean {
		inv := 1 / math.Sqrt(s.Var[c]+normEpsilon)
		for i := c * plane; i < (c+1)*plane; i++ {
			y.Data[i] = (x.Data[i] - s.Mean[c]) * inv
		}
	}
	return y, nil
}

func (s Standardize) Backward(_ Cache, dy *tensor.Tensor, _ [][]float64) *tensor.Tensor {
	plane := dy.Len() / dy.Shape[0]
	dx := tensor.New(dy.Shape...)
	for c := range s.Var {
		inv := 1 / math.Sqrt(s.Var[c]+normEpsilon)
		for i := c * plane; i < (c+1)*plane; i++ {
			dx.Data[i] = dy.Data[i] * inv
		}
	}
	return dx
}
