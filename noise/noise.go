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

// Package noise adds calibrated Gaussian noise to data.
//
// Unlike an (ε,δ)-calibrated mechanism, the callers in this module pick the
// standard deviation directly (noise multiplier × sensitivity) and account for
// the privacy cost separately in Rényi differential privacy.
package noise

import (
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
)

// Kind is an enum type. Its values are the supported Gaussian samplers.
type Kind int

// Gaussian samplers.
const (
	// FastGaussian draws from a floating-point normal distribution.
	FastGaussian Kind = iota
	// SecureGaussian draws from a discretized binomial approximation that is
	// robust against floating-point leakage, at a much higher cost per sample.
	SecureGaussian
)

func (k Kind) String() string {
	switch k {
	case FastGaussian:
		return "fast"
	case SecureGaussian:
		return "secure"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Gaussian adds zero-mean Gaussian noise of a given standard deviation.
//
// Implementations are not safe for concurrent use, since they consume the
// random context they were built with.
type Gaussian interface {
	// AddNoise returns x plus a sample from N(0, sigma²). A sigma of 0 returns x.
	AddNoise(x, sigma float64) float64
	// AddNoiseSlice adds independent N(0, sigma²) samples to every element of xs in place.
	AddNoiseSlice(xs []float64, sigma float64)
	// Kind returns the sampler kind.
	Kind() Kind
}

// New returns a Gaussian sampler of the given kind drawing from ctx.
func New(k Kind, ctx *rand.Context) (Gaussian, error) {
	if ctx == nil {
		return nil, fmt.Errorf("noise.New: random context must be set")
	}
	switch k {
	case FastGaussian:
		return newFast(ctx), nil
	case SecureGaussian:
		return &secure{ctx: ctx}, nil
	}
	return nil, fmt.Errorf("noise.New: unknown kind %v", k)
}

func addSlice(g Gaussian, xs []float64, sigma float64) {
	if sigma == 0 {
		return
	}
	for i := range xs {
		xs[i] = g.AddNoise(xs[i], sigma)
	}
}
