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
	"errors"
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/model"
	"github.com/bogdan-kulynych/Handcrafted-DP/noise"
	"gonum.org/v1/gonum/floats"
)

// ErrEmptyBatch is returned by ApplyStep when no samples were accumulated
// and no expected batch size is configured to normalize by.
var ErrEmptyBatch = errors.New("optim: empty logical batch")

// GradBatch holds the per-sample gradients of a physical batch, indexed by
// sample, then parameter. It lives for a single call to ComputeStep.
type GradBatch struct {
	Grads [][][]float64
}

// Optimizer turns per-sample gradients into exactly one parameter update per
// logical batch. A logical batch is folded in with any number of
// ComputeStep calls, one per physical batch, followed by one ApplyStep.
type Optimizer interface {
	// ComputeStep adds a physical batch to the pending logical batch. It
	// may modify b.
	ComputeStep(b *GradBatch) error
	// ApplyStep updates params from the pending logical batch and clears
	// it. step is the 1-based index of the update.
	ApplyStep(params []*model.Param, step int64) error
	// Updater returns the base updater.
	Updater() Updater
	// LastStep describes the most recent ApplyStep.
	LastStep() StepStats
}

// StepStats describes one logical batch.
type StepStats struct {
	Samples int
	// Clipped is the number of samples whose gradient norm exceeded the
	// clipping bound.
	Clipped int
	// MeanNorm is the mean gradient norm before clipping.
	MeanNorm float64
}

// accumulator sums gradients across the samples of a logical batch.
type accumulator struct {
	sum     [][]float64
	samples int
	clipped int
	normSum float64
}

func (a *accumulator) add(label string, g [][]float64) error {
	if a.sum == nil {
		a.sum = copyBuffers(g)
		return nil
	}
	if len(g) != len(a.sum) {
		return fmt.Errorf("%s: sample has %d tensors, want %d", label, len(g), len(a.sum))
	}
	for i := range g {
		if len(g[i]) != len(a.sum[i]) {
			return fmt.Errorf("%s: sample tensor %d has %d values, want %d", label, i, len(g[i]), len(a.sum[i]))
		}
	}
	for i := range g {
		floats.Add(a.sum[i], g[i])
	}
	return nil
}

// take returns the summed gradient laid out like params and resets a.
func (a *accumulator) take(label string, params []*model.Param) ([][]float64, StepStats, error) {
	sum := a.sum
	if sum == nil {
		sum = model.ZerosLike(params)
	}
	if err := model.CheckShapes(label, params, sum); err != nil {
		return nil, StepStats{}, err
	}
	st := StepStats{Samples: a.samples, Clipped: a.clipped}
	if a.samples > 0 {
		st.MeanNorm = a.normSum / float64(a.samples)
	}
	*a = accumulator{}
	return sum, st, nil
}

// ClippedNoisyOptions contains the options necessary to initialize a
// ClippedNoisy optimizer.
type ClippedNoisyOptions struct {
	Base Updater // Required.
	// MaxGradNorm is the per-sample clipping bound C. Required.
	MaxGradNorm float64
	// NoiseMultiplier is σ; noise of standard deviation σ·C is added to the
	// summed gradient of every logical batch.
	NoiseMultiplier float64
	// Noise draws the Gaussian noise. Required when NoiseMultiplier > 0.
	Noise noise.Gaussian
	// ExpectedBatchSize normalizes the noisy sum. 0 normalizes by the
	// number of accumulated samples instead.
	ExpectedBatchSize float64
}

// ClippedNoisy is DP-SGD: per-sample clipping followed by Gaussian noise,
// wrapped around a base updater.
//
// Not thread-safe.
type ClippedNoisy struct {
	base         Updater
	maxGradNorm  float64
	sigma        float64
	noise        noise.Gaussian
	expectedSize float64

	acc  accumulator
	last StepStats
}

// NewClippedNoisy returns a new ClippedNoisy optimizer.
func NewClippedNoisy(opt *ClippedNoisyOptions) (*ClippedNoisy, error) {
	if opt == nil || opt.Base == nil {
		return nil, fmt.Errorf("NewClippedNoisy: a base updater is required")
	}
	if err := checks.CheckMaxGradNorm("NewClippedNoisy", opt.MaxGradNorm); err != nil {
		return nil, err
	}
	if err := checks.CheckNoiseMultiplier("NewClippedNoisy", opt.NoiseMultiplier); err != nil {
		return nil, err
	}
	if opt.NoiseMultiplier > 0 {
		if opt.Noise == nil {
			return nil, fmt.Errorf("NewClippedNoisy: a noise source is required when NoiseMultiplier is %f", opt.NoiseMultiplier)
		}
		if math.IsInf(opt.MaxGradNorm, 1) {
			return nil, fmt.Errorf("NewClippedNoisy: noise requires a finite MaxGradNorm")
		}
	}
	if opt.ExpectedBatchSize < 0 || math.IsNaN(opt.ExpectedBatchSize) || math.IsInf(opt.ExpectedBatchSize, 0) {
		return nil, fmt.Errorf("NewClippedNoisy: ExpectedBatchSize is %f, must be nonnegative and finite", opt.ExpectedBatchSize)
	}
	return &ClippedNoisy{
		base:         opt.Base,
		maxGradNorm:  opt.MaxGradNorm,
		sigma:        opt.NoiseMultiplier,
		noise:        opt.Noise,
		expectedSize: opt.ExpectedBatchSize,
	}, nil
}

// ComputeStep clips every sample of b to MaxGradNorm and adds it to the
// pending sum.
func (c *ClippedNoisy) ComputeStep(b *GradBatch) error {
	for _, g := range b.Grads {
		norm := ClipPerSample(g, c.maxGradNorm)
		if err := c.acc.add("ClippedNoisy.ComputeStep", g); err != nil {
			return err
		}
		c.acc.samples++
		c.acc.normSum += norm
		if norm > c.maxGradNorm {
			c.acc.clipped++
		}
	}
	return nil
}

// ApplyStep adds N(0, (σC)²) to every coordinate of the pending sum,
// normalizes it and applies it with the base updater.
func (c *ClippedNoisy) ApplyStep(params []*model.Param, step int64) error {
	denom := c.expectedSize
	if denom == 0 {
		denom = float64(c.acc.samples)
	}
	if denom == 0 {
		return fmt.Errorf("ClippedNoisy.ApplyStep: %w", ErrEmptyBatch)
	}
	sum, st, err := c.acc.take("ClippedNoisy.ApplyStep", params)
	if err != nil {
		return err
	}
	for _, g := range sum {
		if c.sigma > 0 {
			c.noise.AddNoiseSlice(g, c.sigma*c.maxGradNorm)
		}
		floats.Scale(1/denom, g)
	}
	if err := c.base.Update(params, sum, step); err != nil {
		return fmt.Errorf("ClippedNoisy.ApplyStep: %w", err)
	}
	c.last = st
	return nil
}

func (c *ClippedNoisy) Updater() Updater { return c.base }

func (c *ClippedNoisy) LastStep() StepStats { return c.last }

// Plain averages per-sample gradients without clipping or noise. It
// provides no privacy.
type Plain struct {
	base Updater
	acc  accumulator
	last StepStats
}

// NewPlain returns a Plain optimizer around base.
func NewPlain(base Updater) (*Plain, error) {
	if base == nil {
		return nil, fmt.Errorf("NewPlain: a base updater is required")
	}
	return &Plain{base: base}, nil
}

func (p *Plain) ComputeStep(b *GradBatch) error {
	for _, g := range b.Grads {
		if err := p.acc.add("Plain.ComputeStep", g); err != nil {
			return err
		}
		p.acc.samples++
		p.acc.normSum += GlobalNorm(g)
	}
	return nil
}

func (p *Plain) ApplyStep(params []*model.Param, step int64) error {
	n := p.acc.samples
	if n == 0 {
		return fmt.Errorf("Plain.ApplyStep: %w", ErrEmptyBatch)
	}
	sum, st, err := p.acc.take("Plain.ApplyStep", params)
	if err != nil {
		return err
	}
	for _, g := range sum {
		floats.Scale(1/float64(n), g)
	}
	if err := p.base.Update(params, sum, step); err != nil {
		return fmt.Errorf("Plain.ApplyStep: %w", err)
	}
	p.last = st
	return nil
}

func (p *Plain) Updater() Updater { return p.base }

func (p *Plain) LastStep() StepStats { return p.last }
