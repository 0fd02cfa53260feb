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

// Package normstats estimates per-channel normalization statistics of
// extracted features under differential privacy.
//
// The Estimator releases a noisy mean and a noisy mean of squares per
// channel through the Gaussian mechanism applied to the full training set,
// and derives the variance from them. Its privacy cost is reported as an RDP
// vector that composes with the cost of training.
package normstats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/noise"
	"github.com/bogdan-kulynych/Handcrafted-DP/rdp"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	log "github.com/golang/glog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrShapeMismatch is returned when a sample does not have the shape of
	// the samples added before it.
	ErrShapeMismatch = errors.New("normstats: feature shape mismatch")
	// ErrResultReturned is returned when the estimator is used after Result.
	ErrResultReturned = errors.New("normstats: result was already computed and returned")
)

// Stats holds per-channel normalization statistics.
type Stats struct {
	Mean []float64 `json:"mean"`
	Var  []float64 `json:"var"`
}

// Channels returns the number of channels.
func (s *Stats) Channels() int { return len(s.Mean) }

// Options contains the options necessary to initialize an Estimator.
type Options struct {
	// NoiseMultiplier is σ of both Gaussian releases. 0 computes exact
	// statistics without privacy.
	NoiseMultiplier float64
	// MeanClip bounds the L2 norm of each sample's vector of channel means.
	// 0 uses the median norm over the samples, which is not itself private.
	MeanClip float64
	// SquareClip bounds the L2 norm of each sample's vector of channel
	// squared means. 0 uses the median norm.
	SquareClip float64
	// SampleSize caps the number of samples used. 0 uses every sample.
	SampleSize int
	// Orders are the Rényi orders of the reported cost. Defaults to
	// rdp.DefaultOrders().
	Orders []float64
	// Noise draws the Gaussian noise. Required when NoiseMultiplier > 0.
	Noise noise.Gaussian
}

// Estimator accumulates per-sample channel statistics.
//
// Not thread-safe.
type Estimator struct {
	sigma      float64
	meanClip   float64
	squareClip float64
	sampleSize int
	orders     []float64
	noise      noise.Gaussian

	shape   []int
	means   [][]float64
	squares [][]float64
	state   state
}

// New returns a new Estimator.
func New(opt *Options) (*Estimator, error) {
	if opt == nil {
		opt = &Options{}
	}
	if err := checks.CheckNoiseMultiplier("normstats.New", opt.NoiseMultiplier); err != nil {
		return nil, err
	}
	if opt.MeanClip < 0 || opt.SquareClip < 0 || math.IsNaN(opt.MeanClip) || math.IsNaN(opt.SquareClip) {
		return nil, fmt.Errorf("normstats.New: clipping thresholds (%f, %f) must be nonnegative", opt.MeanClip, opt.SquareClip)
	}
	if opt.SampleSize < 0 {
		return nil, fmt.Errorf("normstats.New: SampleSize is %d, must be nonnegative", opt.SampleSize)
	}
	if opt.NoiseMultiplier > 0 && opt.Noise == nil {
		return nil, fmt.Errorf("normstats.New: a noise source is required when NoiseMultiplier is %f", opt.NoiseMultiplier)
	}
	orders := opt.Orders
	if orders == nil {
		orders = rdp.DefaultOrders()
	}
	if err := checks.CheckOrders("normstats.New", orders); err != nil {
		return nil, err
	}
	if opt.NoiseMultiplier > 0 && (opt.MeanClip == 0 || opt.SquareClip == 0) {
		log.Warningf("normstats: clipping to the median norm depends on the data and is not covered by the reported privacy cost")
	}
	return &Estimator{
		sigma:      opt.NoiseMultiplier,
		meanClip:   opt.MeanClip,
		squareClip: opt.SquareClip,
		sampleSize: opt.SampleSize,
		orders:     orders,
		noise:      opt.Noise,
	}, nil
}

// Full reports whether SampleSize samples have been added.
func (e *Estimator) Full() bool {
	return e.sampleSize > 0 && len(e.means) >= e.sampleSize
}

// Add adds the K×H×W features of one sample. Samples beyond SampleSize are
// ignored.
func (e *Estimator) Add(f *tensor.Tensor) error {
	if e.state != stateDefault {
		return fmt.Errorf("normstats.Add: %w", ErrResultReturned)
	}
	if len(f.Shape) != 3 || f.Len() == 0 {
		return fmt.Errorf("normstats.Add: shape %v is not K×H×W: %w", f.Shape, ErrShapeMismatch)
	}
	if e.shape == nil {
		e.shape = append([]int(nil), f.Shape...)
	} else if !tensor.EqualShapes(e.shape, f.Shape) {
		return fmt.Errorf("normstats.Add: shape %v, want %v: %w", f.Shape, e.shape, ErrShapeMismatch)
	}
	if e.Full() {
		return nil
	}
	k := f.Shape[0]
	plane := f.Shape[1] * f.Shape[2]
	mean := make([]float64, k)
	square := make([]float64, k)
	for c := 0; c < k; c++ {
		vs := f.Data[c*plane : (c+1)*plane]
		mean[c] = stat.Mean(vs, nil)
		square[c] = floats.Dot(vs, vs) / float64(plane)
	}
	e.means = append(e.means, mean)
	e.squares = append(e.squares, square)
	return nil
}

// Result returns the statistics and their privacy cost. It may be called
// only once.
func (e *Estimator) Result() (*Stats, rdp.Vector, error) {
	if e.state != stateDefault {
		return nil, nil, fmt.Errorf("normstats.Result: %w", ErrResultReturned)
	}
	if len(e.means) == 0 {
		return nil, nil, fmt.Errorf("normstats.Result: no samples were added")
	}
	e.state = stateResultReturned

	cost, err := Cost(e.sigma, e.orders)
	if err != nil {
		return nil, nil, err
	}
	n := float64(len(e.means))
	var mean, square []float64
	if e.sigma == 0 {
		mean = average(e.means, math.Inf(1))
		square = average(e.squares, math.Inf(1))
	} else {
		meanClip := e.meanClip
		if meanClip == 0 {
			meanClip = medianNorm(e.means)
		}
		squareClip := e.squareClip
		if squareClip == 0 {
			squareClip = medianNorm(e.squares)
		}
		mean = e.noisyAverage(e.means, meanClip, n)
		square = e.noisyAverage(e.squares, squareClip, n)
		log.V(1).Infof("normstats: released statistics of %d samples with clipping thresholds %f and %f", len(e.means), meanClip, squareClip)
	}
	variance := make([]float64, len(mean))
	for c := range mean {
		variance[c] = math.Max(square[c]-mean[c]*mean[c], 0)
	}
	return &Stats{Mean: mean, Var: variance}, cost, nil
}

// Cost returns the RDP of releasing the statistics with noise multiplier
// sigma: two Gaussian mechanisms over the full dataset, without
// amplification by subsampling.
func Cost(sigma float64, orders []float64) (rdp.Vector, error) {
	if sigma == 0 {
		return rdp.Zero(orders), nil
	}
	v, err := rdp.RenyiDivergence(1, sigma, orders)
	if err != nil {
		return nil, fmt.Errorf("normstats.Cost: %w", err)
	}
	return v.Scale(2), nil
}

func (e *Estimator) noisyAverage(vs [][]float64, clip, n float64) []float64 {
	sum := average(vs, clip)
	floats.Scale(n, sum)
	e.noise.AddNoiseSlice(sum, clip*e.sigma)
	floats.Scale(1/n, sum)
	return sum
}

// average returns the mean of vs after scaling every vector to L2 norm at
// most clip.
func average(vs [][]float64, clip float64) []float64 {
	sum := make([]float64, len(vs[0]))
	for _, v := range vs {
		scale := 1.0
		if norm := floats.Norm(v, 2); norm > clip {
			scale = clip / norm
		}
		floats.AddScaled(sum, scale, v)
	}
	floats.Scale(1/float64(len(vs)), sum)
	return sum
}

func medianNorm(vs [][]float64) float64 {
	norms := make([]float64, len(vs))
	for i, v := range vs {
		norms[i] = floats.Norm(v, 2)
	}
	sort.Float64s(norms)
	return stat.Quantile(0.5, stat.Empirical, norms, nil)
}
