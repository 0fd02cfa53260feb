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

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
)

// AccountantOptions contains the options necessary to initialize an Accountant.
type AccountantOptions struct {
	Orders          []float64 // Rényi orders. Defaults to DefaultOrders().
	Delta           float64   // Target δ. Required, must be in (0, 1).
	SampleRate      float64   // Probability that a record is part of a logical batch. Required.
	NoiseMultiplier float64   // σ of every SGD step. Required, must be strictly positive.
	// Normalization is the one-time cost of releasing normalization
	// statistics before training. Optional; must be computed for Orders.
	Normalization Vector
}

// Accountant composes the one-time normalization cost with the cost of the
// SGD steps taken so far.
//
// The Accountant has no step counter of its own: callers pass the number of
// parameter updates explicitly, so that accounting cannot drift from the
// optimizer.
type Accountant struct {
	orders        []float64
	delta         float64
	sampleRate    float64
	sigma         float64
	perStep       Vector
	normalization Vector
}

// Spent is the privacy guarantee after a number of steps.
type Spent struct {
	Steps int64
	// Epsilon is the (ε, δ) guarantee of normalization and SGD combined.
	Epsilon float64
	// Order is the Rényi order achieving Epsilon.
	Order float64
	// SGDEpsilon is the guarantee of the SGD steps alone.
	SGDEpsilon float64
}

// NewAccountant returns a new Accountant.
func NewAccountant(opt *AccountantOptions) (*Accountant, error) {
	if opt == nil {
		opt = &AccountantOptions{}
	}
	orders := opt.Orders
	if orders == nil {
		orders = DefaultOrders()
	}
	if err := checks.CheckOrders("NewAccountant", orders); err != nil {
		return nil, err
	}
	if err := checks.CheckDeltaStrict("NewAccountant", opt.Delta); err != nil {
		return nil, err
	}
	if opt.NoiseMultiplier == 0 {
		return nil, fmt.Errorf("NewAccountant: NoiseMultiplier is 0, the mechanism provides no privacy")
	}
	perStep, err := RenyiDivergence(opt.SampleRate, opt.NoiseMultiplier, orders)
	if err != nil {
		return nil, fmt.Errorf("NewAccountant: %w", err)
	}
	normalization := opt.Normalization
	if normalization == nil {
		normalization = Zero(orders)
	}
	if len(normalization) != len(orders) {
		return nil, fmt.Errorf("NewAccountant: normalization cost has %d entries for %d orders", len(normalization), len(orders))
	}
	return &Accountant{
		orders:        append([]float64(nil), orders...),
		delta:         opt.Delta,
		sampleRate:    opt.SampleRate,
		sigma:         opt.NoiseMultiplier,
		perStep:       perStep,
		normalization: append(Vector(nil), normalization...),
	}, nil
}

// Orders returns the orders the accountant tracks.
func (a *Accountant) Orders() []float64 { return append([]float64(nil), a.orders...) }

// Delta returns the target δ.
func (a *Accountant) Delta() float64 { return a.delta }

// SGD returns the RDP of steps SGD steps, without the normalization cost.
func (a *Accountant) SGD(steps int64) Vector {
	return a.perStep.Scale(float64(steps))
}

// Total returns the RDP of the normalization release and steps SGD steps.
func (a *Accountant) Total(steps int64) (Vector, error) {
	return a.normalization.Add(a.SGD(steps))
}

// Spent returns the (ε, δ) guarantee after steps parameter updates. A
// non-finite ε is reported as an error.
func (a *Accountant) Spent(steps int64) (Spent, error) {
	if steps < 0 {
		return Spent{}, fmt.Errorf("Accountant.Spent: steps is %d, must be nonnegative", steps)
	}
	total, err := a.Total(steps)
	if err != nil {
		return Spent{}, fmt.Errorf("Accountant.Spent: %w", err)
	}
	eps, order, err := PrivacySpent(total, a.orders, a.delta)
	if err != nil {
		return Spent{}, fmt.Errorf("Accountant.Spent: %w", err)
	}
	if math.IsInf(eps, 0) || math.IsNaN(eps) {
		return Spent{}, fmt.Errorf("Accountant.Spent: epsilon is %v after %d steps, no order yields a finite guarantee", eps, steps)
	}
	sgdEps, _, err := PrivacySpent(a.SGD(steps), a.orders, a.delta)
	if err != nil {
		return Spent{}, fmt.Errorf("Accountant.Spent: %w", err)
	}
	return Spent{Steps: steps, Epsilon: eps, Order: order, SGDEpsilon: sgdEps}, nil
}
