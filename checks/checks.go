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

// Package checks contains argument checks for the privacy accountant, the
// noisy optimizers and the training configuration.
package checks

import (
	"fmt"
	"math"
	"sort"

	log "github.com/golang/glog"
)

// CheckDeltaStrict returns an error if δ is nonpositive or greater than or equal to 1.
func CheckDeltaStrict(label string, delta float64) error {
	if math.IsNaN(delta) {
		return fmt.Errorf("%s: Delta is %e, cannot be NaN", label, delta)
	}
	if delta <= 0 {
		return fmt.Errorf("%s: Delta is %e, must be strictly positive", label, delta)
	}
	if delta >= 1 {
		return fmt.Errorf("%s: Delta is %e, must be strictly less than 1", label, delta)
	}
	return nil
}

// CheckMaxEpsilon returns an error if the privacy budget ε is nonpositive or NaN.
// A budget of +∞ is accepted and never triggers.
func CheckMaxEpsilon(label string, epsilon float64) error {
	if epsilon <= 0 || math.IsNaN(epsilon) {
		return fmt.Errorf("%s: MaxEpsilon is %f, must be strictly positive", label, epsilon)
	}
	return nil
}

// CheckOrders returns an error if orders is empty, unsorted, or contains an
// order that is not strictly larger than 1. +∞ is a valid order.
func CheckOrders(label string, orders []float64) error {
	if len(orders) == 0 {
		return fmt.Errorf("%s: Orders must not be empty", label)
	}
	for i, a := range orders {
		if math.IsNaN(a) {
			return fmt.Errorf("%s: Order %d is NaN", label, i)
		}
		if a <= 1 {
			return fmt.Errorf("%s: Order %d is %f, must be strictly larger than 1", label, i, a)
		}
	}
	if !sort.Float64sAreSorted(orders) {
		return fmt.Errorf("%s: Orders must be sorted in ascending order", label)
	}
	return nil
}

// CheckSampleRate returns an error if the sampling rate q is not in (0, 1].
func CheckSampleRate(label string, q float64) error {
	if math.IsNaN(q) || q <= 0 || q > 1 {
		return fmt.Errorf("%s: SampleRate is %f, must be within (0, 1]", label, q)
	}
	return nil
}

// CheckNoiseMultiplier returns an error if σ is negative, NaN or +∞.
func CheckNoiseMultiplier(label string, sigma float64) error {
	if sigma < 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return fmt.Errorf("%s: NoiseMultiplier is %f, must be nonnegative and finite", label, sigma)
	}
	return nil
}

// CheckMaxGradNorm returns an error if the clipping bound C is nonpositive or NaN.
// Very large bounds are accepted; they effectively disable clipping.
func CheckMaxGradNorm(label string, c float64) error {
	if c <= 0 || math.IsNaN(c) {
		return fmt.Errorf("%s: MaxGradNorm is %f, must be strictly positive", label, c)
	}
	if math.IsInf(c, 1) {
		log.Warningf("%s: MaxGradNorm is +Inf, per-sample gradients will not be clipped", label)
	}
	return nil
}

// CheckBatchSizes returns an error if the logical batch size is not a positive
// multiple of the physical batch size.
func CheckBatchSizes(label string, logical, physical int) error {
	if physical <= 0 {
		return fmt.Errorf("%s: MiniBatchSize is %d, must be strictly positive", label, physical)
	}
	if logical <= 0 {
		return fmt.Errorf("%s: BatchSize is %d, must be strictly positive", label, logical)
	}
	if logical%physical != 0 {
		return fmt.Errorf("%s: BatchSize (%d) must be a multiple of MiniBatchSize (%d)", label, logical, physical)
	}
	return nil
}

// CheckLearningRate returns an error if the learning rate is nonpositive, NaN or +∞.
func CheckLearningRate(label string, lr float64) error {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return fmt.Errorf("%s: LearningRate is %f, must be strictly positive and finite", label, lr)
	}
	return nil
}
