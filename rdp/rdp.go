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

// Package rdp implements Rényi differential privacy accounting for the
// subsampled Gaussian mechanism used by DP-SGD.
//
// The privacy cost of a mechanism is tracked as a Vector holding one Rényi
// divergence per order α. Vectors of independent mechanisms compose by
// elementwise addition, and a composed Vector converts to an (ε, δ)
// guarantee with PrivacySpent.
//
// The computations follow Mironov, Talwar and Zhang, "Rényi Differential
// Privacy of the Sampled Gaussian Mechanism" (https://arxiv.org/abs/1908.10530).
// All intermediate quantities are kept in log space so that large orders do
// not overflow.
package rdp

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
)

// RenyiDivergence returns the Rényi divergence of a single step of the
// sampled Gaussian mechanism with sampling rate q and noise multiplier sigma,
// at every order in orders.
//
// A noise multiplier of 0 adds no noise; every entry is then +∞ and callers
// must not use the result as a privacy guarantee.
func RenyiDivergence(q, sigma float64, orders []float64) (Vector, error) {
	if err := checks.CheckSampleRate("RenyiDivergence", q); err != nil {
		return nil, err
	}
	if err := checks.CheckNoiseMultiplier("RenyiDivergence", sigma); err != nil {
		return nil, err
	}
	if err := checks.CheckOrders("RenyiDivergence", orders); err != nil {
		return nil, err
	}
	out := make(Vector, len(orders))
	for i, alpha := range orders {
		v, err := computeRDP(q, sigma, alpha)
		if err != nil {
			return nil, fmt.Errorf("RenyiDivergence: order %v: %w", alpha, err)
		}
		if math.IsNaN(v) || v < 0 {
			return nil, fmt.Errorf("RenyiDivergence: order %v: divergence is %v, must be nonnegative", alpha, v)
		}
		out[i] = v
	}
	return out, nil
}

// computeRDP computes the divergence at a single order.
func computeRDP(q, sigma, alpha float64) (float64, error) {
	if sigma == 0 || math.IsInf(alpha, 1) {
		return math.Inf(1), nil
	}
	if q == 1 {
		// No amplification by subsampling: plain Gaussian mechanism.
		return alpha / (2 * sigma * sigma), nil
	}
	var logA float64
	var err error
	if alpha == math.Trunc(alpha) {
		logA = logAInt(q, sigma, int(alpha))
	} else {
		logA, err = logAFrac(q, sigma, alpha)
		if err != nil {
			return 0, err
		}
	}
	// Rounding may push tiny divergences below zero.
	return math.Max(logA/(alpha-1), 0), nil
}

// logAInt computes log(A_α) for integer α by expanding the binomial sum.
func logAInt(q, sigma float64, alpha int) float64 {
	logA := math.Inf(-1)
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	for i := 0; i <= alpha; i++ {
		fi := float64(i)
		logCoef := logBinom(float64(alpha), fi) + fi*logQ + float64(alpha-i)*log1mQ
		s := logCoef + (fi*fi-fi)/(2*sigma*sigma)
		logA = logAdd(logA, s)
	}
	return logA
}

// logAFrac computes log(A_α) for fractional α with the two-sided series of
// the paper, truncated once both terms fall below e⁻³⁰.
func logAFrac(q, sigma, alpha float64) (float64, error) {
	logA0, logA1 := math.Inf(-1), math.Inf(-1)
	z0 := sigma*sigma*math.Log(1/q-1) + 0.5
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	for i := 0.0; ; i++ {
		logCoef, sign := logAbsBinom(alpha, i)
		j := alpha - i

		logT0 := logCoef + i*logQ + j*log1mQ
		logT1 := logCoef + j*logQ + i*log1mQ

		logE0 := math.Log(0.5) + logErfc((i-z0)/(math.Sqrt2*sigma))
		logE1 := math.Log(0.5) + logErfc((z0-j)/(math.Sqrt2*sigma))

		logS0 := logT0 + (i*i-i)/(2*sigma*sigma) + logE0
		logS1 := logT1 + (j*j-j)/(2*sigma*sigma) + logE1

		if sign > 0 {
			logA0 = logAdd(logA0, logS0)
			logA1 = logAdd(logA1, logS1)
		} else {
			var err error
			if logA0, err = logSub(logA0, logS0); err != nil {
				return 0, err
			}
			if logA1, err = logSub(logA1, logS1); err != nil {
				return 0, err
			}
		}
		if math.Max(logS0, logS1) < -30 {
			break
		}
	}
	return logAdd(logA0, logA1), nil
}

// logAdd returns log(exp(x) + exp(y)).
func logAdd(x, y float64) float64 {
	a, b := math.Min(x, y), math.Max(x, y)
	if math.IsInf(a, -1) {
		return b
	}
	return math.Log1p(math.Exp(a-b)) + b
}

// logSub returns log(exp(x) - exp(y)). It fails if the difference is negative.
func logSub(x, y float64) (float64, error) {
	if x < y {
		return 0, fmt.Errorf("logSub: result of log(exp(%v) - exp(%v)) is undefined", x, y)
	}
	if math.IsInf(y, -1) {
		return x, nil
	}
	if x == y {
		return math.Inf(-1), nil
	}
	d := math.Expm1(x - y)
	if math.IsInf(d, 1) {
		return x, nil
	}
	return math.Log(d) + y, nil
}

const erfcAsymptotic = 26

// logErfc returns log(erfc(x)), switching to an asymptotic expansion before
// erfc leaves the normal float64 range.
func logErfc(x float64) float64 {
	// erfc(26) is about 5.7e-296. Past it math.Erfc goes subnormal and its
	// logarithm is wrong by tens of nats.
	if x < erfcAsymptotic {
		return math.Log(math.Erfc(x))
	}
	x2 := x * x
	return -math.Log(math.Pi)/2 - math.Log(x) - x2 -
		0.5/x2 + 0.625/(x2*x2) - 37.0/(24.0*x2*x2*x2) + 353.0/(64.0*x2*x2*x2*x2)
}

// logBinom returns log C(n, k) for 0 ≤ k ≤ n.
func logBinom(n, k float64) float64 {
	l, _ := logAbsBinom(n, k)
	return l
}

// logAbsBinom returns log|C(a, k)| and the sign of C(a, k) for real a ≥ 0 and
// integer k ≥ 0, via the generalized binomial coefficient
// Γ(a+1) / (Γ(k+1) Γ(a-k+1)).
func logAbsBinom(a, k float64) (float64, int) {
	la, sa := math.Lgamma(a + 1)
	lk, _ := math.Lgamma(k + 1)
	lr, sr := math.Lgamma(a - k + 1)
	return la - lk - lr, sa * sr
}
