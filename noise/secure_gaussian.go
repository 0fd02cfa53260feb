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

package noise

import (
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
)

var (
	// The square root of the maximum number n of Bernoulli trials from which a binomial
	// sample is drawn. Larger values result in more fine-grained noise, but increase the
	// chance of sampling inaccuracies due to overflows.
	binomialBound = math.Exp2(57.0)
	// Bound on the two-sided geometric samples k, chosen so that
	//   m = (k + l) * (sqrt(2 * n) + 1)
	// cannot overflow an int64.
	geometricBound = (math.MaxInt64 / int64(math.Round(math.Sqrt2*binomialBound+1.0))) - 1
)

// secure samples Gaussian noise from a symmetric binomial distribution on a
// power-of-two grid, see
// https://github.com/google/differential-privacy/blob/main/common_docs/Secure_Noise_Generation.pdf
type secure struct {
	ctx *rand.Context
}

func (s *secure) AddNoise(x, sigma float64) float64 {
	if sigma == 0 {
		return x
	}
	granularity := ceilPowerOfTwo(2.0 * sigma / binomialBound)
	// sqrtN lies between binomialBound / 2 and binomialBound, so the binomial
	// distribution has enough trials to approximate a Gaussian closely.
	sqrtN := 2.0 * sigma / granularity
	sample := s.symmetricBinomial(sqrtN)
	return roundToMultipleOfPowerOfTwo(x, granularity) + float64(sample)*granularity
}

func (s *secure) AddNoiseSlice(xs []float64, sigma float64) { addSlice(s, xs, sigma) }

func (*secure) Kind() Kind { return SecureGaussian }

// symmetricBinomial returns a sample m where m + n/2 follows a binomial
// distribution of n fair Bernoulli trials, using Bringmann et al.'s rejection
// sampling (https://people.mpi-inf.mpg.de/~kbringma/paper/2014ICALP.pdf).
func (s *secure) symmetricBinomial(sqrtN float64) int64 {
	stepSize := int64(math.Round(math.Sqrt2*sqrtN + 1.0))
	for {
		// Subtract 1 to count failures instead of trials.
		bounded := int64(math.Min(s.ctx.Geometric()-1.0, float64(geometricBound)))
		twoSided := bounded
		if s.ctx.Boolean() {
			twoSided = -twoSided - 1
		}
		result := stepSize*twoSided + s.ctx.I63n(stepSize)
		p := binomialProbability(sqrtN, result)
		if p > 0 && s.ctx.Uniform() < p*float64(stepSize)*math.Pow(2.0, float64(bounded))/4.0 {
			return result
		}
	}
}

// binomialProbability approximates P[m + n/2] for a binomial distribution of
// n fair trials (Lemma 7 of the secure noise generation paper).
func binomialProbability(sqrtN float64, m int64) float64 {
	fm := float64(m)
	if math.Abs(fm) > sqrtN*math.Sqrt(math.Log(sqrtN)/2.0) {
		return 0.0
	}
	return (math.Sqrt(2.0/math.Pi) / sqrtN) *
		math.Exp((-2.0*fm*fm)/(sqrtN*sqrtN)) *
		(1 - 0.4*math.Pow(2.0, 1.5)*math.Pow(math.Log(sqrtN), 1.5)/sqrtN)
}

// ceilPowerOfTwo returns the smallest power of 2 larger or equal to x. x must
// be a finite positive number; NaN is returned otherwise or on overflow.
func ceilPowerOfTwo(x float64) float64 {
	if x <= 0 || math.IsInf(x, 0) || math.IsNaN(x) {
		return math.NaN()
	}
	frac, exp := math.Frexp(x)
	if frac == 0.5 {
		return x
	}
	p := math.Ldexp(1, exp)
	if math.IsInf(p, 0) {
		return math.NaN()
	}
	return p
}

// roundToMultipleOfPowerOfTwo returns the multiple of granularity closest to x.
func roundToMultipleOfPowerOfTwo(x, granularity float64) float64 {
	return math.Round(x/granularity) * granularity
}
