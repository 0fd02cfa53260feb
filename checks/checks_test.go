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

package checks

import (
	"math"
	"testing"
)

func TestCheckDeltaStrict(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		delta   float64
		wantErr bool
	}{
		{"zero delta",
			0,
			true},
		{"negative delta",
			-0.1,
			true},
		{"delta is NaN",
			math.NaN(),
			true},
		{"delta is one",
			1,
			true},
		{"small delta",
			1e-5,
			false},
	} {
		if err := CheckDeltaStrict("test", tc.delta); (err != nil) != tc.wantErr {
			t.Errorf("CheckDeltaStrict: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckOrders(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		orders  []float64
		wantErr bool
	}{
		{"empty orders",
			nil,
			true},
		{"order equal to one",
			[]float64{1, 2, 3},
			true},
		{"order below one",
			[]float64{0.5, 2},
			true},
		{"NaN order",
			[]float64{1.5, math.NaN()},
			true},
		{"unsorted orders",
			[]float64{3, 2},
			true},
		{"fractional and integer orders",
			[]float64{1.1, 1.5, 2, 32},
			false},
		{"infinite order",
			[]float64{2, math.Inf(1)},
			false},
	} {
		if err := CheckOrders("test", tc.orders); (err != nil) != tc.wantErr {
			t.Errorf("CheckOrders: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckSampleRate(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		q       float64
		wantErr bool
	}{
		{"zero rate", 0, true},
		{"negative rate", -0.5, true},
		{"rate above one", 1.01, true},
		{"NaN rate", math.NaN(), true},
		{"full batch", 1, false},
		{"small rate", 0.004, false},
	} {
		if err := CheckSampleRate("test", tc.q); (err != nil) != tc.wantErr {
			t.Errorf("CheckSampleRate: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckNoiseMultiplier(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		sigma   float64
		wantErr bool
	}{
		{"negative sigma", -1, true},
		{"NaN sigma", math.NaN(), true},
		{"infinite sigma", math.Inf(1), true},
		{"zero sigma", 0, false},
		{"positive sigma", 1.3, false},
	} {
		if err := CheckNoiseMultiplier("test", tc.sigma); (err != nil) != tc.wantErr {
			t.Errorf("CheckNoiseMultiplier: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckMaxGradNorm(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		c       float64
		wantErr bool
	}{
		{"zero bound", 0, true},
		{"negative bound", -0.1, true},
		{"NaN bound", math.NaN(), true},
		{"positive bound", 0.1, false},
		{"huge bound", 1e9, false},
	} {
		if err := CheckMaxGradNorm("test", tc.c); (err != nil) != tc.wantErr {
			t.Errorf("CheckMaxGradNorm: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckBatchSizes(t *testing.T) {
	for _, tc := range []struct {
		desc              string
		logical, physical int
		wantErr           bool
	}{
		{"zero physical", 256, 0, true},
		{"zero logical", 0, 256, true},
		{"not a multiple", 300, 256, true},
		{"equal sizes", 256, 256, false},
		{"accumulation", 2048, 256, false},
	} {
		if err := CheckBatchSizes("test", tc.logical, tc.physical); (err != nil) != tc.wantErr {
			t.Errorf("CheckBatchSizes: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckMaxEpsilon(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		epsilon float64
		wantErr bool
	}{
		{"zero budget", 0, true},
		{"NaN budget", math.NaN(), true},
		{"positive budget", 3, false},
		{"infinite budget", math.Inf(1), false},
	} {
		if err := CheckMaxEpsilon("test", tc.epsilon); (err != nil) != tc.wantErr {
			t.Errorf("CheckMaxEpsilon: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckLearningRate(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		lr      float64
		wantErr bool
	}{
		{"zero", 0, true},
		{"infinite", math.Inf(1), true},
		{"positive", 0.01, false},
	} {
		if err := CheckLearningRate("test", tc.lr); (err != nil) != tc.wantErr {
			t.Errorf("CheckLearningRate: when %s for err got %v, want %t", tc.desc, err, tc.wantErr)
		}
	}
}
