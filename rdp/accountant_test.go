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
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAccountantSpent(t *testing.T) {
	orders := DefaultOrders()
	norm, err := RenyiDivergence(1, 6, orders)
	if err != nil {
		t.Fatal(err)
	}
	norm = norm.Scale(2)
	acct, err := NewAccountant(&AccountantOptions{
		Orders:          orders,
		Delta:           1e-5,
		SampleRate:      512.0 / 60000,
		NoiseMultiplier: 2.15,
		Normalization:   norm,
	})
	if err != nil {
		t.Fatalf("NewAccountant: %v", err)
	}
	steps := int64(40 * 60000 / 512)
	got, err := acct.Spent(steps)
	if err != nil {
		t.Fatalf("Spent: %v", err)
	}
	sgd, _, err := PrivacySpent(acct.SGD(steps), orders, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	total, err := acct.Total(steps)
	if err != nil {
		t.Fatal(err)
	}
	want, order, err := PrivacySpent(total, orders, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Spent{Steps: steps, Epsilon: want, Order: order, SGDEpsilon: sgd}, got); diff != "" {
		t.Errorf("Spent mismatch (-want +got):\n%s", diff)
	}
	if !cmp.Equal(got.SGDEpsilon, 1.44449, approx) {
		t.Errorf("SGD-only epsilon = %v, want 1.44449", got.SGDEpsilon)
	}
	if got.Epsilon <= got.SGDEpsilon {
		t.Errorf("total epsilon %v should exceed SGD-only epsilon %v", got.Epsilon, got.SGDEpsilon)
	}
}

func TestAccountantZeroSteps(t *testing.T) {
	acct, err := NewAccountant(&AccountantOptions{Delta: 1e-5, SampleRate: 0.01, NoiseMultiplier: 1})
	if err != nil {
		t.Fatalf("NewAccountant: %v", err)
	}
	got, err := acct.Spent(0)
	if err != nil {
		t.Fatalf("Spent(0): %v", err)
	}
	// Without any release only the δ term remains: -log(δ)/(α-1) at α = 63.
	if want := -math.Log(1e-5) / 62; !cmp.Equal(got.Epsilon, want, approx) {
		t.Errorf("Spent(0).Epsilon = %v, want %v", got.Epsilon, want)
	}
	if _, err := acct.Spent(-1); err == nil {
		t.Errorf("Spent(-1): got nil error, want error")
	}
}

func TestNewAccountantErrors(t *testing.T) {
	for _, tc := range []struct {
		desc string
		opt  *AccountantOptions
	}{
		{"nil options", nil},
		{"zero noise", &AccountantOptions{Delta: 1e-5, SampleRate: 0.01}},
		{"invalid delta", &AccountantOptions{Delta: 1, SampleRate: 0.01, NoiseMultiplier: 1}},
		{"invalid sample rate", &AccountantOptions{Delta: 1e-5, SampleRate: 2, NoiseMultiplier: 1}},
		{"invalid orders", &AccountantOptions{Orders: []float64{0.5}, Delta: 1e-5, SampleRate: 0.01, NoiseMultiplier: 1}},
		{"normalization length mismatch", &AccountantOptions{Delta: 1e-5, SampleRate: 0.01, NoiseMultiplier: 1, Normalization: Vector{1}}},
	} {
		if _, err := NewAccountant(tc.opt); err == nil {
			t.Errorf("NewAccountant: when %s got nil error, want error", tc.desc)
		}
	}
}

func TestAccountantCIFARDefaults(t *testing.T) {
	acct, err := NewAccountant(&AccountantOptions{
		Delta:           1e-5,
		SampleRate:      2048.0 / 50000,
		NoiseMultiplier: 1,
	})
	if err != nil {
		t.Fatalf("NewAccountant: %v", err)
	}
	got, err := acct.Spent(24)
	if err != nil {
		t.Fatalf("Spent: %v", err)
	}
	if want := 2.780288; math.Abs(got.Epsilon-want) > 1e-4 {
		t.Errorf("Spent(24).Epsilon = %v, want %v", got.Epsilon, want)
	}
}
