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
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func TestRenyiDivergenceKnownValues(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		q, sigma float64
		steps    float64
		orders   []float64
		want     Vector
	}{
		{"integer order",
			0.1, 2, 10,
			[]float64{5},
			Vector{0.07737}},
		{"fractional, integer and infinite orders",
			0.01, 2.5, 50,
			[]float64{1.5, 2.5, 5, 50, 100, math.Inf(1)},
			Vector{0.00065, 0.001085, 0.00218075, 0.023846, 167.416307, math.Inf(1)}},
		{"no subsampling",
			1, 2, 1,
			[]float64{2, 4, 8.5},
			Vector{0.25, 0.5, 1.0625}},
	} {
		v, err := RenyiDivergence(tc.q, tc.sigma, tc.orders)
		if err != nil {
			t.Fatalf("RenyiDivergence(%s): %v", tc.desc, err)
		}
		got := v.Scale(tc.steps)
		if diff := cmp.Diff(tc.want, got, cmpopts.EquateApprox(1e-4, 1e-5), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("RenyiDivergence(%s) mismatch (-want +got):\n%s", tc.desc, diff)
		}
	}
}

func TestRenyiDivergenceNonNegativeFinite(t *testing.T) {
	orders := DefaultOrders()
	for _, q := range []float64{1e-4, 0.004, 0.04, 0.3, 0.99, 1} {
		for _, sigma := range []float64{0.3, 1, 2.15, 8, 50} {
			v, err := RenyiDivergence(q, sigma, orders)
			if err != nil {
				t.Fatalf("RenyiDivergence(%v, %v): %v", q, sigma, err)
			}
			if len(v) != len(orders) {
				t.Fatalf("RenyiDivergence(%v, %v): got %d values, want %d", q, sigma, len(v), len(orders))
			}
			for i, x := range v {
				if x < 0 || math.IsInf(x, 0) || math.IsNaN(x) {
					t.Errorf("RenyiDivergence(%v, %v) at order %v = %v, want nonnegative and finite", q, sigma, orders[i], x)
				}
			}
		}
	}
}

func TestRenyiDivergenceZeroNoise(t *testing.T) {
	v, err := RenyiDivergence(0.01, 0, []float64{2, 32})
	if err != nil {
		t.Fatalf("RenyiDivergence with sigma 0: %v", err)
	}
	for i, x := range v {
		if !math.IsInf(x, 1) {
			t.Errorf("RenyiDivergence with sigma 0 at %d = %v, want +Inf", i, x)
		}
	}
}

func TestRenyiDivergenceInvalidArguments(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		q, sigma float64
		orders   []float64
	}{
		{"order equal to one", 0.01, 1, []float64{1, 2}},
		{"order below one", 0.01, 1, []float64{0.5}},
		{"no orders", 0.01, 1, nil},
		{"zero sampling rate", 0, 1, []float64{2}},
		{"sampling rate above one", 1.5, 1, []float64{2}},
		{"negative noise", 0.01, -1, []float64{2}},
	} {
		if _, err := RenyiDivergence(tc.q, tc.sigma, tc.orders); err == nil {
			t.Errorf("RenyiDivergence: when %s got nil error, want error", tc.desc)
		}
	}
}

func TestRenyiDivergenceMonotoneInNoise(t *testing.T) {
	orders := DefaultOrders()
	low, err := RenyiDivergence(0.01, 1, orders)
	if err != nil {
		t.Fatal(err)
	}
	high, err := RenyiDivergence(0.01, 2, orders)
	if err != nil {
		t.Fatal(err)
	}
	for i := range orders {
		if high[i] > low[i] {
			t.Errorf("order %v: more noise gave larger divergence (%v > %v)", orders[i], high[i], low[i])
		}
	}
}

func TestPrivacySpentKnownValue(t *testing.T) {
	var orders []float64
	for a := 2; a <= 32; a++ {
		orders = append(orders, float64(a))
	}
	v, err := RenyiDivergence(0.01, 4, orders)
	if err != nil {
		t.Fatal(err)
	}
	eps, order, err := PrivacySpent(v.Scale(10000), orders, 1e-5)
	if err != nil {
		t.Fatalf("PrivacySpent: %v", err)
	}
	if !cmp.Equal(eps, 1.258575, approx) {
		t.Errorf("PrivacySpent: got epsilon %v, want 1.258575", eps)
	}
	if order != 20 {
		t.Errorf("PrivacySpent: got order %v, want 20", order)
	}
}

func TestPrivacySpentMonotone(t *testing.T) {
	orders := DefaultOrders()
	step, err := RenyiDivergence(512.0/60000, 1.1, orders)
	if err != nil {
		t.Fatal(err)
	}
	prev := 0.0
	for steps := 1; steps <= 4096; steps *= 2 {
		eps, _, err := PrivacySpent(step.Scale(float64(steps)), orders, 1e-5)
		if err != nil {
			t.Fatalf("PrivacySpent(%d steps): %v", steps, err)
		}
		if eps < prev {
			t.Errorf("PrivacySpent decreased from %v to %v at %d steps", prev, eps, steps)
		}
		prev = eps
	}
}

func TestPrivacySpentSentinel(t *testing.T) {
	orders := []float64{2, 3}
	eps, order, err := PrivacySpent(Vector{math.NaN(), math.NaN()}, orders, 1e-5)
	if err != nil {
		t.Fatalf("PrivacySpent: %v", err)
	}
	if !math.IsInf(eps, 1) || !math.IsNaN(order) {
		t.Errorf("PrivacySpent with NaN divergences = (%v, %v), want (+Inf, NaN)", eps, order)
	}
}

func TestPrivacySpentSkipsNaN(t *testing.T) {
	orders := []float64{2, 3}
	eps, order, err := PrivacySpent(Vector{math.NaN(), 1}, orders, math.Exp(-4))
	if err != nil {
		t.Fatalf("PrivacySpent: %v", err)
	}
	// 1 + 4/2 = 3.
	if !cmp.Equal(eps, 3.0, approx) || order != 3 {
		t.Errorf("PrivacySpent = (%v, %v), want (3, 3)", eps, order)
	}
}

func TestPrivacySpentInvalidArguments(t *testing.T) {
	orders := []float64{2, 3}
	for _, tc := range []struct {
		desc   string
		v      Vector
		orders []float64
		delta  float64
	}{
		{"zero delta", Vector{1, 1}, orders, 0},
		{"delta is one", Vector{1, 1}, orders, 1},
		{"length mismatch", Vector{1}, orders, 1e-5},
		{"invalid order", Vector{1, 1}, []float64{1, 2}, 1e-5},
	} {
		if _, _, err := PrivacySpent(tc.v, tc.orders, tc.delta); err == nil {
			t.Errorf("PrivacySpent: when %s got nil error, want error", tc.desc)
		}
	}
}

func TestCompositionCommutes(t *testing.T) {
	orders := DefaultOrders()
	a, err := RenyiDivergence(0.02, 1.3, orders)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenyiDivergence(1, 6, orders)
	if err != nil {
		t.Fatal(err)
	}
	b = b.Scale(2)
	ab, err := Compose(orders, a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Compose(orders, b, a)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("composition depends on order (-ab +ba):\n%s", diff)
	}
	if _, err := a.Add(Vector{1}); err == nil {
		t.Errorf("Add with mismatched lengths: got nil error, want error")
	}
}

func TestDefaultOrders(t *testing.T) {
	orders := DefaultOrders()
	if got, want := len(orders), 99+52; got != want {
		t.Fatalf("len(DefaultOrders()) = %d, want %d", got, want)
	}
	if !cmp.Equal(orders[0], 1.1, approx) || orders[len(orders)-1] != 63 {
		t.Errorf("DefaultOrders() spans [%v, %v], want [1.1, 63]", orders[0], orders[len(orders)-1])
	}
	for i := 1; i < len(orders); i++ {
		if orders[i] <= orders[i-1] {
			t.Fatalf("DefaultOrders() not strictly ascending at %d", i)
		}
	}
}

// Reference values from numerical integration of the sampled Gaussian
// mixture, at the CIFAR-10 defaults (batch 2048 of 50000, σ = 1).
func TestRenyiDivergenceCIFARDefaults(t *testing.T) {
	orders := []float64{1.2, 1.6, 2.1, 2.5, 4, 8, 16, 32, 63}
	want := Vector{
		0.0016135028, 0.0022232303, 0.0030505821, 0.0037753069, 0.0072776073,
		0.38807893, 4.5918377, 12.701771, 28.253306,
	}
	got, err := RenyiDivergence(2048.0/50000, 1, orders)
	if err != nil {
		t.Fatalf("RenyiDivergence: %v", err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-5, 0)); diff != "" {
		t.Errorf("RenyiDivergence (-want +got):\n%s", diff)
	}
	if _, err := RenyiDivergence(2048.0/50000, 1, DefaultOrders()); err != nil {
		t.Errorf("RenyiDivergence over DefaultOrders: %v", err)
	}
}

func TestLogErfcLargeArguments(t *testing.T) {
	for _, tc := range []struct {
		x, want float64
	}{
		{25.9, -674.6373518953},
		{26.5, -706.1002204101},
		{27.1, -738.2825783345},
		{27.4, -754.6435728429},
		{30, -903.9741171106},
	} {
		if got := logErfc(tc.x); !cmp.Equal(got, tc.want, cmpopts.EquateApprox(1e-12, 0)) {
			t.Errorf("logErfc(%v) = %v, want %v", tc.x, got, tc.want)
		}
	}
}
