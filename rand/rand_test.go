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

package rand

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func draw(c *Context, n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = c.U64()
	}
	return out
}

func TestSameSeedSameStream(t *testing.T) {
	a, b := New(7), New(7)
	if diff := cmp.Diff(draw(a, 16), draw(b, 16)); diff != "" {
		t.Errorf("New(7) streams differ (-a +b):\n%s", diff)
	}
}

func TestChildIndependentOfParentConsumption(t *testing.T) {
	a, b := New(3), New(3)
	draw(a, 100)
	if diff := cmp.Diff(draw(a.Child("noise"), 8), draw(b.Child("noise"), 8)); diff != "" {
		t.Errorf("Child(noise) depends on parent draws (-a +b):\n%s", diff)
	}
}

func TestChildrenDiffer(t *testing.T) {
	root := New(3)
	if cmp.Equal(draw(root.Child("shuffle"), 8), draw(root.Child("noise"), 8)) {
		t.Errorf("Child(shuffle) and Child(noise) produced the same stream")
	}
	if got, want := root.Child("train").Child("noise").Name(), "root/train/noise"; got != want {
		t.Errorf("Name: got %q, want %q", got, want)
	}
}

func TestSecureChildIsSecure(t *testing.T) {
	c := NewSecure().Child("noise")
	if !c.Secure() {
		t.Errorf("Child of a secure context is not secure")
	}
	u := c.Uniform()
	if u <= 0 || u > 1 {
		t.Errorf("Uniform: got %f, want value in (0, 1]", u)
	}
}

func TestUniformRange(t *testing.T) {
	c := New(11)
	for i := 0; i < 10000; i++ {
		if u := c.Uniform(); u <= 0 || u > 1 {
			t.Fatalf("Uniform: got %f, want value in (0, 1]", u)
		}
	}
}

func TestBernoulliRate(t *testing.T) {
	const n = 200000
	c := New(5)
	for _, p := range []float64{0, 0.01, 0.3, 1} {
		hits := 0
		for i := 0; i < n; i++ {
			if c.Bernoulli(p) {
				hits++
			}
		}
		got := float64(hits) / n
		// 99.9995% quantile of the binomial approximation.
		tol := 4.41717 * math.Sqrt(p*(1-p)/n)
		if math.Abs(got-p) > tol {
			t.Errorf("Bernoulli(%f): got rate %f, want within %f", p, got, tol)
		}
	}
}

func TestGeometricMean(t *testing.T) {
	const n = 100000
	c := New(9)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += c.Geometric()
	}
	// Geometric(1/2) has mean 2 and variance 2.
	if mean := sum / n; math.Abs(mean-2) > 4.41717*math.Sqrt(2.0/n) {
		t.Errorf("Geometric: got mean %f, want 2", mean)
	}
}
