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

package model

import (
	"errors"
	"math"
	"testing"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func randomTensor(ctx *rand.Context, shape ...int) *tensor.Tensor {
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = ctx.Normal()
	}
	return x
}

// testModel exercises every layer type.
func testModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewSequential("test", []int{2, 6, 6},
		Standardize{Mean: []float64{0.1, -0.2}, Var: []float64{0.5, 2}},
		NewConv2D(2, 4, 3, 1, 1),
		Tanh{},
		MaxPool2D{Kernel: 2, Stride: 2},
		GroupNorm{Groups: 2, Channels: 4},
		NewConv2D(4, 3, 2, 2, 1),
		Tanh{},
		Flatten{},
		NewLinear(12, 5),
		Tanh{},
		NewLinear(5, 3),
	)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}
	m.Init(rand.New(7).Child("init"))
	return m
}

func TestGradMatchesFiniteDifferences(t *testing.T) {
	m := testModel(t)
	ctx := rand.New(11)
	x := randomTensor(ctx, 2, 6, 6)
	const label = 1
	grads := ZerosLike(m.Params())
	if _, _, err := m.Grad(x, label, grads); err != nil {
		t.Fatalf("Grad: %v", err)
	}
	const h = 1e-6
	for pi, p := range m.Params() {
		for j := range p.Data {
			orig := p.Data[j]
			p.Data[j] = orig + h
			up, _, err := m.Loss(x, label)
			if err != nil {
				t.Fatal(err)
			}
			p.Data[j] = orig - h
			down, _, err := m.Loss(x, label)
			if err != nil {
				t.Fatal(err)
			}
			p.Data[j] = orig
			want := (up - down) / (2 * h)
			if got := grads[pi][j]; math.Abs(got-want) > 1e-6+1e-4*math.Abs(want) {
				t.Errorf("gradient of %s[%d] = %v, finite differences give %v", p.Name, j, got, want)
			}
		}
	}
}

func TestGradAccumulates(t *testing.T) {
	m := testModel(t)
	x := randomTensor(rand.New(1), 2, 6, 6)
	once := ZerosLike(m.Params())
	if _, _, err := m.Grad(x, 0, once); err != nil {
		t.Fatal(err)
	}
	twice := ZerosLike(m.Params())
	for i := 0; i < 2; i++ {
		if _, _, err := m.Grad(x, 0, twice); err != nil {
			t.Fatal(err)
		}
	}
	for i := range once {
		for j := range once[i] {
			once[i][j] *= 2
		}
	}
	if diff := cmp.Diff(once, twice, cmpopts.EquateApprox(1e-12, 1e-15)); diff != "" {
		t.Errorf("Grad does not accumulate (-want +got):\n%s", diff)
	}
}

func TestPerSampleGradsIndependentOfWorkers(t *testing.T) {
	m := testModel(t)
	ctx := rand.New(2)
	var xs []*tensor.Tensor
	var labels []int
	for i := 0; i < 9; i++ {
		xs = append(xs, randomTensor(ctx, 2, 6, 6))
		labels = append(labels, i%3)
	}
	one, err := m.PerSampleGrads(xs, labels, 1)
	if err != nil {
		t.Fatalf("PerSampleGrads: %v", err)
	}
	four, err := m.PerSampleGrads(xs, labels, 4)
	if err != nil {
		t.Fatalf("PerSampleGrads: %v", err)
	}
	if diff := cmp.Diff(one, four); diff != "" {
		t.Errorf("PerSampleGrads depends on the number of workers (-1 +4):\n%s", diff)
	}
	for i := range xs {
		g := ZerosLike(m.Params())
		loss, _, err := m.Grad(xs[i], labels[i], g)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(g, one.Grads[i]); diff != "" {
			t.Errorf("sample %d gradient mismatch (-want +got):\n%s", i, diff)
		}
		if loss != one.Losses[i] {
			t.Errorf("sample %d loss %v, want %v", i, one.Losses[i], loss)
		}
	}
	sum, correct, err := m.Evaluate(xs, labels, 3)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	wantSum, wantCorrect := 0.0, 0
	for i := range xs {
		wantSum += one.Losses[i]
		if one.Correct[i] {
			wantCorrect++
		}
	}
	if sum != wantSum || correct != wantCorrect {
		t.Errorf("Evaluate = (%v, %d), want (%v, %d)", sum, correct, wantSum, wantCorrect)
	}
	if empty, err := m.PerSampleGrads(nil, nil, 4); err != nil || len(empty.Grads) != 0 {
		t.Errorf("PerSampleGrads of an empty batch = (%v, %v), want no gradients", empty, err)
	}
}

func TestInputValidation(t *testing.T) {
	m := testModel(t)
	if _, _, err := m.Loss(tensor.New(2, 5, 5), 0); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("Loss with wrong input shape: got %v, want ErrShapeMismatch", err)
	}
	if _, _, err := m.Loss(tensor.New(2, 6, 6), 3); err == nil {
		t.Errorf("Loss with out-of-range label: got nil error, want error")
	}
	if _, _, err := m.Grad(tensor.New(2, 6, 6), 0, ZerosLike(m.Params())[1:]); err == nil {
		t.Errorf("Grad with missing gradient slots: got nil error, want error")
	}
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	loss, grad, pred := softmaxCrossEntropy([]float64{1, 1, 1, 1}, 2, true)
	if !cmp.Equal(loss, math.Log(4), cmpopts.EquateApprox(1e-12, 0)) {
		t.Errorf("loss of uniform logits = %v, want log 4", loss)
	}
	want := []float64{0.25, 0.25, -0.75, 0.25}
	if diff := cmp.Diff(want, grad, cmpopts.EquateApprox(1e-12, 1e-15)); diff != "" {
		t.Errorf("gradient mismatch (-want +got):\n%s", diff)
	}
	if pred != 0 {
		t.Errorf("prediction for tied logits = %d, want 0", pred)
	}
	// Large logits must not overflow.
	if loss, _, _ := softmaxCrossEntropy([]float64{1000, 0}, 1, false); !cmp.Equal(loss, 1000.0, cmpopts.EquateApprox(1e-9, 0)) {
		t.Errorf("loss with large logits = %v, want 1000", loss)
	}
}

func TestInit(t *testing.T) {
	a, b := testModel(t), testModel(t)
	if diff := cmp.Diff(a.State(), b.State()); diff != "" {
		t.Errorf("equal contexts gave different initializations:\n%s", diff)
	}
	l := NewLinear(16, 4)
	l.init(rand.New(0))
	for _, v := range l.W.Data {
		if math.Abs(v) > 0.25 {
			t.Errorf("Linear(16, 4) weight %v outside ±1/√16", v)
		}
	}
}

func TestState(t *testing.T) {
	m := testModel(t)
	state := m.State()
	other := testModel(t)
	other.Init(rand.New(99))
	if err := other.LoadState(state); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if diff := cmp.Diff(state, other.State()); diff != "" {
		t.Errorf("LoadState did not restore the parameters:\n%s", diff)
	}
	if _, ok := state["1.weight"]; !ok {
		t.Errorf("State() has no entry 1.weight")
	}
	delete(state, "1.weight")
	if err := other.LoadState(state); err == nil {
		t.Errorf("LoadState with a missing parameter: got nil error, want error")
	}
	state = m.State()
	state["1.bias"] = state["1.bias"][:1]
	if err := other.LoadState(state); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("LoadState with a short parameter: got %v, want ErrShapeMismatch", err)
	}
}

func TestBuildPresets(t *testing.T) {
	for _, tc := range []struct {
		dataset   string
		shape     []int
		scattered bool
		norm      string
	}{
		{"mnist", []int{1, 28, 28}, false, NormNone},
		{"fmnist", []int{16, 7, 7}, true, NormGroupNorm},
		{"cifar10", []int{3, 32, 32}, false, NormNone},
		{"cifar10", []int{48, 8, 8}, true, NormBN},
		{"synthetic", []int{1, 8, 8}, false, NormNone},
		{"synthetic", []int{16, 2, 2}, true, NormGroupNorm},
	} {
		for _, size := range []string{Small, Medium, Large, ""} {
			opt := Options{
				Dataset:    tc.dataset,
				InputShape: tc.shape,
				Scattered:  tc.scattered,
				Size:       size,
				Classes:    10,
				InputNorm:  tc.norm,
				Mean:       make([]float64, tc.shape[0]),
				Var:        make([]float64, tc.shape[0]),
			}
			m, err := Build(opt)
			if err != nil {
				t.Errorf("Build(%s %v %q): %v", tc.dataset, tc.shape, size, err)
				continue
			}
			if m.Classes != 10 || m.Tag != Tag || m.NumParams() == 0 {
				t.Errorf("Build(%s %v %q) = %d classes, tag %q, %d params", tc.dataset, tc.shape, size, m.Classes, m.Tag, m.NumParams())
			}
			summary := m.Summary()
			if last := summary[len(summary)-1]; last.Kind != "Linear" || !cmp.Equal(last.OutputShape, []int{10}) {
				t.Errorf("Build(%s %v %q) ends with %+v", tc.dataset, tc.shape, size, last)
			}
		}
	}
}

func TestBuildErrors(t *testing.T) {
	for _, tc := range []struct {
		desc string
		opt  Options
	}{
		{"unknown dataset", Options{Dataset: "imagenet", InputShape: []int{3, 32, 32}, Classes: 10}},
		{"unknown size", Options{Dataset: "mnist", InputShape: []int{1, 28, 28}, Classes: 10, Size: "huge"}},
		{"groups do not divide channels", Options{Dataset: "fmnist", InputShape: []int{16, 7, 7}, Scattered: true, Classes: 10, InputNorm: NormGroupNorm, NumGroups: 3}},
		{"normalization of raw images", Options{Dataset: "mnist", InputShape: []int{1, 28, 28}, Classes: 10, InputNorm: NormGroupNorm}},
		{"statistics of the wrong size", Options{Dataset: "cifar10", InputShape: []int{48, 8, 8}, Scattered: true, Classes: 10, InputNorm: NormBN, Mean: []float64{0}, Var: []float64{1}}},
		{"input too small", Options{Dataset: "cifar10", InputShape: []int{3, 4, 4}, Classes: 10}},
		{"one class", Options{Dataset: "mnist", InputShape: []int{1, 28, 28}, Classes: 1}},
	} {
		if _, err := Build(tc.opt); err == nil {
			t.Errorf("Build: when %s got nil error, want error", tc.desc)
		}
	}
}
