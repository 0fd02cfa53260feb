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

// Package model implements the small convolutional networks trained on top
// of the fixed feature extractors, with per-sample gradients for DP-SGD.
//
// All computation runs on the CPU in float64. A Model is a sequence of
// layers evaluated one sample at a time; batches are spread over worker
// goroutines that only read the parameters.
package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// Model is a sequential classifier.
type Model struct {
	// Tag identifies the architecture in checkpoints.
	Tag        string
	InputShape []int
	Classes    int

	layers []Layer
	params []*Param
	// offsets[i] is the index in params of layer i's first parameter.
	offsets []int
}

// NewSequential chains layers and checks that their shapes agree. The last
// layer must produce a vector of class scores.
func NewSequential(tag string, inShape []int, layers ...Layer) (*Model, error) {
	m := &Model{Tag: tag, InputShape: append([]int(nil), inShape...), layers: layers}
	shape := inShape
	for i, l := range layers {
		next, err := l.OutputShape(shape)
		if err != nil {
			return nil, fmt.Errorf("model.NewSequential: layer %d: %w", i, err)
		}
		m.offsets = append(m.offsets, len(m.params))
		for j, p := range l.Params() {
			p.Name = fmt.Sprintf("%d.%s", i, paramSuffix(j))
			m.params = append(m.params, p)
		}
		shape = next
	}
	if len(shape) != 1 || shape[0] < 2 {
		return nil, fmt.Errorf("model.NewSequential: output shape %v is not a vector of class scores", shape)
	}
	m.Classes = shape[0]
	return m, nil
}

func paramSuffix(j int) string {
	switch j {
	case 0:
		return "weight"
	case 1:
		return "bias"
	}
	return fmt.Sprintf("param%d", j)
}

// Init draws all parameters from ctx.
func (m *Model) Init(ctx *rand.Context) {
	for _, l := range m.layers {
		if in, ok := l.(initializer); ok {
			in.init(ctx)
		}
	}
}

// Params returns the trainable parameters in layer order.
func (m *Model) Params() []*Param { return m.params }

// NumParams returns the number of trainable values.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += p.Len()
	}
	return n
}

// LayerInfo describes one layer of a model.
type LayerInfo struct {
	Index       int
	Kind        string
	OutputShape []int
	Params      int
}

// Summary describes the layers of m.
func (m *Model) Summary() []LayerInfo {
	out := make([]LayerInfo, len(m.layers))
	shape := m.InputShape
	for i, l := range m.layers {
		// Shapes were validated by NewSequential.
		shape, _ = l.OutputShape(shape)
		n := 0
		for _, p := range l.Params() {
			n += p.Len()
		}
		out[i] = LayerInfo{Index: i, Kind: l.Kind(), OutputShape: shape, Params: n}
	}
	return out
}

func (m *Model) checkInput(x *tensor.Tensor) error {
	if !tensor.EqualShapes(x.Shape, m.InputShape) {
		return fmt.Errorf("model %s: input shape %v, want %v: %w", m.Tag, x.Shape, m.InputShape, tensor.ErrShapeMismatch)
	}
	return nil
}

func (m *Model) checkLabel(label int) error {
	if label < 0 || label >= m.Classes {
		return fmt.Errorf("model %s: label %d out of range [0, %d)", m.Tag, label, m.Classes)
	}
	return nil
}

// Logits returns the class scores of x.
func (m *Model) Logits(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	h := x
	for _, l := range m.layers {
		h, _ = l.Forward(h)
	}
	return h, nil
}

// Loss returns the cross-entropy loss of x and whether the top-scoring
// class is label.
func (m *Model) Loss(x *tensor.Tensor, label int) (float64, bool, error) {
	if err := m.checkLabel(label); err != nil {
		return 0, false, err
	}
	logits, err := m.Logits(x)
	if err != nil {
		return 0, false, err
	}
	loss, _, pred := softmaxCrossEntropy(logits.Data, label, false)
	return loss, pred == label, nil
}

// Grad returns the loss of x and adds its gradient with respect to every
// parameter to grads, which must be laid out like Params().
func (m *Model) Grad(x *tensor.Tensor, label int, grads [][]float64) (float64, bool, error) {
	if err := m.checkInput(x); err != nil {
		return 0, false, err
	}
	if err := m.checkLabel(label); err != nil {
		return 0, false, err
	}
	if err := CheckShapes("model.Grad", m.params, grads); err != nil {
		return 0, false, err
	}
	caches := make([]Cache, len(m.layers))
	h := x
	for i, l := range m.layers {
		h, caches[i] = l.Forward(h)
	}
	loss, dlogits, pred := softmaxCrossEntropy(h.Data, label, true)
	dy := &tensor.Tensor{Data: dlogits, Shape: []int{m.Classes}}
	for i := len(m.layers) - 1; i >= 0; i-- {
		l := m.layers[i]
		n := len(l.Params())
		dy = l.Backward(caches[i], dy, grads[m.offsets[i]:m.offsets[i]+n])
	}
	return loss, pred == label, nil
}

// SampleGrads holds the per-sample results of a batch.
type SampleGrads struct {
	// Grads is indexed by sample, then parameter.
	Grads   [][][]float64
	Losses  []float64
	Correct []bool
}

// PerSampleGrads computes the gradient of every sample separately, using up
// to workers goroutines. The result does not depend on workers.
func (m *Model) PerSampleGrads(xs []*tensor.Tensor, labels []int, workers int) (*SampleGrads, error) {
	if len(xs) != len(labels) {
		return nil, fmt.Errorf("model.PerSampleGrads: %d samples with %d labels", len(xs), len(labels))
	}
	out := &SampleGrads{
		Grads:   make([][][]float64, len(xs)),
		Losses:  make([]float64, len(xs)),
		Correct: make([]bool, len(xs)),
	}
	err := parallel(len(xs), workers, func(i int) error {
		g := ZerosLike(m.params)
		loss, ok, err := m.Grad(xs[i], labels[i], g)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		out.Grads[i], out.Losses[i], out.Correct[i] = g, loss, ok
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("model.PerSampleGrads: %w", err)
	}
	return out, nil
}

// Evaluate returns the summed loss and the number of correct predictions
// over a batch, using up to workers goroutines.
func (m *Model) Evaluate(xs []*tensor.Tensor, labels []int, workers int) (lossSum float64, correct int, err error) {
	if len(xs) != len(labels) {
		return 0, 0, fmt.Errorf("model.Evaluate: %d samples with %d labels", len(xs), len(labels))
	}
	losses := make([]float64, len(xs))
	hits := make([]bool, len(xs))
	err = parallel(len(xs), workers, func(i int) error {
		var err error
		losses[i], hits[i], err = m.Loss(xs[i], labels[i])
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("model.Evaluate: %w", err)
	}
	// Sum in index order so the result does not depend on scheduling.
	for i := range losses {
		lossSum += losses[i]
		if hits[i] {
			correct++
		}
	}
	return lossSum, correct, nil
}

// parallel calls f(i) for every i in [0, n) from up to workers goroutines
// and returns the error of the lowest failing index.
func parallel(n, workers int, f func(i int) error) error {
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	next := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				errs[i] = f(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// softmaxCrossEntropy returns −log softmax(logits)[label], the gradient of
// that loss with respect to the logits when wantGrad is set, and the index
// of the largest logit.
func softmaxCrossEntropy(logits []float64, label int, wantGrad bool) (float64, []float64, int) {
	pred, maxLogit := 0, logits[0]
	for i, v := range logits {
		if v > maxLogit {
			pred, maxLogit = i, v
		}
	}
	sum := 0.0
	for _, v := range logits {
		sum += math.Exp(v - maxLogit)
	}
	logSum := math.Log(sum) + maxLogit
	loss := logSum - logits[label]
	if !wantGrad {
		return loss, nil, pred
	}
	grad := make([]float64, len(logits))
	for i, v := range logits {
		grad[i] = math.Exp(v - logSum)
	}
	grad[label]--
	return loss, grad, pred
}

// State returns a copy of every parameter's values, keyed by name.
func (m *Model) State() map[string][]float64 {
	out := make(map[string][]float64, len(m.params))
	for _, p := range m.params {
		out[p.Name] = append([]float64(nil), p.Data...)
	}
	return out
}

// LoadState replaces the parameter values with those in state, which must
// hold exactly the model's parameters with matching sizes.
func (m *Model) LoadState(state map[string][]float64) error {
	if len(state) != len(m.params) {
		return fmt.Errorf("model.LoadState: got %d tensors for %d parameters", len(state), len(m.params))
	}
	for _, p := range m.params {
		v, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("model.LoadState: missing parameter %s", p.Name)
		}
		if len(v) != p.Len() {
			return fmt.Errorf("model.LoadState: parameter %s has %d values, got %d: %w", p.Name, p.Len(), len(v), tensor.ErrShapeMismatch)
		}
	}
	for _, p := range m.params {
		copy(p.Data, state[p.Name])
	}
	return nil
}
