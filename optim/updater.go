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

// Package optim implements the parameter updates of training: base
// updaters (SGD and Adam), and the optimizers that turn per-sample
// gradients into one update per logical batch, with or without
// differential privacy.
package optim

import (
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/model"
)

// Updater names.
const (
	SGDName  = "SGD"
	AdamName = "Adam"
)

// Updater applies an averaged gradient to the parameters.
//
// Implementations validate all shapes before modifying params or their own
// state, so a failed Update leaves both untouched.
type Updater interface {
	Name() string
	// Update applies grads to params. step is the 1-based index of this
	// update, owned by the caller.
	Update(params []*model.Param, grads [][]float64, step int64) error
	// State returns a copy of the internal buffers.
	State() *State
	// Restore replaces the internal buffers with those of s.
	Restore(s *State) error
}

// State is the serializable state of an Updater: named buffers, each laid
// out like the model parameters.
type State struct {
	Name    string
	Buffers map[string][][]float64
}

// UpdaterOptions configures NewUpdater.
type UpdaterOptions struct {
	Name     string // SGDName or AdamName.
	LR       float64
	Momentum float64 // SGD only.
	Nesterov bool    // SGD only.
}

// NewUpdater returns the updater named by opt.Name.
func NewUpdater(opt UpdaterOptions) (Updater, error) {
	switch opt.Name {
	case SGDName:
		return NewSGD(SGDOptions{LR: opt.LR, Momentum: opt.Momentum, Nesterov: opt.Nesterov})
	case AdamName:
		return NewAdam(AdamOptions{LR: opt.LR})
	}
	return nil, fmt.Errorf("optim.NewUpdater: unknown optimizer %q", opt.Name)
}

func copyBuffers(bufs [][]float64) [][]float64 {
	if bufs == nil {
		return nil
	}
	out := make([][]float64, len(bufs))
	for i, b := range bufs {
		out[i] = append([]float64(nil), b...)
	}
	return out
}

// restoreBuffer validates a buffer of s against the layout of want, if any.
func restoreBuffer(label string, s *State, name string, want [][]float64) ([][]float64, error) {
	b, ok := s.Buffers[name]
	if !ok {
		return nil, nil
	}
	if want != nil && len(b) != len(want) {
		return nil, fmt.Errorf("%s: buffer %s has %d tensors, want %d", label, name, len(b), len(want))
	}
	for i := range want {
		if len(b[i]) != len(want[i]) {
			return nil, fmt.Errorf("%s: buffer %s tensor %d has %d values, want %d", label, name, i, len(b[i]), len(want[i]))
		}
	}
	return copyBuffers(b), nil
}

func checkUpdate(label string, params []*model.Param, grads [][]float64, step int64) error {
	if step < 1 {
		return fmt.Errorf("%s: step is %d, must be at least 1", label, step)
	}
	return model.CheckShapes(label, params, grads)
}
