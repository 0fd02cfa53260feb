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

package optim

import (
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/model"
	"gonum.org/v1/gonum/floats"
)

// SGDOptions configures NewSGD.
type SGDOptions struct {
	LR       float64
	Momentum float64 // In [0, 1). 0 disables momentum.
	Nesterov bool    // Requires Momentum > 0.
}

// SGD is stochastic gradient descent with optional heavy-ball or Nesterov
// momentum, following PyTorch's formulation without dampening:
//
//	buf ← momentum·buf + g
//	p   ← p − lr·(g + momentum·buf)   (Nesterov)
//	p   ← p − lr·buf                  (otherwise)
type SGD struct {
	lr, momentum float64
	nesterov     bool

	momentumBuf [][]float64
}

// NewSGD returns a new SGD updater.
func NewSGD(opt SGDOptions) (*SGD, error) {
	if err := checks.CheckLearningRate("NewSGD", opt.LR); err != nil {
		return nil, err
	}
	if opt.Momentum < 0 || opt.Momentum >= 1 {
		return nil, fmt.Errorf("NewSGD: momentum is %f, must be in [0, 1)", opt.Momentum)
	}
	if opt.Nesterov && opt.Momentum == 0 {
		return nil, fmt.Errorf("NewSGD: Nesterov momentum requires a positive momentum")
	}
	return &SGD{lr: opt.LR, momentum: opt.Momentum, nesterov: opt.Nesterov}, nil
}

func (s *SGD) Name() string { return SGDName }

func (s *SGD) Update(params []*model.Param, grads [][]float64, step int64) error {
	if err := checkUpdate("SGD.Update", params, grads, step); err != nil {
		return err
	}
	if s.momentumBuf != nil {
		if err := model.CheckShapes("SGD.Update: momentum", params, s.momentumBuf); err != nil {
			return err
		}
	}
	if s.momentum > 0 && s.momentumBuf == nil {
		s.momentumBuf = model.ZerosLike(params)
	}
	for i, p := range params {
		g := grads[i]
		if s.momentum == 0 {
			floats.AddScaled(p.Data, -s.lr, g)
			continue
		}
		buf := s.momentumBuf[i]
		floats.Scale(s.momentum, buf)
		floats.Add(buf, g)
		if s.nesterov {
			floats.AddScaled(p.Data, -s.lr, g)
			floats.AddScaled(p.Data, -s.lr*s.momentum, buf)
		} else {
			floats.AddScaled(p.Data, -s.lr, buf)
		}
	}
	return nil
}

func (s *SGD) State() *State {
	st := &State{Name: SGDName, Buffers: map[string][][]float64{}}
	if s.momentumBuf != nil {
		st.Buffers["momentum"] = copyBuffers(s.momentumBuf)
	}
	return st
}

func (s *SGD) Restore(st *State) error {
	if st == nil || st.Name != SGDName {
		return fmt.Errorf("SGD.Restore: state is not an SGD state")
	}
	buf, err := restoreBuffer("SGD.Restore", st, "momentum", s.momentumBuf)
	if err != nil {
		return err
	}
	s.momentumBuf = buf
	return nil
}
