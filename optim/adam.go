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
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/model"
)

// AdamOptions configures NewAdam. Zero values select the usual defaults.
type AdamOptions struct {
	LR    float64
	Beta1 float64 // Defaults to 0.9.
	Beta2 float64 // Defaults to 0.999.
	Eps   float64 // Defaults to 1e-8.
}

// Adam is the Adam updater of Kingma and Ba. Bias correction uses the step
// index passed to Update, so a restored Adam continues exactly where it
// stopped.
type Adam struct {
	lr, beta1, beta2, eps float64

	m, v [][]float64
}

// NewAdam returns a new Adam updater.
func NewAdam(opt AdamOptions) (*Adam, error) {
	if err := checks.CheckLearningRate("NewAdam", opt.LR); err != nil {
		return nil, err
	}
	a := &Adam{lr: opt.LR, beta1: opt.Beta1, beta2: opt.Beta2, eps: opt.Eps}
	if a.beta1 == 0 {
		a.beta1 = 0.9
	}
	if a.beta2 == 0 {
		a.beta2 = 0.999
	}
	if a.eps == 0 {
		a.eps = 1e-8
	}
	if a.beta1 < 0 || a.beta1 >= 1 || a.beta2 < 0 || a.beta2 >= 1 || a.eps < 0 {
		return nil, fmt.Errorf("NewAdam: invalid betas (%f, %f) or eps %f", a.beta1, a.beta2, a.eps)
	}
	return a, nil
}

func (a *Adam) Name() string { return AdamName }

func (a *Adam) Update(params []*model.Param, grads [][]float64, step int64) error {
	if err := checkUpdate("Adam.Update", params, grads, step); err != nil {
		return err
	}
	if a.m != nil {
		if err := model.CheckShapes("Adam.Update: first moment", params, a.m); err != nil {
			return err
		}
		if err := model.CheckShapes("Adam.Update: second moment", params, a.v); err != nil {
			return err
		}
	} else {
		a.m, a.v = model.ZerosLike(params), model.ZerosLike(params)
	}
	bc1 := 1 - math.Pow(a.beta1, float64(step))
	bc2 := 1 - math.Pow(a.beta2, float64(step))
	stepSize := a.lr / bc1
	sqrtBC2 := math.Sqrt(bc2)
	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p.Data {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			p.Data[j] -= stepSize * m[j] / (math.Sqrt(v[j])/sqrtBC2 + a.eps)
		}
	}
	return nil
}

func (a *Adam) State() *State {
	st := &State{Name: AdamName, Buffers: map[string][][]float64{}}
	if a.m != nil {
		st.Buffers["exp_avg"] = copyBuffers(a.m)
		st.Buffers["exp_avg_sq"] = copyBuffers(a.v)
	}
	return st
}

func (a *Adam) Restore(st *State) error {
	if st == nil || st.Name != AdamName {
		return fmt.Errorf("Adam.Restore: state is not an Adam state")
	}
	m, err := restoreBuffer("Adam.Restore", st, "exp_avg", a.m)
	if err != nil {
		return err
	}
	v, err := restoreBuffer("Adam.Restore", st, "exp_avg_sq", a.v)
	if err != nil {
		return err
	}
	if (m == nil) != (v == nil) || (m != nil && len(m) != len(v)) {
		return fmt.Errorf("Adam.Restore: moments are inconsistent")
	}
	a.m, a.v = m, v
	return nil
}
