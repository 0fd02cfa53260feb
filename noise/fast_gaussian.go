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
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

type fast struct {
	unit distuv.Normal
}

func newFast(ctx *rand.Context) *fast {
	return &fast{unit: distuv.Normal{Mu: 0, Sigma: 1, Src: ctx.Source()}}
}

func (f *fast) AddNoise(x, sigma float64) float64 {
	if sigma == 0 {
		return x
	}
	return x + sigma*f.unit.Rand()
}

func (f *fast) AddNoiseSlice(xs []float64, sigma float64) { addSlice(f, xs, sigma) }

func (*fast) Kind() Kind { return FastGaussian }
