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


package train

import (
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/noise"
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
)

// epochNoise is a noise.Gaussian whose stream is re-derived at the start of
// every epoch.
type epochNoise struct {
	kind noise.Kind
	root *rand.Context
	g    noise.Gaussian
}

func (e *epochNoise) reset(epoch int) error {
	g, err := noise.New(e.kind, e.root.Child(fmt.Sprintf("epoch-%d", epoch)))
	if err != nil {
		return err
	}
	e.g = g
	return nil
}

func (e *epochNoise) AddNoise(x, sigma float64) float64 { return e.g.AddNoise(x, sigma) }

func (e *epochNoise) AddNoiseSlice(xs []float64, sigma float64) { e.g.AddNoiseSlice(xs, sigma) }

func (e *epochNoise) Kind() noise.Kind { return e.kind }
