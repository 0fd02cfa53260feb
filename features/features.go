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

// Package features provides fixed, non-trainable feature extractors applied
// to images before they reach the trainable model.
//
// Extractors have no parameters and see one record at a time, so they do not
// consume privacy budget.
package features

import (
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// Extractor maps a C×H×W image to a K×H'×W' feature map.
type Extractor interface {
	// Name identifies the extractor in cache keys and checkpoints.
	Name() string
	// OutputShape returns the feature shape for an input shape, or an error
	// if the extractor cannot process such inputs.
	OutputShape(in []int) ([]int, error)
	// Extract computes the features of a single image. It is safe for
	// concurrent use.
	Extract(x *tensor.Tensor) (*tensor.Tensor, error)
}

// New returns the scattering extractor if useScattering is set, and the
// identity otherwise.
func New(useScattering bool) Extractor {
	if useScattering {
		return Scattering{}
	}
	return Identity{}
}

// Identity passes images through unchanged.
type Identity struct{}

// Name implements Extractor.
func (Identity) Name() string { return "identity" }

// OutputShape implements Extractor.
func (Identity) OutputShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("features.Identity: input shape %v is not C×H×W", in)
	}
	return append([]int(nil), in...), nil
}

// Extract implements Extractor.
func (Identity) Extract(x *tensor.Tensor) (*tensor.Tensor, error) {
	if _, err := (Identity{}).OutputShape(x.Shape); err != nil {
		return nil, err
	}
	return x, nil
}
