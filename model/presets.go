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
	"fmt"
)

// Model sizes.
const (
	Small  = "small"
	Medium = "medium"
	Large  = "large"
)

// Input normalizations applied to scattering features.
const (
	NormNone      = ""
	NormGroupNorm = "GroupNorm"
	NormBN        = "BN"
)

// Tag is the architecture tag stored in checkpoints.
const Tag = "scatternet"

// Options selects a preset architecture.
type Options struct {
	// Dataset selects the architecture family: "cifar10", "mnist", "fmnist"
	// or "synthetic".
	Dataset string
	// InputShape is the K×H×W shape of the model input.
	InputShape []int
	// Scattered reports whether the input is scattering features rather
	// than raw images. Input normalization requires it.
	Scattered bool
	// Size is Small, Medium or Large. Defaults to Medium.
	Size    string
	Classes int
	// InputNorm is NormNone, NormGroupNorm or NormBN.
	InputNorm string
	// NumGroups is the number of GroupNorm groups. 0 normalizes every
	// channel separately.
	NumGroups int
	// Mean and Var are the per-channel statistics used with NormBN.
	Mean, Var []float64
}

// op is one entry of a feature extractor configuration: a convolution
// followed by Tanh, or a max pooling when pool is set.
type op struct {
	pool                     bool
	out, kernel, stride, pad int
	poolKernel, poolStride   int
}

func conv(out, kernel, stride, pad int) op {
	return op{out: out, kernel: kernel, stride: stride, pad: pad}
}

func pool(kernel, stride int) op {
	return op{pool: true, poolKernel: kernel, poolStride: stride}
}

// conv3 expands a list of widths into 3×3 convolutions with padding 1; a
// width of 0 stands for a 2×2 max pooling with stride 2.
func conv3(widths ...int) []op {
	ops := make([]op, len(widths))
	for i, w := range widths {
		if w == 0 {
			ops[i] = pool(2, 2)
		} else {
			ops[i] = conv(w, 3, 1, 1)
		}
	}
	return ops
}

// mp marks a max pooling in conv3 widths.
const mp = 0

type preset struct {
	ops    []op
	hidden int // width of the hidden classifier layer, 0 for a linear head
}

func lookupPreset(dataset string, scattered bool, size string) (preset, error) {
	sizeIndex := map[string]int{Small: 0, Medium: 1, Large: 2}
	if size == "" {
		size = Medium
	}
	s, ok := sizeIndex[size]
	if !ok {
		return preset{}, fmt.Errorf("model: unknown size %q", size)
	}
	switch dataset {
	case "cifar10":
		if scattered {
			return []preset{
				{ops: conv3(16, 16, mp, 32, 32)},
				{ops: conv3(64, mp, 64)},
				{ops: conv3(64, 64, mp, 128, 128)},
			}[s], nil
		}
		return []preset{
			{ops: conv3(16, 16, mp, 32, 32, mp, 64, mp), hidden: 128},
			{ops: conv3(32, 32, mp, 64, 64, mp, 128, 128, mp), hidden: 128},
			{ops: conv3(32, 32, mp, 64, 64, mp, 128, 128, mp), hidden: 256},
		}[s], nil
	case "mnist", "fmnist":
		ch := [][2]int{{8, 16}, {16, 32}, {32, 64}}[s]
		if scattered {
			return preset{ops: []op{conv(ch[0], 3, 2, 1), pool(2, 1), conv(ch[1], 3, 1, 1)}, hidden: 32}, nil
		}
		return preset{ops: []op{conv(ch[0], 8, 2, 2), pool(2, 1), conv(ch[1], 4, 2, 0), pool(2, 1)}, hidden: 32}, nil
	case "synthetic":
		ch := []int{4, 8, 16}[s]
		return preset{ops: []op{conv(ch, 3, 1, 1), pool(2, 2)}}, nil
	}
	return preset{}, fmt.Errorf("model: no architecture for dataset %q", dataset)
}

// Build returns the preset model for opt with zero parameters. Call Init to
// draw initial values.
func Build(opt Options) (*Model, error) {
	if len(opt.InputShape) != 3 {
		return nil, fmt.Errorf("model.Build: input shape %v is not K×H×W", opt.InputShape)
	}
	if opt.Classes < 2 {
		return nil, fmt.Errorf("model.Build: %d classes, need at least 2", opt.Classes)
	}
	p, err := lookupPreset(opt.Dataset, opt.Scattered, opt.Size)
	if err != nil {
		return nil, fmt.Errorf("model.Build: %w", err)
	}
	k := opt.InputShape[0]
	var layers []Layer
	switch opt.InputNorm {
	case NormNone:
	case NormGroupNorm:
		groups := opt.NumGroups
		if groups == 0 {
			groups = k
		}
		layers = append(layers, GroupNorm{Groups: groups, Channels: k})
	case NormBN:
		layers = append(layers, Standardize{Mean: opt.Mean, Var: opt.Var})
	default:
		return nil, fmt.Errorf("model.Build: unknown input normalization %q", opt.InputNorm)
	}
	if opt.InputNorm != NormNone && !opt.Scattered {
		return nil, fmt.Errorf("model.Build: input normalization %s requires scattering features", opt.InputNorm)
	}

	shape := opt.InputShape
	for _, layer := range layers {
		if shape, err = layer.OutputShape(shape); err != nil {
			return nil, fmt.Errorf("model.Build: %w", err)
		}
	}
	c := k
	for _, o := range p.ops {
		var add []Layer
		if o.pool {
			add = []Layer{MaxPool2D{Kernel: o.poolKernel, Stride: o.poolStride}}
		} else {
			add = []Layer{NewConv2D(c, o.out, o.kernel, o.stride, o.pad), Tanh{}}
			c = o.out
		}
		for _, layer := range add {
			if shape, err = layer.OutputShape(shape); err != nil {
				return nil, fmt.Errorf("model.Build: input %v is too small for the %s %s architecture: %w", opt.InputShape, opt.Dataset, opt.Size, err)
			}
		}
		layers = append(layers, add...)
	}
	flat := shape[0] * shape[1] * shape[2]
	layers = append(layers, Flatten{})
	if p.hidden > 0 {
		layers = append(layers, NewLinear(flat, p.hidden), Tanh{}, NewLinear(p.hidden, opt.Classes))
	} else {
		layers = append(layers, NewLinear(flat, opt.Classes))
	}
	return NewSequential(Tag, opt.InputShape, layers...)
}
