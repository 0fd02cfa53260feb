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

package dataset

import (
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
)

// Augmentation describes random training-time transformations: a random
// crop of the zero-padded image back to its original size, and an optional
// horizontal flip with probability 1/2.
type Augmentation struct {
	Pad  int
	Flip bool
}

// DefaultAugmentation returns the augmentation used for a dataset. Digits
// and clothing items are not flipped.
func DefaultAugmentation(name string) Augmentation {
	if name == CIFAR10 {
		return Augmentation{Pad: 4, Flip: true}
	}
	return Augmentation{Pad: 2}
}

// Apply returns an augmented copy of the C×H×W image x.
func (a Augmentation) Apply(x *tensor.Tensor, ctx *rand.Context) *tensor.Tensor {
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	dy, dx := 0, 0
	if a.Pad > 0 {
		dy = ctx.IntN(2*a.Pad+1) - a.Pad
		dx = ctx.IntN(2*a.Pad+1) - a.Pad
	}
	flip := a.Flip && ctx.Boolean()
	out := tensor.New(x.Shape...)
	for ch := 0; ch < c; ch++ {
		for i := 0; i < h; i++ {
			si := i + dy
			if si < 0 || si >= h {
				continue
			}
			for j := 0; j < w; j++ {
				sj := j + dx
				if flip {
					sj = w - 1 - j + dx
				}
				if sj < 0 || sj >= w {
					continue
				}
				out.Data[(ch*h+i)*w+j] = x.Data[(ch*h+si)*w+sj]
			}
		}
	}
	return out
}
