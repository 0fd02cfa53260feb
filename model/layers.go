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
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	"gonum.org/v1/gonum/floats"
)

// Cache holds what a layer's Forward remembers for its Backward.
type Cache any

// Layer is a differentiable map applied to a single sample.
//
// Forward and Backward only read the layer's parameters, so a layer may be
// evaluated on many samples concurrently.
type Layer interface {
	// Kind names the layer type.
	Kind() string
	// Params returns the trainable parameters, possibly none.
	Params() []*Param
	// OutputShape returns the output shape for an input shape.
	OutputShape(in []int) ([]int, error)
	// Forward computes the output for x.
	Forward(x *tensor.Tensor) (*tensor.Tensor, Cache)
	// Backward returns the gradient with respect to the input given the
	// gradient dy with respect to the output, and adds the parameter
	// gradients to grads, which is laid out like Params().
	Backward(c Cache, dy *tensor.Tensor, grads [][]float64) *tensor.Tensor
}

// initializer is implemented by layers with trainable parameters.
type initializer interface {
	init(ctx *rand.Context)
}

// Conv2D is a 2-D convolution with square kernels and zero padding.
type Conv2D struct {
	In, Out, Kernel, Stride, Pad int

	W *Param // Out×In×Kernel×Kernel
	B *Param // Out
}

// NewConv2D returns a zero-initialized convolution.
func NewConv2D(in, out, kernel, stride, pad int) *Conv2D {
	return &Conv2D{
		In: in, Out: out, Kernel: kernel, Stride: stride, Pad: pad,
		W: newParam(out, in, kernel, kernel),
		B: newParam(out),
	}
}

func (c *Conv2D) Kind() string { return "Conv2D" }

func (c *Conv2D) Params() []*Param { return []*Param{c.W, c.B} }

func (c *Conv2D) OutputShape(in []int) ([]int, error) {
	if len(in) != 3 || in[0] != c.In {
		return nil, fmt.Errorf("Conv2D: input shape %v, want %d×H×W: %w", in, c.In, tensor.ErrShapeMismatch)
	}
	if c.Stride <= 0 || c.Kernel <= 0 || c.Pad < 0 {
		return nil, fmt.Errorf("Conv2D: invalid kernel %d, stride %d or padding %d", c.Kernel, c.Stride, c.Pad)
	}
	oh := (in[1]+2*c.Pad-c.Kernel)/c.Stride + 1
	ow := (in[2]+2*c.Pad-c.Kernel)/c.Stride + 1
	if in[1]+2*c.Pad < c.Kernel || in[2]+2*c.Pad < c.Kernel {
		return nil, fmt.Errorf("Conv2D: input %v is smaller than kernel %d: %w", in, c.Kernel, tensor.ErrShapeMismatch)
	}
	return []int{c.Out, oh, ow}, nil
}

func (c *Conv2D) init(ctx *rand.Context) {
	bound := kaimingBound(c.In * c.Kernel * c.Kernel)
	c.W.initUniform(ctx, bound)
	c.B.initUniform(ctx, bound)
}

func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	h, w := x.Shape[1], x.Shape[2]
	k, s, p := c.Kernel, c.Stride, c.Pad
	oh, ow := (h+2*p-k)/s+1, (w+2*p-k)/s+1
	y := tensor.New(c.Out, oh, ow)
	W, X := c.W.Data, x.Data
	for o := 0; o < c.Out; o++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				sum := c.B.Data[o]
				for ic := 0; ic < c.In; ic++ {
					for ky := 0; ky < k; ky++ {
						yy := i*s + ky - p
						if yy < 0 || yy >= h {
							continue
						}
						wRow := ((o*c.In+ic)*k + ky) * k
						xRow := (ic*h + yy) * w
						for kx := 0; kx < k; kx++ {
							xx := j*s + kx - p
							if xx < 0 || xx >= w {
								continue
							}
							sum += W[wRow+kx] * X[xRow+xx]
						}
					}
				}
				y.Data[(o*oh+i)*ow+j] = sum
			}
		}
	}
	return y, x
}

func (c *Conv2D) Backward(cache Cache, dy *tensor.Tensor, grads [][]float64) *tensor.Tensor {
	x := cache.(*tensor.Tensor)
	h, w := x.Shape[1], x.Shape[2]
	k, s, p := c.Kernel, c.Stride, c.Pad
	oh, ow := dy.Shape[1], dy.Shape[2]
	gW, gB := grads[0], grads[1]
	dx := tensor.New(x.Shape...)
	W, X := c.W.Data, x.Data
	for o := 0; o < c.Out; o++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				g := dy.Data[(o*oh+i)*ow+j]
				if g == 0 {
					continue
				}
				gB[o] += g
				for ic := 0; ic < c.In; ic++ {
					for ky := 0; ky < k; ky++ {
						yy := i*s + ky - p
						if yy < 0 || yy >= h {
							continue
						}
						wRow := ((o*c.In+ic)*k + ky) * k
						xRow := (ic*h + yy) * w
						for kx := 0; kx < k; kx++ {
							xx := j*s + kx - p
							if xx < 0 || xx >= w {
								continue
							}
							gW[wRow+kx] += g * X[xRow+xx]
							dx.Data[xRow+xx] += g * W[wRow+kx]
						}
					}
				}
			}
		}
	}
	return dx
}

// Linear is a fully connected layer y = Wx + b on 1-D inputs.
type Linear struct {
	In, Out int

	W *Param // Out×In
	B *Param // Out
}

// NewLinear returns a zero-initialized fully connected layer.
func NewLinear(in, out int) *Linear {
	return &Linear{In: in, Out: out, W: newParam(out, in), B: newParam(out)}
}

func (l *Linear) Kind() string { return "Linear" }

func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }

func (l *Linear) OutputShape(in []int) ([]int, error) {
	if len(in) != 1 || in[0] != l.In {
		return nil, fmt.Errorf("Linear: input shape %v, want [%d]: %w", in, l.In, tensor.ErrShapeMismatch)
	}
	return []int{l.Out}, nil
}

func (l *Linear) init(ctx *rand.Context) {
	bound := kaimingBound(l.In)
	l.W.initUniform(ctx, bound)
	l.B.initUniform(ctx, bound)
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	y := tensor.New(l.Out)
	for o := 0; o < l.Out; o++ {
		y.Data[o] = floats.Dot(l.W.Data[o*l.In:(o+1)*l.In], x.Data) + l.B.Data[o]
	}
	return y, x
}

func (l *Linear) Backward(cache Cache, dy *tensor.Tensor, grads [][]float64) *tensor.Tensor {
	x := cache.(*tensor.Tensor)
	gW, gB := grads[0], grads[1]
	dx := tensor.New(l.In)
	for o, g := range dy.Data {
		if g == 0 {
			continue
		}
		gB[o] += g
		floats.AddScaled(gW[o*l.In:(o+1)*l.In], g, x.Data)
		floats.AddScaled(dx.Data, g, l.W.Data[o*l.In:(o+1)*l.In])
	}
	return dx
}

// Tanh applies the hyperbolic tangent elementwise.
type Tanh struct{}

func (Tanh) Kind() string { return "Tanh" }

func (Tanh) Params() []*Param { return nil }

func (Tanh) OutputShape(in []int) ([]int, error) { return append([]int(nil), in...), nil }

func (Tanh) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		y.Data[i] = math.Tanh(v)
	}
	return y, y
}

func (Tanh) Backward(cache Cache, dy *tensor.Tensor, _ [][]float64) *tensor.Tensor {
	y := cache.(*tensor.Tensor)
	dx := tensor.New(dy.Shape...)
	for i, g := range dy.Data {
		dx.Data[i] = g * (1 - y.Data[i]*y.Data[i])
	}
	return dx
}

// MaxPool2D takes the maximum over square windows.
type MaxPool2D struct {
	Kernel, Stride int
}

type poolCache struct {
	inShape []int
	argmax  []int
}

func (MaxPool2D) Kind() string { return "MaxPool2D" }

func (MaxPool2D) Params() []*Param { return nil }

func (m MaxPool2D) OutputShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("MaxPool2D: input shape %v is not C×H×W: %w", in, tensor.ErrShapeMismatch)
	}
	if m.Kernel <= 0 || m.Stride <= 0 {
		return nil, fmt.Errorf("MaxPool2D: invalid kernel %d or stride %d", m.Kernel, m.Stride)
	}
	if in[1] < m.Kernel || in[2] < m.Kernel {
		return nil, fmt.Errorf("MaxPool2D: input %v is smaller than kernel %d: %w", in, m.Kernel, tensor.ErrShapeMismatch)
	}
	return []int{in[0], (in[1]-m.Kernel)/m.Stride + 1, (in[2]-m.Kernel)/m.Stride + 1}, nil
}

func (m MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	oh, ow := (h-m.Kernel)/m.Stride+1, (w-m.Kernel)/m.Stride+1
	y := tensor.New(c, oh, ow)
	argmax := make([]int, len(y.Data))
	for ch := 0; ch < c; ch++ {
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				best, bestIdx := math.Inf(-1), -1
				for ky := 0; ky < m.Kernel; ky++ {
					for kx := 0; kx < m.Kernel; kx++ {
						idx := (ch*h+i*m.Stride+ky)*w + j*m.Stride + kx
						if v := x.Data[idx]; v > best || bestIdx < 0 {
							best, bestIdx = v, idx
						}
					}
				}
				o := (ch*oh+i)*ow + j
				y.Data[o], argmax[o] = best, bestIdx
			}
		}
	}
	return y, &poolCache{inShape: x.Shape, argmax: argmax}
}

func (MaxPool2D) Backward(cache Cache, dy *tensor.Tensor, _ [][]float64) *tensor.Tensor {
	pc := cache.(*poolCache)
	dx := tensor.New(pc.inShape...)
	for o, g := range dy.Data {
		dx.Data[pc.argmax[o]] += g
	}
	return dx
}

// Flatten reshapes its input to one dimension.
type Flatten struct{}

func (Flatten) Kind() string { return "Flatten" }

func (Flatten) Params() []*Param { return nil }

func (Flatten) OutputShape(in []int) ([]int, error) { return []int{tensor.Size(in)}, nil }

func (Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	return &tensor.Tensor{Data: x.Data, Shape: []int{x.Len()}}, x.Shape
}

func (Flatten) Backward(cache Cache, dy *tensor.Tensor, _ [][]float64) *tensor.Tensor {
	return &tensor.Tensor{Data: dy.Data, Shape: cache.([]int)}
}
