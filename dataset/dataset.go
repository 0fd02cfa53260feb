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

// Package dataset loads the image classification datasets used for
// training, and provides the augmentation and batch sampling applied to
// them.
//
// Images are kept as raw bytes and converted to C×H×W tensors with values in
// [0, 1] on access.
package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	log "github.com/golang/glog"
)

// Dataset names accepted by Load.
const (
	MNIST        = "mnist"
	FashionMNIST = "fmnist"
	CIFAR10      = "cifar10"
	Synthetic    = "synthetic"
)

var shapes = map[string]struct {
	shape   []int
	classes int
}{
	MNIST:        {[]int{1, 28, 28}, 10},
	FashionMNIST: {[]int{1, 28, 28}, 10},
	CIFAR10:      {[]int{3, 32, 32}, 10},
	Synthetic:    {[]int{1, 8, 8}, 4},
}

// Info returns the C×H×W image shape and the number of classes of a dataset
// without loading it.
func Info(name string) (shape []int, classes int, err error) {
	s, ok := shapes[name]
	if !ok {
		return nil, 0, fmt.Errorf("dataset.Info: unknown dataset %q", name)
	}
	return append([]int(nil), s.shape...), s.classes, nil
}

// Source is a collection of labelled samples addressed by index.
type Source interface {
	Len() int
	Label(i int) int
	// Sample returns the i-th sample. Callers must not modify it.
	Sample(i int) (*tensor.Tensor, error)
}

// Dataset is an in-memory labelled image dataset.
type Dataset struct {
	Name    string
	Shape   []int // C×H×W
	Classes int

	pixels []uint8
	labels []uint8
}

// New wraps raw pixel and label bytes. pixels holds the images back to back
// in C×H×W order.
func New(name string, shape []int, classes int, pixels, labels []uint8) (*Dataset, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("dataset.New: shape %v is not C×H×W", shape)
	}
	if classes <= 0 || classes > 256 {
		return nil, fmt.Errorf("dataset.New: %d classes, must be in [1, 256]", classes)
	}
	size := tensor.Size(shape)
	if size <= 0 || len(pixels) != size*len(labels) {
		return nil, fmt.Errorf("dataset.New: %d pixel bytes for %d labels of shape %v", len(pixels), len(labels), shape)
	}
	for i, l := range labels {
		if int(l) >= classes {
			return nil, fmt.Errorf("dataset.New: label %d of record %d is out of range for %d classes", l, i, classes)
		}
	}
	return &Dataset{
		Name:    name,
		Shape:   append([]int(nil), shape...),
		Classes: classes,
		pixels:  pixels,
		labels:  labels,
	}, nil
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.labels) }

// Label returns the class of record i.
func (d *Dataset) Label(i int) int { return int(d.labels[i]) }

// Image returns record i scaled to [0, 1].
func (d *Dataset) Image(i int) *tensor.Tensor {
	size := tensor.Size(d.Shape)
	out := tensor.New(d.Shape...)
	for j, p := range d.pixels[i*size : (i+1)*size] {
		out.Data[j] = float64(p) / 255
	}
	return out
}

// Sample implements Source.
func (d *Dataset) Sample(i int) (*tensor.Tensor, error) {
	if i < 0 || i >= d.Len() {
		return nil, fmt.Errorf("dataset %s: index %d out of range [0, %d)", d.Name, i, d.Len())
	}
	return d.Image(i), nil
}

// Load reads the train or test split of a dataset from dir. MNIST and
// Fashion-MNIST are read from IDX files (optionally gzipped) under
// dir/<name>/, CIFAR-10 from the binary batches under
// dir/cifar10/cifar-10-batches-bin/. The synthetic dataset is generated and
// ignores dir.
func Load(name, dir string, train bool) (*Dataset, error) {
	var d *Dataset
	var err error
	switch name {
	case MNIST, FashionMNIST:
		d, err = loadIDX(name, filepath.Join(dir, name), train)
	case CIFAR10:
		d, err = loadCIFAR10(filepath.Join(dir, CIFAR10, "cifar-10-batches-bin"), train)
	case Synthetic:
		split := "train"
		n := 1024
		if !train {
			split, n = "test", 256
		}
		// Fixed seed so that train and test share class prototypes.
		info := shapes[Synthetic]
		d, err = NewSynthetic(SyntheticOptions{N: n, Classes: info.classes, Shape: info.shape, Noise: 0.1},
			rand.New(0).Child("synthetic"), split)
	default:
		return nil, fmt.Errorf("dataset.Load: unknown dataset %q", name)
	}
	if err != nil {
		return nil, err
	}
	log.V(1).Infof("Loaded %d %s records of shape %v (train=%t)", d.Len(), name, d.Shape, train)
	return d, nil
}
