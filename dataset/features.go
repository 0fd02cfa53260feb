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
	"context"
	"fmt"
	"sync"

	"github.com/bogdan-kulynych/Handcrafted-DP/features"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	log "github.com/golang/glog"
)

// Features holds the extracted features of every record of a Source, stored
// in single precision.
type Features struct {
	Shape []int

	data   []float32
	labels []int
}

// Precompute runs ex over every record of src using up to workers
// goroutines. It returns early if ctx is cancelled.
func Precompute(ctx context.Context, src Source, ex features.Extractor, workers int) (*Features, error) {
	n := src.Len()
	if n == 0 {
		return nil, fmt.Errorf("dataset.Precompute: empty source")
	}
	first, err := src.Sample(0)
	if err != nil {
		return nil, err
	}
	shape, err := ex.OutputShape(first.Shape)
	if err != nil {
		return nil, fmt.Errorf("dataset.Precompute: %w", err)
	}
	size := tensor.Size(shape)
	out := &Features{
		Shape:  shape,
		data:   make([]float32, n*size),
		labels: make([]int, n),
	}
	if workers < 1 {
		workers = 1
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, n)
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if i%256 == 0 && ctx.Err() != nil {
					return
				}
				err := out.set(i, src, ex, size)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Infof("Extracted %s features of shape %v for %d records", ex.Name(), shape, n)
	return out, nil
}

func (f *Features) set(i int, src Source, ex features.Extractor, size int) error {
	x, err := src.Sample(i)
	if err != nil {
		return err
	}
	y, err := ex.Extract(x)
	if err != nil {
		return fmt.Errorf("dataset.Precompute: record %d: %w", i, err)
	}
	if y.Len() != size {
		return fmt.Errorf("dataset.Precompute: record %d has %d features, want %d: %w", i, y.Len(), size, tensor.ErrShapeMismatch)
	}
	dst := f.data[i*size : (i+1)*size]
	for j, v := range y.Data {
		dst[j] = float32(v)
	}
	f.labels[i] = src.Label(i)
	return nil
}

// Len implements Source.
func (f *Features) Len() int { return len(f.labels) }

// Label implements Source.
func (f *Features) Label(i int) int { return f.labels[i] }

// Sample implements Source.
func (f *Features) Sample(i int) (*tensor.Tensor, error) {
	if i < 0 || i >= f.Len() {
		return nil, fmt.Errorf("dataset.Features: index %d out of range [0, %d)", i, f.Len())
	}
	size := tensor.Size(f.Shape)
	out := tensor.New(f.Shape...)
	for j, v := range f.data[i*size : (i+1)*size] {
		out.Data[j] = float64(v)
	}
	return out, nil
}
