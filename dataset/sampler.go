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
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
)

// Sampler partitions the record indices of an epoch into physical batches.
type Sampler interface {
	// Epoch returns the physical batches of the next epoch.
	Epoch() [][]int
	// ExpectedBatchSize returns the expected number of records in a batch.
	ExpectedBatchSize() float64
	// SampleRate returns the probability that a given record is part of a
	// given batch, as seen by the privacy accountant.
	SampleRate() float64
}

// Shuffled draws a random permutation every epoch and cuts it into batches
// of a fixed size. The trailing partial batch is dropped.
type Shuffled struct {
	n, size int
	ctx     *rand.Context
}

// NewShuffled returns a Shuffled sampler over n records.
func NewShuffled(n, size int, ctx *rand.Context) (*Shuffled, error) {
	if size <= 0 || size > n {
		return nil, fmt.Errorf("dataset.NewShuffled: batch size %d must be in [1, %d]", size, n)
	}
	return &Shuffled{n: n, size: size, ctx: ctx}, nil
}

// Epoch implements Sampler.
func (s *Shuffled) Epoch() [][]int {
	perm := s.ctx.Perm(s.n)
	batches := make([][]int, 0, s.n/s.size)
	for start := 0; start+s.size <= s.n; start += s.size {
		batches = append(batches, perm[start:start+s.size])
	}
	return batches
}

// ExpectedBatchSize implements Sampler.
func (s *Shuffled) ExpectedBatchSize() float64 { return float64(s.size) }

// SampleRate implements Sampler.
func (s *Shuffled) SampleRate() float64 { return float64(s.size) / float64(s.n) }

// Poisson includes every record in every batch independently with
// probability rate, and produces ⌊1/rate⌋ batches per epoch. Batches may be
// empty.
type Poisson struct {
	n    int
	rate float64
	ctx  *rand.Context
}

// NewPoisson returns a Poisson sampler over n records.
func NewPoisson(n int, rate float64, ctx *rand.Context) (*Poisson, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dataset.NewPoisson: %d records, must be positive", n)
	}
	if err := checks.CheckSampleRate("dataset.NewPoisson", rate); err != nil {
		return nil, err
	}
	return &Poisson{n: n, rate: rate, ctx: ctx}, nil
}

// Epoch implements Sampler.
func (p *Poisson) Epoch() [][]int {
	batches := make([][]int, poissonBatches(p.rate))
	for b := range batches {
		batch := make([]int, 0, int(p.ExpectedBatchSize())+1)
		for i := 0; i < p.n; i++ {
			if p.ctx.Bernoulli(p.rate) {
				batch = append(batch, i)
			}
		}
		batches[b] = batch
	}
	return batches
}

func poissonBatches(rate float64) int { return int(1 / rate) }

// ExpectedBatchSize implements Sampler.
func (p *Poisson) ExpectedBatchSize() float64 { return p.rate * float64(p.n) }

// SampleRate implements Sampler.
func (p *Poisson) SampleRate() float64 { return p.rate }

// StepsPerEpoch returns the number of parameter updates in one epoch over n
// records. Shuffled epochs drop the trailing partial physical batch and
// step once per batchSize/miniBatchSize physical batches, including a last
// partial group. Poisson epochs step once per batch.
func StepsPerEpoch(n, batchSize, miniBatchSize int, poisson bool) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	if poisson {
		return poissonBatches(float64(batchSize) / float64(n))
	}
	if miniBatchSize <= 0 || miniBatchSize > n {
		return 0
	}
	physical := n / miniBatchSize
	acc := max(batchSize/miniBatchSize, 1)
	return (physical + acc - 1) / acc
}

// Sequential cuts [0, n) into consecutive batches of at most size records,
// keeping the trailing partial batch. It is used for evaluation.
func Sequential(n, size int) [][]int {
	if size <= 0 {
		size = n
	}
	var batches [][]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		batch := make([]int, end-start)
		for i := range batch {
			batch[i] = start + i
		}
		batches = append(batches, batch)
	}
	return batches
}
