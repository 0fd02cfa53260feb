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

// Package rand provides explicit, seedable random number contexts.
//
// Every component that consumes randomness (data shuffling, augmentation,
// parameter initialization, gradient noise, statistics noise) receives its own
// *Context, usually derived from a single root with Child. Two contexts built
// from the same seed and the same chain of child names produce identical
// streams, which makes each component deterministic under test.
//
// A Context is not safe for concurrent use.
package rand

import (
	"bufio"
	cryptorand "crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"io"
	"math"
	"math/bits"
	mathrand "math/rand/v2"
	"sync"

	log "github.com/golang/glog"
)

// Context is a named stream of random numbers.
type Context struct {
	name   string
	seed   uint64
	secure bool
	src    mathrand.Source
	rng    *mathrand.Rand
}

// New returns a deterministic root context for the given seed.
func New(seed uint64) *Context {
	return newContext("root", seed, false)
}

// NewSecure returns a root context backed by the operating system's
// cryptographically secure generator. Child contexts of a secure context are
// secure as well; the seed is ignored.
func NewSecure() *Context {
	return newContext("root", 0, true)
}

func newContext(name string, seed uint64, secure bool) *Context {
	var src mathrand.Source
	if secure {
		src = secureSource{}
	} else {
		src = mathrand.NewPCG(seed, streamID(name))
	}
	return &Context{name: name, seed: seed, secure: secure, src: src, rng: mathrand.New(src)}
}

// Child derives an independent stream identified by name. The derivation only
// depends on the root seed and the full name path, never on how many numbers
// were drawn from the parent.
func (c *Context) Child(name string) *Context {
	return newContext(c.name+"/"+name, c.seed, c.secure)
}

// Name returns the full name path of the stream.
func (c *Context) Name() string { return c.name }

// Secure reports whether the stream is backed by a cryptographic generator.
func (c *Context) Secure() bool { return c.secure }

// Source exposes the underlying source, e.g. for gonum distributions.
func (c *Context) Source() mathrand.Source { return c.src }

// U64 returns a uniformly random uint64.
func (c *Context) U64() uint64 { return c.rng.Uint64() }

// Normal returns a normally distributed float with mean 0 and standard deviation 1.
func (c *Context) Normal() float64 { return c.rng.NormFloat64() }

// Float64 returns a uniform float64 in [0, 1).
func (c *Context) Float64() float64 { return c.rng.Float64() }

// IntN returns an integer from {0,...,n-1} uniformly at random. n must be positive.
func (c *Context) IntN(n int) int { return c.rng.IntN(n) }

// I63n returns an int64 from {0,...,n-1} uniformly at random. n must be positive.
func (c *Context) I63n(n int64) int64 { return c.rng.Int64N(n) }

// Perm returns a random permutation of {0,...,n-1}.
func (c *Context) Perm(n int) []int { return c.rng.Perm(n) }

// Bernoulli returns true with probability p.
func (c *Context) Bernoulli(p float64) bool {
	if p >= 1 {
		return true
	}
	if p <= 0 {
		return false
	}
	return c.rng.Float64() < p
}

// Boolean returns true or false with equal probability.
func (c *Context) Boolean() bool { return c.rng.Uint64()&1 == 1 }

// Uniform returns a float64 from the interval (0,1] such that each float
// in the interval is returned with positive probability and the resulting
// distribution simulates a continuous uniform distribution on (0, 1].
func (c *Context) Uniform() float64 {
	i := c.rng.Uint64() % (1 << 53)
	r := (1 + float64(i)/(1<<53)) / math.Pow(2, c.Geometric())
	// Callers take the log of the output.
	if r == 0 {
		return 1
	}
	return r
}

// Geometric returns the number of Bernoulli trials until the first success
// for a success probability of 0.5.
func (c *Context) Geometric() float64 {
	// 1 plus the number of leading zeros of an infinite stream of random bits.
	b := 1
	for {
		r := c.rng.Uint64()
		if r != 0 {
			b += bits.LeadingZeros64(r)
			return float64(b)
		}
		b += 64
	}
}

func streamID(name string) uint64 {
	h := fnv.New64a()
	io.WriteString(h, name)
	return h.Sum64()
}

var (
	secureBufLock sync.Mutex
	secureBuf     io.Reader = bufio.NewReaderSize(cryptorand.Reader, 65536)
)

// secureSource implements math/rand/v2.Source on top of crypto/rand.
type secureSource struct{}

func (secureSource) Uint64() uint64 {
	var r [8]uint8
	secureBufLock.Lock()
	_, err := io.ReadFull(secureBuf, r[:])
	secureBufLock.Unlock()
	if err != nil {
		log.Fatalf("out of randomness, should never happen: %v", err)
	}
	return binary.LittleEndian.Uint64(r[:])
}
