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

package normstats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bogdan-kulynych/Handcrafted-DP/dataset"
	"github.com/bogdan-kulynych/Handcrafted-DP/features"
	"github.com/bogdan-kulynych/Handcrafted-DP/rdp"
	"github.com/gofrs/flock"
	log "github.com/golang/glog"
)

// Compute runs an Estimator over the features of the first
// opt.SampleSize samples of src, in order.
func Compute(ctx context.Context, src dataset.Source, ex features.Extractor, opt *Options) (*Stats, rdp.Vector, error) {
	e, err := New(opt)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < src.Len() && !e.Full(); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		x, err := src.Sample(i)
		if err != nil {
			return nil, nil, err
		}
		f, err := ex.Extract(x)
		if err != nil {
			return nil, nil, fmt.Errorf("normstats.Compute: sample %d: %w", i, err)
		}
		if err := e.Add(f); err != nil {
			return nil, nil, err
		}
	}
	return e.Result()
}

// Key identifies a released set of statistics.
type Key struct {
	Dataset         string  `json:"dataset"`
	Extractor       string  `json:"extractor"`
	SampleSize      int     `json:"sample_size"`
	NoiseMultiplier float64 `json:"noise_multiplier"`
	MeanClip        float64 `json:"mean_clip"`
	SquareClip      float64 `json:"square_clip"`
}

func (k Key) filename() string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) }
	return fmt.Sprintf("%s_n%d_sigma%s_clip%s_%s.json", k.Extractor, k.SampleSize, f(k.NoiseMultiplier), f(k.MeanClip), f(k.SquareClip))
}

type entry struct {
	Key   Key    `json:"key"`
	Stats *Stats `json:"stats"`
}

// Cache stores released statistics on disk under Dir/<dataset>/, so that a
// noisy release is computed once and reused by later runs. Access is
// serialized across processes with a file lock.
type Cache struct {
	Dir string
}

func (c *Cache) path(k Key) string {
	return filepath.Join(c.Dir, k.Dataset, k.filename())
}

// Lookup returns the cached statistics for k, if any.
func (c *Cache) Lookup(k Key) (*Stats, bool, error) {
	lock := flock.New(c.path(k) + ".lock")
	if err := os.MkdirAll(filepath.Dir(c.path(k)), 0o755); err != nil {
		return nil, false, fmt.Errorf("normstats.Cache: %w", err)
	}
	if err := lock.RLock(); err != nil {
		return nil, false, fmt.Errorf("normstats.Cache: lock: %w", err)
	}
	defer lock.Unlock()
	return c.read(k)
}

// Store writes s as the statistics for k, replacing any previous entry.
func (c *Cache) Store(k Key, s *Stats) error {
	if err := os.MkdirAll(filepath.Dir(c.path(k)), 0o755); err != nil {
		return fmt.Errorf("normstats.Cache: %w", err)
	}
	lock := flock.New(c.path(k) + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("normstats.Cache: lock: %w", err)
	}
	defer lock.Unlock()
	return c.write(k, s)
}

// LookupOrCompute returns the cached statistics for k, calling compute and
// storing its result on a miss. The lock is held throughout so that
// concurrent runs release the statistics only once. The returned cost is
// the analytical cost of the release and is charged on hits as well.
func (c *Cache) LookupOrCompute(k Key, orders []float64, compute func() (*Stats, rdp.Vector, error)) (*Stats, rdp.Vector, error) {
	if err := os.MkdirAll(filepath.Dir(c.path(k)), 0o755); err != nil {
		return nil, nil, fmt.Errorf("normstats.Cache: %w", err)
	}
	lock := flock.New(c.path(k) + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, nil, fmt.Errorf("normstats.Cache: lock: %w", err)
	}
	defer lock.Unlock()

	s, ok, err := c.read(k)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		log.Infof("Using cached normalization statistics %s", c.path(k))
		cost, err := Cost(k.NoiseMultiplier, orders)
		if err != nil {
			return nil, nil, err
		}
		return s, cost, nil
	}
	s, cost, err := compute()
	if err != nil {
		return nil, nil, err
	}
	if err := c.write(k, s); err != nil {
		return nil, nil, err
	}
	log.Infof("Stored normalization statistics in %s", c.path(k))
	return s, cost, nil
}

func (c *Cache) read(k Key) (*Stats, bool, error) {
	b, err := os.ReadFile(c.path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("normstats.Cache: %w", err)
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, false, fmt.Errorf("normstats.Cache: %s: %w", c.path(k), err)
	}
	if e.Key != k || e.Stats == nil || len(e.Stats.Mean) != len(e.Stats.Var) {
		return nil, false, fmt.Errorf("normstats.Cache: %s does not hold statistics for %+v", c.path(k), k)
	}
	return e.Stats, true, nil
}

func (c *Cache) write(k Key, s *Stats) error {
	b, err := json.MarshalIndent(entry{Key: k, Stats: s}, "", "  ")
	if err != nil {
		return fmt.Errorf("normstats.Cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path(k)), ".stats-*")
	if err != nil {
		return fmt.Errorf("normstats.Cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("normstats.Cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("normstats.Cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(k)); err != nil {
		return fmt.Errorf("normstats.Cache: %w", err)
	}
	return nil
}
