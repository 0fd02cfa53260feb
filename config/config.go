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


// Package config holds the configuration of a training run.
//
// A configuration starts from Default, is optionally overlaid with a TOML
// file by Load, and may then be overridden field by field from the command
// line. Validate must succeed before the configuration is used.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config describes one training run. Field names follow the command line
// flags.
type Config struct {
	Dataset string `toml:"dataset"`
	DataDir string `toml:"data_dir"`
	Seed    uint64 `toml:"seed"`

	// Size is "small", "medium" or "large". Empty selects the model default.
	Size          string `toml:"size"`
	Augment       bool   `toml:"augment"`
	UseScattering bool   `toml:"use_scattering"`

	BatchSize     int  `toml:"batch_size"`
	MiniBatchSize int  `toml:"mini_batch_size"`
	SampleBatches bool `toml:"sample_batches"`

	LR       float64 `toml:"lr"`
	Optim    string  `toml:"optim"`
	Momentum float64 `toml:"momentum"`
	Nesterov bool    `toml:"nesterov"`

	NoiseMultiplier float64 `toml:"noise_multiplier"`
	MaxGradNorm     float64 `toml:"max_grad_norm"`
	Epochs          int     `toml:"epochs"`
	// DisableDP trains without clipping, noise or accounting.
	DisableDP bool `toml:"disable_dp"`
	// SecureNoise selects the discretized Gaussian sampler.
	SecureNoise bool `toml:"secure_noise"`

	InputNorm         string  `toml:"input_norm"`
	NumGroups         int     `toml:"num_groups"`
	BNNoiseMultiplier float64 `toml:"bn_noise_multiplier"`
	BNStatsDir        string  `toml:"bn_stats_dir"`

	// MaxEpsilon stops training once ε reaches it. 0 disables the budget.
	MaxEpsilon    float64 `toml:"max_epsilon"`
	Delta         float64 `toml:"delta"`
	EarlyStop     bool    `toml:"early_stop"`
	PlateauWindow int     `toml:"plateau_window"`

	OutDir string `toml:"out_dir"`
	// Device is "cpu", using every core, or "cpu:N" for N workers.
	Device string `toml:"device"`
	Resume bool   `toml:"resume"`
}

// Default returns the default configuration. Dataset is left empty and must
// be set.
func Default() *Config {
	return &Config{
		DataDir:           "data",
		BatchSize:         2048,
		MiniBatchSize:     256,
		LR:                0.01,
		Optim:             "SGD",
		Momentum:          0.9,
		NoiseMultiplier:   1,
		MaxGradNorm:       0.1,
		Epochs:            100,
		BNNoiseMultiplier: 6,
		BNStatsDir:        "bn_stats",
		Delta:             1e-5,
		EarlyStop:         true,
		PlateauWindow:     20,
		OutDir:            "out",
		Device:            "cpu",
	}
}

// Load returns Default overlaid with the TOML file at path. Keys that do not
// name a field are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal returns the configuration as TOML.
func (c *Config) Marshal() (string, error) {
	b, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config.Marshal: %w", err)
	}
	return string(b), nil
}

// RunName names the run directory, e.g. "cifar10_scatternet_1.5".
func (c *Config) RunName() string {
	return fmt.Sprintf("%s_scatternet_%s", c.Dataset, strconv.FormatFloat(c.effectiveNoise(), 'g', -1, 64))
}

// CheckpointPath returns the path of the latest checkpoint of the run.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.OutDir, c.RunName(), fmt.Sprintf("model_%d", c.Seed))
}

// TelemetryPath returns the path of the run history database.
func (c *Config) TelemetryPath() string {
	return filepath.Join(c.OutDir, "runs.db")
}

// AccumulationSteps returns the number of physical batches per logical
// batch.
func (c *Config) AccumulationSteps() int {
	if c.MiniBatchSize <= 0 {
		return 0
	}
	return c.BatchSize / c.MiniBatchSize
}

// Workers returns the number of goroutines computing per-sample gradients.
func (c *Config) Workers() (int, error) {
	if c.Device == "cpu" || c.Device == "" {
		return runtime.NumCPU(), nil
	}
	n, ok := strings.CutPrefix(c.Device, "cpu:")
	if !ok {
		return 0, fmt.Errorf("device %q is not cpu or cpu:N: %w", c.Device, ErrInvalid)
	}
	w, err := strconv.Atoi(n)
	if err != nil || w < 1 {
		return 0, fmt.Errorf("device %q must have a positive worker count: %w", c.Device, ErrInvalid)
	}
	return w, nil
}

// effectiveNoise is the gradient noise multiplier actually used.
func (c *Config) effectiveNoise() float64 {
	if c.DisableDP {
		return 0
	}
	return c.NoiseMultiplier
}

// Private reports whether the run adds noise and is accounted.
func (c *Config) Private() bool {
	return c.effectiveNoise() > 0
}
