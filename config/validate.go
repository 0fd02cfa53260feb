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


package config

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/dataset"
	"github.com/bogdan-kulynych/Handcrafted-DP/features"
	"github.com/bogdan-kulynych/Handcrafted-DP/model"
	"github.com/bogdan-kulynych/Handcrafted-DP/optim"
)

const label = "config.Validate"

// Validate returns an error wrapping ErrInvalid if the configuration cannot
// be trained.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateData,
		c.validateBatches,
		c.validateOptimizer,
		c.validatePrivacy,
		c.validateNorm,
		c.validateRun,
	} {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

func (c *Config) validateData() error {
	if _, _, err := dataset.Info(c.Dataset); err != nil {
		return err
	}
	switch c.Size {
	case "", model.Small, model.Medium, model.Large:
	default:
		return fmt.Errorf("%s: size %q is not small, medium or large", label, c.Size)
	}
	return nil
}

func (c *Config) validateBatches() error {
	if err := checks.CheckBatchSizes(label, c.BatchSize, c.MiniBatchSize); err != nil {
		return err
	}
	if c.SampleBatches {
		// Poisson batches have a random size, so they cannot be
		// split into physical batches or augmented on the fly.
		if c.AccumulationSteps() != 1 {
			return fmt.Errorf("%s: sample_batches requires batch_size (%d) to equal mini_batch_size (%d)", label, c.BatchSize, c.MiniBatchSize)
		}
		if c.Augment {
			return fmt.Errorf("%s: sample_batches cannot be combined with augment", label)
		}
	}
	return nil
}

func (c *Config) validateOptimizer() error {
	if err := checks.CheckLearningRate(label, c.LR); err != nil {
		return err
	}
	switch c.Optim {
	case optim.SGDName:
		if c.Momentum < 0 || c.Momentum >= 1 || math.IsNaN(c.Momentum) {
			return fmt.Errorf("%s: momentum is %f, must be in [0, 1)", label, c.Momentum)
		}
		if c.Nesterov && c.Momentum == 0 {
			return fmt.Errorf("%s: nesterov requires a positive momentum", label)
		}
	case optim.AdamName:
		if c.Nesterov {
			return fmt.Errorf("%s: nesterov requires the SGD optimizer", label)
		}
	default:
		return fmt.Errorf("%s: optim %q is not %s or %s", label, c.Optim, optim.SGDName, optim.AdamName)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("%s: epochs is %d, must be at least 1", label, c.Epochs)
	}
	return nil
}

func (c *Config) validatePrivacy() error {
	if err := checks.CheckNoiseMultiplier(label, c.NoiseMultiplier); err != nil {
		return err
	}
	if err := checks.CheckMaxGradNorm(label, c.MaxGradNorm); err != nil {
		return err
	}
	if err := checks.CheckDeltaStrict(label, c.Delta); err != nil {
		return err
	}
	if c.MaxEpsilon != 0 {
		if err := checks.CheckMaxEpsilon(label, c.MaxEpsilon); err != nil {
			return err
		}
		if !c.Private() {
			return fmt.Errorf("%s: max_epsilon needs a positive noise_multiplier and DP enabled", label)
		}
	}
	if math.IsInf(c.MaxGradNorm, 1) && c.Private() {
		return fmt.Errorf("%s: noise requires a finite max_grad_norm", label)
	}
	return nil
}

func (c *Config) validateNorm() error {
	switch c.InputNorm {
	case model.NormNone:
		return nil
	case model.NormGroupNorm, model.NormBN:
	default:
		return fmt.Errorf("%s: input_norm %q is not %s or %s", label, c.InputNorm, model.NormGroupNorm, model.NormBN)
	}
	if !c.UseScattering {
		return fmt.Errorf("%s: input_norm %s requires use_scattering", label, c.InputNorm)
	}
	if c.InputNorm == model.NormBN {
		if err := checks.CheckNoiseMultiplier(label, c.BNNoiseMultiplier); err != nil {
			return err
		}
		if c.BNStatsDir == "" {
			return fmt.Errorf("%s: input_norm BN requires bn_stats_dir", label)
		}
		return nil
	}
	k, err := c.FeatureChannels()
	if err != nil {
		return err
	}
	if c.NumGroups < 0 || (c.NumGroups > 0 && k%c.NumGroups != 0) {
		return fmt.Errorf("%s: num_groups is %d, must divide the %d feature channels", label, c.NumGroups, k)
	}
	return nil
}

func (c *Config) validateRun() error {
	if c.EarlyStop && c.PlateauWindow < 1 {
		return fmt.Errorf("%s: plateau_window is %d, must be at least 1", label, c.PlateauWindow)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%s: out_dir must be set", label)
	}
	_, err := c.Workers()
	return err
}

// FeatureChannels returns the number of channels K of the model input.
func (c *Config) FeatureChannels() (int, error) {
	shape, _, err := dataset.Info(c.Dataset)
	if err != nil {
		return 0, err
	}
	out, err := features.New(c.UseScattering).OutputShape(shape)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}
