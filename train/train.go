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


// Package train drives differentially private training: it prepares the
// features and normalization statistics, runs the epochs, accounts for the
// privacy spent, and checkpoints and reports every epoch.
package train

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/bogdan-kulynych/Handcrafted-DP/checkpoint"
	"github.com/bogdan-kulynych/Handcrafted-DP/config"
	"github.com/bogdan-kulynych/Handcrafted-DP/dataset"
	"github.com/bogdan-kulynych/Handcrafted-DP/features"
	"github.com/bogdan-kulynych/Handcrafted-DP/model"
	"github.com/bogdan-kulynych/Handcrafted-DP/noise"
	"github.com/bogdan-kulynych/Handcrafted-DP/normstats"
	"github.com/bogdan-kulynych/Handcrafted-DP/optim"
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/rdp"
	"github.com/bogdan-kulynych/Handcrafted-DP/telemetry"
	log "github.com/golang/glog"
)

// StopReason tells why a run ended.
type StopReason int

// Stop reasons.
const (
	StopEpochsExhausted StopReason = iota
	StopBudgetExhausted
	StopPlateau
)

func (s StopReason) String() string {
	switch s {
	case StopEpochsExhausted:
		return "epochs exhausted"
	case StopBudgetExhausted:
		return "privacy budget exhausted"
	case StopPlateau:
		return "plateau"
	}
	return fmt.Sprintf("StopReason(%d)", int(s))
}

// Options contains the options necessary to initialize a Trainer.
type Options struct {
	Config *config.Config // Required.
	// Train and Test override the splits loaded from Config.DataDir.
	Train, Test dataset.Source
	// Store records the run history. Optional.
	Store *telemetry.Store
	// Sinks receive every epoch record in addition to the info log and
	// Store.
	Sinks []telemetry.Sink
}

// Result summarizes a finished run.
type Result struct {
	Stop StopReason
	// Epochs is the number of completed epochs, including those of a
	// resumed checkpoint.
	Epochs  int
	Steps   int64
	TestAcc float64
	BestAcc float64
	// Spent is the privacy guarantee at the end of the run, or nil when
	// training is not private.
	Spent      *rdp.Spent
	RunID      string
	Checkpoint string
}

// Trainer runs one training configuration.
type Trainer struct {
	cfg     *config.Config
	workers int
	root    *rand.Context

	extractor features.Extractor
	// rawTrain is set when features are extracted on the fly after
	// augmentation; train holds precomputed features otherwise.
	rawTrain dataset.Source
	train    dataset.Source
	test     dataset.Source
	augment  dataset.Augmentation

	model      *model.Model
	optimizer  optim.Optimizer
	noise      *epochNoise
	accountant *rdp.Accountant
	sampleRate float64
	sink       telemetry.Sink
	runID      string

	epoch    int
	steps    int64
	bestAcc  float64
	lastAcc  float64
	flat     int
	resumed  bool
	lastEps  *float64
	ckptPath string
}

// New validates the configuration, loads the data, extracts features,
// releases normalization statistics if requested, and builds the model and
// optimizer. With Config.Resume set, state is restored from the run's
// checkpoint when one exists.
func New(ctx context.Context, opt Options) (*Trainer, error) {
	cfg := opt.Config
	if cfg == nil {
		return nil, fmt.Errorf("train.New: a configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	workers, err := cfg.Workers()
	if err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	t := &Trainer{
		cfg:       cfg,
		workers:   workers,
		root:      rand.New(cfg.Seed),
		extractor: features.New(cfg.UseScattering),
		augment:   dataset.DefaultAugmentation(cfg.Dataset),
		ckptPath:  cfg.CheckpointPath(),
	}
	if err := t.loadData(ctx, opt.Train, opt.Test); err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	noiseRoot := t.root
	kind := noise.FastGaussian
	if cfg.SecureNoise {
		noiseRoot, kind = rand.NewSecure(), noise.SecureGaussian
	}
	normCost, stats, err := t.normalization(ctx, kind, noiseRoot.Child("normstats"))
	if err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	if err := t.buildModel(stats); err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	t.noise = &epochNoise{kind: kind, root: noiseRoot.Child("grad-noise")}
	if err := t.buildOptimizer(); err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	if err := t.buildAccountant(normCost); err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	if cfg.Resume {
		if err := t.restore(); err != nil {
			return nil, fmt.Errorf("train.New: %w", err)
		}
	}
	if err := t.buildSink(ctx, opt); err != nil {
		return nil, fmt.Errorf("train.New: %w", err)
	}
	return t, nil
}

func (t *Trainer) loadData(ctx context.Context, train, test dataset.Source) error {
	var err error
	if train == nil {
		if train, err = dataset.Load(t.cfg.Dataset, t.cfg.DataDir, true); err != nil {
			return err
		}
	}
	if test == nil {
		if test, err = dataset.Load(t.cfg.Dataset, t.cfg.DataDir, false); err != nil {
			return err
		}
	}
	if train.Len() == 0 || test.Len() == 0 {
		return fmt.Errorf("empty split: %d training and %d test records", train.Len(), test.Len())
	}
	if t.cfg.Augment {
		t.rawTrain = train
	} else if t.train, err = dataset.Precompute(ctx, train, t.extractor, t.workers); err != nil {
		return err
	}
	if t.test, err = dataset.Precompute(ctx, test, t.extractor, t.workers); err != nil {
		return err
	}
	return nil
}

// trainLen returns the number of training records.
func (t *Trainer) trainLen() int {
	if t.rawTrain != nil {
		return t.rawTrain.Len()
	}
	return t.train.Len()
}

// normalization releases the input statistics when the model standardizes
// its input with them, and returns their privacy cost.
func (t *Trainer) normalization(ctx context.Context, kind noise.Kind, noiseCtx *rand.Context) (rdp.Vector, *normstats.Stats, error) {
	orders := rdp.DefaultOrders()
	if t.cfg.InputNorm != model.NormBN {
		return rdp.Zero(orders), nil, nil
	}
	src, ex := t.train, features.Extractor(features.Identity{})
	if src == nil {
		src, ex = t.rawTrain, t.extractor
	}
	g, err := noise.New(kind, noiseCtx)
	if err != nil {
		return nil, nil, err
	}
	opts := &normstats.Options{
		NoiseMultiplier: t.cfg.BNNoiseMultiplier,
		SampleSize:      src.Len(),
		Orders:          orders,
		Noise:           g,
	}
	key := normstats.Key{
		Dataset:         t.cfg.Dataset,
		Extractor:       t.extractor.Name(),
		SampleSize:      opts.SampleSize,
		NoiseMultiplier: opts.NoiseMultiplier,
	}
	cache := &normstats.Cache{Dir: t.cfg.BNStatsDir}
	stats, cost, err := cache.LookupOrCompute(key, orders, func() (*normstats.Stats, rdp.Vector, error) {
		return normstats.Compute(ctx, src, ex, opts)
	})
	if err != nil {
		return nil, nil, err
	}
	return cost, stats, nil
}

func (t *Trainer) buildModel(stats *normstats.Stats) error {
	first, err := t.test.Sample(0)
	if err != nil {
		return err
	}
	_, classes, err := dataset.Info(t.cfg.Dataset)
	if err != nil {
		return err
	}
	opt := model.Options{
		Dataset:    t.cfg.Dataset,
		InputShape: first.Shape,
		Scattered:  t.cfg.UseScattering,
		Size:       t.cfg.Size,
		Classes:    classes,
		InputNorm:  t.cfg.InputNorm,
		NumGroups:  t.cfg.NumGroups,
	}
	if stats != nil {
		opt.Mean, opt.Var = stats.Mean, stats.Var
	}
	if t.model, err = model.Build(opt); err != nil {
		return err
	}
	t.model.Init(t.root.Child("init"))
	log.Infof("Model has %d parameters", t.model.NumParams())
	return nil
}

func (t *Trainer) poisson() bool { return t.cfg.SampleBatches }

func (t *Trainer) buildOptimizer() error {
	base, err := optim.NewUpdater(optim.UpdaterOptions{
		Name:     t.cfg.Optim,
		LR:       t.cfg.LR,
		Momentum: t.cfg.Momentum,
		Nesterov: t.cfg.Nesterov,
	})
	if err != nil {
		return err
	}
	if t.cfg.DisableDP {
		log.Warningf("Training without differential privacy")
		t.optimizer, err = optim.NewPlain(base)
		return err
	}
	opt := &optim.ClippedNoisyOptions{
		Base:            base,
		MaxGradNorm:     t.cfg.MaxGradNorm,
		NoiseMultiplier: t.cfg.NoiseMultiplier,
	}
	if t.cfg.NoiseMultiplier > 0 {
		opt.Noise = t.noise
	}
	if t.poisson() {
		opt.ExpectedBatchSize = float64(t.cfg.BatchSize)
	}
	t.optimizer, err = optim.NewClippedNoisy(opt)
	return err
}

func (t *Trainer) buildAccountant(normCost rdp.Vector) error {
	t.sampleRate = float64(t.cfg.BatchSize) / float64(t.trainLen())
	if !t.cfg.Private() {
		return nil
	}
	var err error
	t.accountant, err = rdp.NewAccountant(&rdp.AccountantOptions{
		Orders:          rdp.DefaultOrders(),
		Delta:           t.cfg.Delta,
		SampleRate:      t.sampleRate,
		NoiseMultiplier: t.cfg.NoiseMultiplier,
		Normalization:   normCost,
	})
	return err
}

// restore loads the run's checkpoint. A missing checkpoint starts a fresh
// run.
func (t *Trainer) restore() error {
	rec, err := checkpoint.Load(t.ckptPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warningf("No checkpoint at %s, starting from scratch", t.ckptPath)
		return nil
	}
	if err != nil {
		return err
	}
	if rec.ModelTag != t.model.Tag {
		return fmt.Errorf("checkpoint %s holds a %q model, want %q", t.ckptPath, rec.ModelTag, t.model.Tag)
	}
	if err := t.model.LoadState(rec.Params); err != nil {
		return fmt.Errorf("checkpoint %s: %w", t.ckptPath, err)
	}
	if rec.Optimizer != nil {
		if err := t.optimizer.Updater().Restore(rec.Optimizer); err != nil {
			return fmt.Errorf("checkpoint %s: %w", t.ckptPath, err)
		}
	}
	t.epoch, t.steps = rec.Epoch, rec.Steps
	t.bestAcc, t.lastAcc, t.flat = rec.BestAcc, rec.TestAcc, rec.FlatCount
	t.lastEps, t.runID, t.resumed = rec.Epsilon, rec.RunID, true
	log.Infof("Resumed %s at epoch %d after %d steps (best accuracy %.2f%%)", t.ckptPath, t.epoch, t.steps, t.bestAcc)
	return nil
}

func (t *Trainer) buildSink(ctx context.Context, opt Options) error {
	sinks := []telemetry.Sink{telemetry.Glog{Run: t.cfg.RunName()}}
	if opt.Store != nil {
		if t.runID == "" {
			desc, err := t.cfg.Marshal()
			if err != nil {
				return err
			}
			if t.runID, err = opt.Store.StartRun(ctx, t.cfg.RunName(), t.cfg.Dataset, desc); err != nil {
				return err
			}
		}
		sinks = append(sinks, opt.Store.Sink(t.runID))
	}
	t.sink = telemetry.Multi(append(sinks, opt.Sinks...)...)
	return nil
}

// Model returns the trained model.
func (t *Trainer) Model() *model.Model { return t.model }

// SampleRate returns the sampling rate charged per step.
func (t *Trainer) SampleRate() float64 { return t.sampleRate }

// StepsPerEpoch returns the number of parameter updates in one epoch.
func (t *Trainer) StepsPerEpoch() int {
	return dataset.StepsPerEpoch(t.trainLen(), t.cfg.BatchSize, t.cfg.MiniBatchSize, t.poisson())
}
