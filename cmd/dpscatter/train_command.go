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


package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bogdan-kulynych/Handcrafted-DP/config"
	"github.com/bogdan-kulynych/Handcrafted-DP/model"
	"github.com/bogdan-kulynych/Handcrafted-DP/telemetry"
	"github.com/bogdan-kulynych/Handcrafted-DP/train"
	log "github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// bindFlags defines the training flags on fs, bound to the fields of c and
// defaulting to their current values.
func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Dataset, "dataset", c.Dataset, "Dataset: cifar10, fmnist, mnist or synthetic")
	fs.StringVar(&c.DataDir, "data_dir", c.DataDir, "Directory holding the datasets")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Random seed")
	fs.StringVar(&c.Size, "size", c.Size, "Model size: small, medium or large")
	fs.BoolVar(&c.Augment, "augment", c.Augment, "Augment training images with random crops and flips")
	fs.BoolVar(&c.UseScattering, "use_scattering", c.UseScattering, "Train on scattering features instead of raw pixels")
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "Logical batch size of one parameter update")
	fs.IntVar(&c.MiniBatchSize, "mini_batch_size", c.MiniBatchSize, "Physical batch size; batch_size must be a multiple of it")
	fs.BoolVar(&c.SampleBatches, "sample_batches", c.SampleBatches, "Draw batches by Poisson sampling")
	fs.Float64Var(&c.LR, "lr", c.LR, "Learning rate")
	fs.StringVar(&c.Optim, "optim", c.Optim, "Optimizer: SGD or Adam")
	fs.Float64Var(&c.Momentum, "momentum", c.Momentum, "SGD momentum")
	fs.BoolVar(&c.Nesterov, "nesterov", c.Nesterov, "Use Nesterov momentum")
	fs.Float64Var(&c.NoiseMultiplier, "noise_multiplier", c.NoiseMultiplier, "Gradient noise multiplier σ")
	fs.Float64Var(&c.MaxGradNorm, "max_grad_norm", c.MaxGradNorm, "Per-sample gradient clipping bound C")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "Maximum number of epochs")
	fs.BoolVar(&c.DisableDP, "disable_dp", c.DisableDP, "Train without clipping, noise or accounting")
	fs.BoolVar(&c.SecureNoise, "secure_noise", c.SecureNoise, "Draw noise from the discretized Gaussian with a secure random source")
	fs.StringVar(&c.InputNorm, "input_norm", c.InputNorm, "Input normalization: GroupNorm, BN or empty")
	fs.IntVar(&c.NumGroups, "num_groups", c.NumGroups, "GroupNorm groups; 0 normalizes every channel")
	fs.Float64Var(&c.BNNoiseMultiplier, "bn_noise_multiplier", c.BNNoiseMultiplier, "Noise multiplier of the BN statistics release")
	fs.StringVar(&c.BNStatsDir, "bn_stats_dir", c.BNStatsDir, "Cache directory of released BN statistics")
	fs.Float64Var(&c.MaxEpsilon, "max_epsilon", c.MaxEpsilon, "Stop once ε reaches this budget; 0 disables it")
	fs.Float64Var(&c.Delta, "delta", c.Delta, "Target δ")
	fs.BoolVar(&c.EarlyStop, "early_stop", c.EarlyStop, "Stop when test accuracy plateaus")
	fs.IntVar(&c.PlateauWindow, "plateau_window", c.PlateauWindow, "Epochs without improvement before a plateau stop")
	fs.StringVar(&c.OutDir, "out_dir", c.OutDir, "Directory of checkpoints and run history")
	fs.StringVar(&c.Device, "device", c.Device, "cpu, or cpu:N for N workers")
	fs.BoolVar(&c.Resume, "resume", c.Resume, "Resume from the run's checkpoint")
}

// resolveConfig returns the configuration file at path, or the defaults,
// overridden by every flag set on the command line.
func resolveConfig(flags *pflag.FlagSet, path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	bindFlags(overlay, cfg)
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil || overlay.Lookup(f.Name) == nil {
			return
		}
		err = overlay.Set(f.Name, f.Value.String())
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newTrainCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model with DP-SGD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags(), configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTrain(ctx, cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "TOML configuration file; flags override its values")
	bindFlags(cmd.Flags(), config.Default())
	return cmd
}

func runTrain(ctx context.Context, w io.Writer, cfg *config.Config) error {
	store, err := telemetry.Open(cfg.TelemetryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	t, err := train.New(ctx, train.Options{Config: cfg, Store: store})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, modelTable(w, t.Model())); err != nil {
		return err
	}
	res, err := t.Run(ctx)
	if err != nil {
		return err
	}
	log.Infof("Run %s finished: %v", res.RunID, res.Stop)
	eps, sgdEps := "n/a", "n/a"
	if res.Spent != nil {
		eps = strconv.FormatFloat(res.Spent.Epsilon, 'f', 3, 64)
		sgdEps = strconv.FormatFloat(res.Spent.SGDEpsilon, 'f', 3, 64)
	}
	rows := [][]string{
		{"run", cfg.RunName()},
		{"run id", res.RunID},
		{"stop", res.Stop.String()},
		{"epochs", strconv.Itoa(res.Epochs)},
		{"steps", strconv.FormatInt(res.Steps, 10)},
		{"test acc", fmt.Sprintf("%.2f%%", res.TestAcc)},
		{"best acc", fmt.Sprintf("%.2f%%", res.BestAcc)},
		{"ε", eps},
		{"ε (sgd only)", sgdEps},
		{"δ", strconv.FormatFloat(cfg.Delta, 'g', -1, 64)},
		{"checkpoint", res.Checkpoint},
	}
	_, err = fmt.Fprintln(w, renderTable(w, []string{"", ""}, rows, nil))
	return err
}

func modelTable(w io.Writer, m *model.Model) string {
	var rows [][]string
	for _, l := range m.Summary() {
		rows = append(rows, []string{strconv.Itoa(l.Index), l.Kind, fmt.Sprint(l.OutputShape), strconv.Itoa(l.Params)})
	}
	rows = append(rows, []string{"", "total", "", strconv.Itoa(m.NumParams())})
	return renderTable(w, []string{"#", "layer", "output", "params"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
}
