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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bogdan-kulynych/Handcrafted-DP/config"
	"github.com/bogdan-kulynych/Handcrafted-DP/train"
	"github.com/google/go-cmp/cmp"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEpsilonCommand(t *testing.T) {
	out, err := execute(t, "epsilon", "--dataset_size=256", "--batch_size=16", "--noise_multiplier=2", "--epochs=2")
	if err != nil {
		t.Fatalf("epsilon: %v", err)
	}
	for _, want := range []string{"0.912", "1.161"} {
		if !strings.Contains(out, want) {
			t.Errorf("epsilon output does not contain %s:\n%s", want, out)
		}
	}
}

func TestEpsilonCommandNormalizationCost(t *testing.T) {
	rows, err := epsilonRows(&epsilonFlags{
		datasetSize:       256,
		batchSize:         16,
		noiseMultiplier:   2,
		epochs:            2,
		delta:             1e-5,
		bnNoiseMultiplier: 6,
	})
	if err != nil {
		t.Fatalf("epsilonRows: %v", err)
	}
	// Columns: epoch, steps, ε, order, ε (sgd only).
	want := [][]string{
		{"1", "16", "1.412", "16", "0.912"},
		{"2", "32", "1.600", "15", "1.161"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("epsilonRows (-want +got):\n%s", diff)
	}
}

func TestEpsilonMatchesTraining(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset = "synthetic"
	cfg.Size = "small"
	cfg.BatchSize = 96
	cfg.MiniBatchSize = 32
	cfg.LR = 0.1
	cfg.NoiseMultiplier = 2
	cfg.MaxGradNorm = 1
	cfg.Epochs = 2
	cfg.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.Device = "cpu:2"
	tr, err := train.New(context.Background(), train.Options{Config: cfg})
	if err != nil {
		t.Fatalf("train.New: %v", err)
	}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows, err := epsilonRows(&epsilonFlags{
		datasetSize:     1024,
		batchSize:       96,
		miniBatchSize:   32,
		noiseMultiplier: 2,
		epochs:          2,
		delta:           cfg.Delta,
	})
	if err != nil {
		t.Fatalf("epsilonRows: %v", err)
	}
	// 32 physical batches in groups of 3, the last group of 2 included.
	if res.Steps != 22 {
		t.Errorf("training took %d steps in 2 epochs, want 22", res.Steps)
	}
	last := rows[len(rows)-1]
	if got, want := last[1], strconv.FormatInt(res.Steps, 10); got != want {
		t.Errorf("epsilon charges %s steps, training took %s", got, want)
	}
	if got, want := last[2], strconv.FormatFloat(res.Spent.Epsilon, 'f', 3, 64); got != want {
		t.Errorf("epsilon reports ε = %s, training spent %s", got, want)
	}
}

func TestEpsilonCommandErrors(t *testing.T) {
	for _, args := range [][]string{
		{"epsilon", "--batch_size=0"},
		{"epsilon", "--dataset_size=10", "--batch_size=20"},
		{"epsilon", "--epochs=0"},
		{"epsilon", "--batch_size=96", "--mini_batch_size=40"},
		{"epsilon", "--noise_multiplier=0"},
		{"epsilon", "--delta=1"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Errorf("%v: got nil error", args)
		}
	}
}

func TestTrainInspectHistory(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "run.toml")
	cfg := `dataset = "synthetic"
size = "small"
batch_size = 64
mini_batch_size = 32
noise_multiplier = 2.0
max_grad_norm = 1.0
epochs = 5
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	// Flags override the configuration file.
	got, err := execute(t, "train", "--config", cfgPath, "--epochs=2", "--lr=0.1",
		"--out_dir", out, "--bn_stats_dir", filepath.Join(dir, "bn_stats"), "--device=cpu:2")
	if err != nil {
		t.Fatalf("train: %v\n%s", err, got)
	}
	for _, want := range []string{"epochs exhausted", "synthetic_scatternet_2", "1.161"} {
		if !strings.Contains(got, want) {
			t.Errorf("train output does not contain %q:\n%s", want, got)
		}
	}

	ckpt := filepath.Join(out, "synthetic_scatternet_2", "model_0")
	got, err = execute(t, "inspect", ckpt)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"scatternet", "1.161", "32"} {
		if !strings.Contains(got, want) {
			t.Errorf("inspect output does not contain %q:\n%s", want, got)
		}
	}

	db := filepath.Join(out, "runs.db")
	got, err = execute(t, "history", "--db", db)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(got, "synthetic_scatternet_2") {
		t.Errorf("history does not list the run:\n%s", got)
	}
	got, err = execute(t, "history", "--db", db, "synthetic_scatternet_2")
	if err != nil {
		t.Fatalf("history RUN: %v", err)
	}
	for _, want := range []string{"0.912", "1.161"} {
		if !strings.Contains(got, want) {
			t.Errorf("history output does not contain %q:\n%s", want, got)
		}
	}
	if _, err := execute(t, "history", "--db", db, "no-such-run"); err == nil {
		t.Error("history of an unknown run: got nil error")
	}
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "train", "--dataset=synthetic", "--batch_size=100", "--mini_batch_size=32",
		"--out_dir", filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("train with a batch size that is not a multiple of the mini batch size: got nil error")
	}
}

func TestInspectMissingCheckpoint(t *testing.T) {
	if _, err := execute(t, "inspect", filepath.Join(t.TempDir(), "model_0")); err == nil {
		t.Error("inspect of a missing checkpoint: got nil error")
	}
}
