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
	"errors"
	"fmt"
	"strconv"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
	"github.com/bogdan-kulynych/Handcrafted-DP/dataset"
	"github.com/bogdan-kulynych/Handcrafted-DP/normstats"
	"github.com/bogdan-kulynych/Handcrafted-DP/rdp"
	"github.com/spf13/cobra"
)

type epsilonFlags struct {
	datasetSize       int
	batchSize         int
	miniBatchSize     int
	sampleBatches     bool
	noiseMultiplier   float64
	epochs            int
	delta             float64
	bnNoiseMultiplier float64
}

func newEpsilonCommand() *cobra.Command {
	f := &epsilonFlags{}
	cmd := &cobra.Command{
		Use:   "epsilon",
		Short: "Print the privacy guarantee of a training configuration, epoch by epoch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := epsilonRows(f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, err = fmt.Fprintln(w, renderTable(w, []string{"epoch", "steps", "ε", "order", "ε (sgd only)"}, rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight}))
			return err
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&f.datasetSize, "dataset_size", 60000, "Number of training records")
	fs.IntVar(&f.batchSize, "batch_size", 2048, "Logical batch size")
	fs.IntVar(&f.miniBatchSize, "mini_batch_size", 0, "Physical batch size; 0 means batch_size")
	fs.BoolVar(&f.sampleBatches, "sample_batches", false, "Batches are drawn by Poisson sampling")
	fs.Float64Var(&f.noiseMultiplier, "noise_multiplier", 1, "Gradient noise multiplier σ")
	fs.IntVar(&f.epochs, "epochs", 100, "Number of epochs")
	fs.Float64Var(&f.delta, "delta", 1e-5, "Target δ")
	fs.Float64Var(&f.bnNoiseMultiplier, "bn_noise_multiplier", 0, "Noise multiplier of the BN statistics release; 0 if none")
	return cmd
}

func epsilonRows(f *epsilonFlags) ([][]string, error) {
	mini := f.miniBatchSize
	if mini == 0 || f.sampleBatches {
		mini = f.batchSize
	}
	if err := checks.CheckBatchSizes("epsilon", f.batchSize, mini); err != nil {
		return nil, err
	}
	if f.datasetSize <= 0 || mini > f.datasetSize {
		return nil, fmt.Errorf("mini_batch_size is %d, must be in [1, dataset_size=%d]", mini, f.datasetSize)
	}
	if f.epochs <= 0 {
		return nil, errors.New("epochs must be positive")
	}
	orders := rdp.DefaultOrders()
	norm, err := normstats.Cost(f.bnNoiseMultiplier, orders)
	if err != nil {
		return nil, err
	}
	acc, err := rdp.NewAccountant(&rdp.AccountantOptions{
		Orders:          orders,
		Delta:           f.delta,
		SampleRate:      float64(f.batchSize) / float64(f.datasetSize),
		NoiseMultiplier: f.noiseMultiplier,
		Normalization:   norm,
	})
	if err != nil {
		return nil, err
	}
	perEpoch := int64(dataset.StepsPerEpoch(f.datasetSize, f.batchSize, mini, f.sampleBatches))
	rows := make([][]string, 0, f.epochs)
	for e := 1; e <= f.epochs; e++ {
		s, err := acc.Spent(int64(e) * perEpoch)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{
			strconv.Itoa(e),
			strconv.FormatInt(s.Steps, 10),
			strconv.FormatFloat(s.Epsilon, 'f', 3, 64),
			strconv.FormatFloat(s.Order, 'g', -1, 64),
			strconv.FormatFloat(s.SGDEpsilon, 'f', 3, 64),
		})
	}
	return rows, nil
}
