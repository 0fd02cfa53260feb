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
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/bogdan-kulynych/Handcrafted-DP/checkpoint"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect CHECKPOINT",
		Short: "Print the contents of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := checkpoint.Load(args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd.OutOrStdout(), r)
		},
	}
}

func printRecord(w io.Writer, r *checkpoint.Record) error {
	eps := "n/a"
	if r.Epsilon != nil {
		eps = strconv.FormatFloat(*r.Epsilon, 'f', 3, 64)
	}
	opt := "none"
	if r.Optimizer != nil {
		opt = fmt.Sprintf("%s (%d buffers)", r.Optimizer.Name, len(r.Optimizer.Buffers))
	}
	fields := [][]string{
		{"epoch", strconv.Itoa(r.Epoch)},
		{"model", r.ModelTag},
		{"steps", strconv.FormatInt(r.Steps, 10)},
		{"test acc", fmt.Sprintf("%.2f%%", r.TestAcc)},
		{"best acc", fmt.Sprintf("%.2f%%", r.BestAcc)},
		{"ε", eps},
		{"flat epochs", strconv.Itoa(r.FlatCount)},
		{"run id", r.RunID},
		{"optimizer", opt},
	}
	if _, err := fmt.Fprintln(w, renderTable(w, []string{"field", "value"}, fields, nil)); err != nil {
		return err
	}

	names := make([]string, 0, len(r.Params))
	for name := range r.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		v := r.Params[name]
		norm := 0.0
		if len(v) > 0 {
			norm = floats.Norm(v, 2)
		}
		rows = append(rows, []string{name, strconv.Itoa(len(v)), strconv.FormatFloat(norm, 'f', 4, 64)})
	}
	_, err := fmt.Fprintln(w, renderTable(w, []string{"param", "size", "L2 norm"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight}))
	return err
}
