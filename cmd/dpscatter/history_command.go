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
	"strconv"
	"time"

	"github.com/bogdan-kulynych/Handcrafted-DP/config"
	"github.com/bogdan-kulynych/Handcrafted-DP/telemetry"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	db := config.Default().TelemetryPath()
	cmd := &cobra.Command{
		Use:   "history [RUN]",
		Short: "List training runs, or print the epochs of one run",
		Long: `Without arguments, history lists the runs recorded in the database.
Given a run identifier or name, it prints the metrics of every epoch of that
run; a name selects the most recent run with that name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := telemetry.Open(db)
			if err != nil {
				return err
			}
			defer store.Close()
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.Runs(cmd.Context())
				if err != nil {
					return err
				}
				return printRuns(w, runs)
			}
			run, err := store.FindRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			history, err := store.History(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			return printHistory(w, run, history)
		},
	}
	cmd.Flags().StringVar(&db, "db", db, "Run history database")
	return cmd
}

func printRuns(w io.Writer, runs []telemetry.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{r.ID, r.Name, r.Dataset, r.Started.Local().Format(time.DateTime), strconv.Itoa(r.Epochs)}
	}
	_, err := fmt.Fprintln(w, renderTable(w, []string{"id", "name", "dataset", "started", "epochs"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	return err
}

func printHistory(w io.Writer, run *telemetry.Run, history []telemetry.Record) error {
	if _, err := fmt.Fprintf(w, "%s (%s)\n", run.Name, run.ID); err != nil {
		return err
	}
	rows := make([][]string, len(history))
	for i, r := range history {
		eps := "n/a"
		if r.Epsilon != nil {
			eps = strconv.FormatFloat(*r.Epsilon, 'f', 3, 64)
		}
		rows[i] = []string{
			strconv.Itoa(r.Epoch),
			strconv.FormatInt(r.Steps, 10),
			strconv.FormatFloat(r.TrainLoss, 'f', 4, 64),
			strconv.FormatFloat(r.TrainAcc, 'f', 2, 64),
			strconv.FormatFloat(r.TestLoss, 'f', 4, 64),
			strconv.FormatFloat(r.TestAcc, 'f', 2, 64),
			eps,
		}
	}
	right := make([]columnAlignment, 7)
	for i := range right {
		right[i] = alignRight
	}
	_, err := fmt.Fprintln(w, renderTable(w,
		[]string{"epoch", "steps", "train loss", "train acc", "test loss", "test acc", "ε"}, rows, right))
	return err
}
