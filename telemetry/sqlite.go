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


package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		dataset TEXT NOT NULL,
		config TEXT NOT NULL,
		started_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL REFERENCES runs(id),
		epoch INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		train_loss REAL NOT NULL,
		train_acc REAL NOT NULL,
		test_loss REAL NOT NULL,
		test_acc REAL NOT NULL,
		epsilon REAL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (run_id, epoch)
	)`,
}

// ErrUnknownRun is returned for run identifiers or names not in the store.
var ErrUnknownRun = errors.New("telemetry: unknown run")

// Run describes one training run.
type Run struct {
	ID      string
	Name    string
	Dataset string
	// Config is the run configuration as written by the caller.
	Config  string
	Started time.Time
	Epochs  int
}

// Store keeps the history of training runs in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry.Open: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Open: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range append(pragmas, schema...) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("telemetry.Open: %s: %w", path, err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun registers a new run and returns its identifier.
func (s *Store) StartRun(ctx context.Context, name, dataset, config string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, dataset, config, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, dataset, config, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("telemetry.StartRun: %w", err)
	}
	return id, nil
}

// Sink returns a Sink appending records to the run with the given id.
// Re-emitting an epoch replaces it, so a resumed run overwrites epochs it
// repeats.
func (s *Store) Sink(runID string) Sink {
	return &sqliteSink{s: s, runID: runID}
}

type sqliteSink struct {
	s     *Store
	runID string
}

func (k *sqliteSink) Emit(ctx context.Context, r *Record) error {
	var eps sql.NullFloat64
	if r.Epsilon != nil {
		eps = sql.NullFloat64{Float64: *r.Epsilon, Valid: true}
	}
	_, err := k.s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO epochs (
			run_id, epoch, steps, train_loss, train_acc, test_loss, test_acc, epsilon, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.runID, r.Epoch, r.Steps, r.TrainLoss, r.TrainAcc, r.TestLoss, r.TestAcc, eps,
		k.s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("telemetry: run %s epoch %d: %w", k.runID, r.Epoch, err)
	}
	return nil
}

const runColumns = `r.id, r.name, r.dataset, r.config, r.started_at, COUNT(e.epoch)`

// Runs lists all runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r LEFT JOIN epochs e ON e.run_id = r.id
		GROUP BY r.id ORDER BY r.started_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("telemetry.Runs: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("telemetry.Runs: %w", err)
	}
	return runs, nil
}

// FindRun returns the run with the given identifier or, failing that, the
// most recent run with that name.
func (s *Store) FindRun(ctx context.Context, idOrName string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs r LEFT JOIN epochs e ON e.run_id = r.id
		WHERE r.id = ? OR r.name = ?
		GROUP BY r.id ORDER BY r.id = ? DESC, r.started_at DESC LIMIT 1`,
		idOrName, idOrName, idOrName)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("telemetry.FindRun: %q: %w", idOrName, ErrUnknownRun)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry.FindRun: %w", err)
	}
	return r, nil
}

// History returns the epoch records of a run in epoch order.
func (s *Store) History(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, steps, train_loss, train_acc, test_loss, test_acc, epsilon
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("telemetry.History: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r   Record
			eps sql.NullFloat64
		)
		if err := rows.Scan(&r.Epoch, &r.Steps, &r.TrainLoss, &r.TrainAcc, &r.TestLoss, &r.TestAcc, &eps); err != nil {
			return nil, fmt.Errorf("telemetry.History: %w", err)
		}
		if eps.Valid {
			r.Epsilon = &eps.Float64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("telemetry.History: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r       Run
		started string
	)
	if err := sc.Scan(&r.ID, &r.Name, &r.Dataset, &r.Config, &started, &r.Epochs); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", r.ID, err)
	}
	r.Started = t
	return &r, nil
}
