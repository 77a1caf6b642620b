// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history keeps the operator-facing run catalog: one row per
// completed run, backed by a small sqlite database under the output root.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	lberrors "github.com/tombee/loadbench/pkg/errors"
)

// Record is one catalog row.
type Record struct {
	RunID      string
	State      string
	Success    bool
	NodeCount  int
	Workloads  []string
	OutputRoot string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the run's wall-clock duration.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the sqlite-backed catalog.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	success     INTEGER NOT NULL,
	node_count  INTEGER NOT NULL,
	workloads   TEXT NOT NULL,
	output_root TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Open opens (creating if needed) the catalog at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, lberrors.Wrapf(err, "creating catalog dir for %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, lberrors.Wrapf(err, "opening run catalog %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, lberrors.Wrap(err, "initializing run catalog schema")
	}
	return &Store{db: db}, nil
}

// DefaultPath returns the catalog location under an output root.
func DefaultPath(outputRoot string) string {
	return filepath.Join(outputRoot, "run_catalog.db")
}

// Record upserts one run row.
func (s *Store) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, state, success, node_count, workloads, output_root, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			success = excluded.success,
			finished_at = excluded.finished_at`,
		rec.RunID,
		rec.State,
		boolInt(rec.Success),
		rec.NodeCount,
		strings.Join(rec.Workloads, ","),
		rec.OutputRoot,
		rec.StartedAt.Unix(),
		rec.FinishedAt.Unix(),
	)
	return lberrors.Wrap(err, "recording run")
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, state, success, node_count, workloads, output_root, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, lberrors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var success int
		var workloads string
		var started, finished int64
		if err := rows.Scan(&rec.RunID, &rec.State, &success, &rec.NodeCount,
			&workloads, &rec.OutputRoot, &started, &finished); err != nil {
			return nil, lberrors.Wrap(err, "scanning run row")
		}
		rec.Success = success != 0
		if workloads != "" {
			rec.Workloads = strings.Split(workloads, ",")
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.FinishedAt = time.Unix(finished, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one run by id, or nil.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	records, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].RunID == runID {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
