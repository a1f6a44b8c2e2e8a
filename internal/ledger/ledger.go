// Package ledger keeps a persistent record of runs and per-unit outcomes in
// a SQLite database under the derivatives tree, powering `neuropipe status`.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"neuropipe/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	dataset            TEXT NOT NULL,
	step               TEXT NOT NULL,
	config_fingerprint TEXT NOT NULL,
	started_at         TEXT NOT NULL,
	finished_at        TEXT,
	succeeded          INTEGER NOT NULL DEFAULT 0,
	partial            INTEGER NOT NULL DEFAULT 0,
	failed             INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS unit_outcomes (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	unit        TEXT NOT NULL,
	status      TEXT NOT NULL,
	failed_stage TEXT NOT NULL DEFAULT '',
	cause       TEXT NOT NULL DEFAULT '',
	warnings    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, unit)
);
`

// Ledger wraps the SQLite connection.
type Ledger struct {
	db *sql.DB
}

// DefaultPath returns the ledger location inside the derivatives tree.
func DefaultPath(outputRoot string) string {
	return filepath.Join(outputRoot, "derivatives", "neuropipe", ".neuropipe", "ledger.db")
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	return open(path)
}

// OpenMemory opens an in-memory ledger for testing.
func OpenMemory() (*Ledger, error) {
	return open(":memory:")
}

func open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID                string
	Dataset           string
	Step              string
	ConfigFingerprint string
	Started           time.Time
	Finished          time.Time
	Succeeded         int
	Partial           int
	Failed            int
}

// BeginRun inserts the run row before any unit executes.
func (l *Ledger) BeginRun(r RunRecord) error {
	_, err := l.db.Exec(
		`INSERT INTO runs (id, dataset, step, config_fingerprint, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Dataset, r.Step, r.ConfigFingerprint, r.Started.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ledger: begin run: %w", err)
	}
	return nil
}

// FinishRun records the end timestamp and outcome counts.
func (l *Ledger) FinishRun(id string, finished time.Time, succeeded, partial, failed int) error {
	_, err := l.db.Exec(
		`UPDATE runs SET finished_at = ?, succeeded = ?, partial = ?, failed = ? WHERE id = ?`,
		finished.UTC().Format(time.RFC3339), succeeded, partial, failed, id,
	)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	return nil
}

// RecordOutcome upserts one unit outcome. Implements pipeline.Recorder.
func (l *Ledger) RecordOutcome(runID string, o pipeline.Outcome) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO unit_outcomes (run_id, unit, status, failed_stage, cause, warnings, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Unit.Key(), o.Status.String(), string(o.FailedStage), o.Cause,
		len(o.Warnings), o.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("ledger: record outcome: %w", err)
	}
	return nil
}

// RecentRuns returns up to n runs, newest first.
func (l *Ledger) RecentRuns(n int) ([]RunRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, dataset, step, config_fingerprint, started_at, COALESCE(finished_at, ''), succeeded, partial, failed
		 FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Step, &r.ConfigFingerprint, &started, &finished,
			&r.Succeeded, &r.Partial, &r.Failed); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		r.Started, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			r.Finished, _ = time.Parse(time.RFC3339, finished)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomeRecord is one row of the unit_outcomes table.
type OutcomeRecord struct {
	Unit        string
	Status      string
	FailedStage string
	Cause       string
	Warnings    int
	Duration    time.Duration
}

// Outcomes returns the unit outcomes of one run, ordered by unit key.
func (l *Ledger) Outcomes(runID string) ([]OutcomeRecord, error) {
	rows, err := l.db.Query(
		`SELECT unit, status, failed_stage, cause, warnings, duration_ms
		 FROM unit_outcomes WHERE run_id = ? ORDER BY unit`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var r OutcomeRecord
		var ms int64
		if err := rows.Scan(&r.Unit, &r.Status, &r.FailedStage, &r.Cause, &r.Warnings, &ms); err != nil {
			return nil, fmt.Errorf("ledger: scan outcome: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
