// Package history keeps a SQLite ledger of convergence runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/picklr-io/sysconverge/internal/ir"

	_ "modernc.org/sqlite"
)

// DefaultPath is where the ledger lives when no path is configured.
const DefaultPath = ".sysconverge/history.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one ledger row without its per-resource results.
type Run struct {
	RunID      string
	Host       string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    ir.RunSummary
}

// Succeeded reports whether no resource failed or was blocked.
func (r Run) Succeeded() bool {
	return r.Summary.Failed == 0 && r.Summary.Blocked == 0
}

// Store records run reports in SQLite with WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path and initializes the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		host        TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		applied     INTEGER NOT NULL DEFAULT 0,
		skipped     INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		blocked     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS results (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		resource_id TEXT NOT NULL,
		kind        TEXT NOT NULL,
		stage       TEXT NOT NULL,
		state       TEXT NOT NULL,
		status      TEXT NOT NULL,
		reason      TEXT,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_results_resource ON results(resource_id, run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a report and its results in one transaction.
func (s *Store) Record(ctx context.Context, host string, report *ir.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, host, started_at, finished_at, applied, skipped, failed, blocked)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, host,
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
		report.Summary.Applied, report.Summary.Skipped, report.Summary.Failed, report.Summary.Blocked,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, seq, resource_id, kind, stage, state, status, reason, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare results: %w", err)
	}
	defer stmt.Close()

	for i, res := range report.Results {
		var reason sql.NullString
		if len(res.Reason) > 0 {
			raw, err := json.Marshal(res.Reason)
			if err != nil {
				return fmt.Errorf("encode reason for %s: %w", res.ID, err)
			}
			reason = sql.NullString{String: string(raw), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, report.RunID, i, res.ID, string(res.Kind), string(res.Stage),
			string(res.State), string(res.Status), reason, int64(res.Duration))
		if err != nil {
			return fmt.Errorf("insert result %s: %w", res.ID, err)
		}
	}

	return tx.Commit()
}

// List returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, started_at, finished_at, applied, skipped, failed, blocked
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Get returns the full report of one run.
func (s *Store) Get(ctx context.Context, runID string) (*ir.RunReport, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, host, started_at, finished_at, applied, skipped, failed, blocked
		 FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, "", err
	}

	report := &ir.RunReport{
		RunID:      run.RunID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Summary:    run.Summary,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id, kind, stage, state, status, reason, duration_ns
		 FROM results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			res      ir.ResourceResult
			kind     string
			stage    string
			state    string
			status   string
			reason   sql.NullString
			duration int64
		)
		if err := rows.Scan(&res.ID, &kind, &stage, &state, &status, &reason, &duration); err != nil {
			return nil, "", err
		}
		res.Kind = ir.Kind(kind)
		res.Stage = ir.Stage(stage)
		res.State = ir.DesiredState(state)
		res.Status = ir.Status(status)
		res.Duration = time.Duration(duration)
		if reason.Valid {
			if err := json.Unmarshal([]byte(reason.String), &res.Reason); err != nil {
				return nil, "", fmt.Errorf("decode reason for %s: %w", res.ID, err)
			}
		}
		report.Results = append(report.Results, &res)
	}
	return report, run.Host, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var startStr, finishStr string
	err := row.Scan(&r.RunID, &r.Host, &startStr, &finishStr,
		&r.Summary.Applied, &r.Summary.Skipped, &r.Summary.Failed, &r.Summary.Blocked)
	if err != nil {
		return nil, err
	}

	var parseErr error
	r.StartedAt, parseErr = time.Parse(timeLayout, startStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", r.RunID, parseErr)
	}
	r.FinishedAt, parseErr = time.Parse(timeLayout, finishStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse finished_at for run %s: %w", r.RunID, parseErr)
	}
	return &r, nil
}
