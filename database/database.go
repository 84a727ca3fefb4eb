package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Ledger is a history of acquisition task outcomes. It is informational:
// resumption never reads it.
type Ledger struct {
	db *sql.DB
}

type Outcome struct {
	ID       int64
	RunID    string
	Genre    string
	Title    string
	URL      string
	Stage    string
	Status   string
	Error    string
	Bytes    int64
	Segments int
	At       time.Time
}

type RunSummary struct {
	RunID    string
	OK       int
	Failed   int
	Bytes    int64
	Segments int
	Started  time.Time
	Finished time.Time
}

// Open creates or opens the ledger at path.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	// workers record concurrently; let sqlite wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infof("Ledger initialized at %s", path)
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS task_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			genre TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			segments INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_outcomes_run ON task_outcomes(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_outcomes_recorded_at ON task_outcomes(recorded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_task_outcomes_title ON task_outcomes(genre, title)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// RecordOutcome inserts one task outcome.
func (l *Ledger) RecordOutcome(ctx context.Context, o Outcome) error {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO task_outcomes (run_id, genre, title, url, stage, status, error, bytes, segments, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Genre, o.Title, o.URL, o.Stage, o.Status, o.Error, o.Bytes, o.Segments,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// GetHistory returns the most recent outcomes, newest first.
func (l *Ledger) GetHistory(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, genre, title, url, stage, status, error, bytes, segments, recorded_at
		 FROM task_outcomes
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// GetFailures returns the failed outcomes of a run in the order they happened.
func (l *Ledger) GetFailures(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, genre, title, url, stage, status, error, bytes, segments, recorded_at
		 FROM task_outcomes
		 WHERE run_id = ? AND status = ?
		 ORDER BY id`,
		runID, StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// LatestRun returns the id of the most recently recorded run, or "" when the
// ledger is empty.
func (l *Ledger) LatestRun(ctx context.Context) (string, error) {
	var runID string
	err := l.db.QueryRowContext(ctx,
		`SELECT run_id FROM task_outcomes ORDER BY recorded_at DESC, id DESC LIMIT 1`,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest run: %w", err)
	}
	return runID, nil
}

// Summary aggregates the outcomes of one run.
func (l *Ledger) Summary(ctx context.Context, runID string) (RunSummary, error) {
	s := RunSummary{RunID: runID}
	var started, finished sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(bytes), 0),
			COALESCE(SUM(segments), 0),
			MIN(recorded_at),
			MAX(recorded_at)
		 FROM task_outcomes
		 WHERE run_id = ?`,
		StatusOK, StatusFailed, runID,
	).Scan(&s.OK, &s.Failed, &s.Bytes, &s.Segments, &started, &finished)
	if err != nil {
		return s, fmt.Errorf("failed to summarize run %s: %w", runID, err)
	}
	if started.Valid {
		s.Started = parseTimestamp(started.String)
	}
	if finished.Valid {
		s.Finished = parseTimestamp(finished.String)
	}
	return s, nil
}

func scanOutcomes(rows *sql.Rows) ([]Outcome, error) {
	var records []Outcome
	for rows.Next() {
		var o Outcome
		var at string
		if err := rows.Scan(&o.ID, &o.RunID, &o.Genre, &o.Title, &o.URL, &o.Stage, &o.Status,
			&o.Error, &o.Bytes, &o.Segments, &at); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		o.At = parseTimestamp(at)
		records = append(records, o)
	}
	return records, rows.Err()
}

// parseTimestamp accepts what RecordOutcome writes as well as sqlite's own
// CURRENT_TIMESTAMP format.
func parseTimestamp(value string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, layout := range formats {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	log.Warnf("failed to parse timestamp '%s' with all known formats", value)
	return time.Time{}
}
