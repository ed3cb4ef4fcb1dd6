// Package history keeps a ledger of the runs submitted during the current
// process. The SQLite database lives in memory and disappears on exit.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Record is one submitted run.
type Record struct {
	ID           int64     `json:"-"`
	RunID        string    `json:"run_id"`
	FileName     string    `json:"file_name"`
	Prompt       string    `json:"prompt,omitempty"`
	State        string    `json:"state"`
	VideoID      string    `json:"video_id,omitempty"`
	ErrorStage   string    `json:"error_stage,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// Duration is the wall time of a finished run, or zero while running.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome is how a run ended.
type Outcome struct {
	State        string
	VideoID      string
	ErrorStage   string
	ErrorMessage string
}

// Store manages the run ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates a fresh in-memory ledger.
func Open(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database; the ledger is gone afterwards.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin records a started run.
func (s *Store) Begin(ctx context.Context, runID, fileName, prompt string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("history begin: run id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, file_name, prompt, state, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, strings.TrimSpace(fileName), strings.TrimSpace(prompt), "running", formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("history begin: %w", err)
	}
	return nil
}

// Finish records the outcome of runID.
func (s *Store) Finish(ctx context.Context, runID string, outcome Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, video_id = ?, error_stage = ?, error_message = ?, finished_at = ? WHERE run_id = ?`,
		strings.TrimSpace(outcome.State),
		strings.TrimSpace(outcome.VideoID),
		strings.TrimSpace(outcome.ErrorStage),
		strings.TrimSpace(outcome.ErrorMessage),
		formatTime(s.now()),
		strings.TrimSpace(runID),
	)
	if err != nil {
		return fmt.Errorf("history finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history finish %s: %w", runID, ErrNotFound)
	}
	return nil
}

const selectColumns = `id, run_id, file_name, prompt, state, video_id, error_stage, error_message, started_at, finished_at`

// Get returns the record for runID.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE run_id = ?`, strings.TrimSpace(runID))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("history get %s: %w", runID, ErrNotFound)
	}
	return rec, err
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counts returns the number of runs per state.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("history counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("history counts: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		started  string
		finished string
	)
	if err := row.Scan(&rec.ID, &rec.RunID, &rec.FileName, &rec.Prompt, &rec.State, &rec.VideoID,
		&rec.ErrorStage, &rec.ErrorMessage, &started, &finished); err != nil {
		return Record{}, err
	}
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finished)
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
