// Package store persists finished runs and makes them searchable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/rexec/internal/engine"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunSummary is a lightweight representation for listings.
type RunSummary struct {
	ID          string
	Prompt      string
	Status      engine.Status
	Attempts    int
	MaxAttempts int
	StartedAt   time.Time
	Elapsed     time.Duration
}

// DB provides run history persistence on SQLite.
type DB struct {
	db *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	// WAL mode allows multiple readers and one writer simultaneously
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		prompt       TEXT NOT NULL,
		max_attempts INTEGER NOT NULL,
		timeout_ms   INTEGER NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT,
		started_at   INTEGER NOT NULL,
		finished_at  INTEGER
	);

	CREATE TABLE IF NOT EXISTS attempts (
		run_id         TEXT NOT NULL,
		idx            INTEGER NOT NULL,
		prompt_context TEXT NOT NULL,
		code           TEXT,
		kind           TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		started_at     INTEGER NOT NULL,
		elapsed_ms     INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_kind ON attempts(kind);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// SaveRun stores a run and its finished attempts, replacing any previous copy.
func (d *DB) SaveRun(ctx context.Context, st *engine.RunState) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, prompt, max_attempts, timeout_ms, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Prompt, st.MaxAttempts, st.Timeout.Milliseconds(), string(st.Status),
		nullString(st.Error), st.StartedAt.UnixMilli(), nullTime(st.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", st.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE run_id = ?`, st.ID); err != nil {
		return fmt.Errorf("failed to clear attempts of %s: %w", st.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempts (run_id, idx, prompt_context, code, kind, outcome, started_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range st.Attempts {
		if a.Outcome == nil {
			continue
		}
		outcome, err := json.Marshal(a.Outcome)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome of attempt %d: %w", a.Index, err)
		}
		if _, err := stmt.ExecContext(ctx, st.ID, a.Index, a.PromptContext, a.Code,
			string(a.Outcome.Kind), string(outcome), a.StartedAt.UnixMilli(), a.Elapsed.Milliseconds()); err != nil {
			return fmt.Errorf("failed to save attempt %d: %w", a.Index, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a run with its attempts in order.
func (d *DB) GetRun(ctx context.Context, id string) (*engine.RunState, error) {
	st := &engine.RunState{Attempts: []engine.Attempt{}}
	var (
		status     string
		runErr     sql.NullString
		timeoutMS  int64
		startedMS  int64
		finishedMS sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT run_id, prompt, max_attempts, timeout_ms, status, error, started_at, finished_at
		FROM runs WHERE run_id = ?`, id).
		Scan(&st.ID, &st.Prompt, &st.MaxAttempts, &timeoutMS, &status, &runErr, &startedMS, &finishedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	st.Status = engine.Status(status)
	st.Error = runErr.String
	st.Timeout = time.Duration(timeoutMS) * time.Millisecond
	st.StartedAt = time.UnixMilli(startedMS)
	if finishedMS.Valid {
		st.FinishedAt = time.UnixMilli(finishedMS.Int64)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT idx, prompt_context, code, outcome, started_at, elapsed_ms
		FROM attempts WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a         engine.Attempt
			code      sql.NullString
			outcome   string
			startedAt int64
			elapsedMS int64
		)
		if err := rows.Scan(&a.Index, &a.PromptContext, &code, &outcome, &startedAt, &elapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		var o engine.Outcome
		if err := json.Unmarshal([]byte(outcome), &o); err != nil {
			return nil, fmt.Errorf("failed to decode outcome of attempt %d: %w", a.Index, err)
		}
		a.Code = code.String
		a.Outcome = &o
		a.StartedAt = time.UnixMilli(startedAt)
		a.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		st.Attempts = append(st.Attempts, a)
	}
	return st, rows.Err()
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.run_id, r.prompt, r.status, r.max_attempts, r.started_at, r.finished_at,
		       (SELECT COUNT(*) FROM attempts a WHERE a.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s          RunSummary
			status     string
			startedMS  int64
			finishedMS sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Prompt, &status, &s.MaxAttempts, &startedMS, &finishedMS, &s.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.Status = engine.Status(status)
		s.StartedAt = time.UnixMilli(startedMS)
		if finishedMS.Valid {
			s.Elapsed = time.Duration(finishedMS.Int64-startedMS) * time.Millisecond
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its attempts.
func (d *DB) DeleteRun(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete attempts of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: !t.IsZero()}
}
