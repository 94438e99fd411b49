// Package sqlite implements durex.Store on a local SQLite file using the
// pure-Go modernc.org/sqlite driver. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corestep/durex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for reservation outcomes and retry attempts. If not set,
// no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithMaxRetries overrides the number of SQLITE_BUSY retry attempts before
// Reserve/Complete/Fail give up and return the underlying error. Default 5.
func WithMaxRetries(n int) StoreOption {
	return func(s *Store) { s.maxRetries = n }
}

// WithRetryBackoff overrides the base linear backoff between busy retries.
// Default 20ms.
func WithRetryBackoff(d time.Duration) StoreOption {
	return func(s *Store) { s.retryBackoff = d }
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Store implements durex.Store backed by a local SQLite file.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	maxRetries   int
	retryBackoff time.Duration
}

var _ durex.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath (":memory:" for an
// ephemeral in-process database). It opens a single shared connection pool
// with SetMaxOpenConns(1) so all goroutines serialize through one
// connection: SQLite only allows one writer at a time regardless, and
// funneling every caller through a single connection turns cross-goroutine
// contention into queueing instead of SQLITE_BUSY errors.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; the blank
		// import above guarantees that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{
		db:           db,
		logger:       nopLogger,
		maxRetries:   5,
		retryBackoff: 20 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Initialize creates the steps table and its indexes if absent.
func (s *Store) Initialize(ctx context.Context) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS steps (
		workflow_id    TEXT NOT NULL,
		step_key       TEXT NOT NULL,
		step_id        TEXT NOT NULL,
		status         TEXT NOT NULL,
		output_json    TEXT,
		output_type    TEXT,
		error_message  TEXT,
		attempt        INTEGER NOT NULL DEFAULT 0,
		owner          TEXT,
		started_at_ms  INTEGER NOT NULL,
		updated_at_ms  INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, step_key)
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_steps_workflow_status ON steps(workflow_id, status)`)
	if err != nil {
		return fmt.Errorf("sqlite: create index: %w", err)
	}
	s.logger.Debug("sqlite: initialize done", "elapsed", time.Since(start))
	return nil
}

// isBusy reports whether err indicates SQLite could not acquire the write
// lock (SQLITE_BUSY / SQLITE_LOCKED), the only class of error worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

func (s *Store) withRetry(ctx context.Context, op string, f func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		lastErr = f()
		if lastErr == nil || !isBusy(lastErr) {
			return lastErr
		}
		s.logger.Debug("sqlite: busy, retrying", "op", op, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * s.retryBackoff):
		}
	}
	return lastErr
}

// Reserve implements the tri-state reservation protocol inside a single
// BEGIN IMMEDIATE transaction, which takes SQLite's write lock up front so
// the read-then-write is atomic against other goroutines/processes sharing
// the file.
func (s *Store) Reserve(ctx context.Context, workflowID, stepKey, stepID, owner string, leaseMS int64) (durex.Reservation, error) {
	var result durex.Reservation
	err := s.withRetry(ctx, "reserve", func() error {
		// With SetMaxOpenConns(1) there is exactly one physical connection,
		// so issuing BEGIN IMMEDIATE directly (instead of via db.BeginTx,
		// which would negotiate a deferred transaction) takes SQLite's
		// write lock up front: the read below and the write that follows
		// it are guaranteed atomic against any other goroutine, which can
		// only be queued behind this same connection.
		if _, err := s.db.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
			return fmt.Errorf("sqlite: begin immediate: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				_, _ = s.db.ExecContext(ctx, `ROLLBACK`)
			}
		}()

		now := time.Now().UnixMilli()
		var rec durex.StepRecord
		row := s.db.QueryRowContext(ctx, `SELECT workflow_id, step_key, step_id, status, output_json, output_type, error_message, attempt, owner, started_at_ms, updated_at_ms FROM steps WHERE workflow_id = ? AND step_key = ?`, workflowID, stepKey)
		scanErr := scanStepRecord(row, &rec)

		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			rec = durex.StepRecord{
				WorkflowID:  workflowID,
				StepKey:     stepKey,
				StepID:      stepID,
				Status:      durex.StatusRunning,
				Attempt:     1,
				Owner:       owner,
				StartedAtMS: now,
				UpdatedAtMS: now,
			}
			if _, err := s.db.ExecContext(ctx, `INSERT INTO steps (workflow_id, step_key, step_id, status, attempt, owner, started_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.WorkflowID, rec.StepKey, rec.StepID, rec.Status, rec.Attempt, rec.Owner, rec.StartedAtMS, rec.UpdatedAtMS); err != nil {
				return fmt.Errorf("sqlite: insert: %w", err)
			}
			result = durex.Reservation{Kind: durex.Acquired, Record: rec}

		case scanErr != nil:
			return fmt.Errorf("sqlite: scan: %w", scanErr)

		case rec.Status == durex.StatusCompleted:
			result = durex.Reservation{Kind: durex.Cached, Record: rec}

		case rec.Status == durex.StatusRunning && !(now-rec.UpdatedAtMS > leaseMS) && rec.Owner != owner:
			result = durex.Reservation{Kind: durex.RunningElsewhere, Record: rec}

		default:
			rec.Owner = owner
			rec.Attempt++
			rec.Status = durex.StatusRunning
			rec.OutputJSON = ""
			rec.OutputType = ""
			rec.ErrorMessage = ""
			rec.UpdatedAtMS = now
			if _, err := s.db.ExecContext(ctx, `UPDATE steps SET status = ?, output_json = NULL, output_type = NULL, error_message = NULL, attempt = ?, owner = ?, updated_at_ms = ? WHERE workflow_id = ? AND step_key = ?`,
				rec.Status, rec.Attempt, rec.Owner, rec.UpdatedAtMS, workflowID, stepKey); err != nil {
				return fmt.Errorf("sqlite: update: %w", err)
			}
			result = durex.Reservation{Kind: durex.Acquired, Record: rec}
		}

		if _, err := s.db.ExecContext(ctx, `COMMIT`); err != nil {
			return fmt.Errorf("sqlite: commit: %w", err)
		}
		committed = true
		return nil
	})
	if err != nil {
		return durex.Reservation{}, err
	}
	return result, nil
}

func scanStepRecord(row *sql.Row, rec *durex.StepRecord) error {
	var outputJSON, outputType, errorMessage, owner sql.NullString
	if err := row.Scan(&rec.WorkflowID, &rec.StepKey, &rec.StepID, &rec.Status, &outputJSON, &outputType, &errorMessage, &rec.Attempt, &owner, &rec.StartedAtMS, &rec.UpdatedAtMS); err != nil {
		return err
	}
	rec.OutputJSON = outputJSON.String
	rec.OutputType = outputType.String
	rec.ErrorMessage = errorMessage.String
	rec.Owner = owner.String
	return nil
}

// Complete conditionally transitions a row to COMPLETED. The UPDATE's WHERE
// clause carries the ownership check so the row count tells us whether we
// still held the lease.
func (s *Store) Complete(ctx context.Context, workflowID, stepKey, owner, outputJSON, outputType string) error {
	return s.withRetry(ctx, "complete", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE steps SET status = ?, output_json = ?, output_type = ?, error_message = NULL, updated_at_ms = ? WHERE workflow_id = ? AND step_key = ? AND owner = ? AND status != ?`,
			durex.StatusCompleted, outputJSON, outputType, time.Now().UnixMilli(), workflowID, stepKey, owner, durex.StatusCompleted)
		if err != nil {
			return fmt.Errorf("sqlite: complete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: complete rows affected: %w", err)
		}
		if n == 0 {
			return durex.ErrOwnershipLost
		}
		return nil
	})
}

// Fail conditionally transitions a row to FAILED under the same ownership
// predicate as Complete.
func (s *Store) Fail(ctx context.Context, workflowID, stepKey, owner, errorMessage string) error {
	return s.withRetry(ctx, "fail", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE steps SET status = ?, error_message = ?, updated_at_ms = ? WHERE workflow_id = ? AND step_key = ? AND owner = ? AND status != ?`,
			durex.StatusFailed, errorMessage, time.Now().UnixMilli(), workflowID, stepKey, owner, durex.StatusCompleted)
		if err != nil {
			return fmt.Errorf("sqlite: fail: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: fail rows affected: %w", err)
		}
		if n == 0 {
			return durex.ErrOwnershipLost
		}
		return nil
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
