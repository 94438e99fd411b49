// Package postgres implements durex.Store using PostgreSQL via pgx.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corestep/durex"
)

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	maxRetries   int
	retryBackoff time.Duration
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithMaxRetries overrides the number of serialization-failure retry
// attempts before Reserve gives up and returns the underlying error.
// Default 5.
func WithMaxRetries(n int) Option {
	return func(c *pgConfig) { c.maxRetries = n }
}

// WithRetryBackoff overrides the base linear backoff between retries.
// Default 20ms.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *pgConfig) { c.retryBackoff = d }
}

// Store implements durex.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

var _ durex.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it; Store.Close is a no-op.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{maxRetries: 5, retryBackoff: 20 * time.Millisecond}
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// Initialize creates the steps table and its indexes if absent.
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS steps (
		workflow_id   TEXT NOT NULL,
		step_key      TEXT NOT NULL,
		step_id       TEXT NOT NULL,
		status        TEXT NOT NULL,
		output_json   TEXT,
		output_type   TEXT,
		error_message TEXT,
		attempt       BIGINT NOT NULL DEFAULT 0,
		owner         TEXT,
		started_at_ms BIGINT NOT NULL,
		updated_at_ms BIGINT NOT NULL,
		PRIMARY KEY (workflow_id, step_key)
	)`)
	if err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_steps_workflow_status ON steps(workflow_id, status)`)
	if err != nil {
		return fmt.Errorf("postgres: create index: %w", err)
	}
	return nil
}

// isSerializationFailure reports whether err is a retryable PostgreSQL
// transaction conflict: 40001 (serialization_failure) or 40P01
// (deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func (s *Store) withRetry(ctx context.Context, f func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.maxRetries; attempt++ {
		lastErr = func() error {
			tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
			if err != nil {
				return fmt.Errorf("postgres: begin: %w", err)
			}
			defer tx.Rollback(ctx) //nolint:errcheck

			if err := f(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if lastErr == nil || !isSerializationFailure(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * s.cfg.retryBackoff):
		}
	}
	return lastErr
}

// Reserve implements the tri-state reservation protocol inside a
// SERIALIZABLE transaction with SELECT ... FOR UPDATE, so the read and the
// subsequent write are atomic against concurrent Reserve calls racing for
// the same row, whether from this process or another.
func (s *Store) Reserve(ctx context.Context, workflowID, stepKey, stepID, owner string, leaseMS int64) (durex.Reservation, error) {
	var result durex.Reservation
	err := s.withRetry(ctx, func(tx pgx.Tx) error {
		now := time.Now().UnixMilli()
		var rec durex.StepRecord
		row := tx.QueryRow(ctx, `SELECT workflow_id, step_key, step_id, status, output_json, output_type, error_message, attempt, owner, started_at_ms, updated_at_ms FROM steps WHERE workflow_id = $1 AND step_key = $2 FOR UPDATE`, workflowID, stepKey)
		scanErr := scanStepRecord(row, &rec)

		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
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
			if _, err := tx.Exec(ctx, `INSERT INTO steps (workflow_id, step_key, step_id, status, attempt, owner, started_at_ms, updated_at_ms) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				rec.WorkflowID, rec.StepKey, rec.StepID, rec.Status, rec.Attempt, rec.Owner, rec.StartedAtMS, rec.UpdatedAtMS); err != nil {
				return fmt.Errorf("postgres: insert: %w", err)
			}
			result = durex.Reservation{Kind: durex.Acquired, Record: rec}

		case scanErr != nil:
			return fmt.Errorf("postgres: scan: %w", scanErr)

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
			if _, err := tx.Exec(ctx, `UPDATE steps SET status = $1, output_json = NULL, output_type = NULL, error_message = NULL, attempt = $2, owner = $3, updated_at_ms = $4 WHERE workflow_id = $5 AND step_key = $6`,
				rec.Status, rec.Attempt, rec.Owner, rec.UpdatedAtMS, workflowID, stepKey); err != nil {
				return fmt.Errorf("postgres: update: %w", err)
			}
			result = durex.Reservation{Kind: durex.Acquired, Record: rec}
		}
		return nil
	})
	if err != nil {
		return durex.Reservation{}, err
	}
	return result, nil
}

func scanStepRecord(row pgx.Row, rec *durex.StepRecord) error {
	var outputJSON, outputType, errorMessage, owner *string
	if err := row.Scan(&rec.WorkflowID, &rec.StepKey, &rec.StepID, &rec.Status, &outputJSON, &outputType, &errorMessage, &rec.Attempt, &owner, &rec.StartedAtMS, &rec.UpdatedAtMS); err != nil {
		return err
	}
	if outputJSON != nil {
		rec.OutputJSON = *outputJSON
	}
	if outputType != nil {
		rec.OutputType = *outputType
	}
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if owner != nil {
		rec.Owner = *owner
	}
	return nil
}

// Complete conditionally transitions a row to COMPLETED, gated on owner
// still matching via the UPDATE's WHERE clause.
func (s *Store) Complete(ctx context.Context, workflowID, stepKey, owner, outputJSON, outputType string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE steps SET status = $1, output_json = $2, output_type = $3, error_message = NULL, updated_at_ms = $4 WHERE workflow_id = $5 AND step_key = $6 AND owner = $7 AND status != $1`,
		durex.StatusCompleted, outputJSON, outputType, time.Now().UnixMilli(), workflowID, stepKey, owner)
	if err != nil {
		return fmt.Errorf("postgres: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return durex.ErrOwnershipLost
	}
	return nil
}

// Fail conditionally transitions a row to FAILED under the same ownership
// predicate as Complete.
func (s *Store) Fail(ctx context.Context, workflowID, stepKey, owner, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE steps SET status = $1, error_message = $2, updated_at_ms = $3 WHERE workflow_id = $4 AND step_key = $5 AND owner = $6 AND status != $7`,
		durex.StatusFailed, errorMessage, time.Now().UnixMilli(), workflowID, stepKey, owner, durex.StatusCompleted)
	if err != nil {
		return fmt.Errorf("postgres: fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return durex.ErrOwnershipLost
	}
	return nil
}

// Close is a no-op: the pool is owned and closed by the caller of New.
func (s *Store) Close() error { return nil }
