package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corestep/durex"
)

// newTestStore connects to DUREX_POSTGRES_DSN and skips the test entirely
// when that variable is unset, since these tests need a live PostgreSQL
// instance and cannot run against a fake.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DUREX_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DUREX_POSTGRES_DSN not set, skipping postgres integration tests")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := pool.Exec(context.Background(), `DELETE FROM steps`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	return s
}

func TestReserveInsertsFreshRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 1000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Kind != durex.Acquired {
		t.Fatalf("kind = %v, want Acquired", res.Kind)
	}
}

func TestCompleteThenReserveReturnsCached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 1000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.Complete(ctx, "wf-1", "key-1", "owner-1", `"done"`, "string"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	res, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-2", 1000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Kind != durex.Cached {
		t.Fatalf("kind = %v, want Cached", res.Kind)
	}
}

func TestReserveRunningFreshBlocksOtherOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 60_000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	res, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-2", 60_000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Kind != durex.RunningElsewhere {
		t.Fatalf("kind = %v, want RunningElsewhere", res.Kind)
	}
}

func TestFailThenReserveRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 1000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.Fail(ctx, "wf-1", "key-1", "owner-1", "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	res, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-2", 1000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Kind != durex.Acquired {
		t.Fatalf("kind = %v, want Acquired", res.Kind)
	}
	if res.Record.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", res.Record.Attempt)
	}
}
