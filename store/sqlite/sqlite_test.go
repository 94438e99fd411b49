package sqlite

import (
	"context"
	"testing"

	"github.com/corestep/durex"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(":memory:")
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
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
	if res.Record.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", res.Record.Attempt)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
}

func TestCompleteThenReserveReturnsCached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 1000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.Complete(ctx, "wf-1", "key-1", "owner-1", `42`, "int"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	res, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-2", 1000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Kind != durex.Cached {
		t.Fatalf("kind = %v, want Cached", res.Kind)
	}
	if res.Record.OutputJSON != "42" || res.Record.OutputType != "int" {
		t.Fatalf("unexpected cached record: %+v", res.Record)
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

func TestCompleteWrongOwnerReturnsOwnershipLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 1000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.Complete(ctx, "wf-1", "key-1", "owner-2", `1`, "int"); err == nil {
		t.Fatal("expected ownership error")
	}
}

func TestDistinctWorkflowsDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "wf-1", "key-1", "step-a", "owner-1", 1000); err != nil {
		t.Fatalf("Reserve wf-1: %v", err)
	}
	res, err := s.Reserve(ctx, "wf-2", "key-1", "step-a", "owner-1", 1000)
	if err != nil {
		t.Fatalf("Reserve wf-2: %v", err)
	}
	if res.Kind != durex.Acquired {
		t.Fatalf("kind = %v, want Acquired", res.Kind)
	}
}
