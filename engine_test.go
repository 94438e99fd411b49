package durex_test

import (
	"context"
	"testing"

	"github.com/corestep/durex"
	"github.com/corestep/durex/internal/memstore"
)

func TestRunRejectsEmptyWorkflowID(t *testing.T) {
	engine := durex.New(memstore.New(nil), durex.Options{})
	_, err := engine.Run(context.Background(), "", func(wctx *durex.DurableContext) (any, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected an error for empty workflow id")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	engine := durex.New(memstore.New(nil), durex.Options{})
	// Indirect check: a workflow with no explicit WorkerID/LeaseMS still
	// runs successfully, proving New filled in usable defaults.
	_, err := engine.Run(context.Background(), "wf-defaults", func(wctx *durex.DurableContext) (any, error) {
		return wctx.Step(context.Background(), "only", func(ctx context.Context) (any, error) {
			return "done", nil
		})
	})
	if err != nil {
		t.Fatalf("Run with default options: %v", err)
	}
}

func TestCurrentStepKeyVisibleInsideStep(t *testing.T) {
	engine := durex.New(memstore.New(nil), durex.Options{})
	var sawKey bool
	var sawEmptyOutsideStep bool

	if _, ok := durex.CurrentStepKey(context.Background()); ok {
		sawEmptyOutsideStep = true
	}

	_, err := engine.Run(context.Background(), "wf-ctxkey", func(wctx *durex.DurableContext) (any, error) {
		return wctx.Step(context.Background(), "only", func(ctx context.Context) (any, error) {
			if _, ok := durex.CurrentStepKey(ctx); ok {
				sawKey = true
			}
			return nil, nil
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sawEmptyOutsideStep {
		t.Fatal("CurrentStepKey should report false outside any step")
	}
	if !sawKey {
		t.Fatal("CurrentStepKey should be visible inside the step function")
	}
}

func TestStepAsyncResolvesViaFuture(t *testing.T) {
	engine := durex.New(memstore.New(nil), durex.Options{})

	_, err := engine.Run(context.Background(), "wf-async", func(wctx *durex.DurableContext) (any, error) {
		ctx := context.Background()
		fut := wctx.StepAsync(ctx, "async-one", func(ctx context.Context) (any, error) {
			return 7, nil
		}, nil)
		val, err := fut.Await(ctx)
		if err != nil {
			return nil, err
		}
		if val.(int) != 7 {
			t.Fatalf("future value = %v, want 7", val)
		}
		return val, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}
