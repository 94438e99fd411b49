package durex

import (
	"context"
	"fmt"
	"log/slog"
)

const defaultLeaseMS int64 = 3000

// WorkflowFunc is a user-written workflow procedure.
type WorkflowFunc func(wctx *DurableContext) (any, error)

// Options configures an Engine.
type Options struct {
	// LeaseMS is the staleness threshold for reclaiming a RUNNING step left
	// by a crashed owner. Zero uses the default of 3000ms.
	LeaseMS int64
	// WorkerID is the owner tag stamped on step records. Empty generates a
	// fresh random ID per Engine.
	WorkerID string
	// CrashPolicy declares the (optional) crash-injection rule consulted at
	// every phase boundary. The zero value never crashes.
	CrashPolicy CrashPolicy
	// Logger receives structured debug/error logs for step lifecycle
	// events. Nil discards all output.
	Logger *slog.Logger
	// Tracer receives a span per step execution. Nil disables tracing.
	Tracer Tracer
}

// Engine binds a Store and a set of Options and runs workflow procedures
// against it.
type Engine struct {
	store Store
	opts  Options
}

// New constructs an Engine over store with the given options, applying
// defaults for any zero-valued field.
func New(store Store, opts Options) *Engine {
	if opts.LeaseMS <= 0 {
		opts.LeaseMS = defaultLeaseMS
	}
	if opts.WorkerID == "" {
		opts.WorkerID = NewWorkerID()
	}
	return &Engine{store: store, opts: opts}
}

// Run binds workflowID to a fresh *DurableContext and invokes fn. Errors
// from fn (or from the reservation protocol) propagate to the caller
// unmodified; the caller resumes by calling Run again with the same
// workflowID against a store that still holds the prior run's records.
func (e *Engine) Run(ctx context.Context, workflowID string, fn WorkflowFunc) (any, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("durex: workflow id must not be empty")
	}
	if err := e.store.Initialize(ctx); err != nil {
		return nil, &StoreError{Op: "initialize", Err: err}
	}

	wctx := newDurableContext(workflowID, e.store, e.opts.LeaseMS, e.opts.WorkerID, e.opts.CrashPolicy, e.opts.Tracer, e.opts.Logger)
	return fn(wctx)
}
