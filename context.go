package durex

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StepFunc is a workflow's side-effecting fragment. It receives a context
// carrying the step's key (retrievable via CurrentStepKey) so nested Step
// calls and logging can identify which step is executing.
type StepFunc func(ctx context.Context) (any, error)

// stepKeyCtxKey is the context key under which the currently executing
// step's key is stored. Using context.Context rather than a mutable
// thread-local register means nested Step calls see the parent key and,
// once a nested call returns, the enclosing call's key is automatically
// back in scope — LIFO restoration falls out of context derivation for
// free, with no register to save and restore by hand.
type stepKeyCtxKey struct{}

// CurrentStepKey retrieves the key of the step currently executing in ctx,
// if any. Returns ("", false) outside of any step.
func CurrentStepKey(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stepKeyCtxKey{}).(string)
	return v, ok
}

func withCurrentStepKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, stepKeyCtxKey{}, key)
}

// Executor runs a function on some worker. StepAsync uses it to bound
// fan-out; the default spawns a bare goroutine per call.
type Executor interface {
	Go(func())
}

type goroutineExecutor struct{}

func (goroutineExecutor) Go(f func()) { go f() }

// DefaultExecutor spawns an unbounded goroutine per StepAsync call.
var DefaultExecutor Executor = goroutineExecutor{}

// Future is the result of a StepAsync call, resolved once the underlying
// step completes (from cache, by executing, or by failing).
type Future struct {
	ch chan futureResult
}

type futureResult struct {
	val any
	err error
}

// Await blocks until the future resolves or ctx is cancelled.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DurableContext implements the step primitive for one workflow run: key
// generation, reservation, cached replay, and lease-wait retry. It is safe
// for concurrent use by parallel StepAsync callers (the generator, the
// store, and the owner tag are all safe for concurrent access).
type DurableContext struct {
	workflowID  string
	store       Store
	leaseMS     int64
	workerID    string
	crashPolicy CrashPolicy
	tracer      Tracer
	logger      *slog.Logger
	keys        *keyGenerator
}

func newDurableContext(workflowID string, store Store, leaseMS int64, workerID string, crashPolicy CrashPolicy, tracer Tracer, logger *slog.Logger) *DurableContext {
	if tracer == nil {
		tracer = noopTracer{}
	}
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &DurableContext{
		workflowID:  workflowID,
		store:       store,
		leaseMS:     leaseMS,
		workerID:    workerID,
		crashPolicy: crashPolicy,
		tracer:      tracer,
		logger:      logger,
		keys:        newKeyGenerator(),
	}
}

// WorkflowID returns the workflow instance ID this context is bound to.
func (c *DurableContext) WorkflowID() string { return c.workflowID }

// Step reserves, executes (if not already cached), and commits one step.
// id may be empty, in which case a stable id is derived from the callsite.
func (c *DurableContext) Step(ctx context.Context, id string, fn StepFunc) (any, error) {
	gen := c.keys.next(id)
	effectiveID := id
	if effectiveID == "" {
		effectiveID = "auto-" + gen.StoreKey
	}

	res, err := c.store.Reserve(ctx, c.workflowID, gen.StoreKey, effectiveID, c.workerID, c.leaseMS)
	if err != nil {
		return nil, &StoreError{Op: "reserve", Err: err}
	}

	if res.Kind == RunningElsewhere {
		res, err = c.waitForAcquisition(ctx, gen.StoreKey, effectiveID, time.Now())
		if err != nil {
			return nil, err
		}
	}

	switch res.Kind {
	case Cached:
		c.logger.Debug("durex: step cached", "step_key", gen.StoreKey, "debug_key", gen.DebugKey)
		val, err := Decode(res.Record.OutputJSON, res.Record.OutputType)
		if err != nil {
			return nil, err
		}
		return val, nil
	case Acquired:
		return c.execute(ctx, gen, res.Record, fn)
	default:
		return nil, fmt.Errorf("durex: unexpected reservation kind %q", res.Kind)
	}
}

// waitForAcquisition implements the RUNNING_ELSEWHERE bounded wait: poll
// every ~100ms, re-issuing Reserve, until the state changes or the window
// max(leaseMS, 300ms) elapses.
func (c *DurableContext) waitForAcquisition(ctx context.Context, storeKey, stepID string, start time.Time) (Reservation, error) {
	waitMS := c.leaseMS
	if waitMS < 300 {
		waitMS = 300
	}
	deadline := start.Add(time.Duration(waitMS) * time.Millisecond)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Reservation{}, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return Reservation{}, ErrStepInProgress
		}

		res, err := c.store.Reserve(ctx, c.workflowID, storeKey, stepID, c.workerID, c.leaseMS)
		if err != nil {
			return Reservation{}, &StoreError{Op: "reserve", Err: err}
		}
		if res.Kind != RunningElsewhere {
			return res, nil
		}
	}
}

// execute runs fn for a freshly ACQUIRED reservation: crash hooks, the user
// function outside any store transaction, encode, commit, crash hooks.
func (c *DurableContext) execute(ctx context.Context, gen generatedKey, rec StepRecord, fn StepFunc) (any, error) {
	if c.crashPolicy.ShouldCrash(rec.StepID, PhaseBeforeExecute) {
		hardHalt()
	}

	spanCtx, span := c.tracer.Start(ctx, "durex.step",
		StringAttr("step_id", rec.StepID),
		StringAttr("step_key", gen.StoreKey),
		Int64Attr("attempt", rec.Attempt),
	)
	defer span.End()

	c.logger.Debug("durex: step acquired", "step_key", gen.StoreKey, "attempt", rec.Attempt)
	stepCtx := withCurrentStepKey(spanCtx, gen.StoreKey)

	val, ferr := fn(stepCtx)
	if ferr != nil {
		span.Error(ferr)
		if failErr := c.store.Fail(ctx, c.workflowID, gen.StoreKey, c.workerID, ferr.Error()); failErr != nil {
			c.logger.Error("durex: step fail-commit failed", "step_key", gen.StoreKey, "error", failErr)
			return nil, &StepError{StepKey: gen.StoreKey, Err: ferr, StoreErr: failErr}
		}
		return nil, &StepError{StepKey: gen.StoreKey, Err: ferr}
	}

	if c.crashPolicy.ShouldCrash(rec.StepID, PhaseAfterExecuteBeforeCommit) {
		hardHalt()
	}

	payload, typeTag, encErr := Encode(val)
	if encErr != nil {
		if failErr := c.store.Fail(ctx, c.workflowID, gen.StoreKey, c.workerID, encErr.Error()); failErr != nil {
			c.logger.Error("durex: step fail-commit failed", "step_key", gen.StoreKey, "error", failErr)
		}
		return nil, encErr
	}

	if err := c.store.Complete(ctx, c.workflowID, gen.StoreKey, c.workerID, payload, typeTag); err != nil {
		span.Error(err)
		return nil, &StoreError{Op: "complete", Err: err}
	}

	if c.crashPolicy.ShouldCrash(rec.StepID, PhaseAfterCommit) {
		hardHalt()
	}

	c.logger.Debug("durex: step committed", "step_key", gen.StoreKey, "type_tag", typeTag)
	return val, nil
}

// StepAuto is Step with an auto-generated id derived from the callsite.
func (c *DurableContext) StepAuto(ctx context.Context, fn StepFunc) (any, error) {
	return c.Step(ctx, "", fn)
}

// StepAsync dispatches the same reserve/execute/commit logic on exec (or
// DefaultExecutor if nil) and returns a Future resolving to the step's
// value or error.
func (c *DurableContext) StepAsync(ctx context.Context, id string, fn StepFunc, exec Executor) *Future {
	if exec == nil {
		exec = DefaultExecutor
	}
	fut := &Future{ch: make(chan futureResult, 1)}
	exec.Go(func() {
		val, err := c.Step(ctx, id, fn)
		fut.ch <- futureResult{val: val, err: err}
	})
	return fut
}

// discardHandler is a slog.Handler that drops everything, used as the
// default when no logger is configured.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
