// Package durex is a durable execution engine for Go.
//
// It turns an ordinary imperative function into a crash-resumable
// computation. A workflow is any Go function written against a
// [*DurableContext]; any side-effecting fragment wrapped in [DurableContext.Step]
// is checkpointed to a relational store. Re-running the same workflow ID
// against the same store replays completed steps from their cached results
// instead of re-executing them, so side effects advance at-most-once per
// workflow instance up to the granularity of a step.
//
// # Quick Start
//
//	eng := durex.New(sqlite.New("workflows.db"), durex.Options{LeaseMS: 3000})
//	result, err := eng.Run(ctx, "order-42", func(wctx *durex.DurableContext) (any, error) {
//		acct, err := wctx.Step(ctx, "create-account", func(ctx context.Context) (any, error) {
//			return createAccount(), nil
//		})
//		if err != nil {
//			return nil, err
//		}
//		return wctx.Step(ctx, "send-welcome-email", func(ctx context.Context) (any, error) {
//			return sendWelcomeEmail(acct), nil
//		})
//	})
//
// # Core Interfaces
//
//   - [Store] — pluggable relational adapter (reserve/complete/fail protocol)
//   - [DurableContext] — the step primitive and per-run state
//   - [CrashPolicy] — declarative crash-injection hook for durability tests
//   - [Tracer] — optional OpenTelemetry-style span emission
//
// # Included Adapters
//
// Storage: store/sqlite (pure-Go, CGO-free), store/postgres (pgx/pgvector-free
// relational backend). See cmd/durexctl for a runnable example host.
package durex
