// Command durexctl runs a small illustrative workflow against a durex
// engine, wired to either a SQLite or a Postgres store depending on
// configuration. It exists to exercise the engine end-to-end and to give
// crash-injection testing a runnable target: -crash-step/-crash-phase halt
// the process mid-step exactly where a real crash would, so a second
// invocation with the same workflow id can be used to verify resumption.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corestep/durex"
	"github.com/corestep/durex/internal/config"
	"github.com/corestep/durex/observer"
	"github.com/corestep/durex/store/postgres"
	"github.com/corestep/durex/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to a durex.toml config file")
	workflowID := flag.String("workflow", "", "workflow instance id (required; reuse to resume a crashed run)")
	crashStep := flag.String("crash-step", "", "override: step id to crash on (empty keeps the configured value; an empty step id matches any step)")
	crashPhase := flag.String("crash-phase", "", "override: phase to crash on (BEFORE_EXECUTE, AFTER_EXECUTE_BEFORE_COMMIT, AFTER_COMMIT)")
	flag.Parse()

	if *workflowID == "" {
		log.Fatal("durexctl: -workflow is required")
	}

	cfg := config.Load(*configPath)
	if *crashStep != "" {
		cfg.Crash.StepID = *crashStep
	}
	if *crashPhase != "" {
		cfg.Crash.Phase = *crashPhase
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var tracer durex.Tracer
	if cfg.Observer.Enabled {
		shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			log.Fatalf("durexctl: observer init: %v", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
		tracer = observer.NewTracer()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("durexctl: %v", err)
	}
	defer func() { _ = store.Close() }()

	engine := durex.New(store, durex.Options{
		LeaseMS:     cfg.Engine.LeaseMS,
		WorkerID:    cfg.Engine.WorkerID,
		CrashPolicy: durex.CrashPolicy{StepID: cfg.Crash.StepID, Phase: durex.Phase(cfg.Crash.Phase)},
		Logger:      logger,
		Tracer:      tracer,
	})

	result, err := engine.Run(ctx, *workflowID, onboardingWorkflow)
	if err != nil {
		log.Fatalf("durexctl: workflow failed: %v", err)
	}
	fmt.Printf("workflow %s completed: %v\n", *workflowID, result)
}

func openStore(ctx context.Context, cfg config.Config) (durex.Store, error) {
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool,
			postgres.WithMaxRetries(cfg.Postgres.MaxRetries),
			postgres.WithRetryBackoff(time.Duration(cfg.Postgres.RetryBackoffMS)*time.Millisecond),
		), nil
	}
	return sqlite.New(cfg.SQLite.Path,
		sqlite.WithMaxRetries(cfg.SQLite.MaxRetries),
		sqlite.WithRetryBackoff(time.Duration(cfg.SQLite.RetryBackoffMS)*time.Millisecond),
	), nil
}

// onboardingWorkflow is a deliberately simple illustrative procedure, not
// the business logic durex itself is concerned with: three independent
// steps a new-user onboarding flow might run, each durably checkpointed so
// a crash between any two of them never repeats the completed ones.
func onboardingWorkflow(wctx *durex.DurableContext) (any, error) {
	ctx := context.Background()

	accountID, err := wctx.Step(ctx, "create-account", func(ctx context.Context) (any, error) {
		return fmt.Sprintf("acct-%s", wctx.WorkflowID()), nil
	})
	if err != nil {
		return nil, err
	}

	_, err = wctx.Step(ctx, "send-welcome-email", func(ctx context.Context) (any, error) {
		return fmt.Sprintf("welcome email queued for %v", accountID), nil
	})
	if err != nil {
		return nil, err
	}

	credit, err := wctx.Step(ctx, "grant-starter-credit", func(ctx context.Context) (any, error) {
		return 100, nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"account_id": accountID, "starter_credit": credit}, nil
}
