// Command dripline runs the workflow engine: the job dispatcher, the delayed
// resumption poller, the engagement listener and the recurring-trigger
// scheduler, all sharing one libSQL store and one in-process pub/sub.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/dripline/dripline/internal/engagement"
	"github.com/dripline/dripline/internal/engine"
	"github.com/dripline/dripline/internal/generation"
	"github.com/dripline/dripline/internal/logging"
	"github.com/dripline/dripline/internal/queue"
	"github.com/dripline/dripline/internal/scheduler"
	"github.com/dripline/dripline/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dripline:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(logger))
	defer pubSub.Close()

	q := queue.NewPubSubQueue(pubSub, st)
	eng := engine.New(st, q, generation.NewDisabled(), logger, engine.Config{
		MaxAttempts: cfg.MaxAttempts,
	})

	pool := queue.NewWorkerPool(cfg.PoolSize)
	dispatcher := queue.NewDispatcher(pubSub, pool, eng, logger)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	poller := queue.NewDelayedPoller(st, eng, logger, cfg.pollInterval())
	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("start delayed poller: %w", err)
	}
	defer poller.Stop()

	listener := engagement.NewListener(pubSub, st, logger)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start engagement listener: %w", err)
	}
	defer listener.Stop()

	if !cfg.DisableScheduler {
		sched := scheduler.New(st, eng, logger, cfg.triggerTick())
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	logger.Info("dripline engine running",
		slog.String("db_path", cfg.DBPath),
		slog.Int("pool_size", cfg.PoolSize),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Deferred stops cancel intake; drain in-flight node dispatches last.
	pool.Shutdown()
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
