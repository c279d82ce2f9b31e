// Package scheduler runs cron-scheduled recurring triggers that start
// workflow executions on a cadence (re-engagement campaigns and similar).
// Triggers are persisted; the scheduler polls for due ones and records each
// run's outcome and next fire time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dripline/dripline/internal/store"
)

// DefaultTickInterval is how often the scheduler scans for due triggers.
const DefaultTickInterval = 30 * time.Second

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Starter starts a workflow execution. Satisfied by the engine.
type Starter interface {
	StartWorkflow(ctx context.Context, orgID, definitionID, leadID, conversationID string) (string, error)
}

// Scheduler fires enabled triggers whose next run time has passed.
type Scheduler struct {
	store    store.Store
	starter  Starter
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently running
}

// New creates a Scheduler.
func New(st store.Store, starter Starter, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		store:    st,
		starter:  starter,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// CalculateNextRun returns the next fire time for a cron expression after the
// given instant.
func CalculateNextRun(expression string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expression, err)
	}
	return sched.Next(after).UTC(), nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
	s.logger.Info("trigger scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due trigger once. Exported for deterministic tests.
func (s *Scheduler) Tick(ctx context.Context) {
	triggers, err := s.store.ListEnabledTriggers(ctx)
	if err != nil {
		s.logger.Error("failed to list triggers", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	for _, t := range triggers {
		if !s.due(t, now) {
			continue
		}
		if !s.tryAcquire(t.ID) {
			continue
		}
		s.runTrigger(ctx, t, now)
		s.release(t.ID)
	}
}

// due reports whether the trigger should fire now. A trigger with no recorded
// next run time is seeded on its first sighting instead of fired.
func (s *Scheduler) due(t *store.Trigger, now time.Time) bool {
	if t.NextRunAt == nil {
		next, err := CalculateNextRun(t.CronExpression, now)
		if err != nil {
			s.logger.Error("trigger has invalid cron expression",
				slog.String("trigger_id", t.ID),
				slog.String("error", err.Error()),
			)
			return false
		}
		if err := s.store.UpdateTrigger(context.Background(), t.ID, store.TriggerUpdate{
			NextRunAt: &next,
		}); err != nil {
			s.logger.Error("failed to seed trigger next run",
				slog.String("trigger_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return !now.Before(*t.NextRunAt)
}

func (s *Scheduler) runTrigger(ctx context.Context, t *store.Trigger, now time.Time) {
	executionID, startErr := s.starter.StartWorkflow(ctx, t.OrgID, t.DefinitionID, t.LeadID, t.ConversationID)

	update := store.TriggerUpdate{LastRunAt: &now}
	if startErr != nil {
		update.LastRunStatus = "error"
		s.logger.Error("trigger run failed",
			slog.String("trigger_id", t.ID),
			slog.String("definition_id", t.DefinitionID),
			slog.String("error", startErr.Error()),
		)
	} else {
		update.LastRunStatus = "success"
		s.logger.Info("trigger started workflow",
			slog.String("trigger_id", t.ID),
			slog.String("execution_id", executionID),
		)
	}

	if next, err := CalculateNextRun(t.CronExpression, now); err == nil {
		update.NextRunAt = &next
	} else {
		s.logger.Error("failed to compute trigger next run",
			slog.String("trigger_id", t.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.store.UpdateTrigger(ctx, t.ID, update); err != nil {
		s.logger.Error("failed to update trigger after run",
			slog.String("trigger_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("trigger scheduler stopped")
}
