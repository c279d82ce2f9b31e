package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dripline/dripline/internal/store"
)

// DefaultPollInterval is how often the delayed poller checks for due jobs.
const DefaultPollInterval = 5 * time.Second

// DelayedPoller drains the persisted delayed-job table. When a job comes due
// it is handed to the Resumer, which re-checks that the execution is still
// running before re-enqueueing; an execution terminated during the wait (for
// example by engagement) is a silent no-op. Jobs survive process restarts, so
// resumptions missed while down fire on the first tick.
type DelayedPoller struct {
	store    store.Store
	resumer  Resumer
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently firing (dedup)
}

// NewDelayedPoller creates a DelayedPoller.
func NewDelayedPoller(st store.Store, resumer Resumer, logger *slog.Logger, interval time.Duration) *DelayedPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &DelayedPoller{
		store:    st,
		resumer:  resumer,
		logger:   logger,
		interval: interval,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background polling loop.
func (p *DelayedPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("delayed poller already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(pollCtx)
	p.logger.Info("delayed poller started", slog.Duration("interval", p.interval))
	return nil
}

func (p *DelayedPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run an initial tick immediately to recover jobs that came due while the
	// process was down.
	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick fires every due delayed job once. Exported for deterministic tests.
func (p *DelayedPoller) Tick(ctx context.Context) {
	jobs, err := p.store.ListDueDelayedJobs(ctx, time.Now().UTC(), 100)
	if err != nil {
		p.logger.Error("failed to list due delayed jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range jobs {
		if !p.tryAcquire(job.ID) {
			continue
		}
		p.fire(ctx, job)
		p.release(job.ID)
	}
}

// fire resumes the job's node and marks the row fired. The resume happens
// first: if it fails the row stays due and is retried next tick
// (at-least-once; the engine's status re-check absorbs duplicates).
func (p *DelayedPoller) fire(ctx context.Context, job *store.DelayedJob) {
	if err := p.resumer.ResumeWorkflow(ctx, job.ExecutionID, job.OrgID, job.NodeID); err != nil {
		p.logger.Error("failed to resume delayed workflow",
			slog.String("job_id", job.ID),
			slog.String("execution_id", job.ExecutionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.store.MarkDelayedJobFired(ctx, job.ID); err != nil {
		p.logger.Error("failed to mark delayed job fired",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *DelayedPoller) tryAcquire(jobID string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, ok := p.inflight[jobID]; ok {
		return false
	}
	p.inflight[jobID] = struct{}{}
	return true
}

func (p *DelayedPoller) release(jobID string) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	delete(p.inflight, jobID)
}

// Stop gracefully shuts down the poller.
func (p *DelayedPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil

	p.logger.Info("delayed poller stopped")
}
