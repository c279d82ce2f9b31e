package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/dripline/dripline/internal/store"
)

// TopicJobs is the pub/sub topic carrying immediate node dispatch jobs.
const TopicJobs = "workflow.jobs"

// PubSubQueue implements Queue on top of a Watermill publisher for immediate
// jobs and the store's delayed_jobs table for timed jobs.
type PubSubQueue struct {
	publisher message.Publisher
	store     store.Store
}

// NewPubSubQueue creates a Queue backed by the given publisher and store.
func NewPubSubQueue(publisher message.Publisher, st store.Store) *PubSubQueue {
	return &PubSubQueue{publisher: publisher, store: st}
}

// EnqueueNow publishes the job to the immediate topic.
func (q *PubSubQueue) EnqueueNow(_ context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.publisher.Publish(TopicJobs, msg); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// EnqueueAt persists the job; the delayed poller fires it when due.
func (q *PubSubQueue) EnqueueAt(ctx context.Context, job Job, at time.Time) error {
	return q.store.CreateDelayedJob(ctx, &store.DelayedJob{
		ID:          uuid.NewString(),
		ExecutionID: job.ExecutionID,
		OrgID:       job.OrgID,
		NodeID:      job.NodeID,
		RunAt:       at.UTC(),
	})
}

// Dispatcher drains the immediate topic into a worker pool, invoking the
// handler for each job. A handler error nacks the message for redelivery;
// the engine's early-abort and attempts checks keep redelivery bounded.
type Dispatcher struct {
	subscriber message.Subscriber
	pool       *WorkerPool
	handler    Handler
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(subscriber message.Subscriber, pool *WorkerPool, handler Handler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		subscriber: subscriber,
		pool:       pool,
		handler:    handler,
		logger:     logger,
	}
}

// Start subscribes to the jobs topic and dispatches until the context is
// cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	messages, err := d.subscriber.Subscribe(runCtx, TopicJobs)
	if err != nil {
		cancel()
		d.mu.Lock()
		d.cancel = nil
		d.done = nil
		d.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", TopicJobs, err)
	}

	go d.loop(runCtx, messages)
	d.logger.Info("dispatcher started")
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, messages <-chan *message.Message) {
	defer close(d.done)

	for msg := range messages {
		var job Job
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			d.logger.Error("discarding malformed job payload",
				slog.String("message_id", msg.UUID),
				slog.String("error", err.Error()),
			)
			msg.Ack()
			continue
		}

		m := msg
		err := d.pool.Submit(ctx, func(ctx context.Context) error {
			if err := d.handler.ExecuteNode(ctx, job); err != nil {
				d.logger.Error("node dispatch failed",
					slog.String("execution_id", job.ExecutionID),
					slog.String("node_id", job.NodeID),
					slog.String("error", err.Error()),
				)
				m.Nack()
				return err
			}
			m.Ack()
			return nil
		})
		if err != nil {
			// Pool shut down or context cancelled; leave the message unacked
			// for redelivery after restart.
			d.logger.Warn("could not submit job to pool", slog.String("error", err.Error()))
			return
		}
	}
}

// Stop cancels the subscription and waits for the dispatch loop to exit.
// In-flight jobs finish via the worker pool's own shutdown.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil

	d.logger.Info("dispatcher stopped")
}
