// Package engagement terminates automated outreach when a lead responds.
// The conversation layer publishes an event per inbound reply; the listener
// cancels every running execution on that conversation cooperatively, so a
// node already in flight may still finish before the termination lands.
package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dripline/dripline/internal/logging"
	"github.com/dripline/dripline/internal/store"
	"github.com/dripline/dripline/pkg/schema"
)

// TopicEvents is the pub/sub topic carrying engagement events.
const TopicEvents = "engagement.events"

// Listener consumes engagement events and terminates running executions.
type Listener struct {
	subscriber message.Subscriber
	store      store.Store
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a Listener.
func NewListener(subscriber message.Subscriber, st store.Store, logger *slog.Logger) *Listener {
	return &Listener{
		subscriber: subscriber,
		store:      st,
		logger:     logger,
	}
}

// Start subscribes to the engagement topic and processes events until the
// context is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return fmt.Errorf("engagement listener already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()

	messages, err := l.subscriber.Subscribe(runCtx, TopicEvents)
	if err != nil {
		cancel()
		l.mu.Lock()
		l.cancel = nil
		l.done = nil
		l.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", TopicEvents, err)
	}

	go l.loop(runCtx, messages)
	l.logger.Info("engagement listener started")
	return nil
}

func (l *Listener) loop(ctx context.Context, messages <-chan *message.Message) {
	defer close(l.done)

	for msg := range messages {
		var event schema.EngagementEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			l.logger.Error("discarding malformed engagement event",
				slog.String("message_id", msg.UUID),
				slog.String("error", err.Error()),
			)
			msg.Ack()
			continue
		}

		// Per-event errors are isolated; the event is acked either way so one
		// bad conversation cannot wedge the stream.
		l.HandleEvent(ctx, &event)
		msg.Ack()
	}
}

// HandleEvent terminates every running execution on the event's conversation.
// Each execution gets a single compare-and-swap to terminated_engaged; a CAS
// miss means another writer concluded the execution first and is skipped.
// Failures on one execution never block the others.
func (l *Listener) HandleEvent(ctx context.Context, event *schema.EngagementEvent) {
	ctx = logging.WithOrgID(ctx, event.OrgID)

	running, err := l.store.ListRunningByConversation(ctx, event.OrgID, event.ConversationID)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to list running executions for engagement",
			slog.String("conversation_id", event.ConversationID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(running) == 0 {
		return
	}

	terminated := schema.ExecutionStatusTerminatedEngaged
	for _, ex := range running {
		if !schema.CanTransition(ex.Status, terminated) {
			continue
		}
		exCtx := logging.WithExecutionID(ctx, ex.ID)
		err := l.store.UpdateExecutionCAS(exCtx, ex.OrgID, ex.ID, ex.Version, store.ExecutionUpdate{
			Status: &terminated,
		})
		switch {
		case schema.IsCode(err, schema.ErrCodeConcurrentModification):
			l.logger.InfoContext(exCtx, "engagement termination lost to concurrent writer",
				slog.String("conversation_id", event.ConversationID),
			)
		case err != nil:
			l.logger.ErrorContext(exCtx, "failed to terminate execution on engagement",
				slog.String("conversation_id", event.ConversationID),
				slog.String("error", err.Error()),
			)
		default:
			l.logger.InfoContext(exCtx, "execution terminated by engagement",
				slog.String("conversation_id", event.ConversationID),
				slog.String("source", event.Source),
			)
		}
	}
}

// Stop cancels the subscription and waits for the event loop to drain.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil

	l.logger.Info("engagement listener stopped")
}
