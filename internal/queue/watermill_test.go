package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHandler records executed jobs and can fail the first N deliveries.
type mockHandler struct {
	mu       sync.Mutex
	jobs     []Job
	failNext int
}

func (h *mockHandler) ExecuteNode(_ context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext > 0 {
		h.failNext--
		return errors.New("transient failure")
	}
	h.jobs = append(h.jobs, job)
	return nil
}

func (h *mockHandler) executed() []Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Job(nil), h.jobs...)
}

func TestPubSubQueue_EnqueueNowDispatches(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	handler := &mockHandler{}
	pool := NewWorkerPool(2)
	d := NewDispatcher(pubSub, pool, handler, discardLogger())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	q := NewPubSubQueue(pubSub, nil)
	job := Job{ExecutionID: "ex-1", OrgID: "org-1", NodeID: "start"}
	require.NoError(t, q.EnqueueNow(context.Background(), job))

	assert.Eventually(t, func() bool {
		jobs := handler.executed()
		return len(jobs) == 1 && jobs[0] == job
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_NackRedelivers(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	handler := &mockHandler{failNext: 1}
	pool := NewWorkerPool(2)
	d := NewDispatcher(pubSub, pool, handler, discardLogger())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	q := NewPubSubQueue(pubSub, nil)
	require.NoError(t, q.EnqueueNow(context.Background(), Job{ExecutionID: "ex-1", OrgID: "org-1", NodeID: "sms"}))

	// First delivery fails and is nacked; redelivery succeeds.
	assert.Eventually(t, func() bool {
		return len(handler.executed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_MalformedPayloadDiscarded(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	handler := &mockHandler{}
	pool := NewWorkerPool(2)
	d := NewDispatcher(pubSub, pool, handler, discardLogger())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	require.NoError(t, pubSub.Publish(TopicJobs, message.NewMessage(watermill.NewUUID(), []byte("not json"))))

	q := NewPubSubQueue(pubSub, nil)
	job := Job{ExecutionID: "ex-2", OrgID: "org-1", NodeID: "start"}
	require.NoError(t, q.EnqueueNow(context.Background(), job))

	assert.Eventually(t, func() bool {
		jobs := handler.executed()
		return len(jobs) == 1 && jobs[0] == job
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPubSubQueue_EnqueueAtPersists(t *testing.T) {
	ms := &mockJobStore{}
	q := NewPubSubQueue(nil, ms)

	at := time.Now().UTC().Add(time.Hour)
	job := Job{ExecutionID: "ex-1", OrgID: "org-1", NodeID: "wait"}
	require.NoError(t, q.EnqueueAt(context.Background(), job, at))

	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.Len(t, ms.jobs, 1)
	assert.Equal(t, "ex-1", ms.jobs[0].ExecutionID)
	assert.Equal(t, "wait", ms.jobs[0].NodeID)
	assert.Equal(t, at, ms.jobs[0].RunAt)
	assert.NotEmpty(t, ms.jobs[0].ID)
}

// brokenSubscriber rejects every subscribe attempt.
type brokenSubscriber struct{ err error }

func (s *brokenSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, s.err
}

func (s *brokenSubscriber) Close() error { return nil }

// A failed Start must leave the dispatcher stoppable and restartable, not
// half-started.
func TestDispatcher_FailedStartIsRestartable(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	d := NewDispatcher(&brokenSubscriber{err: errors.New("broker down")}, pool, &mockHandler{}, discardLogger())

	require.Error(t, d.Start(context.Background()))

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after failed Start")
	}

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down", "second Start retries the subscribe")
}
