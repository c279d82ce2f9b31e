package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/store"
	"github.com/dripline/dripline/pkg/schema"
)

// mockStore implements the execution methods the listener touches; the
// embedded interface panics on anything else, which would flag an unexpected
// call.
type mockStore struct {
	store.Store
	mu         sync.Mutex
	executions map[string]*store.Execution
	listErr    error
	casErrs    map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{
		executions: make(map[string]*store.Execution),
		casErrs:    make(map[string]error),
	}
}

func (m *mockStore) add(ex *store.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[ex.ID] = ex
}

func (m *mockStore) get(id string) *store.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.executions[id]
	return &cp
}

func (m *mockStore) ListRunningByConversation(_ context.Context, orgID, conversationID string) ([]*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*store.Execution
	for _, ex := range m.executions {
		if ex.OrgID == orgID && ex.ConversationID == conversationID && ex.Status == schema.ExecutionStatusRunning {
			cp := *ex
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) UpdateExecutionCAS(_ context.Context, orgID, id string, expectedVersion int64, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.casErrs[id]; err != nil {
		return err
	}
	ex, ok := m.executions[id]
	if !ok || ex.OrgID != orgID {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	if ex.Version != expectedVersion {
		return schema.NewErrorf(schema.ErrCodeConcurrentModification,
			"execution %q version changed", id)
	}
	if update.Status != nil {
		ex.Status = *update.Status
	}
	ex.Version++
	return nil
}

func running(id, conversationID string, version int64) *store.Execution {
	return &store.Execution{
		ID:             id,
		OrgID:          "org-1",
		ConversationID: conversationID,
		Status:         schema.ExecutionStatusRunning,
		Version:        version,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(conversationID string) *schema.EngagementEvent {
	return &schema.EngagementEvent{
		ConversationID: conversationID,
		LeadID:         "lead-1",
		OrgID:          "org-1",
		Source:         "sms",
		EngagedAt:      time.Now().UTC(),
	}
}

func TestHandleEvent_TerminatesAllRunning(t *testing.T) {
	ms := newMockStore()
	ms.add(running("ex-1", "conv-1", 1))
	ms.add(running("ex-2", "conv-1", 4))
	ms.add(running("ex-other", "conv-2", 1))

	l := NewListener(nil, ms, testLogger())
	l.HandleEvent(context.Background(), testEvent("conv-1"))

	assert.Equal(t, schema.ExecutionStatusTerminatedEngaged, ms.get("ex-1").Status)
	assert.Equal(t, schema.ExecutionStatusTerminatedEngaged, ms.get("ex-2").Status)
	assert.Equal(t, schema.ExecutionStatusRunning, ms.get("ex-other").Status,
		"other conversations untouched")
}

func TestHandleEvent_CASMissSkipped(t *testing.T) {
	ms := newMockStore()
	ms.add(running("ex-1", "conv-1", 1))
	ms.add(running("ex-2", "conv-1", 1))
	ms.casErrs["ex-1"] = schema.NewError(schema.ErrCodeConcurrentModification, "version changed")

	l := NewListener(nil, ms, testLogger())
	l.HandleEvent(context.Background(), testEvent("conv-1"))

	// The miss on ex-1 does not stop ex-2 from being terminated.
	assert.Equal(t, schema.ExecutionStatusRunning, ms.get("ex-1").Status)
	assert.Equal(t, schema.ExecutionStatusTerminatedEngaged, ms.get("ex-2").Status)
}

func TestHandleEvent_StoreErrorIsolated(t *testing.T) {
	ms := newMockStore()
	ms.add(running("ex-1", "conv-1", 1))
	ms.add(running("ex-2", "conv-1", 1))
	ms.casErrs["ex-1"] = errors.New("disk on fire")

	l := NewListener(nil, ms, testLogger())
	l.HandleEvent(context.Background(), testEvent("conv-1"))

	assert.Equal(t, schema.ExecutionStatusTerminatedEngaged, ms.get("ex-2").Status)
}

func TestHandleEvent_NoRunningExecutions(t *testing.T) {
	ms := newMockStore()
	l := NewListener(nil, ms, testLogger())
	l.HandleEvent(context.Background(), testEvent("conv-1")) // no panic, no effect
}

func TestListener_EndToEnd(t *testing.T) {
	ms := newMockStore()
	ms.add(running("ex-1", "conv-1", 1))

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	l := NewListener(pubSub, ms, testLogger())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	payload, err := json.Marshal(testEvent("conv-1"))
	require.NoError(t, err)
	require.NoError(t, pubSub.Publish(TopicEvents, message.NewMessage(watermill.NewUUID(), payload)))

	assert.Eventually(t, func() bool {
		return ms.get("ex-1").Status == schema.ExecutionStatusTerminatedEngaged
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListener_MalformedEventDiscarded(t *testing.T) {
	ms := newMockStore()
	ms.add(running("ex-1", "conv-1", 1))

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	l := NewListener(pubSub, ms, testLogger())
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.NoError(t, pubSub.Publish(TopicEvents, message.NewMessage(watermill.NewUUID(), []byte("not json"))))

	payload, err := json.Marshal(testEvent("conv-1"))
	require.NoError(t, err)
	require.NoError(t, pubSub.Publish(TopicEvents, message.NewMessage(watermill.NewUUID(), payload)))

	// The malformed event is dropped and the stream keeps flowing.
	assert.Eventually(t, func() bool {
		return ms.get("ex-1").Status == schema.ExecutionStatusTerminatedEngaged
	}, 2*time.Second, 10*time.Millisecond)
}

// failingSubscriber rejects every subscribe attempt.
type failingSubscriber struct{ err error }

func (s *failingSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, s.err
}

func (s *failingSubscriber) Close() error { return nil }

// A failed Start must leave the listener stoppable and restartable, not
// half-started.
func TestListener_FailedStartIsRestartable(t *testing.T) {
	l := NewListener(&failingSubscriber{err: errors.New("bus down")}, newMockStore(), testLogger())

	require.Error(t, l.Start(context.Background()))

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after failed Start")
	}

	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus down", "second Start retries the subscribe")
}
