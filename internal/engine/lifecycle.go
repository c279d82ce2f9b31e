package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dripline/dripline/internal/logging"
	"github.com/dripline/dripline/internal/queue"
	"github.com/dripline/dripline/internal/store"
	"github.com/dripline/dripline/pkg/schema"
)

// StartWorkflow creates a new execution of an active definition and enqueues
// its START node. Returns the execution ID.
func (e *Engine) StartWorkflow(ctx context.Context, orgID, definitionID, leadID, conversationID string) (string, error) {
	def, err := e.store.GetDefinition(ctx, orgID, definitionID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return "", schema.NewErrorf(schema.ErrCodeDefinitionNotFound,
				"workflow definition %q not found", definitionID).WithCause(err)
		}
		return "", err
	}
	if !def.IsActive {
		return "", schema.NewErrorf(schema.ErrCodeDefinitionNotActive,
			"workflow definition %q is not active", definitionID)
	}
	start := def.StartNode()
	if start == nil {
		return "", schema.NewErrorf(schema.ErrCodeDefinitionMissingStart,
			"workflow definition %q has no START node", definitionID)
	}

	now := e.now()
	ex := &store.Execution{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		DefinitionID:   definitionID,
		LeadID:         leadID,
		ConversationID: conversationID,
		Status:         schema.ExecutionStatusRunning,
		CurrentNodeID:  start.ID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return "", err
	}

	ctx = logging.WithIDs(ctx, ex.ID, start.ID, orgID)
	if err := e.queue.EnqueueNow(ctx, queue.Job{
		ExecutionID: ex.ID,
		OrgID:       orgID,
		NodeID:      start.ID,
	}); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "workflow execution started",
		slog.String("definition_id", definitionID),
		slog.String("lead_id", leadID),
	)
	return ex.ID, nil
}

// AdvanceWorkflow moves the execution from currentNodeID to the next node
// with a single compare-and-swap, then enqueues the next node. An empty
// nextNodeID completes the execution. If the execution has already reached a
// terminal state the advance is a silent no-op. The advance holds only while
// the execution still sits at currentNodeID: a writer carrying a stale
// position gets CONCURRENT_MODIFICATION, as does a CAS miss, and neither is
// retried.
func (e *Engine) AdvanceWorkflow(ctx context.Context, executionID, orgID, currentNodeID, nextNodeID, branch string) error {
	ex, err := e.store.GetExecution(ctx, orgID, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, executionID, currentNodeID, orgID)

	if ex.Status.Terminal() {
		e.logger.InfoContext(ctx, "skipping advance of terminal execution",
			slog.String("status", string(ex.Status)),
		)
		return nil
	}

	if ex.CurrentNodeID != currentNodeID {
		return schema.NewErrorf(schema.ErrCodeConcurrentModification,
			"execution %q is at node %q, not %q", executionID, ex.CurrentNodeID, currentNodeID)
	}

	if nextNodeID == "" {
		completed := schema.ExecutionStatusCompleted
		if err := e.store.UpdateExecutionCAS(ctx, orgID, executionID, ex.Version, store.ExecutionUpdate{
			Status:       &completed,
			BumpAttempts: true,
		}); err != nil {
			return err
		}
		e.logger.InfoContext(ctx, "workflow execution completed")
		return nil
	}

	if err := e.store.UpdateExecutionCAS(ctx, orgID, executionID, ex.Version, store.ExecutionUpdate{
		CurrentNodeID: &nextNodeID,
		BumpAttempts:  true,
	}); err != nil {
		return err
	}

	if err := e.queue.EnqueueNow(ctx, queue.Job{
		ExecutionID: executionID,
		OrgID:       orgID,
		NodeID:      nextNodeID,
	}); err != nil {
		return err
	}

	attrs := []any{slog.String("next_node_id", nextNodeID)}
	if branch != "" {
		attrs = append(attrs, slog.String("branch", branch))
	}
	e.logger.InfoContext(ctx, "workflow execution advanced", attrs...)
	return nil
}

// ResumeWorkflow re-enqueues a node after a delayed wait. Executions that
// reached a terminal state during the wait (engagement, failure) are left
// untouched.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID, orgID, nodeID string) error {
	ex, err := e.store.GetExecution(ctx, orgID, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, executionID, nodeID, orgID)

	if ex.Status.Terminal() {
		e.logger.InfoContext(ctx, "skipping resume of terminal execution",
			slog.String("status", string(ex.Status)),
		)
		return nil
	}

	if err := e.queue.EnqueueNow(ctx, queue.Job{
		ExecutionID: executionID,
		OrgID:       orgID,
		NodeID:      nodeID,
	}); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "workflow execution resumed")
	return nil
}

// HandleWorkflowFailure transitions the execution to failed, recording the
// cause. If another writer concluded the execution first the failure is
// dropped; the state that won is equally final.
func (e *Engine) HandleWorkflowFailure(ctx context.Context, executionID, orgID string, cause error) error {
	ex, err := e.store.GetExecution(ctx, orgID, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithIDs(ctx, executionID, ex.CurrentNodeID, orgID)

	if !schema.CanTransition(ex.Status, schema.ExecutionStatusFailed) {
		return nil
	}

	failed := schema.ExecutionStatusFailed
	msg := cause.Error()
	err = e.store.UpdateExecutionCAS(ctx, orgID, executionID, ex.Version, store.ExecutionUpdate{
		Status:       &failed,
		LastError:    &msg,
		BumpAttempts: true,
	})
	if schema.IsCode(err, schema.ErrCodeConcurrentModification) {
		e.logger.WarnContext(ctx, "lost failure race to concurrent writer",
			slog.String("cause", msg),
		)
		return nil
	}
	if err != nil {
		return err
	}

	e.logger.ErrorContext(ctx, "workflow execution failed", slog.String("cause", msg))
	return nil
}
