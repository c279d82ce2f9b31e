package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/internal/generation"
	"github.com/dripline/dripline/internal/logging"
	"github.com/dripline/dripline/internal/queue"
	"github.com/dripline/dripline/internal/store"
	"github.com/dripline/dripline/pkg/schema"
)

// nodeResult is the outcome of one node handler. Next is the node to advance
// to ("" completes the execution); ResumeAt, when set, schedules Next through
// the delayed queue instead of advancing immediately.
type nodeResult struct {
	Next     string
	Branch   string
	ResumeAt *time.Time
}

// ExecuteNode runs one node of one execution. It is the queue handler and is
// safe against redelivery: terminal executions no-op with a success step, and
// every dispatch concludes in exactly one compare-and-swap (advance, delay
// schedule, completion or failure).
func (e *Engine) ExecuteNode(ctx context.Context, job queue.Job) error {
	ex, err := e.store.GetExecution(ctx, job.OrgID, job.ExecutionID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			// The execution row is gone; redelivering cannot help.
			e.logger.ErrorContext(ctx, "dropping job for missing execution",
				slog.String("execution_id", job.ExecutionID),
				slog.String("node_id", job.NodeID),
			)
			return nil
		}
		return err
	}
	ctx = logging.WithIDs(ctx, ex.ID, job.NodeID, ex.OrgID)

	if ex.Status.Terminal() {
		e.logger.InfoContext(ctx, "skipping node for terminal execution",
			slog.String("status", string(ex.Status)),
		)
		e.appendStep(ctx, ex, job.NodeID, "", schema.StepStatusSuccess, "", nil)
		return nil
	}

	if ex.Attempts >= e.maxAttempts {
		err := schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"execution exceeded %d attempts", e.maxAttempts)
		e.appendStep(ctx, ex, job.NodeID, "", schema.StepStatusError, "", err)
		return e.HandleWorkflowFailure(ctx, ex.ID, ex.OrgID, err)
	}

	def, err := e.store.GetDefinition(ctx, ex.OrgID, ex.DefinitionID)
	if err != nil {
		e.appendStep(ctx, ex, job.NodeID, "", schema.StepStatusError, "", err)
		return e.HandleWorkflowFailure(ctx, ex.ID, ex.OrgID, err)
	}

	node := def.Node(job.NodeID)
	if node == nil {
		err := schema.NewErrorf(schema.ErrCodeNodeNotFound,
			"node %q not found in definition %q", job.NodeID, def.ID).WithNode(job.NodeID)
		e.appendStep(ctx, ex, job.NodeID, "", schema.StepStatusError, "", err)
		if ferr := e.HandleWorkflowFailure(ctx, ex.ID, ex.OrgID, err); ferr != nil {
			return ferr
		}
		return err
	}

	res, err := e.runNode(ctx, ex, def, node)
	if err != nil {
		e.appendStep(ctx, ex, node.ID, string(node.Type), schema.StepStatusError, "", err)
		if ferr := e.HandleWorkflowFailure(ctx, ex.ID, ex.OrgID, err); ferr != nil {
			return ferr
		}
		return err
	}

	e.appendStep(ctx, ex, node.ID, string(node.Type), schema.StepStatusSuccess, res.Branch, nil)

	if res.ResumeAt != nil {
		err = e.scheduleDelay(ctx, ex, node.ID, res)
	} else {
		err = e.AdvanceWorkflow(ctx, ex.ID, ex.OrgID, node.ID, res.Next, res.Branch)
	}
	if schema.IsCode(err, schema.ErrCodeConcurrentModification) {
		// Another writer concluded first (engagement, failure, or a duplicate
		// delivery of this job). The race is settled; redelivering would only
		// re-run the node's side effects.
		e.logger.WarnContext(ctx, "dropping job after losing conclude race",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return err
}

func (e *Engine) runNode(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, node *schema.WorkflowNode) (nodeResult, error) {
	switch node.Type {
	case schema.NodeTypeStart:
		return e.execPassthrough(def, node)
	case schema.NodeTypeEnd:
		return nodeResult{}, nil
	case schema.NodeTypeSMSTemplate:
		return e.execSMSTemplate(ctx, ex, def, node)
	case schema.NodeTypeSMSAI:
		return e.execSMSAI(ctx, ex, def, node)
	case schema.NodeTypeDelay:
		return e.execDelay(ctx, def, node)
	case schema.NodeTypeCondition:
		return e.execCondition(ctx, ex, def, node)
	default:
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"no executor for node type %q", node.Type).WithNode(node.ID)
	}
}

// execPassthrough handles nodes with no side effect and a single outgoing
// edge (START).
func (e *Engine) execPassthrough(def *schema.WorkflowDefinition, node *schema.WorkflowNode) (nodeResult, error) {
	next, err := singleTarget(def, node)
	if err != nil {
		return nodeResult{}, err
	}
	return nodeResult{Next: next}, nil
}

func (e *Engine) execSMSTemplate(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, node *schema.WorkflowNode) (nodeResult, error) {
	var cfg schema.SMSTemplateConfig
	if err := decodeNodeConfig(node, &cfg); err != nil {
		return nodeResult{}, err
	}
	next, err := singleTarget(def, node)
	if err != nil {
		return nodeResult{}, err
	}

	rec, err := e.store.GetLeadRecord(ctx, ex.OrgID, ex.LeadID)
	if err != nil {
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"load lead %q: %s", ex.LeadID, err.Error()).WithNode(node.ID).WithCause(err)
	}

	body := ResolveTemplate(cfg.Body, rec)
	if err := e.store.CreateMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		OrgID:          ex.OrgID,
		LeadID:         ex.LeadID,
		ConversationID: ex.ConversationID,
		ExecutionID:    ex.ID,
		NodeID:         node.ID,
		Body:           body,
		Source:         "template",
		CreatedAt:      e.now(),
	}); err != nil {
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"record template message: %s", err.Error()).WithNode(node.ID).WithCause(err)
	}

	e.logger.InfoContext(ctx, "template message recorded", slog.Int("length", len(body)))
	return nodeResult{Next: next}, nil
}

// execSMSAI asks the generation service for text. Generation failure is
// absorbed: the node succeeds with no message and the workflow moves on, so a
// flaky generation backend cannot fail executions.
func (e *Engine) execSMSAI(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, node *schema.WorkflowNode) (nodeResult, error) {
	var cfg schema.SMSAIConfig
	if len(node.Config) > 0 {
		if err := decodeNodeConfig(node, &cfg); err != nil {
			return nodeResult{}, err
		}
	}
	next, err := singleTarget(def, node)
	if err != nil {
		return nodeResult{}, err
	}

	result, err := e.generator.Generate(ctx, generation.Request{
		OrgID:          ex.OrgID,
		LeadID:         ex.LeadID,
		ConversationID: ex.ConversationID,
		DefinitionID:   ex.DefinitionID,
		NodeID:         node.ID,
		Prompt:         cfg.Prompt,
		Hints:          cfg.Hints,
	})
	if err != nil || !result.Success {
		attrs := []any{}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		} else {
			attrs = append(attrs, slog.String("tier", result.Tier))
		}
		e.logger.WarnContext(ctx, "ai generation unavailable, continuing without message", attrs...)
		return nodeResult{Next: next}, nil
	}

	if err := e.store.CreateMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		OrgID:          ex.OrgID,
		LeadID:         ex.LeadID,
		ConversationID: ex.ConversationID,
		ExecutionID:    ex.ID,
		NodeID:         node.ID,
		Body:           result.Text,
		Source:         "ai",
		Tier:           result.Tier,
		CreatedAt:      e.now(),
	}); err != nil {
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"record ai message: %s", err.Error()).WithNode(node.ID).WithCause(err)
	}

	e.logger.InfoContext(ctx, "ai message recorded", slog.String("tier", result.Tier))
	return nodeResult{Next: next}, nil
}

func (e *Engine) execDelay(ctx context.Context, def *schema.WorkflowDefinition, node *schema.WorkflowNode) (nodeResult, error) {
	var cfg schema.DelayConfig
	if err := decodeNodeConfig(node, &cfg); err != nil {
		return nodeResult{}, err
	}
	next, err := singleTarget(def, node)
	if err != nil {
		return nodeResult{}, err
	}

	resumeAt, err := computeResumeAt(e.now(), &cfg)
	if err != nil {
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"compute resume time: %s", err.Error()).WithNode(node.ID).WithCause(err)
	}
	return nodeResult{Next: next, ResumeAt: &resumeAt}, nil
}

func (e *Engine) execCondition(ctx context.Context, ex *store.Execution, def *schema.WorkflowDefinition, node *schema.WorkflowNode) (nodeResult, error) {
	var cfg schema.ConditionConfig
	if err := decodeNodeConfig(node, &cfg); err != nil {
		return nodeResult{}, err
	}

	rec, err := e.store.GetLeadRecord(ctx, ex.OrgID, ex.LeadID)
	if err != nil {
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"load lead %q: %s", ex.LeadID, err.Error()).WithNode(node.ID).WithCause(err)
	}

	outcome, err := e.conditions.Evaluate(&cfg, rec)
	if err != nil {
		return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"evaluate condition: %s", err.Error()).WithNode(node.ID).WithCause(err)
	}

	branch := schema.EdgeLabelFalse
	if outcome {
		branch = schema.EdgeLabelTrue
	}
	for _, edge := range def.OutgoingEdges(node.ID) {
		if edge.Label == branch {
			e.logger.InfoContext(ctx, "condition evaluated", slog.String("branch", branch))
			return nodeResult{Next: edge.Target, Branch: branch}, nil
		}
	}
	return nodeResult{}, schema.NewErrorf(schema.ErrCodeNodeExecutor,
		"no outgoing edge labeled %q", branch).WithNode(node.ID)
}

// scheduleDelay parks the execution on the scheduled node with its resume
// time, then persists the delayed job. The CAS keeps the delay visible to
// readers, hands the position to the node the resume will dispatch, and bumps
// the version so a concurrent terminator and this writer settle on one winner.
func (e *Engine) scheduleDelay(ctx context.Context, ex *store.Execution, nodeID string, res nodeResult) error {
	if err := e.store.UpdateExecutionCAS(ctx, ex.OrgID, ex.ID, ex.Version, store.ExecutionUpdate{
		CurrentNodeID: &res.Next,
		ResumeAt:      res.ResumeAt,
		BumpAttempts:  true,
	}); err != nil {
		return err
	}

	if err := e.queue.EnqueueAt(ctx, queue.Job{
		ExecutionID: ex.ID,
		OrgID:       ex.OrgID,
		NodeID:      res.Next,
	}, *res.ResumeAt); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "workflow execution delayed",
		slog.String("next_node_id", res.Next),
		slog.Time("resume_at", *res.ResumeAt),
	)
	return nil
}

// appendStep writes one audit entry. Step logging never fails a dispatch; a
// write error is logged and dropped.
func (e *Engine) appendStep(ctx context.Context, ex *store.Execution, nodeID, nodeType string, status schema.StepStatus, branch string, stepErr error) {
	step := &store.StepRecord{
		ExecutionID: ex.ID,
		OrgID:       ex.OrgID,
		NodeID:      nodeID,
		NodeType:    schema.NodeType(nodeType),
		Status:      status,
		Branch:      branch,
		CreatedAt:   e.now(),
	}
	if stepErr != nil {
		step.Error = stepErr.Error()
	}
	if err := e.store.AppendStep(ctx, step); err != nil {
		e.logger.ErrorContext(ctx, "failed to append step record",
			slog.String("error", err.Error()),
		)
	}
}

// singleTarget returns the target of the node's single outgoing edge.
// Validation guarantees exactly one for non-branching, non-END types; a
// mismatch here means the definition drifted after activation.
func singleTarget(def *schema.WorkflowDefinition, node *schema.WorkflowNode) (string, error) {
	edges := def.OutgoingEdges(node.ID)
	if len(edges) != 1 {
		return "", schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"node %q (%s) has %d outgoing edges, want 1", node.ID, node.Type, len(edges)).WithNode(node.ID)
	}
	return edges[0].Target, nil
}

func decodeNodeConfig(node *schema.WorkflowNode, v any) error {
	cfg, err := node.DecodeConfig()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeNodeExecutor,
			"decode %s config: %s", node.Type, err.Error()).WithNode(node.ID).WithCause(err)
	}
	switch dst := v.(type) {
	case *schema.SMSTemplateConfig:
		*dst = *cfg.(*schema.SMSTemplateConfig)
	case *schema.SMSAIConfig:
		*dst = *cfg.(*schema.SMSAIConfig)
	case *schema.DelayConfig:
		*dst = *cfg.(*schema.DelayConfig)
	case *schema.ConditionConfig:
		*dst = *cfg.(*schema.ConditionConfig)
	}
	return nil
}
