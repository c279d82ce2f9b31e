package store

import (
	"context"
	"time"

	"github.com/dripline/dripline/internal/lead"
	"github.com/dripline/dripline/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, orgID, id string) (*schema.WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	SetDefinitionActive(ctx context.Context, orgID, id string, active bool) error
	ListDefinitions(ctx context.Context, orgID string) ([]*schema.WorkflowDefinition, error)

	// Executions (optimistic concurrency on Version)
	CreateExecution(ctx context.Context, ex *Execution) error
	GetExecution(ctx context.Context, orgID, id string) (*Execution, error)
	// UpdateExecutionCAS writes the update conditioned on "version still equals
	// expectedVersion" and increments the version. Zero matched rows is reported
	// as CONCURRENT_MODIFICATION; the caller must not retry.
	UpdateExecutionCAS(ctx context.Context, orgID, id string, expectedVersion int64, update ExecutionUpdate) error
	ListRunningByConversation(ctx context.Context, orgID, conversationID string) ([]*Execution, error)

	// Step log (append-only)
	AppendStep(ctx context.Context, step *StepRecord) error
	ListSteps(ctx context.Context, executionID string) ([]*StepRecord, error)

	// Delayed jobs
	CreateDelayedJob(ctx context.Context, job *DelayedJob) error
	ListDueDelayedJobs(ctx context.Context, now time.Time, limit int) ([]*DelayedJob, error)
	MarkDelayedJobFired(ctx context.Context, id string) error

	// Outbound messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessagesByExecution(ctx context.Context, executionID string) ([]*Message, error)

	// Leads
	UpsertLead(ctx context.Context, l *Lead) error
	GetLeadRecord(ctx context.Context, orgID, leadID string) (lead.Record, error)

	// Recurring triggers
	CreateTrigger(ctx context.Context, t *Trigger) error
	ListEnabledTriggers(ctx context.Context) ([]*Trigger, error)
	UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
