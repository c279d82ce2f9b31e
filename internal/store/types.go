package store

import (
	"time"

	"github.com/dripline/dripline/pkg/schema"
)

// Execution is one running instance of a workflow definition for one
// lead/conversation. Every mutation is a compare-and-swap on Version.
type Execution struct {
	ID             string                 `json:"id"`
	OrgID          string                 `json:"org_id"`
	DefinitionID   string                 `json:"workflow_definition_id"`
	LeadID         string                 `json:"lead_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Status         schema.ExecutionStatus `json:"status"`
	CurrentNodeID  string                 `json:"current_node_id"`
	ResumeAt       *time.Time             `json:"resume_at,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
	Attempts       int                    `json:"attempts"`
	Version        int64                  `json:"version"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// ExecutionUpdate specifies the fields written by a compare-and-swap update.
// Version is always incremented by the store on a successful CAS.
type ExecutionUpdate struct {
	Status        *schema.ExecutionStatus `json:"status,omitempty"`
	CurrentNodeID *string                 `json:"current_node_id,omitempty"`
	ResumeAt      *time.Time              `json:"resume_at,omitempty"`
	LastError     *string                 `json:"last_error,omitempty"`
	BumpAttempts  bool                    `json:"bump_attempts,omitempty"`
}

// StepRecord is one append-only audit entry per node dispatch, including
// no-op early aborts. Never updated after insert.
type StepRecord struct {
	ID          int64             `json:"id"`
	ExecutionID string            `json:"workflow_execution_id"`
	OrgID       string            `json:"org_id"`
	NodeID      string            `json:"node_id"`
	NodeType    schema.NodeType   `json:"node_type"`
	Status      schema.StepStatus `json:"status"`
	Branch      string            `json:"branch,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DelayedJob is a persisted "run this node at time T" entry. The poller
// fires due jobs through the engine's resume path, which re-checks that the
// execution is still running.
type DelayedJob struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	OrgID       string     `json:"org_id"`
	NodeID      string     `json:"node_id"`
	RunAt       time.Time  `json:"run_at"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Message is an outbound message record created by SMS_TEMPLATE and SMS_AI
// nodes. Delivery is the transport provider's concern.
type Message struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	LeadID         string    `json:"lead_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ExecutionID    string    `json:"execution_id"`
	NodeID         string    `json:"node_id"`
	Body           string    `json:"body"`
	Source         string    `json:"source"` // template | ai
	Tier           string    `json:"tier,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Lead is the persisted flattened lead document.
type Lead struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Trigger is a cron-scheduled recurring workflow start (re-engagement
// campaigns and similar cadences).
type Trigger struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	DefinitionID   string     `json:"definition_id"`
	LeadID         string     `json:"lead_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TriggerUpdate specifies mutable fields of a trigger.
type TriggerUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}
