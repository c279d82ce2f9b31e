package schema

import "time"

// ExecutionStatus enumerates the lifecycle states of a workflow execution.
// All transitions out of "running" are terminal.
type ExecutionStatus string

const (
	ExecutionStatusRunning           ExecutionStatus = "running"
	ExecutionStatusCompleted         ExecutionStatus = "completed"
	ExecutionStatusFailed            ExecutionStatus = "failed"
	ExecutionStatusTerminatedEngaged ExecutionStatus = "terminated_engaged"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusRunning
}

// ValidExecutionTransitions defines the allowed state transitions for executions.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusRunning: {
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusTerminatedEngaged,
	},
	ExecutionStatusCompleted:         {},
	ExecutionStatusFailed:            {},
	ExecutionStatusTerminatedEngaged: {},
}

// CanTransition reports whether the from -> to execution transition is allowed.
func CanTransition(from, to ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// StepStatus enumerates the outcome of a single node dispatch.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
)

// EngagementEvent is fired by the conversation layer when a lead responds
// through any channel. Receipt halts automated outreach for the conversation.
type EngagementEvent struct {
	ConversationID string    `json:"conversation_id"`
	LeadID         string    `json:"lead_id"`
	OrgID          string    `json:"org_id"`
	Source         string    `json:"source"`
	EngagedAt      time.Time `json:"engaged_at"`
}
