package schema

import "fmt"

// Validation issue codes emitted by the definition validator.
const (
	VErrMissingStart    = "MISSING_START_NODE"
	VErrMissingEnd      = "MISSING_END_NODE"
	VErrMultipleStart   = "MULTIPLE_START_NODES"
	VErrMultipleEnd     = "MULTIPLE_END_NODES"
	VErrDuplicateNode   = "DUPLICATE_NODE_ID"
	VErrDuplicateEdge   = "DUPLICATE_EDGE_ID"
	VErrUnknownNodeType = "UNKNOWN_NODE_TYPE"
	VErrNodeConfig      = "INVALID_NODE_CONFIG"
	VErrEdgeSource      = "UNKNOWN_EDGE_SOURCE"
	VErrEdgeTarget      = "UNKNOWN_EDGE_TARGET"
	VErrEdgeCount       = "INVALID_EDGE_COUNT"
	VErrEdgeLabel       = "INVALID_EDGE_LABEL"
	VErrUnreachable     = "UNREACHABLE_NODE"
	VErrNoPathToEnd     = "NO_PATH_TO_END"
	VErrCycle           = "CYCLE_DETECTED"
	VErrSchema          = "SCHEMA_VIOLATION"
)

// ValidationIssue is a single validation problem with graph location context.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
}

// ValidationResult aggregates all issues found across every validation pass.
type ValidationResult struct {
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// IsValid returns true if no pass reported an error.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError appends an issue.
func (r *ValidationResult) AddError(code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Message: message})
}

// AddNodeError appends an issue attributed to a node.
func (r *ValidationResult) AddNodeError(code, nodeID, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Message: message, NodeID: nodeID})
}

// AddEdgeError appends an issue attributed to an edge.
func (r *ValidationResult) AddEdgeError(code, edgeID, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Message: message, EdgeID: edgeID})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
}

// HasCode reports whether any issue carries the given code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// ToError converts the result to a structured Error if invalid, nil if valid.
// A graph cycle gets its own code so callers can tell an unorderable graph
// apart from field-level problems.
func (r *ValidationResult) ToError() error {
	if r.IsValid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	code := ErrCodeValidation
	if r.HasCode(VErrCycle) {
		code = ErrCodeCycleDetected
	}

	return NewError(code, msg).
		WithDetails(map[string]any{
			"error_count": len(r.Errors),
			"errors":      r.Errors,
		})
}
