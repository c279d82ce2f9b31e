// Package validation verifies the structural correctness of a workflow
// definition before it may be activated. The pipeline is a JSON Schema check
// of the document shape followed by five independent graph passes:
//
//  1. Structure: exactly one START/END, unique node and edge IDs.
//  2. Per-node config: type-specific required fields.
//  3. Edge endpoints and per-type outgoing cardinality/labels.
//  4. Connectivity: BFS from START, no orphans, END reachable.
//  5. Acyclicity: DFS with a recursion stack.
//
// Every pass runs and all errors accumulate; validation never short-circuits
// on the first problem so the editor can surface everything at once.
package validation

import "github.com/dripline/dripline/pkg/schema"

// ValidateDefinition runs the full pipeline and returns an aggregated result.
func ValidateDefinition(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError(schema.VErrSchema, "workflow definition is nil")
		return r
	}

	result := validateDocument(def)
	result.Merge(validateStructure(def))
	result.Merge(validateConfigs(def))
	result.Merge(validateEdges(def))
	result.Merge(validateConnectivity(def))
	result.Merge(validateAcyclicity(def))
	return result
}
