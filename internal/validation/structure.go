package validation

import (
	"fmt"

	"github.com/dripline/dripline/pkg/schema"
)

// validateStructure is pass 1: exactly one START and one END node, and no
// duplicate node or edge IDs.
func validateStructure(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	var startCount, endCount int
	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		switch n.Type {
		case schema.NodeTypeStart:
			startCount++
		case schema.NodeTypeEnd:
			endCount++
		}
		if nodeIDs[n.ID] {
			result.AddNodeError(schema.VErrDuplicateNode, n.ID,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
	}

	switch {
	case startCount == 0:
		result.AddError(schema.VErrMissingStart, "workflow has no START node")
	case startCount > 1:
		result.AddError(schema.VErrMultipleStart,
			fmt.Sprintf("workflow has %d START nodes, expected exactly 1", startCount))
	}
	switch {
	case endCount == 0:
		result.AddError(schema.VErrMissingEnd, "workflow has no END node")
	case endCount > 1:
		result.AddError(schema.VErrMultipleEnd,
			fmt.Sprintf("workflow has %d END nodes, expected exactly 1", endCount))
	}

	edgeIDs := make(map[string]bool, len(def.Edges))
	for _, e := range def.Edges {
		if edgeIDs[e.ID] {
			result.AddEdgeError(schema.VErrDuplicateEdge, e.ID,
				fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edgeIDs[e.ID] = true
	}

	return result
}
