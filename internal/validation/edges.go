package validation

import (
	"fmt"

	"github.com/dripline/dripline/pkg/schema"
)

// validateEdges is pass 3: edge endpoints must name existing nodes, and each
// node type must satisfy its outgoing-edge cardinality and labeling rules.
func validateEdges(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	outgoing := make(map[string][]schema.WorkflowEdge, len(def.Nodes))
	for _, e := range def.Edges {
		if !nodeIDs[e.Source] {
			result.AddEdgeError(schema.VErrEdgeSource, e.ID,
				fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddEdgeError(schema.VErrEdgeTarget, e.ID,
				fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	for _, n := range def.Nodes {
		edges := outgoing[n.ID]
		switch n.Type {
		case schema.NodeTypeEnd:
			if len(edges) != 0 {
				result.AddNodeError(schema.VErrEdgeCount, n.ID,
					fmt.Sprintf("END node must have no outgoing edges, found %d", len(edges)))
			}

		case schema.NodeTypeCondition:
			if len(edges) != 2 {
				result.AddNodeError(schema.VErrEdgeCount, n.ID,
					fmt.Sprintf("CONDITION node must have exactly 2 outgoing edges, found %d", len(edges)))
				continue
			}
			labels := map[string]bool{}
			for _, e := range edges {
				labels[e.Label] = true
			}
			if !labels[schema.EdgeLabelTrue] || !labels[schema.EdgeLabelFalse] {
				result.AddNodeError(schema.VErrEdgeLabel, n.ID,
					`CONDITION node edges must be labeled "true" and "false"`)
			}

		default: // START, SMS_TEMPLATE, SMS_AI, DELAY
			if len(edges) != 1 {
				result.AddNodeError(schema.VErrEdgeCount, n.ID,
					fmt.Sprintf("%s node must have exactly 1 outgoing edge, found %d", n.Type, len(edges)))
				continue
			}
			if edges[0].Label != "" {
				result.AddEdgeError(schema.VErrEdgeLabel, edges[0].ID,
					fmt.Sprintf("edge from non-branching %s node must carry no label", n.Type))
			}
		}
	}

	return result
}
