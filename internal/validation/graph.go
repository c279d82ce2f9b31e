package validation

import (
	"fmt"

	"github.com/dripline/dripline/pkg/schema"
)

// validateConnectivity is pass 4: breadth-first traversal from START. Every
// node must be visited (no orphans) and END must be among the visited set,
// which also proves a START-to-END path exists.
func validateConnectivity(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	start := def.StartNode()
	if start == nil {
		// Reported by the structure pass; traversal has no root.
		return result
	}

	adjacency := buildAdjacency(def)

	visited := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	hasEnd, endReached := false, false
	for _, n := range def.Nodes {
		if n.Type == schema.NodeTypeEnd {
			hasEnd = true
			if visited[n.ID] {
				endReached = true
			}
		}
		if !visited[n.ID] {
			result.AddNodeError(schema.VErrUnreachable, n.ID,
				fmt.Sprintf("node %q is not reachable from the START node", n.ID))
		}
	}
	if hasEnd && !endReached {
		result.AddError(schema.VErrNoPathToEnd, "no path exists from START to END")
	}

	return result
}

// validateAcyclicity is pass 5: depth-first traversal tracking a recursion
// stack; a back-edge into the stack signals a cycle.
func validateAcyclicity(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	adjacency := buildAdjacency(def)

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(def.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				return true // back-edge
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, n := range def.Nodes {
		if state[n.ID] == unvisited && visit(n.ID) {
			result.AddError(schema.VErrCycle, "workflow graph contains a cycle")
			return result
		}
	}

	return result
}

// buildAdjacency maps each node ID to the targets of its outgoing edges.
// Edges with endpoints outside the node set are skipped; the edge pass
// reports those.
func buildAdjacency(def *schema.WorkflowDefinition) map[string][]string {
	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	adjacency := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		if nodeIDs[e.Source] && nodeIDs[e.Target] {
			adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		}
	}
	return adjacency
}
