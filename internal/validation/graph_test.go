package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/schema"
)

func TestValidateConnectivity_UnreachableNode(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("island", schema.NodeTypeSMSAI, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		[]schema.WorkflowEdge{
			edge("e1", "start", "end"),
		},
	)
	result := validateConnectivity(def)
	require.True(t, result.HasCode(schema.VErrUnreachable))
	for _, issue := range result.Errors {
		assert.Equal(t, "island", issue.NodeID)
	}
}

func TestValidateConnectivity_NoPathToEnd(t *testing.T) {
	// END exists but nothing leads to it.
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeSMSAI, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		[]schema.WorkflowEdge{
			edge("e1", "start", "a"),
		},
	)
	result := validateConnectivity(def)
	assert.True(t, result.HasCode(schema.VErrNoPathToEnd))
	assert.True(t, result.HasCode(schema.VErrUnreachable))
}

func TestValidateConnectivity_NoStartSkips(t *testing.T) {
	// The structure pass owns the missing-START report.
	def := testDef(
		[]schema.WorkflowNode{node("end", schema.NodeTypeEnd, "")},
		nil,
	)
	result := validateConnectivity(def)
	assert.Empty(t, result.Errors)
}

func TestValidateAcyclicity_SimpleCycle(t *testing.T) {
	// a -> b -> c -> a
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeSMSAI, ""),
			node("b", schema.NodeTypeDelay, ""),
			node("c", schema.NodeTypeSMSAI, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		[]schema.WorkflowEdge{
			edge("e1", "start", "a"),
			edge("e2", "a", "b"),
			edge("e3", "b", "c"),
			edge("e4", "c", "a"),
		},
	)
	result := validateAcyclicity(def)
	assert.True(t, result.HasCode(schema.VErrCycle))
}

func TestValidateAcyclicity_SelfLoop(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("a", schema.NodeTypeSMSAI, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		[]schema.WorkflowEdge{
			edge("e1", "start", "a"),
			edge("e2", "a", "a"),
		},
	)
	result := validateAcyclicity(def)
	assert.True(t, result.HasCode(schema.VErrCycle))
}

func TestValidateAcyclicity_ConvergingBranchesNotCycle(t *testing.T) {
	// Two branches joining at END is a diamond, not a cycle.
	result := validateAcyclicity(validBranchingDef())
	assert.Empty(t, result.Errors)
}

func TestValidateAcyclicity_LinearClean(t *testing.T) {
	result := validateAcyclicity(validLinearDef())
	assert.Empty(t, result.Errors)
}
