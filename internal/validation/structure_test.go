package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/schema"
)

func TestValidateStructure_MissingStart(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{node("end", schema.NodeTypeEnd, "")},
		nil,
	)
	result := validateStructure(def)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.VErrMissingStart, result.Errors[0].Code)
}

func TestValidateStructure_MissingEnd(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{node("start", schema.NodeTypeStart, "")},
		nil,
	)
	result := validateStructure(def)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.VErrMissingEnd, result.Errors[0].Code)
}

func TestValidateStructure_MultipleStart(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{
			node("s1", schema.NodeTypeStart, ""),
			node("s2", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		nil,
	)
	result := validateStructure(def)
	assert.True(t, result.HasCode(schema.VErrMultipleStart))
	assert.False(t, result.HasCode(schema.VErrMissingStart))
}

func TestValidateStructure_MultipleEnd(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("e1", schema.NodeTypeEnd, ""),
			node("e2", schema.NodeTypeEnd, ""),
		},
		nil,
	)
	result := validateStructure(def)
	assert.True(t, result.HasCode(schema.VErrMultipleEnd))
}

func TestValidateStructure_DuplicateNodeID(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("dup", schema.NodeTypeSMSAI, ""),
			node("dup", schema.NodeTypeDelay, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		nil,
	)
	result := validateStructure(def)
	require.True(t, result.HasCode(schema.VErrDuplicateNode))
	for _, issue := range result.Errors {
		if issue.Code == schema.VErrDuplicateNode {
			assert.Equal(t, "dup", issue.NodeID)
		}
	}
}

func TestValidateStructure_DuplicateEdgeID(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		[]schema.WorkflowEdge{
			edge("e1", "start", "end"),
			edge("e1", "start", "end"),
		},
	)
	result := validateStructure(def)
	assert.True(t, result.HasCode(schema.VErrDuplicateEdge))
}

func TestValidateStructure_BothMissingAccumulate(t *testing.T) {
	def := testDef(
		[]schema.WorkflowNode{node("sms", schema.NodeTypeSMSAI, "")},
		nil,
	)
	result := validateStructure(def)
	assert.True(t, result.HasCode(schema.VErrMissingStart))
	assert.True(t, result.HasCode(schema.VErrMissingEnd))
	assert.Len(t, result.Errors, 2)
}
