package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/schema"
)

func TestValidateDocument_ValidDefinition(t *testing.T) {
	result := validateDocument(validLinearDef())
	assert.Empty(t, result.Errors)
}

func TestValidateDocument_MissingIdentity(t *testing.T) {
	def := validLinearDef()
	def.ID = ""
	def.Name = ""
	result := validateDocument(def)
	require.True(t, result.HasCode(schema.VErrSchema))
}

func TestValidateDocument_UnknownNodeType(t *testing.T) {
	def := validLinearDef()
	def.Nodes[1].Type = schema.NodeType("WEBHOOK")
	result := validateDocument(def)
	assert.True(t, result.HasCode(schema.VErrSchema))
}

func TestValidateDocument_BadEdgeLabel(t *testing.T) {
	def := validLinearDef()
	def.Edges[0].Label = "maybe"
	result := validateDocument(def)
	assert.True(t, result.HasCode(schema.VErrSchema))
}

func TestValidateDocument_EmptyNodes(t *testing.T) {
	def := testDef([]schema.WorkflowNode{}, []schema.WorkflowEdge{})
	result := validateDocument(def)
	assert.True(t, result.HasCode(schema.VErrSchema))
}
