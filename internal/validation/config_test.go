package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/schema"
)

func configErrors(t *testing.T, n schema.WorkflowNode) *schema.ValidationResult {
	t.Helper()
	return validateConfigs(testDef([]schema.WorkflowNode{n}, nil))
}

func TestValidateConfigs_StartEndNeedNoConfig(t *testing.T) {
	result := validateConfigs(testDef(
		[]schema.WorkflowNode{
			node("start", schema.NodeTypeStart, ""),
			node("end", schema.NodeTypeEnd, ""),
		},
		nil,
	))
	assert.Empty(t, result.Errors)
}

func TestValidateConfigs_SMSTemplate(t *testing.T) {
	tests := []struct {
		name   string
		config string
		valid  bool
	}{
		{"valid body", `{"body":"Hi {{lead.first_name}}"}`, true},
		{"empty body", `{"body":""}`, false},
		{"missing config", "", false},
		{"malformed json", `{"body":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := configErrors(t, node("n", schema.NodeTypeSMSTemplate, tt.config))
			if tt.valid {
				assert.Empty(t, result.Errors)
			} else {
				assert.True(t, result.HasCode(schema.VErrNodeConfig))
			}
		})
	}
}

func TestValidateConfigs_SMSAIOptionalConfig(t *testing.T) {
	assert.Empty(t, configErrors(t, node("n", schema.NodeTypeSMSAI, "")).Errors)
	assert.Empty(t, configErrors(t, node("n", schema.NodeTypeSMSAI, `{"prompt":"warm tone"}`)).Errors)
}

func TestValidateConfigs_Delay(t *testing.T) {
	tests := []struct {
		name   string
		config string
		valid  bool
	}{
		{"valid minutes", `{"duration":5,"unit":"minutes"}`, true},
		{"valid days", `{"duration":2,"unit":"days"}`, true},
		{"zero duration", `{"duration":0,"unit":"hours"}`, false},
		{"negative duration", `{"duration":-3,"unit":"hours"}`, false},
		{"unknown unit", `{"duration":5,"unit":"fortnights"}`, false},
		{"missing config", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := configErrors(t, node("n", schema.NodeTypeDelay, tt.config))
			if tt.valid {
				assert.Empty(t, result.Errors)
			} else {
				assert.True(t, result.HasCode(schema.VErrNodeConfig))
			}
		})
	}
}

func TestValidateConfigs_DelayBusinessHours(t *testing.T) {
	valid := `{"duration":1,"unit":"days","business_hours":{"days":[1,2,3,4,5],"start":"09:00","end":"17:00","timezone":"America/New_York"}}`
	assert.Empty(t, configErrors(t, node("n", schema.NodeTypeDelay, valid)).Errors)

	tests := []struct {
		name   string
		config string
	}{
		{"no days", `{"duration":1,"unit":"days","business_hours":{"days":[],"start":"09:00","end":"17:00","timezone":"UTC"}}`},
		{"day out of range", `{"duration":1,"unit":"days","business_hours":{"days":[7],"start":"09:00","end":"17:00","timezone":"UTC"}}`},
		{"bad start clock", `{"duration":1,"unit":"days","business_hours":{"days":[1],"start":"9am","end":"17:00","timezone":"UTC"}}`},
		{"bad end clock", `{"duration":1,"unit":"days","business_hours":{"days":[1],"start":"09:00","end":"25:00","timezone":"UTC"}}`},
		{"missing timezone", `{"duration":1,"unit":"days","business_hours":{"days":[1],"start":"09:00","end":"17:00","timezone":""}}`},
		{"start equals end", `{"duration":1,"unit":"days","business_hours":{"days":[1],"start":"09:00","end":"09:00","timezone":"UTC"}}`},
		{"overnight window", `{"duration":1,"unit":"days","business_hours":{"days":[1],"start":"22:00","end":"06:00","timezone":"UTC"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := configErrors(t, node("n", schema.NodeTypeDelay, tt.config))
			assert.True(t, result.HasCode(schema.VErrNodeConfig))
		})
	}
}

func TestValidateConfigs_Condition(t *testing.T) {
	tests := []struct {
		name   string
		config string
		valid  bool
	}{
		{"equals with value", `{"field":"status","operator":"equals","value":"new"}`, true},
		{"exists needs no value", `{"field":"email","operator":"exists"}`, true},
		{"not_exists needs no value", `{"field":"email","operator":"not_exists"}`, true},
		{"equals without value", `{"field":"status","operator":"equals"}`, false},
		{"contains without field", `{"operator":"contains","value":"x"}`, false},
		{"unknown operator", `{"field":"status","operator":"matches","value":"x"}`, false},
		{"missing config", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := configErrors(t, node("n", schema.NodeTypeCondition, tt.config))
			if tt.valid {
				assert.Empty(t, result.Errors)
			} else {
				assert.True(t, result.HasCode(schema.VErrNodeConfig))
			}
		})
	}
}

func TestValidateConfigs_ConditionExpression(t *testing.T) {
	valid := `{"operator":"expression","expression":"lead.score > 50 && lead.status == \"new\""}`
	assert.Empty(t, configErrors(t, node("n", schema.NodeTypeCondition, valid)).Errors)

	empty := `{"operator":"expression"}`
	assert.True(t, configErrors(t, node("n", schema.NodeTypeCondition, empty)).HasCode(schema.VErrNodeConfig))

	malformed := `{"operator":"expression","expression":"lead.score >"}`
	result := configErrors(t, node("n", schema.NodeTypeCondition, malformed))
	require.True(t, result.HasCode(schema.VErrNodeConfig))
	assert.Contains(t, result.Errors[0].Message, "compile")
}

func TestValidateConfigs_UnknownNodeType(t *testing.T) {
	result := configErrors(t, node("n", schema.NodeType("WEBHOOK"), ""))
	assert.True(t, result.HasCode(schema.VErrUnknownNodeType))
}
