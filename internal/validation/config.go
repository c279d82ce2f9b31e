package validation

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/dripline/dripline/pkg/schema"
)

var knownNodeTypes = func() map[schema.NodeType]bool {
	m := make(map[schema.NodeType]bool, len(schema.KnownNodeTypes))
	for _, t := range schema.KnownNodeTypes {
		m[t] = true
	}
	return m
}()

var validDelayUnits = map[schema.DelayUnit]bool{
	schema.DelayUnitSeconds: true,
	schema.DelayUnitMinutes: true,
	schema.DelayUnitHours:   true,
	schema.DelayUnitDays:    true,
}

var validOperators = map[schema.ConditionOperator]bool{
	schema.OperatorEquals:      true,
	schema.OperatorNotEquals:   true,
	schema.OperatorContains:    true,
	schema.OperatorNotContains: true,
	schema.OperatorExists:      true,
	schema.OperatorNotExists:   true,
	schema.OperatorExpression:  true,
}

// validateConfigs is pass 2: type-specific required fields on every node's
// config block. Configs are fully validated here, at activation time, so
// dispatch can decode without re-checking.
func validateConfigs(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i := range def.Nodes {
		validateNodeConfig(&def.Nodes[i], result)
	}
	return result
}

func validateNodeConfig(n *schema.WorkflowNode, result *schema.ValidationResult) {
	if !knownNodeTypes[n.Type] {
		result.AddNodeError(schema.VErrUnknownNodeType, n.ID,
			fmt.Sprintf("unknown node type %q", n.Type))
		return
	}

	switch n.Type {
	case schema.NodeTypeStart, schema.NodeTypeEnd:
		// No config.

	case schema.NodeTypeSMSTemplate:
		var cfg schema.SMSTemplateConfig
		if !decodeConfig(n, &cfg, result) {
			return
		}
		if cfg.Body == "" {
			result.AddNodeError(schema.VErrNodeConfig, n.ID, "SMS_TEMPLATE node requires a non-empty body")
		}

	case schema.NodeTypeSMSAI:
		var cfg schema.SMSAIConfig
		if len(n.Config) > 0 {
			decodeConfig(n, &cfg, result)
		}
		// Prompt and hints are optional overrides; an empty config is valid.

	case schema.NodeTypeDelay:
		var cfg schema.DelayConfig
		if !decodeConfig(n, &cfg, result) {
			return
		}
		if cfg.Duration <= 0 {
			result.AddNodeError(schema.VErrNodeConfig, n.ID,
				fmt.Sprintf("DELAY node requires duration > 0, got %d", cfg.Duration))
		}
		if !validDelayUnits[cfg.Unit] {
			result.AddNodeError(schema.VErrNodeConfig, n.ID,
				fmt.Sprintf("DELAY node has unknown unit %q", cfg.Unit))
		}
		if bh := cfg.BusinessHours; bh != nil {
			validateBusinessHours(n.ID, bh, result)
		}

	case schema.NodeTypeCondition:
		var cfg schema.ConditionConfig
		if !decodeConfig(n, &cfg, result) {
			return
		}
		validateConditionConfig(n.ID, &cfg, result)
	}
}

func validateConditionConfig(nodeID string, cfg *schema.ConditionConfig, result *schema.ValidationResult) {
	if !validOperators[cfg.Operator] {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			fmt.Sprintf("CONDITION node has unknown operator %q", cfg.Operator))
		return
	}

	if cfg.Operator == schema.OperatorExpression {
		if cfg.Expression == "" {
			result.AddNodeError(schema.VErrNodeConfig, nodeID,
				"CONDITION node with expression operator requires a non-empty expression")
			return
		}
		// Compile now so a malformed expression blocks activation, not dispatch.
		if _, err := expr.Compile(cfg.Expression, expr.Env(map[string]any{"lead": map[string]any{}}), expr.AllowUndefinedVariables()); err != nil {
			result.AddNodeError(schema.VErrNodeConfig, nodeID,
				fmt.Sprintf("CONDITION expression does not compile: %s", err.Error()))
		}
		return
	}

	if cfg.Field == "" {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			"CONDITION node requires a non-empty field path")
	}

	switch cfg.Operator {
	case schema.OperatorExists, schema.OperatorNotExists:
		// No comparison value needed.
	default:
		if cfg.Value == "" {
			result.AddNodeError(schema.VErrNodeConfig, nodeID,
				fmt.Sprintf("CONDITION operator %q requires a comparison value", cfg.Operator))
		}
	}
}

func validateBusinessHours(nodeID string, bh *schema.BusinessHoursWindow, result *schema.ValidationResult) {
	if len(bh.Days) == 0 {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			"business hours window requires at least one day of week")
	}
	for _, d := range bh.Days {
		if d < 0 || d > 6 {
			result.AddNodeError(schema.VErrNodeConfig, nodeID,
				fmt.Sprintf("business hours day %d out of range 0-6", d))
		}
	}
	if !validClock(bh.Start) {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			fmt.Sprintf("business hours start %q is not a valid HH:MM time", bh.Start))
	}
	if !validClock(bh.End) {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			fmt.Sprintf("business hours end %q is not a valid HH:MM time", bh.End))
	}
	// Zero-padded HH:MM compares correctly as a string. Overnight windows
	// (start after end) are not supported.
	if validClock(bh.Start) && validClock(bh.End) && bh.Start >= bh.End {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			fmt.Sprintf("business hours window %s-%s is empty, start must be before end", bh.Start, bh.End))
	}
	if bh.Timezone == "" {
		result.AddNodeError(schema.VErrNodeConfig, nodeID,
			"business hours window requires a timezone")
	}
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	for _, c := range []byte{s[0], s[1], s[3], s[4]} {
		if c < '0' || c > '9' {
			return false
		}
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

// decodeConfig unmarshals a node config, reporting failures as issues.
// Returns false when the config is missing or malformed.
func decodeConfig(n *schema.WorkflowNode, v any, result *schema.ValidationResult) bool {
	if len(n.Config) == 0 {
		result.AddNodeError(schema.VErrNodeConfig, n.ID,
			fmt.Sprintf("%s node requires a config block", n.Type))
		return false
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		result.AddNodeError(schema.VErrNodeConfig, n.ID,
			fmt.Sprintf("%s node config is malformed: %s", n.Type, err.Error()))
		return false
	}
	return true
}
