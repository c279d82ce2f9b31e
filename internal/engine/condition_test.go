package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/lead"
	"github.com/dripline/dripline/pkg/schema"
)

func TestConditionEvaluator_Operators(t *testing.T) {
	rec := lead.Record{
		"status": "new",
		"email":  "ada@example.com",
		"tags":   "vip,priority",
		"nilval": nil,
		"contact": map[string]any{
			"city": "London",
		},
	}

	tests := []struct {
		name string
		cfg  schema.ConditionConfig
		want bool
	}{
		{"equals match", schema.ConditionConfig{Field: "status", Operator: schema.OperatorEquals, Value: "new"}, true},
		{"equals mismatch", schema.ConditionConfig{Field: "status", Operator: schema.OperatorEquals, Value: "won"}, false},
		{"equals missing field", schema.ConditionConfig{Field: "ghost", Operator: schema.OperatorEquals, Value: "new"}, false},
		{"not_equals mismatch", schema.ConditionConfig{Field: "status", Operator: schema.OperatorNotEquals, Value: "won"}, true},
		{"not_equals missing field", schema.ConditionConfig{Field: "ghost", Operator: schema.OperatorNotEquals, Value: "won"}, true},
		{"contains substring", schema.ConditionConfig{Field: "tags", Operator: schema.OperatorContains, Value: "vip"}, true},
		{"contains absent substring", schema.ConditionConfig{Field: "tags", Operator: schema.OperatorContains, Value: "cold"}, false},
		{"contains missing field", schema.ConditionConfig{Field: "ghost", Operator: schema.OperatorContains, Value: "vip"}, false},
		{"not_contains missing field", schema.ConditionConfig{Field: "ghost", Operator: schema.OperatorNotContains, Value: "vip"}, true},
		{"exists present", schema.ConditionConfig{Field: "email", Operator: schema.OperatorExists}, true},
		{"exists missing", schema.ConditionConfig{Field: "phone", Operator: schema.OperatorExists}, false},
		{"exists nil value", schema.ConditionConfig{Field: "nilval", Operator: schema.OperatorExists}, false},
		{"not_exists missing", schema.ConditionConfig{Field: "phone", Operator: schema.OperatorNotExists}, true},
		{"nested path", schema.ConditionConfig{Field: "contact.city", Operator: schema.OperatorEquals, Value: "London"}, true},
		{"nested missing leaf", schema.ConditionConfig{Field: "contact.zip", Operator: schema.OperatorExists}, false},
	}

	ev := newConditionEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(&tt.cfg, rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluator_Expression(t *testing.T) {
	ev := newConditionEvaluator()
	rec := lead.Record{"score": 72, "status": "new"}

	got, err := ev.Evaluate(&schema.ConditionConfig{
		Operator:   schema.OperatorExpression,
		Expression: `lead.score > 50 && lead.status == "new"`,
	}, rec)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ev.Evaluate(&schema.ConditionConfig{
		Operator:   schema.OperatorExpression,
		Expression: `lead.score > 90`,
	}, rec)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConditionEvaluator_ExpressionNonBoolean(t *testing.T) {
	ev := newConditionEvaluator()

	_, err := ev.Evaluate(&schema.ConditionConfig{
		Operator:   schema.OperatorExpression,
		Expression: `lead.score`,
	}, lead.Record{"score": 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bool")
}

func TestConditionEvaluator_UnknownOperator(t *testing.T) {
	ev := newConditionEvaluator()
	_, err := ev.Evaluate(&schema.ConditionConfig{Operator: "matches"}, lead.Record{})
	assert.Error(t, err)
}

func TestConditionEvaluator_CachesPrograms(t *testing.T) {
	ev := newConditionEvaluator()
	cfg := &schema.ConditionConfig{Operator: schema.OperatorExpression, Expression: `lead.x > 1`}

	_, err := ev.Evaluate(cfg, lead.Record{"x": 2})
	require.NoError(t, err)
	_, err = ev.Evaluate(cfg, lead.Record{"x": 0})
	require.NoError(t, err)

	ev.mu.RLock()
	defer ev.mu.RUnlock()
	assert.Len(t, ev.programs, 1)
}
