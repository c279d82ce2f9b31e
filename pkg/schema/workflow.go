package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is the directed-graph process model for an automated
// outreach sequence. Nodes are actions, edges are transitions. A definition
// is owned by a tenant and must pass validation before it may be activated.
type WorkflowDefinition struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Name      string         `json:"name"`
	Industry  string         `json:"industry,omitempty"`
	IsActive  bool           `json:"is_active"`
	Version   int            `json:"version"`
	Nodes     []WorkflowNode `json:"nodes"`
	Edges     []WorkflowEdge `json:"edges"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// WorkflowNode is a single action in the graph. Config is a tagged variant
// keyed by Type; Position is presentation-only and carries no runtime semantics.
type WorkflowNode struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Config   json.RawMessage `json:"config,omitempty"`
	Position Position        `json:"position,omitempty"`
}

// WorkflowEdge is a transition between two nodes. Label distinguishes the two
// outgoing edges of a CONDITION node ("true"/"false"); edges from non-branching
// node types must carry no label.
type WorkflowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Position is the editor canvas placement of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeStart       NodeType = "START"
	NodeTypeEnd         NodeType = "END"
	NodeTypeSMSTemplate NodeType = "SMS_TEMPLATE"
	NodeTypeSMSAI       NodeType = "SMS_AI"
	NodeTypeDelay       NodeType = "DELAY"
	NodeTypeCondition   NodeType = "CONDITION"
)

// KnownNodeTypes lists every node type the engine can execute.
var KnownNodeTypes = []NodeType{
	NodeTypeStart, NodeTypeEnd, NodeTypeSMSTemplate,
	NodeTypeSMSAI, NodeTypeDelay, NodeTypeCondition,
}

// EdgeLabelTrue and EdgeLabelFalse are the only permitted edge labels,
// used on the two outgoing edges of a CONDITION node.
const (
	EdgeLabelTrue  = "true"
	EdgeLabelFalse = "false"
)

// Node returns the node with the given ID, or nil if absent.
func (d *WorkflowDefinition) Node(id string) *WorkflowNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// StartNode returns the first node of type START, or nil if absent.
func (d *WorkflowDefinition) StartNode() *WorkflowNode {
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeTypeStart {
			return &d.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns all edges whose source is the given node.
func (d *WorkflowDefinition) OutgoingEdges(nodeID string) []WorkflowEdge {
	var out []WorkflowEdge
	for _, e := range d.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// --- Per-type node configs (tagged union keyed by NodeType) ---

// SMSTemplateConfig is the config block for SMS_TEMPLATE nodes. Body may
// contain {{lead.<path>}} placeholders resolved against the lead record;
// unresolved placeholders are left verbatim in the output.
type SMSTemplateConfig struct {
	Body string `json:"body"`
}

// SMSAIConfig is the config block for SMS_AI nodes. Prompt and Hints are
// passed to the external generation service as contextual overrides.
type SMSAIConfig struct {
	Prompt string            `json:"prompt,omitempty"`
	Hints  map[string]string `json:"hints,omitempty"`
}

// DelayConfig is the config block for DELAY nodes.
type DelayConfig struct {
	Duration      int                  `json:"duration"`
	Unit          DelayUnit            `json:"unit"`
	BusinessHours *BusinessHoursWindow `json:"business_hours,omitempty"`
}

// DelayUnit enumerates the supported delay duration units.
type DelayUnit string

const (
	DelayUnitSeconds DelayUnit = "seconds"
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// BusinessHoursWindow constrains a delayed resumption to a day-of-week set and
// a start/end time-of-day window, evaluated in the given IANA timezone.
type BusinessHoursWindow struct {
	Days     []int  `json:"days"`  // time.Weekday values, 0=Sunday
	Start    string `json:"start"` // "15:04"
	End      string `json:"end"`   // "15:04"
	Timezone string `json:"timezone"`
}

// ConditionConfig is the config block for CONDITION nodes. Field is a
// dot-notation path into the lead record. For the "expression" operator,
// Expression holds an expr-lang program evaluated with the lead record bound
// to the `lead` variable; Field and Value are ignored.
type ConditionConfig struct {
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator"`
	Value      string            `json:"value,omitempty"`
	Expression string            `json:"expression,omitempty"`
}

// ConditionOperator enumerates the supported comparison operators.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorExists      ConditionOperator = "exists"
	OperatorNotExists   ConditionOperator = "not_exists"
	OperatorExpression  ConditionOperator = "expression"
)

// DecodeConfig unmarshals the node's raw config into the typed variant for its
// node type. START and END nodes carry no config and decode to nil.
func (n *WorkflowNode) DecodeConfig() (any, error) {
	switch n.Type {
	case NodeTypeSMSTemplate:
		var cfg SMSTemplateConfig
		return &cfg, n.unmarshalConfig(&cfg)
	case NodeTypeSMSAI:
		var cfg SMSAIConfig
		return &cfg, n.unmarshalConfig(&cfg)
	case NodeTypeDelay:
		var cfg DelayConfig
		return &cfg, n.unmarshalConfig(&cfg)
	case NodeTypeCondition:
		var cfg ConditionConfig
		return &cfg, n.unmarshalConfig(&cfg)
	default:
		return nil, nil
	}
}

func (n *WorkflowNode) unmarshalConfig(v any) error {
	if len(n.Config) == 0 {
		return NewErrorf(ErrCodeValidation, "node %q (%s) has no config", n.ID, n.Type).WithNode(n.ID)
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		return NewErrorf(ErrCodeValidation, "node %q (%s) config: %s", n.ID, n.Type, err.Error()).
			WithNode(n.ID).WithCause(err)
	}
	return nil
}
