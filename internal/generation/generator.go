// Package generation defines the contract with the external AI text
// generation service used by SMS_AI nodes. The service applies its own
// fallback policy internally; the engine only consumes success, text and the
// tier that produced it.
package generation

import "context"

// Request carries workflow and node identity plus node-level prompt overrides
// as contextual hints for the generation service.
type Request struct {
	OrgID          string            `json:"org_id"`
	LeadID         string            `json:"lead_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	DefinitionID   string            `json:"definition_id"`
	NodeID         string            `json:"node_id"`
	Prompt         string            `json:"prompt,omitempty"`
	Hints          map[string]string `json:"hints,omitempty"`
}

// Result is the generation outcome. Tier identifies which internal fallback
// tier produced the text.
type Result struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Tier    string `json:"tier,omitempty"`
}

// Generator produces outbound message text for a lead.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Disabled is a Generator for deployments without a generation service
// configured. It always reports non-success, which SMS_AI nodes absorb.
type Disabled struct{}

// NewDisabled returns a Generator that never produces text.
func NewDisabled() *Disabled { return &Disabled{} }

func (*Disabled) Generate(context.Context, Request) (*Result, error) {
	return &Result{Success: false, Tier: "disabled"}, nil
}
