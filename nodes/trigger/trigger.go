// Package trigger implements the trigger nodes. Triggers are no-ops at
// execution time: they surface the caller-provided input (or synthesized
// trigger metadata when there is none). Their role is structural: only
// Trigger-category nodes may start a workflow.
package trigger

import (
	"context"
	"time"

	"github.com/flowkit-dev/flowkit/node"
)

// Manual starts a workflow from a direct invocation.
type Manual struct{}

var _ node.Node = (*Manual)(nil)

// NewManual creates a manual_trigger node.
func NewManual() *Manual { return &Manual{} }

func (m *Manual) TypeName() string               { return "manual_trigger" }
func (m *Manual) Category() node.Category        { return node.CategoryTrigger }
func (m *Manual) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (m *Manual) RequiredCredentialType() string { return "" }

func (m *Manual) ParameterSchema() map[string]any {
	return map[string]any{"type": "object"}
}

func (m *Manual) ValidateParameters(map[string]any) error { return nil }

func (m *Manual) Execute(_ context.Context, nc *node.Context, _ map[string]any) (*node.Output, error) {
	if input := nc.MainInput(); input != nil {
		return node.Success(input), nil
	}
	if v, ok := nc.Variables["input"]; ok && v != nil {
		return node.Success(v), nil
	}
	return node.Success(triggerRecord("manual", nc)), nil
}

// Webhook starts a workflow from an inbound HTTP delivery.
type Webhook struct{}

var _ node.Node = (*Webhook)(nil)

// NewWebhook creates a webhook_trigger node.
func NewWebhook() *Webhook { return &Webhook{} }

func (w *Webhook) TypeName() string               { return "webhook_trigger" }
func (w *Webhook) Category() node.Category        { return node.CategoryTrigger }
func (w *Webhook) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (w *Webhook) RequiredCredentialType() string { return "" }

func (w *Webhook) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "Delivery path the server routes to this workflow"},
			"method": map[string]any{"type": "string", "default": "POST"},
		},
	}
}

func (w *Webhook) ValidateParameters(map[string]any) error { return nil }

func (w *Webhook) Execute(_ context.Context, nc *node.Context, _ map[string]any) (*node.Output, error) {
	if input := nc.MainInput(); input != nil {
		return node.Success(input), nil
	}
	if v, ok := nc.Variables["input"]; ok && v != nil {
		return node.Success(v), nil
	}
	return node.Success(triggerRecord("webhook", nc)), nil
}

func triggerRecord(kind string, nc *node.Context) map[string]any {
	return map[string]any{
		"triggered_by": kind,
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
		"execution_id": nc.ExecutionID,
		"node_id":      nc.NodeID,
	}
}
