package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit-dev/flowkit/node"
)

// WaitPlan is the suspension envelope a wait_for_webhook node produces. The
// engine registers the wait point and parks the run until the webhook
// surface delivers a payload for WaitID or the timeout elapses.
type WaitPlan struct {
	WaitID    string
	Path      string
	Timeout   time.Duration
	CreatedAt time.Time
}

// Envelope is the structured value persisted as the waiting node's output
// while the run is suspended.
func (w WaitPlan) Envelope(executionID, nodeID string) map[string]any {
	return map[string]any{
		"wait_id":         w.WaitID,
		"webhook_url":     w.Path,
		"timeout_seconds": int(w.Timeout / time.Second),
		"status":          "waiting",
		"created_at":      w.CreatedAt.Format(time.RFC3339),
		"expires_at":      w.CreatedAt.Add(w.Timeout).Format(time.RFC3339),
		"execution_id":    executionID,
		"node_id":         nodeID,
	}
}

// WaitPlanFromParams parses wait_for_webhook parameters. A missing wait_id
// gets a fresh UUID, so two calls on the same params yield distinct plans.
func WaitPlanFromParams(params map[string]any) (WaitPlan, error) {
	seconds, err := rangeParam(params, "timeout_seconds", 3600, 1, 86400)
	if err != nil {
		return WaitPlan{}, fmt.Errorf("wait_for_webhook: %w", err)
	}
	waitID, ok := stringParam(params, "wait_id")
	if !ok {
		waitID = uuid.NewString()
	}
	path, ok := stringParam(params, "webhook_path")
	if !ok {
		path = "/webhook/resume/" + waitID
	} else {
		path = strings.ReplaceAll(path, "{wait_id}", waitID)
	}
	return WaitPlan{
		WaitID:    waitID,
		Path:      path,
		Timeout:   time.Duration(seconds) * time.Second,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// WaitForWebhook suspends the run until an external HTTP delivery resumes
// it. The node itself only produces the waiting envelope; suspension and
// resumption are the engine's business.
type WaitForWebhook struct{}

var _ node.Node = (*WaitForWebhook)(nil)

// NewWaitForWebhook creates a wait_for_webhook node.
func NewWaitForWebhook() *WaitForWebhook { return &WaitForWebhook{} }

func (w *WaitForWebhook) TypeName() string               { return "wait_for_webhook" }
func (w *WaitForWebhook) Category() node.Category        { return node.CategoryControl }
func (w *WaitForWebhook) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (w *WaitForWebhook) RequiredCredentialType() string { return "" }

func (w *WaitForWebhook) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"wait_id":         map[string]any{"type": "string", "description": "Resume token; generated when absent"},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 1, "maximum": 86400, "default": 3600},
			"webhook_path":    map[string]any{"type": "string", "description": "Delivery path; {wait_id} expands to the token"},
			"expected_schema": map[string]any{"description": "Informational payload schema"},
		},
	}
}

func (w *WaitForWebhook) ValidateParameters(params map[string]any) error {
	_, err := WaitPlanFromParams(params)
	return err
}

func (w *WaitForWebhook) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	plan, err := WaitPlanFromParams(params)
	if err != nil {
		return nil, err
	}
	return node.Success(plan.Envelope(nc.ExecutionID, nc.NodeID)), nil
}
