package control

import (
	"context"
	"fmt"

	"github.com/flowkit-dev/flowkit/node"
)

// Transform renders a structured template against its main input, or
// extracts a single value via a dotted-path expression.
type Transform struct{}

var _ node.Node = (*Transform)(nil)

// NewTransform creates a transform node.
func NewTransform() *Transform { return &Transform{} }

func (t *Transform) TypeName() string               { return "transform" }
func (t *Transform) Category() node.Category        { return node.CategoryControl }
func (t *Transform) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (t *Transform) RequiredCredentialType() string { return "" }

func (t *Transform) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template":   map[string]any{"description": "Structured template; {{path}} strings substitute from the main input"},
			"expression": map[string]any{"type": "string", "description": "Dotted path extracted from the main input"},
		},
	}
}

func (t *Transform) ValidateParameters(params map[string]any) error {
	_, hasTemplate := params["template"]
	_, hasExpression := stringParam(params, "expression")
	if !hasTemplate && !hasExpression {
		return fmt.Errorf("transform: one of %q or %q is required", "template", "expression")
	}
	if hasTemplate && hasExpression {
		return fmt.Errorf("transform: parameters %q and %q are mutually exclusive", "template", "expression")
	}
	return nil
}

func (t *Transform) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := t.ValidateParameters(params); err != nil {
		return nil, err
	}
	input := nc.MainInput()
	if expr, ok := stringParam(params, "expression"); ok {
		v, found := lookupPath(input, expr)
		if !found {
			return nil, fmt.Errorf("transform: path %q not found in input", expr)
		}
		return node.Success(v), nil
	}
	return node.Success(renderTemplate(params["template"], input, nc.Variables)), nil
}
