package control

import (
	"context"
	"fmt"

	"github.com/flowkit-dev/flowkit/node"
)

// SetVariable resolves a value (literal, "{{path}}" template against the
// main input, or "{{$name}}" variable reference) and emits it under a
// variable name. The engine writes the emitted binding back into the run's
// variable map before the next node builds its context.
type SetVariable struct{}

var _ node.Node = (*SetVariable)(nil)

// NewSetVariable creates a set_variable node.
func NewSetVariable() *SetVariable { return &SetVariable{} }

func (s *SetVariable) TypeName() string               { return "set_variable" }
func (s *SetVariable) Category() node.Category        { return node.CategoryControl }
func (s *SetVariable) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (s *SetVariable) RequiredCredentialType() string { return "" }

func (s *SetVariable) ParameterSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "minLength": 1},
			"value": map[string]any{"description": "Literal or {{path}} template"},
		},
	}
}

func (s *SetVariable) ValidateParameters(params map[string]any) error {
	if _, ok := stringParam(params, "name"); !ok {
		return fmt.Errorf("set_variable: parameter %q is required", "name")
	}
	return nil
}

func (s *SetVariable) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := s.ValidateParameters(params); err != nil {
		return nil, err
	}
	name, _ := stringParam(params, "name")
	input := nc.MainInput()
	value := renderTemplate(params["value"], input, nc.Variables)
	return node.Success(map[string]any{
		"variable": name,
		"value":    value,
		"input":    input,
	}), nil
}

// VariableBinding extracts the (name, value) pair a successful set_variable
// output carries. The engine uses it to update the run's variable map.
func VariableBinding(out *node.Output) (string, any, bool) {
	if out == nil || !out.Success {
		return "", nil, false
	}
	m, ok := out.Data.(map[string]any)
	if !ok {
		return "", nil, false
	}
	name, ok := m["variable"].(string)
	if !ok || name == "" {
		return "", nil, false
	}
	return name, m["value"], true
}
