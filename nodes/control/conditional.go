package control

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/flowkit-dev/flowkit/node"
)

// operators accepted by the conditional node.
var conditionalOperators = []string{"eq", "ne", "gt", "lt", "gte", "lte", "contains"}

// Conditional evaluates a comparison against a field of its main input and
// emits the verdict alongside the untouched input.
type Conditional struct{}

var _ node.Node = (*Conditional)(nil)

// NewConditional creates a conditional node.
func NewConditional() *Conditional { return &Conditional{} }

func (c *Conditional) TypeName() string              { return "conditional" }
func (c *Conditional) Category() node.Category       { return node.CategoryControl }
func (c *Conditional) Subcategory() node.Subcategory { return node.SubcategoryGeneral }
func (c *Conditional) RequiredCredentialType() string { return "" }

func (c *Conditional) ParameterSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"field", "operator"},
		"properties": map[string]any{
			"field":    map[string]any{"type": "string", "description": "Dotted path into the main input"},
			"operator": map[string]any{"enum": toAnySlice(conditionalOperators)},
			"value":    map[string]any{"description": "Right-hand side of the comparison"},
		},
	}
}

func (c *Conditional) ValidateParameters(params map[string]any) error {
	if _, ok := stringParam(params, "field"); !ok {
		return fmt.Errorf("conditional: parameter %q is required", "field")
	}
	op, ok := stringParam(params, "operator")
	if !ok {
		return fmt.Errorf("conditional: parameter %q is required", "operator")
	}
	if !validOperator(op) {
		return fmt.Errorf("conditional: unknown operator %q (want one of %s)", op, strings.Join(conditionalOperators, ", "))
	}
	return nil
}

func (c *Conditional) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := c.ValidateParameters(params); err != nil {
		return nil, err
	}
	field, _ := stringParam(params, "field")
	op, _ := stringParam(params, "operator")
	want := params["value"]

	input := nc.MainInput()
	got, ok := lookupPath(input, field)
	if !ok {
		return nil, fmt.Errorf("conditional: field %q not found in input", field)
	}

	verdict, err := compare(op, got, want)
	if err != nil {
		return nil, fmt.Errorf("conditional: %w", err)
	}
	return node.Success(map[string]any{"condition": verdict, "input": input}), nil
}

func validOperator(op string) bool {
	for _, known := range conditionalOperators {
		if op == known {
			return true
		}
	}
	return false
}

// compare applies the operator. Numeric operators require both sides to be
// numbers; contains requires both to be strings.
func compare(op string, got, want any) (bool, error) {
	switch op {
	case "eq":
		return looseEqual(got, want), nil
	case "ne":
		return !looseEqual(got, want), nil
	case "contains":
		gs, gok := got.(string)
		ws, wok := want.(string)
		if !gok || !wok {
			return false, fmt.Errorf("operator contains requires strings, got %T and %T", got, want)
		}
		return strings.Contains(gs, ws), nil
	}

	gn, gok := numberValue(got)
	wn, wok := numberValue(want)
	if !gok || !wok {
		return false, fmt.Errorf("operator %s requires numbers, got %T and %T", op, got, want)
	}
	switch op {
	case "gt":
		return gn > wn, nil
	case "lt":
		return gn < wn, nil
	case "gte":
		return gn >= wn, nil
	case "lte":
		return gn <= wn, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// looseEqual compares values with numeric coercion so 2 == 2.0 regardless of
// which decoder produced each side.
func looseEqual(a, b any) bool {
	if an, aok := numberValue(a); aok {
		if bn, bok := numberValue(b); bok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
