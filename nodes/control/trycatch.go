package control

import (
	"context"
	"fmt"

	"github.com/flowkit-dev/flowkit/node"
)

// TryCatchPolicy describes how downstream node failures are transformed.
type TryCatchPolicy struct {
	// ContinueOnError keeps the run alive after a downstream failure.
	ContinueOnError bool
	// Strategy is one of catch, ignore, or log.
	Strategy string
	// DefaultValue substitutes for the failed node's output under the
	// catch strategy.
	DefaultValue any
}

// TryCatchPolicyFromParams parses and validates try_catch parameters.
func TryCatchPolicyFromParams(params map[string]any) (TryCatchPolicy, error) {
	p := TryCatchPolicy{
		ContinueOnError: boolParam(params, "continue_on_error", true),
		Strategy:        "catch",
		DefaultValue:    params["default_value"],
	}
	if s, ok := stringParam(params, "error_strategy"); ok {
		switch s {
		case "catch", "ignore", "log":
			p.Strategy = s
		default:
			return TryCatchPolicy{}, fmt.Errorf("try_catch: unknown error_strategy %q (want catch, ignore, or log)", s)
		}
	}
	return p, nil
}

// TryCatch installs a failure-handling scope over the downstream steps of a
// run. Executing it standalone echoes the normalized policy.
type TryCatch struct{}

var _ node.Node = (*TryCatch)(nil)

// NewTryCatch creates a try_catch node.
func NewTryCatch() *TryCatch { return &TryCatch{} }

func (t *TryCatch) TypeName() string               { return "try_catch" }
func (t *TryCatch) Category() node.Category        { return node.CategoryControl }
func (t *TryCatch) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (t *TryCatch) RequiredCredentialType() string { return "" }

func (t *TryCatch) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"continue_on_error": map[string]any{"type": "boolean", "default": true},
			"error_strategy":    map[string]any{"enum": []any{"catch", "ignore", "log"}},
			"default_value":     map[string]any{"description": "Substitute output under the catch strategy"},
		},
	}
}

func (t *TryCatch) ValidateParameters(params map[string]any) error {
	_, err := TryCatchPolicyFromParams(params)
	return err
}

func (t *TryCatch) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	p, err := TryCatchPolicyFromParams(params)
	if err != nil {
		return nil, err
	}
	return node.Success(map[string]any{
		"scope":             "try_catch",
		"continue_on_error": p.ContinueOnError,
		"error_strategy":    p.Strategy,
		"input":             nc.MainInput(),
	}), nil
}
