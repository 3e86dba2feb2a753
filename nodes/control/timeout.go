package control

import (
	"context"
	"fmt"
	"time"

	"github.com/flowkit-dev/flowkit/node"
)

// TimeoutPolicy bounds the wall time of downstream steps.
type TimeoutPolicy struct {
	// Limit is the wall-time bound on each scoped step.
	Limit time.Duration
	// OnTimeout is one of error, default, or skip.
	OnTimeout string
	// DefaultValue substitutes for the timed-out step's output under the
	// default policy.
	DefaultValue any
}

// TimeoutPolicyFromParams parses and validates timeout parameters. Exactly
// one of timeout_seconds or timeout_milliseconds must be set.
func TimeoutPolicyFromParams(params map[string]any) (TimeoutPolicy, error) {
	_, hasSeconds := params["timeout_seconds"]
	_, hasMillis := params["timeout_milliseconds"]
	if hasSeconds == hasMillis {
		return TimeoutPolicy{}, fmt.Errorf("timeout: exactly one of %q or %q is required", "timeout_seconds", "timeout_milliseconds")
	}

	var limit time.Duration
	if hasSeconds {
		n, err := intParam(params, "timeout_seconds", 0)
		if err != nil {
			return TimeoutPolicy{}, fmt.Errorf("timeout: %w", err)
		}
		if n < 1 {
			return TimeoutPolicy{}, fmt.Errorf("timeout: timeout_seconds must be positive, got %d", n)
		}
		limit = time.Duration(n) * time.Second
	} else {
		n, err := intParam(params, "timeout_milliseconds", 0)
		if err != nil {
			return TimeoutPolicy{}, fmt.Errorf("timeout: %w", err)
		}
		if n < 1 {
			return TimeoutPolicy{}, fmt.Errorf("timeout: timeout_milliseconds must be positive, got %d", n)
		}
		limit = time.Duration(n) * time.Millisecond
	}

	p := TimeoutPolicy{Limit: limit, OnTimeout: "error", DefaultValue: params["default_value"]}
	if s, ok := stringParam(params, "on_timeout"); ok {
		switch s {
		case "error", "default", "skip":
			p.OnTimeout = s
		default:
			return TimeoutPolicy{}, fmt.Errorf("timeout: unknown on_timeout %q (want error, default, or skip)", s)
		}
	}
	if p.OnTimeout == "default" {
		if _, ok := params["default_value"]; !ok {
			return TimeoutPolicy{}, fmt.Errorf("timeout: default_value is required when on_timeout is %q", "default")
		}
	}
	return p, nil
}

// Timeout installs a wall-time bound over the downstream steps of a run.
type Timeout struct{}

var _ node.Node = (*Timeout)(nil)

// NewTimeout creates a timeout node.
func NewTimeout() *Timeout { return &Timeout{} }

func (t *Timeout) TypeName() string               { return "timeout" }
func (t *Timeout) Category() node.Category        { return node.CategoryControl }
func (t *Timeout) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (t *Timeout) RequiredCredentialType() string { return "" }

func (t *Timeout) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timeout_seconds":      map[string]any{"type": "integer", "minimum": 1},
			"timeout_milliseconds": map[string]any{"type": "integer", "minimum": 1},
			"on_timeout":           map[string]any{"enum": []any{"error", "default", "skip"}},
			"default_value":        map[string]any{"description": "Substitute output when on_timeout is default"},
		},
	}
}

func (t *Timeout) ValidateParameters(params map[string]any) error {
	_, err := TimeoutPolicyFromParams(params)
	return err
}

func (t *Timeout) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	p, err := TimeoutPolicyFromParams(params)
	if err != nil {
		return nil, err
	}
	return node.Success(map[string]any{
		"scope":      "timeout",
		"timeout_ms": p.Limit.Milliseconds(),
		"on_timeout": p.OnTimeout,
		"input":      nc.MainInput(),
	}), nil
}
