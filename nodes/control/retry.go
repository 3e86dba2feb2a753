package control

import (
	"context"
	"fmt"
	"time"

	"github.com/flowkit-dev/flowkit/node"
)

// RetryPolicy re-runs failed downstream steps with an optional backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per scoped step.
	MaxAttempts int
	// Delay is the pause before the second attempt.
	Delay time.Duration
	// Backoff is one of none, linear, or exponential.
	Backoff string
}

// AttemptDelay returns the pause before the given retry attempt (the first
// retry is attempt 1).
func (p RetryPolicy) AttemptDelay(attempt int) time.Duration {
	if p.Delay <= 0 || attempt < 1 {
		return 0
	}
	switch p.Backoff {
	case "linear":
		return time.Duration(attempt) * p.Delay
	case "exponential":
		return p.Delay << (attempt - 1)
	default:
		return p.Delay
	}
}

// RetryPolicyFromParams parses and validates retry parameters.
func RetryPolicyFromParams(params map[string]any) (RetryPolicy, error) {
	attempts, err := rangeParam(params, "max_attempts", 3, 1, 10)
	if err != nil {
		return RetryPolicy{}, fmt.Errorf("retry: %w", err)
	}
	delay, err := intParam(params, "delay_seconds", 0)
	if err != nil {
		return RetryPolicy{}, fmt.Errorf("retry: %w", err)
	}
	if delay < 0 {
		return RetryPolicy{}, fmt.Errorf("retry: delay_seconds must not be negative, got %d", delay)
	}
	p := RetryPolicy{
		MaxAttempts: attempts,
		Delay:       time.Duration(delay) * time.Second,
		Backoff:     "none",
	}
	if s, ok := stringParam(params, "backoff"); ok {
		switch s {
		case "none", "linear", "exponential":
			p.Backoff = s
		default:
			return RetryPolicy{}, fmt.Errorf("retry: unknown backoff %q (want none, linear, or exponential)", s)
		}
	}
	return p, nil
}

// Retry installs a retry scope over the downstream steps of a run.
type Retry struct{}

var _ node.Node = (*Retry)(nil)

// NewRetry creates a retry node.
func NewRetry() *Retry { return &Retry{} }

func (r *Retry) TypeName() string               { return "retry" }
func (r *Retry) Category() node.Category        { return node.CategoryControl }
func (r *Retry) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (r *Retry) RequiredCredentialType() string { return "" }

func (r *Retry) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"max_attempts":  map[string]any{"type": "integer", "minimum": 1, "maximum": 10, "default": 3},
			"delay_seconds": map[string]any{"type": "integer", "minimum": 0, "default": 0},
			"backoff":       map[string]any{"enum": []any{"none", "linear", "exponential"}},
		},
	}
}

func (r *Retry) ValidateParameters(params map[string]any) error {
	_, err := RetryPolicyFromParams(params)
	return err
}

func (r *Retry) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	p, err := RetryPolicyFromParams(params)
	if err != nil {
		return nil, err
	}
	return node.Success(map[string]any{
		"scope":        "retry",
		"max_attempts": p.MaxAttempts,
		"backoff":      p.Backoff,
		"input":        nc.MainInput(),
	}), nil
}
