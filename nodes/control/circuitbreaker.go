package control

import (
	"context"
	"fmt"
	"time"

	"github.com/flowkit-dev/flowkit/engine/breaker"
	"github.com/flowkit-dev/flowkit/node"
)

// BreakerPolicy guards downstream steps with a named circuit.
type BreakerPolicy struct {
	// CircuitID names the shared circuit. Defaults to the node's id.
	CircuitID string
	// Settings configure the circuit on first use.
	Settings breaker.Settings
}

// BreakerPolicyFromParams parses and validates circuit_breaker parameters.
// The nodeID provides the default circuit id.
func BreakerPolicyFromParams(params map[string]any, nodeID string) (BreakerPolicy, error) {
	failures, err := rangeParam(params, "failure_threshold", 5, 1, 100)
	if err != nil {
		return BreakerPolicy{}, fmt.Errorf("circuit_breaker: %w", err)
	}
	successes, err := rangeParam(params, "success_threshold", 2, 1, 10)
	if err != nil {
		return BreakerPolicy{}, fmt.Errorf("circuit_breaker: %w", err)
	}
	timeout, err := rangeParam(params, "timeout_seconds", 60, 1, 3600)
	if err != nil {
		return BreakerPolicy{}, fmt.Errorf("circuit_breaker: %w", err)
	}
	id, ok := stringParam(params, "circuit_id")
	if !ok {
		id = nodeID
	}
	return BreakerPolicy{
		CircuitID: id,
		Settings: breaker.Settings{
			FailureThreshold: failures,
			SuccessThreshold: successes,
			OpenTimeout:      time.Duration(timeout) * time.Second,
		},
	}, nil
}

// CircuitBreaker installs a circuit around the downstream steps of a run.
// Circuits are shared process-wide by circuit id, so independent runs
// guarding the same downstream service trip together.
type CircuitBreaker struct {
	circuits breaker.CircuitRegistry
}

var _ node.Node = (*CircuitBreaker)(nil)

// NewCircuitBreaker creates a circuit_breaker node backed by the given
// circuit registry.
func NewCircuitBreaker(circuits breaker.CircuitRegistry) *CircuitBreaker {
	return &CircuitBreaker{circuits: circuits}
}

func (c *CircuitBreaker) TypeName() string               { return "circuit_breaker" }
func (c *CircuitBreaker) Category() node.Category        { return node.CategoryControl }
func (c *CircuitBreaker) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (c *CircuitBreaker) RequiredCredentialType() string { return "" }

func (c *CircuitBreaker) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"failure_threshold": map[string]any{"type": "integer", "minimum": 1, "maximum": 100, "default": 5},
			"success_threshold": map[string]any{"type": "integer", "minimum": 1, "maximum": 10, "default": 2},
			"timeout_seconds":   map[string]any{"type": "integer", "minimum": 1, "maximum": 3600, "default": 60},
			"circuit_id":        map[string]any{"type": "string", "description": "Shared circuit name; defaults to the node id"},
		},
	}
}

func (c *CircuitBreaker) ValidateParameters(params map[string]any) error {
	_, err := BreakerPolicyFromParams(params, "placeholder")
	return err
}

func (c *CircuitBreaker) Execute(ctx context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	p, err := BreakerPolicyFromParams(params, nc.NodeID)
	if err != nil {
		return nil, err
	}
	snap := breaker.Snapshot{State: breaker.StateClosed}
	if c.circuits != nil {
		snap, err = c.circuits.Snapshot(ctx, p.CircuitID)
		if err != nil {
			return nil, fmt.Errorf("circuit_breaker: %w", err)
		}
	}
	return node.Success(map[string]any{
		"scope":      "circuit_breaker",
		"circuit_id": p.CircuitID,
		"state":      string(snap.State),
		"input":      nc.MainInput(),
	}), nil
}
