package control

import (
	"context"
	"strings"
	"testing"

	"github.com/flowkit-dev/flowkit/node"
)

func testContext(input any) *node.Context {
	return &node.Context{
		ExecutionID: "exec-1",
		NodeID:      "n1",
		Inputs:      map[string]any{"main": input},
		Variables:   map[string]any{},
	}
}

func TestConditionalOperators(t *testing.T) {
	cases := []struct {
		name     string
		operator string
		value    any
		want     bool
	}{
		{"eq true", "eq", float64(200), true},
		{"eq mixed numeric types", "eq", 200, true},
		{"ne", "ne", float64(404), true},
		{"gt", "gt", float64(100), true},
		{"lt false", "lt", float64(100), false},
		{"gte boundary", "gte", float64(200), true},
		{"lte boundary", "lte", float64(200), true},
	}
	cond := NewConditional()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nc := testContext(map[string]any{"status": float64(200)})
			params := map[string]any{"field": "status", "operator": tc.operator, "value": tc.value}
			out, err := cond.Execute(context.Background(), nc, params)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			data := out.Data.(map[string]any)
			if data["condition"] != tc.want {
				t.Fatalf("expected condition=%v, got %v", tc.want, data["condition"])
			}
		})
	}
}

func TestConditionalContains(t *testing.T) {
	cond := NewConditional()
	nc := testContext(map[string]any{"message": "order shipped"})
	out, err := cond.Execute(context.Background(), nc, map[string]any{
		"field": "message", "operator": "contains", "value": "shipped",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Data.(map[string]any)["condition"] != true {
		t.Fatal("expected contains to match")
	}
}

func TestConditionalDottedPath(t *testing.T) {
	cond := NewConditional()
	nc := testContext(map[string]any{"order": map[string]any{"total": float64(150)}})
	out, err := cond.Execute(context.Background(), nc, map[string]any{
		"field": "order.total", "operator": "gt", "value": float64(100),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	data := out.Data.(map[string]any)
	if data["condition"] != true {
		t.Fatal("expected dotted path comparison to pass")
	}
	if _, ok := data["input"].(map[string]any); !ok {
		t.Fatal("expected the original input to be echoed")
	}
}

func TestConditionalMissingFieldIsError(t *testing.T) {
	cond := NewConditional()
	nc := testContext(map[string]any{"status": float64(200)})
	_, err := cond.Execute(context.Background(), nc, map[string]any{
		"field": "nope", "operator": "eq", "value": float64(1),
	})
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected missing field error naming the field, got %v", err)
	}
}

func TestConditionalTypeMismatchIsError(t *testing.T) {
	cond := NewConditional()
	nc := testContext(map[string]any{"status": "ok"})
	_, err := cond.Execute(context.Background(), nc, map[string]any{
		"field": "status", "operator": "gt", "value": float64(1),
	})
	if err == nil {
		t.Fatal("expected numeric comparison of a string to fail")
	}
}

func TestConditionalRejectsUnknownOperator(t *testing.T) {
	cond := NewConditional()
	err := cond.ValidateParameters(map[string]any{"field": "x", "operator": "matches"})
	if err == nil || !strings.Contains(err.Error(), "matches") {
		t.Fatalf("expected unknown operator rejection, got %v", err)
	}
}
