package control

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/workflow"
)

// WorkflowRunner is the slice of the engine the execute_workflow node needs
// to dispatch a sub-run.
type WorkflowRunner interface {
	Execute(ctx context.Context, def *workflow.Definition, workflowID string, input any) (*store.WorkflowExecution, error)
}

// ExecuteWorkflow invokes another stored workflow, synchronously or as a
// detached background run.
type ExecuteWorkflow struct {
	runner WorkflowRunner
	store  store.Store
}

var _ node.Node = (*ExecuteWorkflow)(nil)

// NewExecuteWorkflow creates an execute_workflow node backed by the given
// runner and store.
func NewExecuteWorkflow(runner WorkflowRunner, st store.Store) *ExecuteWorkflow {
	return &ExecuteWorkflow{runner: runner, store: st}
}

func (e *ExecuteWorkflow) TypeName() string               { return "execute_workflow" }
func (e *ExecuteWorkflow) Category() node.Category        { return node.CategoryControl }
func (e *ExecuteWorkflow) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (e *ExecuteWorkflow) RequiredCredentialType() string { return "" }

func (e *ExecuteWorkflow) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workflow_id":   map[string]any{"type": "string", "format": "uuid"},
			"workflow_name": map[string]any{"type": "string"},
			"input":         map[string]any{"description": "Sub-run input; defaults to this node's main input"},
			"wait":          map[string]any{"type": "boolean", "default": true},
		},
	}
}

// ValidateParameters rejects zero or two of {workflow_id, workflow_name}
// and malformed UUIDs.
func (e *ExecuteWorkflow) ValidateParameters(params map[string]any) error {
	id, hasID := stringParam(params, "workflow_id")
	_, hasName := stringParam(params, "workflow_name")
	if hasID == hasName {
		return fmt.Errorf("execute_workflow: exactly one of %q or %q is required", "workflow_id", "workflow_name")
	}
	if hasID {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("execute_workflow: workflow_id %q is not a valid UUID", id)
		}
	}
	return nil
}

func (e *ExecuteWorkflow) Execute(ctx context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := e.ValidateParameters(params); err != nil {
		return nil, err
	}

	target, err := e.resolve(ctx, params)
	if err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, fmt.Errorf("execute_workflow: workflow %q is inactive", target.Name)
	}

	input, ok := params["input"]
	if !ok {
		input = nc.MainInput()
	}
	def := &workflow.Definition{
		Name:        target.Name,
		Description: target.Description,
		Nodes:       target.Nodes,
		Edges:       target.Edges,
	}

	wait := boolParam(params, "wait", true)
	if !wait {
		// Detached run. The engine still persists the sub-run's record.
		go func() {
			_, _ = e.runner.Execute(context.WithoutCancel(ctx), def, target.ID, input)
		}()
		return node.Success(map[string]any{
			"workflow_id":   target.ID,
			"workflow_name": target.Name,
			"status":        "started",
			"wait":          false,
		}), nil
	}

	sub, err := e.runner.Execute(ctx, def, target.ID, input)
	if err != nil {
		return nil, fmt.Errorf("execute_workflow: sub-workflow %q: %w", target.Name, err)
	}
	if sub.Status != store.StatusSuccess {
		return node.Fail(fmt.Sprintf("sub-workflow %q finished %s: %s", target.Name, sub.Status, sub.Error)), nil
	}
	return node.Success(map[string]any{
		"execution_id":  sub.ID,
		"workflow_id":   target.ID,
		"workflow_name": target.Name,
		"status":        "success",
		"output":        sub.OutputData,
	}), nil
}

func (e *ExecuteWorkflow) resolve(ctx context.Context, params map[string]any) (*store.Workflow, error) {
	if id, ok := stringParam(params, "workflow_id"); ok {
		wf, err := e.store.GetWorkflow(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("execute_workflow: workflow %q: %w", id, err)
		}
		return wf, nil
	}
	name, _ := stringParam(params, "workflow_name")
	wf, err := e.store.GetWorkflowByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("execute_workflow: workflow %q: %w", name, err)
	}
	return wf, nil
}
