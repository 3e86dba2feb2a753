// Package store defines the persistence layer interface for workflows and
// their executions.
//
// The Store interface abstracts durable storage, allowing different backend
// implementations. Available implementations:
//
//   - memory: In-memory store for development and testing
//   - mongo: MongoDB store for production persistence
//
// To add a new implementation, create a subpackage that implements the Store
// interface and returns store.ErrNotFound for missing records. Each operation
// is individually atomic; the engine never requires multi-operation
// transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowkit-dev/flowkit/workflow"
)

// ErrNotFound is returned when a workflow or execution is not found in the
// store.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of a workflow or node execution. Its string
// form is the lowercase name; parsing is exact match.
type Status string

const (
	// StatusRunning indicates the execution is in flight.
	StatusRunning Status = "running"
	// StatusSuccess indicates the execution finished successfully.
	StatusSuccess Status = "success"
	// StatusFailed indicates the execution failed permanently.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the execution was cancelled externally.
	StatusCancelled Status = "cancelled"
)

// ParseStatus parses the lowercase string form of a status. Unknown strings
// are rejected.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown execution status %q", s)
}

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

type (
	// Workflow is the persisted form of a definition: the definition
	// fields plus identity and activation state.
	Workflow struct {
		ID          string                    `json:"id"`
		Name        string                    `json:"name"`
		Description string                    `json:"description,omitempty"`
		Nodes       []workflow.NodeDefinition `json:"nodes"`
		Edges       []workflow.EdgeDefinition `json:"edges,omitempty"`
		Active      bool                      `json:"active"`
		CreatedAt   time.Time                 `json:"created_at"`
		UpdatedAt   time.Time                 `json:"updated_at"`
	}

	// WorkflowExecution is one run of a workflow. It is created in
	// StatusRunning and transitions exactly once to a terminal state, at
	// which point FinishedAt is set and either OutputData or Error is
	// populated.
	WorkflowExecution struct {
		ID         string     `json:"id"`
		WorkflowID string     `json:"workflow_id"`
		Status     Status     `json:"status"`
		StartedAt  time.Time  `json:"started_at"`
		FinishedAt *time.Time `json:"finished_at,omitempty"`
		UpdatedAt  time.Time  `json:"updated_at"`
		InputData  any        `json:"input_data,omitempty"`
		OutputData any        `json:"output_data,omitempty"`
		Error      string     `json:"error,omitempty"`
	}

	// NodeExecution records a single node invocation within a run.
	NodeExecution struct {
		ID          string     `json:"id"`
		ExecutionID string     `json:"execution_id"`
		NodeID      string     `json:"node_id"`
		Status      Status     `json:"status"`
		StartedAt   time.Time  `json:"started_at"`
		FinishedAt  *time.Time `json:"finished_at,omitempty"`
		InputData   any        `json:"input_data,omitempty"`
		OutputData  any        `json:"output_data,omitempty"`
		Error       string     `json:"error,omitempty"`
	}

	// Store is the durable substrate for workflows and their executions.
	// Implementations must be safe for concurrent use and return
	// ErrNotFound for missing records.
	Store interface {
		// CreateWorkflow persists a new workflow record.
		CreateWorkflow(ctx context.Context, wf *Workflow) (*Workflow, error)

		// GetWorkflow retrieves a workflow by id.
		GetWorkflow(ctx context.Context, id string) (*Workflow, error)

		// GetWorkflowByName retrieves a workflow by name.
		GetWorkflowByName(ctx context.Context, name string) (*Workflow, error)

		// ListWorkflows returns workflows ordered by creation time,
		// newest first. When activeOnly is set, inactive workflows are
		// omitted.
		ListWorkflows(ctx context.Context, activeOnly bool) ([]*Workflow, error)

		// UpdateWorkflow replaces a workflow record and bumps UpdatedAt.
		UpdateWorkflow(ctx context.Context, wf *Workflow) (*Workflow, error)

		// DeleteWorkflow removes a workflow by id.
		DeleteWorkflow(ctx context.Context, id string) error

		// ImportWorkflow mints a UUID for the definition, marks it
		// active, and persists it.
		ImportWorkflow(ctx context.Context, def *workflow.Definition) (*Workflow, error)

		// CreateWorkflowExecution persists a new execution record.
		CreateWorkflowExecution(ctx context.Context, exec *WorkflowExecution) (*WorkflowExecution, error)

		// GetWorkflowExecution retrieves an execution by id.
		GetWorkflowExecution(ctx context.Context, id string) (*WorkflowExecution, error)

		// ListWorkflowExecutions returns executions for a workflow,
		// newest first by start time. A non-positive limit means no
		// limit.
		ListWorkflowExecutions(ctx context.Context, workflowID string, limit int) ([]*WorkflowExecution, error)

		// UpdateWorkflowExecutionStatus flips an execution to the given
		// status, records output or error, and sets FinishedAt to now
		// when the status is terminal.
		UpdateWorkflowExecutionStatus(ctx context.Context, id string, status Status, output any, errMsg string) (*WorkflowExecution, error)

		// CreateNodeExecution persists a new node execution record.
		CreateNodeExecution(ctx context.Context, rec *NodeExecution) (*NodeExecution, error)

		// UpdateNodeExecutionStatus flips a node execution to the given
		// status, records output or error, and sets FinishedAt to now
		// when the status is terminal.
		UpdateNodeExecutionStatus(ctx context.Context, id string, status Status, output any, errMsg string) (*NodeExecution, error)

		// ListNodeExecutions returns the node executions for a run,
		// oldest first by start time.
		ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error)
	}
)
