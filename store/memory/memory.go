// Package memory provides an in-memory implementation of the workflow store.
//
// This implementation is suitable for development, testing, and single-node
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/workflow"
)

// Store is an in-memory implementation of the store.Store interface.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	workflows  map[string]*store.Workflow
	executions map[string]*store.WorkflowExecution
	nodeExecs  map[string]*store.NodeExecution
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		workflows:  make(map[string]*store.Workflow),
		executions: make(map[string]*store.WorkflowExecution),
		nodeExecs:  make(map[string]*store.NodeExecution),
	}
}

// CreateWorkflow persists a new workflow record. A missing id or timestamps
// are filled in.
func (s *Store) CreateWorkflow(ctx context.Context, wf *store.Workflow) (*store.Workflow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneWorkflow(wf)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.workflows[cp.ID] = cp
	return cloneWorkflow(cp), nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

// GetWorkflowByName retrieves a workflow by name. When several workflows
// share a name the most recently created wins.
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*store.Workflow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *store.Workflow
	for _, wf := range s.workflows {
		if wf.Name != name {
			continue
		}
		if found == nil || wf.CreatedAt.After(found.CreatedAt) {
			found = wf
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return cloneWorkflow(found), nil
}

// ListWorkflows returns workflows ordered by creation time, newest first.
func (s *Store) ListWorkflows(ctx context.Context, activeOnly bool) ([]*store.Workflow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*store.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if activeOnly && !wf.Active {
			continue
		}
		result = append(result, cloneWorkflow(wf))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateWorkflow replaces a workflow record and bumps UpdatedAt.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *store.Workflow) (*store.Workflow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workflows[wf.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := cloneWorkflow(wf)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.workflows[cp.ID] = cp
	return cloneWorkflow(cp), nil
}

// DeleteWorkflow removes a workflow by id.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

// ImportWorkflow mints a UUID for the definition, marks it active, and
// persists it.
func (s *Store) ImportWorkflow(ctx context.Context, def *workflow.Definition) (*store.Workflow, error) {
	now := time.Now().UTC()
	wf := &store.Workflow{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Description: def.Description,
		Nodes:       append([]workflow.NodeDefinition(nil), def.Nodes...),
		Edges:       append([]workflow.EdgeDefinition(nil), def.Edges...),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.CreateWorkflow(ctx, wf)
}

// CreateWorkflowExecution persists a new execution record.
func (s *Store) CreateWorkflowExecution(ctx context.Context, exec *store.WorkflowExecution) (*store.WorkflowExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneExecution(exec)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	cp.UpdatedAt = now
	s.executions[cp.ID] = cp
	return cloneExecution(cp), nil
}

// GetWorkflowExecution retrieves an execution by id.
func (s *Store) GetWorkflowExecution(ctx context.Context, id string) (*store.WorkflowExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneExecution(exec), nil
}

// ListWorkflowExecutions returns executions for a workflow, newest first by
// start time.
func (s *Store) ListWorkflowExecutions(ctx context.Context, workflowID string, limit int) ([]*store.WorkflowExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*store.WorkflowExecution, 0)
	for _, exec := range s.executions {
		if exec.WorkflowID == workflowID {
			result = append(result, cloneExecution(exec))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateWorkflowExecutionStatus flips an execution status and sets FinishedAt
// when the status is terminal.
func (s *Store) UpdateWorkflowExecutionStatus(ctx context.Context, id string, status store.Status, output any, errMsg string) (*store.WorkflowExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	// An execution transitions to a terminal state exactly once; the first
	// outcome wins and later writes are dropped.
	if exec.Status.Terminal() {
		return cloneExecution(exec), nil
	}
	now := time.Now().UTC()
	exec.Status = status
	exec.UpdatedAt = now
	if output != nil {
		exec.OutputData = output
	}
	if errMsg != "" {
		exec.Error = errMsg
	}
	if status.Terminal() {
		finished := now
		exec.FinishedAt = &finished
	}
	return cloneExecution(exec), nil
}

// CreateNodeExecution persists a new node execution record.
func (s *Store) CreateNodeExecution(ctx context.Context, rec *store.NodeExecution) (*store.NodeExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneNodeExecution(rec)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	s.nodeExecs[cp.ID] = cp
	return cloneNodeExecution(cp), nil
}

// UpdateNodeExecutionStatus flips a node execution status and sets FinishedAt
// when the status is terminal.
func (s *Store) UpdateNodeExecutionStatus(ctx context.Context, id string, status store.Status, output any, errMsg string) (*store.NodeExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodeExecs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Status = status
	if output != nil {
		rec.OutputData = output
	}
	if errMsg != "" {
		rec.Error = errMsg
	}
	if status.Terminal() {
		finished := time.Now().UTC()
		rec.FinishedAt = &finished
	}
	return cloneNodeExecution(rec), nil
}

// ListNodeExecutions returns the node executions for a run, oldest first by
// start time.
func (s *Store) ListNodeExecutions(ctx context.Context, executionID string) ([]*store.NodeExecution, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*store.NodeExecution, 0)
	for _, rec := range s.nodeExecs {
		if rec.ExecutionID == executionID {
			result = append(result, cloneNodeExecution(rec))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func cloneWorkflow(wf *store.Workflow) *store.Workflow {
	cp := *wf
	cp.Nodes = append([]workflow.NodeDefinition(nil), wf.Nodes...)
	cp.Edges = append([]workflow.EdgeDefinition(nil), wf.Edges...)
	return &cp
}

func cloneExecution(exec *store.WorkflowExecution) *store.WorkflowExecution {
	cp := *exec
	if exec.FinishedAt != nil {
		finished := *exec.FinishedAt
		cp.FinishedAt = &finished
	}
	return &cp
}

func cloneNodeExecution(rec *store.NodeExecution) *store.NodeExecution {
	cp := *rec
	if rec.FinishedAt != nil {
		finished := *rec.FinishedAt
		cp.FinishedAt = &finished
	}
	return &cp
}
