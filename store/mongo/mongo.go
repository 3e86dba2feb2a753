// Package mongo provides a MongoDB implementation of the workflow store.
//
// This implementation persists workflows and execution history to MongoDB
// for durability across restarts, suitable for production deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/workflow"
)

// Store is a MongoDB implementation of the store.Store interface. It spreads
// records across three collections: workflows, workflow_executions, and
// node_executions.
type Store struct {
	workflows  *mongo.Collection
	executions *mongo.Collection
	nodeExecs  *mongo.Collection
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// workflowDocument is the MongoDB document representation of a Workflow.
type workflowDocument struct {
	ID          string         `bson:"_id"`
	Name        string         `bson:"name"`
	Description string         `bson:"description,omitempty"`
	Nodes       []nodeDocument `bson:"nodes"`
	Edges       []edgeDocument `bson:"edges,omitempty"`
	Active      bool           `bson:"active"`
	CreatedAt   time.Time      `bson:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at"`
}

// nodeDocument is the MongoDB document representation of a NodeDefinition.
type nodeDocument struct {
	ID         string         `bson:"id"`
	Type       string         `bson:"node_type"`
	Name       string         `bson:"name,omitempty"`
	Parameters map[string]any `bson:"parameters,omitempty"`
}

// edgeDocument is the MongoDB document representation of an EdgeDefinition.
type edgeDocument struct {
	From       string `bson:"from"`
	To         string `bson:"to"`
	FromOutput string `bson:"from_output,omitempty"`
	ToInput    string `bson:"to_input,omitempty"`
}

// executionDocument is the MongoDB document representation of a
// WorkflowExecution.
type executionDocument struct {
	ID         string     `bson:"_id"`
	WorkflowID string     `bson:"workflow_id"`
	Status     string     `bson:"status"`
	StartedAt  time.Time  `bson:"started_at"`
	FinishedAt *time.Time `bson:"finished_at,omitempty"`
	UpdatedAt  time.Time  `bson:"updated_at"`
	InputData  any        `bson:"input_data,omitempty"`
	OutputData any        `bson:"output_data,omitempty"`
	Error      string     `bson:"error,omitempty"`
}

// nodeExecutionDocument is the MongoDB document representation of a
// NodeExecution.
type nodeExecutionDocument struct {
	ID          string     `bson:"_id"`
	ExecutionID string     `bson:"execution_id"`
	NodeID      string     `bson:"node_id"`
	Status      string     `bson:"status"`
	StartedAt   time.Time  `bson:"started_at"`
	FinishedAt  *time.Time `bson:"finished_at,omitempty"`
	InputData   any        `bson:"input_data,omitempty"`
	OutputData  any        `bson:"output_data,omitempty"`
	Error       string     `bson:"error,omitempty"`
}

// New creates a new MongoDB store backed by the given database. The database
// should be from a connected MongoDB client.
func New(db *mongo.Database) *Store {
	return &Store{
		workflows:  db.Collection("workflows"),
		executions: db.Collection("workflow_executions"),
		nodeExecs:  db.Collection("node_executions"),
	}
}

// EnsureIndexes creates the indexes the query paths rely on. Safe to call on
// every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.workflows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create workflow indexes: %w", err)
	}
	_, err = s.executions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create execution indexes: %w", err)
	}
	_, err = s.nodeExecs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "execution_id", Value: 1}, {Key: "started_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create node execution indexes: %w", err)
	}
	return nil
}

// CreateWorkflow persists a new workflow record.
func (s *Store) CreateWorkflow(ctx context.Context, wf *store.Workflow) (*store.Workflow, error) {
	cp := *wf
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if _, err := s.workflows.InsertOne(ctx, toWorkflowDocument(&cp)); err != nil {
		return nil, fmt.Errorf("mongodb create workflow %q: %w", cp.Name, err)
	}
	return &cp, nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	var doc workflowDocument
	err := s.workflows.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get workflow %q: %w", id, err)
	}
	return fromWorkflowDocument(&doc), nil
}

// GetWorkflowByName retrieves a workflow by name. When several workflows
// share a name the most recently created wins.
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*store.Workflow, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc workflowDocument
	err := s.workflows.FindOne(ctx, bson.M{"name": name}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get workflow by name %q: %w", name, err)
	}
	return fromWorkflowDocument(&doc), nil
}

// ListWorkflows returns workflows ordered by creation time, newest first.
func (s *Store) ListWorkflows(ctx context.Context, activeOnly bool) ([]*store.Workflow, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.workflows.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list workflows: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []workflowDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list workflows decode: %w", err)
	}
	result := make([]*store.Workflow, len(docs))
	for i := range docs {
		result[i] = fromWorkflowDocument(&docs[i])
	}
	return result, nil
}

// UpdateWorkflow replaces a workflow record and bumps UpdatedAt.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *store.Workflow) (*store.Workflow, error) {
	cp := *wf
	cp.UpdatedAt = time.Now().UTC()
	doc := toWorkflowDocument(&cp)
	update := bson.M{"$set": bson.M{
		"name":        doc.Name,
		"description": doc.Description,
		"nodes":       doc.Nodes,
		"edges":       doc.Edges,
		"active":      doc.Active,
		"updated_at":  doc.UpdatedAt,
	}}
	result, err := s.workflows.UpdateOne(ctx, bson.M{"_id": cp.ID}, update)
	if err != nil {
		return nil, fmt.Errorf("mongodb update workflow %q: %w", cp.ID, err)
	}
	if result.MatchedCount == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetWorkflow(ctx, cp.ID)
}

// DeleteWorkflow removes a workflow by id.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := s.workflows.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete workflow %q: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
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
	cp := *exec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	cp.UpdatedAt = now
	if _, err := s.executions.InsertOne(ctx, toExecutionDocument(&cp)); err != nil {
		return nil, fmt.Errorf("mongodb create execution for workflow %q: %w", cp.WorkflowID, err)
	}
	return &cp, nil
}

// GetWorkflowExecution retrieves an execution by id.
func (s *Store) GetWorkflowExecution(ctx context.Context, id string) (*store.WorkflowExecution, error) {
	var doc executionDocument
	err := s.executions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get execution %q: %w", id, err)
	}
	return fromExecutionDocument(&doc), nil
}

// ListWorkflowExecutions returns executions for a workflow, newest first by
// start time. A non-positive limit means no limit.
func (s *Store) ListWorkflowExecutions(ctx context.Context, workflowID string, limit int) ([]*store.WorkflowExecution, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.executions.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list executions for workflow %q: %w", workflowID, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []executionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list executions decode: %w", err)
	}
	result := make([]*store.WorkflowExecution, len(docs))
	for i := range docs {
		result[i] = fromExecutionDocument(&docs[i])
	}
	return result, nil
}

// UpdateWorkflowExecutionStatus flips an execution to the given status,
// records output or error, and sets FinishedAt when the status is terminal.
func (s *Store) UpdateWorkflowExecutionStatus(ctx context.Context, id string, status store.Status, output any, errMsg string) (*store.WorkflowExecution, error) {
	now := time.Now().UTC()
	set := bson.M{"status": string(status), "updated_at": now}
	if output != nil {
		set["output_data"] = output
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	if status.Terminal() {
		set["finished_at"] = now
	}
	// The filter excludes terminal statuses: an execution transitions to a
	// terminal state exactly once and the first outcome wins.
	filter := bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc executionDocument
	err := s.executions.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return s.GetWorkflowExecution(ctx, id)
		}
		return nil, fmt.Errorf("mongodb update execution %q: %w", id, err)
	}
	return fromExecutionDocument(&doc), nil
}

func terminalStatuses() []string {
	return []string{
		string(store.StatusSuccess),
		string(store.StatusFailed),
		string(store.StatusCancelled),
	}
}

// CreateNodeExecution persists a new node execution record.
func (s *Store) CreateNodeExecution(ctx context.Context, rec *store.NodeExecution) (*store.NodeExecution, error) {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	if _, err := s.nodeExecs.InsertOne(ctx, toNodeExecutionDocument(&cp)); err != nil {
		return nil, fmt.Errorf("mongodb create node execution for node %q: %w", cp.NodeID, err)
	}
	return &cp, nil
}

// UpdateNodeExecutionStatus flips a node execution to the given status,
// records output or error, and sets FinishedAt when the status is terminal.
func (s *Store) UpdateNodeExecutionStatus(ctx context.Context, id string, status store.Status, output any, errMsg string) (*store.NodeExecution, error) {
	set := bson.M{"status": string(status)}
	if output != nil {
		set["output_data"] = output
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	if status.Terminal() {
		set["finished_at"] = time.Now().UTC()
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc nodeExecutionDocument
	err := s.nodeExecs.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb update node execution %q: %w", id, err)
	}
	return fromNodeExecutionDocument(&doc), nil
}

// ListNodeExecutions returns the node executions for a run, oldest first by
// start time.
func (s *Store) ListNodeExecutions(ctx context.Context, executionID string) ([]*store.NodeExecution, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}})
	cursor, err := s.nodeExecs.Find(ctx, bson.M{"execution_id": executionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list node executions for run %q: %w", executionID, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []nodeExecutionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list node executions decode: %w", err)
	}
	result := make([]*store.NodeExecution, len(docs))
	for i := range docs {
		result[i] = fromNodeExecutionDocument(&docs[i])
	}
	return result, nil
}

// toWorkflowDocument converts a Workflow to a MongoDB document.
func toWorkflowDocument(wf *store.Workflow) *workflowDocument {
	nodes := make([]nodeDocument, len(wf.Nodes))
	for i, n := range wf.Nodes {
		nodes[i] = nodeDocument{ID: n.ID, Type: n.Type, Name: n.Name, Parameters: n.Parameters}
	}
	edges := make([]edgeDocument, len(wf.Edges))
	for i, e := range wf.Edges {
		edges[i] = edgeDocument{From: e.From, To: e.To, FromOutput: e.FromOutput, ToInput: e.ToInput}
	}
	return &workflowDocument{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       nodes,
		Edges:       edges,
		Active:      wf.Active,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// fromWorkflowDocument converts a MongoDB document to a Workflow.
func fromWorkflowDocument(doc *workflowDocument) *store.Workflow {
	nodes := make([]workflow.NodeDefinition, len(doc.Nodes))
	for i, n := range doc.Nodes {
		nodes[i] = workflow.NodeDefinition{ID: n.ID, Type: n.Type, Name: n.Name, Parameters: n.Parameters}
	}
	edges := make([]workflow.EdgeDefinition, len(doc.Edges))
	for i, e := range doc.Edges {
		edges[i] = workflow.EdgeDefinition{From: e.From, To: e.To, FromOutput: e.FromOutput, ToInput: e.ToInput}
	}
	return &store.Workflow{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Nodes:       nodes,
		Edges:       edges,
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func toExecutionDocument(exec *store.WorkflowExecution) *executionDocument {
	return &executionDocument{
		ID:         exec.ID,
		WorkflowID: exec.WorkflowID,
		Status:     string(exec.Status),
		StartedAt:  exec.StartedAt,
		FinishedAt: exec.FinishedAt,
		UpdatedAt:  exec.UpdatedAt,
		InputData:  exec.InputData,
		OutputData: exec.OutputData,
		Error:      exec.Error,
	}
}

func fromExecutionDocument(doc *executionDocument) *store.WorkflowExecution {
	return &store.WorkflowExecution{
		ID:         doc.ID,
		WorkflowID: doc.WorkflowID,
		Status:     store.Status(doc.Status),
		StartedAt:  doc.StartedAt,
		FinishedAt: doc.FinishedAt,
		UpdatedAt:  doc.UpdatedAt,
		InputData:  doc.InputData,
		OutputData: doc.OutputData,
		Error:      doc.Error,
	}
}

func toNodeExecutionDocument(rec *store.NodeExecution) *nodeExecutionDocument {
	return &nodeExecutionDocument{
		ID:          rec.ID,
		ExecutionID: rec.ExecutionID,
		NodeID:      rec.NodeID,
		Status:      string(rec.Status),
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		InputData:   rec.InputData,
		OutputData:  rec.OutputData,
		Error:       rec.Error,
	}
}

func fromNodeExecutionDocument(doc *nodeExecutionDocument) *store.NodeExecution {
	return &store.NodeExecution{
		ID:          doc.ID,
		ExecutionID: doc.ExecutionID,
		NodeID:      doc.NodeID,
		Status:      store.Status(doc.Status),
		StartedAt:   doc.StartedAt,
		FinishedAt:  doc.FinishedAt,
		InputData:   doc.InputData,
		OutputData:  doc.OutputData,
		Error:       doc.Error,
	}
}
