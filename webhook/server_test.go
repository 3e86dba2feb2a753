package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/flowkit-dev/flowkit/engine"
	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/nodes"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/store/memory"
	"github.com/flowkit-dev/flowkit/workflow"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *engine.Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	reg := node.NewRegistry()
	eng := engine.New(st, reg)
	nodes.Register(reg, nodes.Deps{Runner: eng, Store: st})

	srv := httptest.NewServer(NewServer(eng, opts...).Handler(log.Context(context.Background())))
	t.Cleanup(srv.Close)
	return srv, eng, st
}

func waitingRun(t *testing.T, eng *engine.Engine, waitID string) <-chan *store.WorkflowExecution {
	t.Helper()
	def := &workflow.Definition{
		Name: "waiting",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "W", Type: "wait_for_webhook", Parameters: map[string]any{"wait_id": waitID, "timeout_seconds": 30}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "W"}},
	}
	done := make(chan *store.WorkflowExecution, 1)
	go func() {
		exec, _ := eng.Execute(context.Background(), def, "wf-1", nil)
		done <- exec
	}()

	deadline := time.After(2 * time.Second)
	for len(eng.ActiveWaits()) == 0 {
		select {
		case <-deadline:
			t.Fatal("run never suspended")
		case <-time.After(5 * time.Millisecond):
		}
	}
	return done
}

func TestResumeDeliversPayload(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	done := waitingRun(t, eng, "tok-1")

	resp, err := http.Post(srv.URL+"/webhook/resume/tok-1", "application/json", strings.NewReader(`{"approved":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	exec := <-done
	require.Equal(t, store.StatusSuccess, exec.Status, exec.Error)
	assert.Equal(t, true, exec.OutputData.(map[string]any)["approved"])
}

func TestResumeUnknownWaitIDReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/webhook/resume/ghost", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResumeRejectsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/webhook/resume/any", "application/json", strings.NewReader(`{"broken`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitReturns429(t *testing.T) {
	srv, _, _ := newTestServer(t, WithRateLimit(rate.Limit(0.001), 1))

	first, err := http.Post(srv.URL+"/webhook/resume/a", "application/json", nil)
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusNotFound, first.StatusCode)

	second, err := http.Post(srv.URL+"/webhook/resume/b", "application/json", nil)
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestWaitsListing(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	done := waitingRun(t, eng, "tok-list")

	resp, err := http.Get(srv.URL + "/webhook/waits")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Waits []engine.WaitInfo `json:"waits"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Waits, 1)
	assert.Equal(t, "tok-list", body.Waits[0].WaitID)
	assert.Equal(t, "/webhook/resume/tok-list", body.Waits[0].Path)

	require.NoError(t, eng.ResumeByWebhook(context.Background(), "tok-list", nil))
	<-done
}

func TestTriggerRunsWorkflowByName(t *testing.T) {
	srv, _, st := newTestServer(t)
	_, err := st.ImportWorkflow(context.Background(), &workflow.Definition{
		Name:  "inbound",
		Nodes: []workflow.NodeDefinition{{ID: "T", Type: "webhook_trigger"}},
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/webhook/trigger/inbound", "application/json", strings.NewReader(`{"event":"push"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var exec store.WorkflowExecution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exec))
	assert.Equal(t, store.StatusSuccess, exec.Status)
}

func TestTriggerUnknownWorkflowReturnsFailedRecord(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/webhook/trigger/nope", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var exec store.WorkflowExecution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exec))
	assert.Equal(t, store.StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "nope")
}
