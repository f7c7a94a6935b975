package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/api"
	"github.com/orchestron-ai/orchestron/internal/database"
	"github.com/orchestron-ai/orchestron/store"
	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

// fakeLauncher records Start/Cancel calls and returns scripted results.
type fakeLauncher struct {
	startErr    error
	cancelErr   error
	executionID string
	started     []*workflow.Graph
	cancelled   []string
}

func (f *fakeLauncher) Start(g *workflow.Graph, trigger string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, g)
	return f.executionID, nil
}

func (f *fakeLauncher) Cancel(_ context.Context, executionID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, executionID)
	return nil
}

func newHandlerStore(t *testing.T) *store.GormStore {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)

	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	s := store.NewGormStore(pool, zap.NewNop())
	require.NoError(t, s.Migrate())
	return s
}

func validGraphJSON(t *testing.T, workflowID string) []byte {
	t.Helper()
	g := workflow.Graph{
		WorkflowID: workflowID,
		Agents: []workflow.Agent{
			{ID: "start", Type: workflow.AgentStartNode, Name: "Start", IsStartNode: true},
			{ID: "a", Type: workflow.AgentAssistant, Name: "Alpha",
				LLM: &workflow.LLMConfiguration{Provider: "openai", Model: "gpt-4o", MaxTokens: 512}},
			{ID: "end", Type: workflow.AgentEndNode, Name: "End", IsEndNode: true},
		},
		Connections: []workflow.Connection{
			{ID: "c1", FromAgentID: "start", ToAgentID: "a", Type: workflow.ConnectionDirect},
			{ID: "c2", FromAgentID: "a", ToAgentID: "end", Type: workflow.ConnectionDirect},
		},
		Flow: workflow.FlowConfiguration{
			StartAgentID:        "start",
			EndAgentIDs:         []string{"end"},
			TerminationStrategy: workflow.TerminateEndNodeReached,
		},
	}
	data, err := json.Marshal(&g)
	require.NoError(t, err)
	return data
}

func TestHandleValidateValidGraph(t *testing.T) {
	h := NewWorkflowHandler(&fakeLauncher{}, newHandlerStore(t), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/workflows/validate",
		bytes.NewReader(validGraphJSON(t, "wf-1")))
	h.HandleValidate(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var vr api.ValidateResponse
	require.NoError(t, json.Unmarshal(payload, &vr))

	assert.True(t, vr.Valid)
	assert.Empty(t, vr.Errors)
	assert.Equal(t, 3, vr.Analysis.AgentCount)
	assert.Equal(t, 1, vr.Analysis.PathCount)

	// Validity travels under the same wire key the validator itself uses.
	assert.Contains(t, string(payload), `"is_valid":true`)
}

func TestHandleValidateInvalidGraphStill200(t *testing.T) {
	h := NewWorkflowHandler(&fakeLauncher{}, newHandlerStore(t), zap.NewNop())

	// No start node at all.
	g := workflow.Graph{
		WorkflowID: "wf-bad",
		Agents: []workflow.Agent{
			{ID: "end", Type: workflow.AgentEndNode, Name: "End", IsEndNode: true},
		},
		Flow: workflow.FlowConfiguration{EndAgentIDs: []string{"end"}},
	}
	body, err := json.Marshal(&g)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/workflows/validate", bytes.NewReader(body))
	h.HandleValidate(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var vr api.ValidateResponse
	require.NoError(t, json.Unmarshal(payload, &vr))

	assert.False(t, vr.Valid)
	assert.NotEmpty(t, vr.Errors)
}

func TestHandleValidateMalformedBody(t *testing.T) {
	h := NewWorkflowHandler(&fakeLauncher{}, newHandlerStore(t), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/workflows/validate",
		bytes.NewReader([]byte(`{"agents": [`)))
	h.HandleValidate(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func executeRequest(t *testing.T, workflowID string, req api.ExecuteRequest) *http.Request {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/workflows/"+workflowID+"/execute", bytes.NewReader(body))
	r.SetPathValue("id", workflowID)
	return r
}

func TestHandleExecuteAccepted(t *testing.T) {
	launcher := &fakeLauncher{executionID: "exec-123"}
	h := NewWorkflowHandler(launcher, newHandlerStore(t), zap.NewNop())

	var g workflow.Graph
	require.NoError(t, json.Unmarshal(validGraphJSON(t, ""), &g))

	w := httptest.NewRecorder()
	h.HandleExecute(w, executeRequest(t, "wf-1", api.ExecuteRequest{
		Workflow:       &g,
		TriggerMessage: "hello",
	}))

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var er api.ExecuteResponse
	require.NoError(t, json.Unmarshal(payload, &er))
	assert.Equal(t, "exec-123", er.ExecutionID)
	assert.Equal(t, store.StatusRunning, er.Status)

	// The path ID filled the empty workflow_id before launch.
	require.Len(t, launcher.started, 1)
	assert.Equal(t, "wf-1", launcher.started[0].WorkflowID)
}

func TestHandleExecuteWorkflowIDMismatch(t *testing.T) {
	h := NewWorkflowHandler(&fakeLauncher{executionID: "x"}, newHandlerStore(t), zap.NewNop())

	var g workflow.Graph
	require.NoError(t, json.Unmarshal(validGraphJSON(t, "wf-other"), &g))

	w := httptest.NewRecorder()
	h.HandleExecute(w, executeRequest(t, "wf-1", api.ExecuteRequest{Workflow: &g}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExecuteMissingWorkflow(t *testing.T) {
	h := NewWorkflowHandler(&fakeLauncher{}, newHandlerStore(t), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleExecute(w, executeRequest(t, "wf-1", api.ExecuteRequest{}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExecuteLauncherValidationError(t *testing.T) {
	launcher := &fakeLauncher{startErr: types.NewError(types.ErrFlow, "workflow failed validation")}
	h := NewWorkflowHandler(launcher, newHandlerStore(t), zap.NewNop())

	var g workflow.Graph
	require.NoError(t, json.Unmarshal(validGraphJSON(t, "wf-1"), &g))

	w := httptest.NewRecorder()
	h.HandleExecute(w, executeRequest(t, "wf-1", api.ExecuteRequest{Workflow: &g}))

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FLOW_ERROR", resp.Error.Code)
}

func TestHandleHistory(t *testing.T) {
	st := newHandlerStore(t)
	h := NewWorkflowHandler(&fakeLauncher{}, st, zap.NewNop())

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, st.CreateExecution(context.Background(), &store.WorkflowExecution{
			ExecutionID: id,
			WorkflowID:  "wf-1",
			Status:      store.StatusCompleted,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/workflows/wf-1/history?limit=2", nil)
	r.SetPathValue("id", "wf-1")
	h.HandleHistory(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	payload, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var hr api.HistoryResponse
	require.NoError(t, json.Unmarshal(payload, &hr))

	assert.Equal(t, "wf-1", hr.WorkflowID)
	require.Len(t, hr.Executions, 2)
	assert.Equal(t, "exec-3", hr.Executions[0].ExecutionID, "newest first")
	assert.Equal(t, "exec-2", hr.Executions[1].ExecutionID)
}

func TestHandleHistoryBadLimit(t *testing.T) {
	h := NewWorkflowHandler(&fakeLauncher{}, newHandlerStore(t), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/workflows/wf-1/history?limit=nope", nil)
	r.SetPathValue("id", "wf-1")
	h.HandleHistory(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
