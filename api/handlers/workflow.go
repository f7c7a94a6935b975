package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/api"
	"github.com/orchestron-ai/orchestron/store"
	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

// RunLauncher starts and cancels background workflow runs. Implemented by
// the orchestrator's run manager.
type RunLauncher interface {
	Start(g *workflow.Graph, trigger string) (string, error)
	Cancel(ctx context.Context, executionID string) error
}

// WorkflowHandler serves workflow validation, execution, and history.
type WorkflowHandler struct {
	runs   RunLauncher
	store  store.ExecutionStore
	logger *zap.Logger
}

// NewWorkflowHandler wires the workflow endpoints.
func NewWorkflowHandler(runs RunLauncher, st store.ExecutionStore, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		runs:   runs,
		store:  st,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// HandleValidate validates a posted workflow definition. The response is 200
// whether or not the definition is valid; validity lives in the payload.
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var g workflow.Graph
	if err := DecodeJSONBody(w, r, &g, h.logger); err != nil {
		return
	}

	res := workflow.Validate(&g)
	h.logger.Info("workflow validated",
		zap.String("workflow_id", g.WorkflowID),
		zap.Bool("valid", res.Valid),
		zap.Int("errors", len(res.Errors)),
		zap.Int("warnings", len(res.Warnings)),
	)

	WriteSuccess(w, api.ValidateResponse{
		Valid:    res.Valid,
		Errors:   res.Errors,
		Warnings: res.Warnings,
		Analysis: res.Analysis,
	})
}

// HandleExecute starts a run of the posted definition and answers 202 with
// the execution ID. The run proceeds on a background goroutine.
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var req api.ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Workflow == nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "workflow definition is required"), h.logger)
		return
	}
	if req.Workflow.WorkflowID == "" {
		req.Workflow.WorkflowID = workflowID
	}
	if req.Workflow.WorkflowID != workflowID {
		WriteError(w, types.NewError(types.ErrInvalidRequest,
			"workflow_id in body does not match the path"), h.logger)
		return
	}

	executionID, err := h.runs.Start(req.Workflow, req.TriggerMessage)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("execution accepted",
		zap.String("workflow_id", workflowID),
		zap.String("execution_id", executionID),
	)
	WriteAccepted(w, api.ExecuteResponse{
		ExecutionID: executionID,
		Status:      store.StatusRunning,
	})
}

// HandleHistory lists a workflow's recent executions, newest first.
func (h *WorkflowHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "limit must be a non-negative integer"), h.logger)
			return
		}
		limit = n
	}

	execs, err := h.store.History(r.Context(), workflowID, limit)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.HistoryResponse{
		WorkflowID: workflowID,
		Executions: execs,
	})
}
