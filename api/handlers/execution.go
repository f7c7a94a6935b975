package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/api"
	"github.com/orchestron-ai/orchestron/store"
)

// ExecutionHandler serves transcripts and cancellation for individual runs.
type ExecutionHandler struct {
	runs   RunLauncher
	store  store.ExecutionStore
	logger *zap.Logger
}

// NewExecutionHandler wires the execution endpoints.
func NewExecutionHandler(runs RunLauncher, st store.ExecutionStore, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		runs:   runs,
		store:  st,
		logger: logger.With(zap.String("component", "execution_handler")),
	}
}

// HandleConversation returns an execution's full transcript in sequence
// order, along with its current status.
func (h *ExecutionHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	status, err := h.store.GetStatus(r.Context(), executionID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	msgs, err := h.store.Conversation(r.Context(), executionID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.ConversationResponse{
		ExecutionID: executionID,
		Status:      status,
		Messages:    msgs,
	})
}

// HandleCancel requests cancellation of a running execution. The run stops
// at its next turn boundary.
func (h *ExecutionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	if err := h.runs.Cancel(r.Context(), executionID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("cancellation requested", zap.String("execution_id", executionID))
	WriteSuccess(w, api.ExecuteResponse{
		ExecutionID: executionID,
		Status:      store.StatusCancelled,
	})
}
