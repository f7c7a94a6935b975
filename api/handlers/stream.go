package handlers

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/api"
	"github.com/orchestron-ai/orchestron/store"
)

// DefaultStreamPollInterval is how often the stream polls the store for new
// transcript rows.
const DefaultStreamPollInterval = 500 * time.Millisecond

// StreamHandler pushes an execution's transcript over a websocket. Writes go
// through the store, so the stream works regardless of which instance owns
// the run: the handler polls the message sequence and forwards every new row.
type StreamHandler struct {
	store        store.ExecutionStore
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewStreamHandler wires the transcript stream endpoint.
func NewStreamHandler(st store.ExecutionStore, pollInterval time.Duration, logger *zap.Logger) *StreamHandler {
	if pollInterval <= 0 {
		pollInterval = DefaultStreamPollInterval
	}
	return &StreamHandler{
		store:        st,
		logger:       logger.With(zap.String("component", "stream_handler")),
		pollInterval: pollInterval,
	}
}

// HandleStream upgrades to a websocket and forwards transcript messages as
// they are recorded. Once the execution reaches a terminal state the handler
// sends a final status event and closes normally.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	// Reject unknown executions before upgrading.
	if _, err := h.store.GetStatus(r.Context(), executionID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	lastSeq := 0
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		msgs, err := h.store.MessagesSince(ctx, executionID, lastSeq)
		if err != nil {
			h.logger.Warn("stream poll failed",
				zap.String("execution_id", executionID),
				zap.Error(err),
			)
			conn.Close(websocket.StatusInternalError, "transcript read failed")
			return
		}
		for i := range msgs {
			if err := wsjson.Write(ctx, conn, api.StreamEvent{Type: "message", Message: &msgs[i]}); err != nil {
				return
			}
			lastSeq = msgs[i].SequenceNumber
		}

		status, err := h.store.GetStatus(ctx, executionID)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "status read failed")
			return
		}
		if isTerminal(status) {
			// Drain rows recorded between the last poll and the terminal
			// transition before closing.
			if tail, err := h.store.MessagesSince(ctx, executionID, lastSeq); err == nil {
				for i := range tail {
					if err := wsjson.Write(ctx, conn, api.StreamEvent{Type: "message", Message: &tail[i]}); err != nil {
						return
					}
					lastSeq = tail[i].SequenceNumber
				}
			}
			_ = wsjson.Write(ctx, conn, api.StreamEvent{Type: "status", Status: status})
			conn.Close(websocket.StatusNormalClosure, "execution finished")
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client context done")
			return
		case <-ticker.C:
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case store.StatusCompleted, store.StatusFailed, store.StatusCancelled:
		return true
	}
	return false
}
