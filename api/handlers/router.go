package handlers

import "net/http"

// Router wires every endpoint onto one mux. The metrics handler is passed in
// so the HTTP surface does not depend on the metrics registry directly.
func Router(wf *WorkflowHandler, ex *ExecutionHandler, stream *StreamHandler, health *HealthHandler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/workflows/validate", wf.HandleValidate)
	mux.HandleFunc("POST /api/workflows/{id}/execute", wf.HandleExecute)
	mux.HandleFunc("GET /api/workflows/{id}/history", wf.HandleHistory)

	mux.HandleFunc("GET /api/executions/{id}/conversation", ex.HandleConversation)
	mux.HandleFunc("POST /api/executions/{id}/cancel", ex.HandleCancel)
	mux.HandleFunc("GET /api/executions/{id}/stream", stream.HandleStream)

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return mux
}
