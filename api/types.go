package api

import (
	"github.com/orchestron-ai/orchestron/store"
	"github.com/orchestron-ai/orchestron/workflow"
)

// ExecuteRequest starts a run of the posted workflow definition.
type ExecuteRequest struct {
	Workflow *workflow.Graph `json:"workflow"`
	// TriggerMessage seeds the conversation; empty falls back to the start
	// node's start_prompt.
	TriggerMessage string `json:"trigger_message,omitempty"`
}

// ExecuteResponse acknowledges an accepted run. The run itself proceeds in
// the background; clients follow it via the conversation or stream endpoints.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// ValidateResponse reports the validator's findings for a posted definition.
type ValidateResponse struct {
	Valid    bool                       `json:"is_valid"`
	Errors   []workflow.ValidationError `json:"errors,omitempty"`
	Warnings []workflow.ValidationError `json:"warnings,omitempty"`
	Analysis workflow.Analysis          `json:"analysis"`
}

// ConversationResponse is an execution's transcript plus its current state.
type ConversationResponse struct {
	ExecutionID string                   `json:"execution_id"`
	Status      string                   `json:"status"`
	Messages    []store.ExecutionMessage `json:"messages"`
}

// HistoryResponse lists recent executions of one workflow, newest first.
type HistoryResponse struct {
	WorkflowID string                    `json:"workflow_id"`
	Executions []store.WorkflowExecution `json:"executions"`
}

// StreamEvent is one websocket frame on the transcript stream.
type StreamEvent struct {
	// Type is "message" while the transcript grows and "status" once the
	// execution reaches a terminal state.
	Type    string                  `json:"type"`
	Message *store.ExecutionMessage `json:"message,omitempty"`
	Status  string                  `json:"status,omitempty"`
}
