// Package store persists workflow executions and their transcripts. The
// orchestrator consumes the ExecutionStore interface; the GORM
// implementation runs on sqlite, postgres, or mysql.
package store

import (
	"time"
)

// Execution lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// WorkflowRecord aggregates execution statistics per workflow definition.
// Updated exactly once when an execution reaches a terminal state.
type WorkflowRecord struct {
	WorkflowID              string     `gorm:"primaryKey;size:64" json:"workflow_id"`
	WorkflowName            string     `gorm:"size:255" json:"workflow_name"`
	TotalExecutions         int64      `json:"total_executions"`
	SuccessfulExecutions    int64      `json:"successful_executions"`
	LastExecutedAt          *time.Time `json:"last_executed_at,omitempty"`
	AverageExecutionSeconds float64    `json:"average_execution_seconds"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// TableName keeps the stats table apart from execution rows.
func (WorkflowRecord) TableName() string { return "workflow_records" }

// WorkflowExecution is one run of a workflow graph.
type WorkflowExecution struct {
	ExecutionID         string     `gorm:"primaryKey;size:64" json:"execution_id"`
	WorkflowID          string     `gorm:"index;size:64" json:"workflow_id"`
	ProjectID           string     `gorm:"index;size:64" json:"project_id"`
	Status              string     `gorm:"index;size:16" json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	TotalMessages       int        `json:"total_messages"`
	ErrorSummary        string     `gorm:"size:1024" json:"error_summary,omitempty"`
	DurationSeconds     float64    `json:"duration_seconds"`
	TotalAgentsInvolved int        `json:"total_agents_involved"`
	// ProvidersUsed is a comma-joined, sorted provider list.
	ProvidersUsed string    `gorm:"size:255" json:"providers_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName is explicit so the executions table survives model renames.
func (WorkflowExecution) TableName() string { return "workflow_executions" }

// ExecutionMessage is one recorded transcript turn. SequenceNumber starts at
// 1 and is dense per execution; the composite unique index backs that
// invariant at the schema level.
type ExecutionMessage struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	ExecutionID    string    `gorm:"uniqueIndex:idx_execution_sequence;size:64" json:"execution_id"`
	SequenceNumber int       `gorm:"uniqueIndex:idx_execution_sequence" json:"sequence_number"`
	SenderAgentID  string    `gorm:"size:64" json:"sender_agent_id"`
	SenderName     string    `gorm:"size:255" json:"sender_name"`
	Role           string    `gorm:"size:32" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	TokensUsed     int       `json:"tokens_used,omitempty"`
}

// TableName groups transcript rows under their own table.
func (ExecutionMessage) TableName() string { return "workflow_execution_messages" }

// Models lists every table for schema migration.
func Models() []any {
	return []any{
		&WorkflowRecord{},
		&WorkflowExecution{},
		&ExecutionMessage{},
	}
}
