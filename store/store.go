package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orchestron-ai/orchestron/internal/database"
	"github.com/orchestron-ai/orchestron/types"
)

// appendRetries covers deadlocks between the per-turn transaction and
// concurrent history reads.
const appendRetries = 3

// FinalizeParams carries the terminal outcome of an execution.
type FinalizeParams struct {
	Status              string
	ErrorSummary        string
	TotalAgentsInvolved int
	ProvidersUsed       []string
}

// ExecutionStore is the persistence contract the orchestrator runs against.
// AppendTurn is transactional: the message insert and the execution counter
// bump commit together, so sequence numbers stay dense even across crashes.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *WorkflowExecution) error
	AppendTurn(ctx context.Context, executionID string, msg types.Message) (int, error)
	FinalizeExecution(ctx context.Context, executionID string, params FinalizeParams) error
	RecordWorkflowStats(ctx context.Context, workflowID, workflowName string, success bool, duration time.Duration) error
	History(ctx context.Context, workflowID string, limit int) ([]WorkflowExecution, error)
	Conversation(ctx context.Context, executionID string) ([]ExecutionMessage, error)
	MessagesSince(ctx context.Context, executionID string, afterSequence int) ([]ExecutionMessage, error)
	MarkCancelled(ctx context.Context, executionID string) error
	GetStatus(ctx context.Context, executionID string) (string, error)
}

// GormStore implements ExecutionStore over the database pool.
type GormStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormStore wires the store over an initialized pool.
func NewGormStore(pool *database.PoolManager, logger *zap.Logger) *GormStore {
	return &GormStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "execution_store")),
	}
}

// Migrate creates or updates the schema.
func (s *GormStore) Migrate() error {
	if err := s.pool.DB().AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate execution store schema: %w", err)
	}
	return nil
}

// CreateExecution inserts a new execution row. Status defaults to pending
// when unset.
func (s *GormStore) CreateExecution(ctx context.Context, exec *WorkflowExecution) error {
	if exec.ExecutionID == "" {
		return types.NewError(types.ErrInvalidRequest, "execution_id is required")
	}
	if exec.Status == "" {
		exec.Status = StatusPending
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if err := s.pool.DB().WithContext(ctx).Create(exec).Error; err != nil {
		return types.NewError(types.ErrInternal, "create execution").WithCause(err)
	}
	return nil
}

// AppendTurn records one transcript message. Within a single transaction it
// reads the execution's counter, inserts the message at counter+1, and
// writes the counter back, so a gap can never be observed.
func (s *GormStore) AppendTurn(ctx context.Context, executionID string, msg types.Message) (int, error) {
	var seq int
	err := s.pool.WithTransactionRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		var exec WorkflowExecution
		if err := tx.Where("execution_id = ?", executionID).First(&exec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrNotFound, "execution not found: "+executionID)
			}
			return err
		}
		if exec.Status != StatusRunning && exec.Status != StatusPending {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("cannot append to execution in status %q", exec.Status))
		}

		seq = exec.TotalMessages + 1
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		row := ExecutionMessage{
			ExecutionID:    executionID,
			SequenceNumber: seq,
			SenderAgentID:  msg.SenderID,
			SenderName:     msg.SenderName,
			Role:           string(msg.Role),
			Content:        msg.Content,
			Timestamp:      ts,
			TokensUsed:     msg.TokensUsed,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&WorkflowExecution{}).
			Where("execution_id = ?", executionID).
			Updates(map[string]any{
				"total_messages": seq,
				"status":         StatusRunning,
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// FinalizeExecution moves a run to a terminal state exactly once. A second
// call, or a call against an already-stamped run, is rejected. Cancellation
// keeps the last word on status: a completed or failed finalize landing on a
// cancelled-but-unstamped row records the timing and stats but leaves the
// row cancelled.
func (s *GormStore) FinalizeExecution(ctx context.Context, executionID string, params FinalizeParams) error {
	switch params.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return types.NewError(types.ErrInvalidRequest, "finalize requires a terminal status, got "+params.Status)
	}

	providers := append([]string{}, params.ProvidersUsed...)
	sort.Strings(providers)

	now := time.Now().UTC()
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var exec WorkflowExecution
		if err := tx.Where("execution_id = ?", executionID).First(&exec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrNotFound, "execution not found: "+executionID)
			}
			return err
		}

		updates := map[string]any{
			"status":                params.Status,
			"completed_at":          now,
			"error_summary":         params.ErrorSummary,
			"duration_seconds":      now.Sub(exec.StartedAt).Seconds(),
			"total_agents_involved": params.TotalAgentsInvolved,
			"providers_used":        strings.Join(providers, ","),
		}
		// A cancellation request flips status ahead of finalization; the
		// finalize that follows still owns completed_at and the stats, but
		// never overwrites the cancellation itself.
		if params.Status != StatusCancelled && exec.Status == StatusCancelled {
			updates["status"] = StatusCancelled
			updates["error_summary"] = "run cancelled"
		}

		res := tx.Model(&WorkflowExecution{}).
			Where("execution_id = ?", executionID).
			Where("(status IN ? OR (status = ? AND completed_at IS NULL))",
				[]string{StatusPending, StatusRunning}, StatusCancelled).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("execution %s is already finalized", executionID))
		}
		return nil
	})
}

// RecordWorkflowStats folds one terminal execution into the workflow's
// aggregate counters with a rolling average.
func (s *GormStore) RecordWorkflowStats(ctx context.Context, workflowID, workflowName string, success bool, duration time.Duration) error {
	now := time.Now().UTC()
	return s.pool.WithTransactionRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		var rec WorkflowRecord
		err := tx.Where("workflow_id = ?", workflowID).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = WorkflowRecord{WorkflowID: workflowID, WorkflowName: workflowName}
		case err != nil:
			return err
		}

		total := rec.TotalExecutions + 1
		rec.AverageExecutionSeconds =
			(rec.AverageExecutionSeconds*float64(rec.TotalExecutions) + duration.Seconds()) / float64(total)
		rec.TotalExecutions = total
		if success {
			rec.SuccessfulExecutions++
		}
		rec.LastExecutedAt = &now
		if workflowName != "" {
			rec.WorkflowName = workflowName
		}
		return tx.Save(&rec).Error
	})
}

// History lists the most recent executions of a workflow, newest first.
func (s *GormStore) History(ctx context.Context, workflowID string, limit int) ([]WorkflowExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	var execs []WorkflowExecution
	err := s.pool.DB().WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at DESC").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "load workflow history").WithCause(err)
	}
	return execs, nil
}

// Conversation returns an execution's full transcript in sequence order.
func (s *GormStore) Conversation(ctx context.Context, executionID string) ([]ExecutionMessage, error) {
	return s.MessagesSince(ctx, executionID, 0)
}

// MessagesSince returns transcript rows after the given sequence number, in
// order. The websocket stream polls this.
func (s *GormStore) MessagesSince(ctx context.Context, executionID string, afterSequence int) ([]ExecutionMessage, error) {
	var msgs []ExecutionMessage
	err := s.pool.DB().WithContext(ctx).
		Where("execution_id = ? AND sequence_number > ?", executionID, afterSequence).
		Order("sequence_number ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "load conversation").WithCause(err)
	}
	return msgs, nil
}

// MarkCancelled requests cancellation of a pending or running execution.
// The orchestrator observes the status between turns and finalizes.
func (s *GormStore) MarkCancelled(ctx context.Context, executionID string) error {
	res := s.pool.DB().WithContext(ctx).
		Model(&WorkflowExecution{}).
		Where("execution_id = ? AND status IN ?", executionID, []string{StatusPending, StatusRunning}).
		Update("status", StatusCancelled)
	if res.Error != nil {
		return types.NewError(types.ErrInternal, "mark execution cancelled").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrInvalidRequest, "execution is not pending or running")
	}
	return nil
}

// GetStatus reads an execution's current status.
func (s *GormStore) GetStatus(ctx context.Context, executionID string) (string, error) {
	var exec WorkflowExecution
	err := s.pool.DB().WithContext(ctx).
		Select("status").
		Where("execution_id = ?", executionID).
		First(&exec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", types.NewError(types.ErrNotFound, "execution not found: "+executionID)
		}
		return "", types.NewError(types.ErrInternal, "load execution status").WithCause(err)
	}
	return exec.Status, nil
}
