package orchestrator

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orchestron-ai/orchestron/store"
	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

// DefaultMaxConcurrentRuns bounds the number of workflow runs in flight.
const DefaultMaxConcurrentRuns = 32

// RunManager owns the background goroutines executing workflow runs. The
// API layer starts runs through it and returns immediately; runs share no
// state with each other.
type RunManager struct {
	orch   *Orchestrator
	store  store.ExecutionStore
	logger *zap.Logger

	group   *errgroup.Group
	baseCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRunManager builds a manager whose runs live under ctx; cancelling ctx
// stops every run at its next turn boundary.
func NewRunManager(ctx context.Context, orch *Orchestrator, st store.ExecutionStore, maxConcurrent int, logger *zap.Logger) *RunManager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrent)
	return &RunManager{
		orch:    orch,
		store:   st,
		logger:  logger.With(zap.String("component", "run_manager")),
		group:   group,
		baseCtx: groupCtx,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start validates the graph synchronously, then plays the run on a
// background goroutine. The returned execution ID is live immediately;
// callers poll or stream the transcript.
func (m *RunManager) Start(g *workflow.Graph, trigger string) (string, error) {
	if res := workflow.Validate(g); !res.Valid {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Error())
		}
		return "", types.NewError(types.ErrFlow,
			"workflow failed validation: "+strings.Join(msgs, "; "))
	}

	executionID := NewExecutionID()
	runCtx, cancel := context.WithCancel(m.baseCtx)

	m.mu.Lock()
	m.cancels[executionID] = cancel
	m.mu.Unlock()

	m.group.Go(func() error {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.cancels, executionID)
			m.mu.Unlock()
		}()

		if _, err := m.orch.Run(runCtx, g, executionID, trigger); err != nil {
			m.logger.Error("run failed to start",
				zap.String("execution_id", executionID),
				zap.Error(err),
			)
		}
		// Run outcomes live in the store; a failed run never tears the
		// group down.
		return nil
	})

	return executionID, nil
}

// Cancel requests cancellation of a running execution. The store flag stops
// the loop at the next turn boundary even if the run lives on another
// instance; the local context cancel shortcuts waits on this one.
func (m *RunManager) Cancel(ctx context.Context, executionID string) error {
	if err := m.store.MarkCancelled(ctx, executionID); err != nil {
		return err
	}
	m.mu.Lock()
	if cancel, ok := m.cancels[executionID]; ok {
		cancel()
	}
	m.mu.Unlock()
	return nil
}

// Wait blocks until every in-flight run has finished. Called during
// shutdown after the base context is cancelled.
func (m *RunManager) Wait() error {
	return m.group.Wait()
}
