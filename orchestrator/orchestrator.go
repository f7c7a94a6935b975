// Package orchestrator executes a validated workflow graph turn by turn:
// select the next agent, assemble its prompt, optionally retrieve knowledge,
// call the completion gateway, record the turn, and evaluate termination.
// One run is strictly sequential; concurrency exists only across runs.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/gateway"
	"github.com/orchestron-ai/orchestron/internal/metrics"
	"github.com/orchestron-ai/orchestron/retrieval"
	"github.com/orchestron-ai/orchestron/store"
	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

// Gateway call timeouts. Both are suspension points of the turn loop; a
// timeout is a transient failure handled by the retry wrapper.
const (
	DefaultCompletionTimeout = 60 * time.Second
	DefaultRetrievalTimeout  = 10 * time.Second
)

// Config wires the orchestrator's collaborators. Store and Gateways are
// required; Retriever may be nil when no workflow uses retrieval.
type Config struct {
	Store             store.ExecutionStore
	Gateways          *gateway.Registry
	Retriever         retrieval.Gateway
	Tokenizer         types.Tokenizer
	Metrics           *metrics.Collector
	Tracer            trace.Tracer
	Logger            *zap.Logger
	CompletionTimeout time.Duration
	RetrievalTimeout  time.Duration
}

// Orchestrator drives workflow runs. Safe for concurrent use; all per-run
// state lives in the run context threaded through each call.
type Orchestrator struct {
	store             store.ExecutionStore
	gateways          *gateway.Registry
	retriever         retrieval.Gateway
	tokenizer         types.Tokenizer
	metrics           *metrics.Collector
	tracer            trace.Tracer
	logger            *zap.Logger
	completionTimeout time.Duration
	retrievalTimeout  time.Duration
}

// New builds an orchestrator from the config, applying defaults for the
// optional fields.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a store")
	}
	if cfg.Gateways == nil {
		return nil, fmt.Errorf("orchestrator requires a gateway registry")
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = types.NewEstimateTokenizer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("orchestron")
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = DefaultRetrievalTimeout
	}
	return &Orchestrator{
		store:             cfg.Store,
		gateways:          cfg.Gateways,
		retriever:         cfg.Retriever,
		tokenizer:         cfg.Tokenizer,
		metrics:           cfg.Metrics,
		tracer:            cfg.Tracer,
		logger:            cfg.Logger.With(zap.String("component", "orchestrator")),
		completionTimeout: cfg.CompletionTimeout,
		retrievalTimeout:  cfg.RetrievalTimeout,
	}, nil
}

// RunResult is the terminal outcome of one execution.
type RunResult struct {
	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	TotalMessages int    `json:"total_messages"`
	ErrorSummary  string `json:"error_summary,omitempty"`
}

// runContext is the explicit per-run state threaded through every call. No
// orchestrator-level mutable state exists for a run.
type runContext struct {
	graph       *workflow.Graph
	executionID string
	transcript  []types.Message
	totalMsgs   int
	// loopBudget holds the remaining visits for each agent that sources a
	// loop_back edge, decremented once per visit.
	loopBudget map[string]int
	agentsSeen map[string]bool
	providers  map[string]bool
	// delegatesDone tracks delegate agents that completed at least one turn,
	// for the delegate termination strategies.
	delegatesDone map[string]bool
	// pendingMerge is set while a broadcast fan-out is being drained.
	pendingMerge *broadcastMerge
}

type broadcastMerge struct {
	mergeAgentID string
	outputs      []string
}

// step is one queued turn: the agent to run and the message triggering it.
type step struct {
	agentID string
	trigger string
}

// terminal describes how a run ended.
type terminal struct {
	status  string
	summary string
}

// NewExecutionID mints a run identifier.
func NewExecutionID() string { return uuid.NewString() }

// Run validates the graph, creates the execution record, and plays the
// workflow to a terminal state. The returned error covers only
// refusal-to-start conditions (validation, store failures); run-time
// failures surface in RunResult.Status and ErrorSummary.
func (o *Orchestrator) Run(ctx context.Context, g *workflow.Graph, executionID, trigger string) (*RunResult, error) {
	// Re-validate the snapshot at run start; definitions may have been
	// edited since the last validation.
	if res := workflow.Validate(g); !res.Valid {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Error())
		}
		return nil, types.NewError(types.ErrFlow,
			"workflow failed validation: "+strings.Join(msgs, "; "))
	}

	start, _ := g.StartAgent()
	if executionID == "" {
		executionID = NewExecutionID()
	}
	if trigger == "" {
		trigger = start.StartPrompt
	}

	startedAt := time.Now().UTC()
	if err := o.store.CreateExecution(ctx, &store.WorkflowExecution{
		ExecutionID: executionID,
		WorkflowID:  g.WorkflowID,
		ProjectID:   g.ProjectID,
		Status:      store.StatusRunning,
		StartedAt:   startedAt,
	}); err != nil {
		return nil, err
	}

	rc := &runContext{
		graph:         g,
		executionID:   executionID,
		loopBudget:    make(map[string]int),
		agentsSeen:    make(map[string]bool),
		providers:     make(map[string]bool),
		delegatesDone: make(map[string]bool),
	}
	for i := range g.Agents {
		if g.Agents[i].LoopIterationLimit > 0 {
			rc.loopBudget[g.Agents[i].ID] = g.Agents[i].LoopIterationLimit
		}
	}

	logger := o.logger.With(
		zap.String("workflow_id", g.WorkflowID),
		zap.String("execution_id", executionID),
	)
	logger.Info("execution started", zap.String("start_agent", start.ID))

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("workflow.id", g.WorkflowID),
			attribute.String("execution.id", executionID),
		))
	defer span.End()

	term := o.runLoop(ctx, rc, logger, start, trigger)

	// Finalization must land even when the run context was cancelled.
	finalizeCtx := context.WithoutCancel(ctx)
	if err := o.store.FinalizeExecution(finalizeCtx, executionID, store.FinalizeParams{
		Status:              term.status,
		ErrorSummary:        term.summary,
		TotalAgentsInvolved: len(rc.agentsSeen),
		ProvidersUsed:       keys(rc.providers),
	}); err != nil {
		logger.Error("finalize execution failed", zap.Error(err))
	}
	// A cancellation landing between the final turn and finalization still
	// wins; report the status the store settled on.
	if term.status != store.StatusCancelled {
		if status, err := o.store.GetStatus(finalizeCtx, executionID); err == nil && status == store.StatusCancelled {
			term = terminal{status: store.StatusCancelled, summary: "run cancelled"}
		}
	}

	duration := time.Since(startedAt)
	if err := o.store.RecordWorkflowStats(finalizeCtx, g.WorkflowID, g.WorkflowName,
		term.status == store.StatusCompleted, duration); err != nil {
		logger.Error("record workflow stats failed", zap.Error(err))
	}
	if o.metrics != nil {
		o.metrics.ExecutionFinished(g.WorkflowID, term.status, duration)
	}

	logger.Info("execution finished",
		zap.String("status", term.status),
		zap.Int("total_messages", rc.totalMsgs),
		zap.Duration("duration", duration),
	)

	return &RunResult{
		ExecutionID:   executionID,
		Status:        term.status,
		TotalMessages: rc.totalMsgs,
		ErrorSummary:  term.summary,
	}, nil
}

// runLoop plays turns until a terminal condition. Cancellation is observed
// between turns only; a completion call in flight is never preempted.
func (o *Orchestrator) runLoop(ctx context.Context, rc *runContext, logger *zap.Logger, start *workflow.Agent, trigger string) terminal {
	queue := []step{{agentID: start.ID, trigger: trigger}}
	lastAgent := start
	lastMsg := types.Message{Role: types.RoleSystem, Content: trigger}

	for {
		if t := o.checkCancelled(ctx, rc); t != nil {
			return *t
		}

		if len(queue) == 0 {
			if rc.pendingMerge != nil {
				merge := rc.pendingMerge
				rc.pendingMerge = nil
				if merge.mergeAgentID == "" {
					return o.flowStop(rc, lastAgent, "broadcast group has no merge successor")
				}
				queue = append(queue, step{
					agentID: merge.mergeAgentID,
					trigger: strings.Join(merge.outputs, "\n"),
				})
			} else {
				sel := o.selectNext(rc, lastAgent, lastMsg)
				switch sel.kind {
				case selAdvance:
					queue = append(queue, sel.steps...)
				case selBroadcast:
					rc.pendingMerge = &broadcastMerge{mergeAgentID: sel.mergeAgentID}
					queue = append(queue, sel.steps...)
				case selTerminationEdge:
					return terminal{status: store.StatusCompleted, summary: "termination connection fired"}
				case selLoopExhausted:
					return o.limitStop(rc, "loop iteration limit reached")
				case selNone:
					return o.flowStop(rc, lastAgent, "no viable connection")
				}
			}
			continue
		}

		next := queue[0]
		queue = queue[1:]

		agent, ok := rc.graph.AgentByID(next.agentID)
		if !ok {
			return terminal{status: store.StatusFailed,
				summary: fmt.Sprintf("selected agent %q is not declared", next.agentID)}
		}

		if agent.IsEndNode {
			if t := o.recordEndNode(ctx, rc, agent); t != nil {
				return *t
			}
			return terminal{status: store.StatusCompleted}
		}

		msg, t := o.executeTurn(ctx, rc, logger, agent, next.trigger)
		if t != nil {
			return *t
		}

		lastAgent = agent
		lastMsg = msg
		if rc.pendingMerge != nil {
			rc.pendingMerge.outputs = append(rc.pendingMerge.outputs, msg.Content)
		}

		if t := o.evaluateTermination(rc, agent, msg); t != nil {
			return *t
		}
	}
}

// checkCancelled observes context cancellation and store-side cancellation
// requests between turns.
func (o *Orchestrator) checkCancelled(ctx context.Context, rc *runContext) *terminal {
	if ctx.Err() != nil {
		return &terminal{status: store.StatusCancelled, summary: "run cancelled"}
	}
	status, err := o.store.GetStatus(ctx, rc.executionID)
	if err == nil && status == store.StatusCancelled {
		return &terminal{status: store.StatusCancelled, summary: "run cancelled"}
	}
	return nil
}

// executeTurn runs one agent turn: retrieval, prompt assembly, completion,
// and the transactional record. A returned terminal aborts the run.
func (o *Orchestrator) executeTurn(ctx context.Context, rc *runContext, logger *zap.Logger, agent *workflow.Agent, trigger string) (types.Message, *terminal) {
	turnStart := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn",
		trace.WithAttributes(
			attribute.String("agent.id", agent.ID),
			attribute.String("agent.type", string(agent.Type)),
		))
	defer span.End()

	// Terminal start markers take no completion turn; they only hand the
	// trigger to their successors.
	if agent.Type == workflow.AgentStartNode {
		rc.agentsSeen[agent.ID] = true
		return types.Message{Role: types.RoleSystem, SenderID: agent.ID, SenderName: agent.Name, Content: trigger}, nil
	}

	if agent.LLM == nil {
		return types.Message{}, &terminal{status: store.StatusFailed,
			summary: fmt.Sprintf("agent %q has no llm_configuration", agent.ID)}
	}

	// Loop budgets decrement once per visit to the sourcing agent.
	if _, bounded := rc.loopBudget[agent.ID]; bounded {
		rc.loopBudget[agent.ID]--
	}

	knowledge, t := o.retrieve(ctx, rc, logger, agent, trigger)
	if t != nil {
		return types.Message{}, t
	}

	prompt := BuildPrompt(agent, knowledge, rc.transcript, trigger)
	maxTokens := gateway.ClampMaxTokens(agent.LLM.Model, agent.LLM.MaxTokens)

	gw, err := o.gateways.Get(agent.LLM.Provider)
	if err != nil {
		return types.Message{}, &terminal{status: store.StatusFailed, summary: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.completionTimeout)
	callStart := time.Now()
	resp, err := gw.Complete(callCtx, gateway.Request{
		Provider:    agent.LLM.Provider,
		Model:       agent.LLM.Model,
		System:      agent.SystemMessage,
		Prompt:      prompt,
		Temperature: agent.LLM.Temperature,
		MaxTokens:   maxTokens,
	})
	cancel()

	if o.metrics != nil {
		outcome := "ok"
		var promptTokens, completionTokens int
		if err != nil {
			outcome = "fatal"
			if types.IsRetryable(err) {
				outcome = "transient"
			}
		} else {
			promptTokens = resp.Usage.PromptTokens
			completionTokens = resp.Usage.CompletionTokens
		}
		o.metrics.GatewayCall(agent.LLM.Provider, outcome, time.Since(callStart), promptTokens, completionTokens)
	}
	if err != nil {
		logger.Warn("completion failed",
			zap.String("agent_id", agent.ID),
			zap.String("provider", agent.LLM.Provider),
			zap.Error(err),
		)
		return types.Message{}, &terminal{status: store.StatusFailed,
			summary: fmt.Sprintf("completion failed for agent %q: %v", agent.ID, err)}
	}

	tokens := resp.Usage.CompletionTokens
	if tokens == 0 {
		tokens = o.tokenizer.CountTokens(resp.Text)
	}

	msg := types.Message{
		Role:       types.RoleAgent,
		SenderID:   agent.ID,
		SenderName: agent.Name,
		Content:    resp.Text,
		Timestamp:  time.Now().UTC(),
		TokensUsed: tokens,
	}
	if t := o.record(ctx, rc, msg); t != nil {
		return types.Message{}, t
	}

	rc.agentsSeen[agent.ID] = true
	rc.providers[agent.LLM.Provider] = true
	if agent.Type == workflow.AgentDelegate {
		rc.delegatesDone[agent.ID] = true
	}
	if o.metrics != nil {
		o.metrics.TurnCompleted(rc.graph.WorkflowID, string(agent.Type), time.Since(turnStart))
	}
	logger.Debug("turn recorded",
		zap.String("agent_id", agent.ID),
		zap.Int("sequence", rc.totalMsgs),
		zap.Int("tokens_used", tokens),
	)
	return msg, nil
}

// retrieve fetches knowledge for retrieval-augmented agents. The ranked
// snippets are also recorded as a retrieval-context transcript message.
// Per the gateway error policy, a failed search is retried once, then fails
// the run.
func (o *Orchestrator) retrieve(ctx context.Context, rc *runContext, logger *zap.Logger, agent *workflow.Agent, trigger string) (string, *terminal) {
	if !agent.RetrievalEnabled() || o.retriever == nil {
		return "", nil
	}

	q := retrieval.Query{
		ProjectID:     rc.graph.ProjectID,
		Method:        agent.Retrieval.Method,
		Text:          retrieval.BuildQueryText(trigger, rc.transcript),
		Parameters:    agent.Retrieval.Parameters,
		ContentFilter: agent.Retrieval.ContentFilter,
	}

	snippets, err := o.searchWithRetry(ctx, q)
	if o.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.RetrievalCall(outcome)
	}
	if err != nil {
		logger.Warn("retrieval failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return "", &terminal{status: store.StatusFailed,
			summary: fmt.Sprintf("retrieval failed for agent %q: %v", agent.ID, err)}
	}

	knowledge := retrieval.RenderKnowledge(snippets)
	if knowledge == "" {
		return "", nil
	}

	ctxMsg := types.Message{
		Role:       types.RoleRetrievalContext,
		SenderID:   agent.ID,
		SenderName: agent.Name,
		Content:    knowledge,
		Timestamp:  time.Now().UTC(),
	}
	if t := o.record(ctx, rc, ctxMsg); t != nil {
		return "", t
	}
	return knowledge, nil
}

func (o *Orchestrator) searchWithRetry(ctx context.Context, q retrieval.Query) ([]retrieval.Snippet, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.retrievalTimeout)
	snippets, err := o.retriever.Search(callCtx, q)
	cancel()
	if err == nil {
		return snippets, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	callCtx, cancel = context.WithTimeout(ctx, o.retrievalTimeout)
	defer cancel()
	return o.retriever.Search(callCtx, q)
}

// record appends one message transactionally and mirrors it into the
// in-memory transcript.
func (o *Orchestrator) record(ctx context.Context, rc *runContext, msg types.Message) *terminal {
	seq, err := o.store.AppendTurn(ctx, rc.executionID, msg)
	if err != nil {
		return &terminal{status: store.StatusFailed,
			summary: fmt.Sprintf("recording turn failed: %v", err)}
	}
	rc.totalMsgs = seq
	rc.transcript = append(rc.transcript, msg)
	return nil
}

// recordEndNode appends the end node's closing message.
func (o *Orchestrator) recordEndNode(ctx context.Context, rc *runContext, agent *workflow.Agent) *terminal {
	content := agent.EndMessage
	if content == "" {
		content = "Workflow completed."
	}
	rc.agentsSeen[agent.ID] = true
	return o.record(ctx, rc, types.Message{
		Role:       types.RoleSystem,
		SenderID:   agent.ID,
		SenderName: agent.Name,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	})
}

// evaluateTermination applies the post-turn termination rules: the message
// cap, the custom phrase, and the delegate strategies. End nodes and
// termination edges are handled in the selection path.
func (o *Orchestrator) evaluateTermination(rc *runContext, agent *workflow.Agent, msg types.Message) *terminal {
	flow := &rc.graph.Flow

	if rc.totalMsgs >= flow.MessageLimit() {
		return o.limitStopT(rc, fmt.Sprintf("message limit of %d reached", flow.MessageLimit()))
	}

	switch flow.TerminationStrategy {
	case workflow.TerminateCustomCondition:
		if flow.CustomTerminationPhrase != "" &&
			strings.Contains(msg.Content, flow.CustomTerminationPhrase) {
			return &terminal{status: store.StatusCompleted, summary: "custom termination phrase detected"}
		}
	case workflow.TerminateAnyDelegateComplete:
		if agent.Type == workflow.AgentDelegate {
			return &terminal{status: store.StatusCompleted, summary: "delegate completed"}
		}
	case workflow.TerminateAllDelegatesComplete:
		if agent.Type == workflow.AgentDelegate && o.allDelegatesDone(rc) {
			return &terminal{status: store.StatusCompleted, summary: "all delegates completed"}
		}
	}
	return nil
}

func (o *Orchestrator) allDelegatesDone(rc *runContext) bool {
	for i := range rc.graph.Agents {
		a := &rc.graph.Agents[i]
		if a.Type == workflow.AgentDelegate && !rc.delegatesDone[a.ID] {
			return false
		}
	}
	return true
}

// limitStop resolves a limit-based stop: an expected termination unless the
// strategy demands an explicit end node.
func (o *Orchestrator) limitStop(rc *runContext, what string) terminal {
	return *o.limitStopT(rc, what)
}

func (o *Orchestrator) limitStopT(rc *runContext, what string) *terminal {
	if rc.graph.Flow.TerminationStrategy == workflow.TerminateEndNodeReached {
		return &terminal{status: store.StatusFailed,
			summary: what + " without reaching an end node"}
	}
	return &terminal{status: store.StatusCompleted, summary: what}
}

// flowStop resolves a no-viable-edge stop: a flow failure in strict mode, a
// graceful completion in selective mode.
func (o *Orchestrator) flowStop(rc *runContext, from *workflow.Agent, what string) terminal {
	if rc.graph.Flow.FlowMode == workflow.FlowSelective {
		return terminal{status: store.StatusCompleted,
			summary: fmt.Sprintf("%s from agent %q", what, from.ID)}
	}
	return terminal{status: store.StatusFailed,
		summary: fmt.Sprintf("%s from agent %q", what, from.ID)}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
