// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles every metric the engine records. One instance is shared
// across the orchestrator and gateways.
type Collector struct {
	executionsTotal  *prometheus.CounterVec
	executionSeconds *prometheus.HistogramVec
	turnsTotal       *prometheus.CounterVec
	turnSeconds      *prometheus.HistogramVec
	gatewayCalls     *prometheus.CounterVec
	gatewaySeconds   *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	retrievalCalls   *prometheus.CounterVec
}

// NewCollector registers the metric vectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production and a private registry in
// tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestron",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"workflow_id", "status"}),
		executionSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestron",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a full workflow execution.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"workflow_id"}),
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestron",
			Name:      "turns_total",
			Help:      "Conversation turns by agent type.",
		}, []string{"workflow_id", "agent_type"}),
		turnSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestron",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one conversation turn.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"workflow_id"}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestron",
			Name:      "gateway_calls_total",
			Help:      "Completion gateway calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		gatewaySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestron",
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of completion gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestron",
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),
		retrievalCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestron",
			Name:      "retrieval_calls_total",
			Help:      "Retrieval gateway calls by outcome.",
		}, []string{"outcome"}),
	}
}

// ExecutionFinished records a terminal execution and its duration.
func (c *Collector) ExecutionFinished(workflowID, status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(workflowID, status).Inc()
	c.executionSeconds.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// TurnCompleted records one conversation turn.
func (c *Collector) TurnCompleted(workflowID, agentType string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(workflowID, agentType).Inc()
	c.turnSeconds.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// GatewayCall records one completion call with its outcome ("ok",
// "transient", "fatal") and token spend.
func (c *Collector) GatewayCall(provider, outcome string, duration time.Duration, promptTokens, completionTokens int) {
	c.gatewayCalls.WithLabelValues(provider, outcome).Inc()
	c.gatewaySeconds.WithLabelValues(provider).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RetrievalCall records one retrieval gateway call ("ok" or "error").
func (c *Collector) RetrievalCall(outcome string) {
	c.retrievalCalls.WithLabelValues(outcome).Inc()
}
