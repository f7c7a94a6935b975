package gateway

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/types"
)

// RetryPolicy configures the transient-error retry wrapper around a gateway.
type RetryPolicy struct {
	MaxRetries   int           // retries after the first attempt (0 disables)
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // exponential backoff factor
	Jitter       bool    // randomize delays to avoid thundering herds
}

// DefaultRetryPolicy retries a transient failure exactly once before
// escalating it to a fatal error. Turn latency compounds across a run, so
// the engine does not retry harder than this by default.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   1,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryingGateway wraps a Gateway with backoff retry for transient errors.
type retryingGateway struct {
	inner  Gateway
	policy *RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps gw so transient errors (types.IsRetryable) are retried per
// policy. Fatal errors and exhausted retries pass through as fatal.
func WithRetry(gw Gateway, policy *RetryPolicy, logger *zap.Logger) Gateway {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	return &retryingGateway{
		inner:  gw,
		policy: policy,
		logger: logger.With(zap.String("component", "gateway_retry"), zap.String("provider", gw.Provider())),
	}
}

func (r *retryingGateway) Provider() string { return r.inner.Provider() }

func (r *retryingGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			r.logger.Debug("retrying transient gateway failure",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, types.NewError(types.ErrCancelled, "completion cancelled during retry backoff").
					WithCause(ctx.Err()).WithProvider(r.inner.Provider())
			case <-time.After(delay):
			}
		}

		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("gateway call succeeded after retry", zap.Int("attempt", attempt))
			}
			return resp, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return nil, err
		}
	}

	r.logger.Warn("transient gateway failure persisted past retries",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return nil, types.NewError(types.ErrFatalGateway, "transient failure persisted past retries").
		WithCause(lastErr).WithProvider(r.inner.Provider())
}

// calculateDelay applies exponential backoff with optional ±25% jitter,
// floored at the initial delay and capped at the maximum.
func (r *retryingGateway) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}
