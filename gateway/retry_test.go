package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/types"
)

// scriptedGateway returns each scripted outcome in order, then repeats the
// last one.
type scriptedGateway struct {
	outcomes []error
	calls    int
}

func (s *scriptedGateway) Provider() string { return "scripted" }

func (s *scriptedGateway) Complete(_ context.Context, _ Request) (*Response, error) {
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	if err := s.outcomes[i]; err != nil {
		return nil, err
	}
	return &Response{Text: "ok", Usage: types.TokenUsage{TotalTokens: 3}}, nil
}

func transientErr() error {
	return types.NewError(types.ErrTransientGateway, "rate limited").WithRetryable(true)
}

func fatalErr() error {
	return types.NewError(types.ErrFatalGateway, "bad api key")
}

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	inner := &scriptedGateway{outcomes: []error{transientErr(), nil}}
	gw := WithRetry(inner, fastPolicy(), zap.NewNop())

	resp, err := gw.Complete(context.Background(), Request{Model: "gpt-4o"})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryTransientPersistsEscalatesToFatal(t *testing.T) {
	inner := &scriptedGateway{outcomes: []error{transientErr()}}
	gw := WithRetry(inner, fastPolicy(), zap.NewNop())

	_, err := gw.Complete(context.Background(), Request{Model: "gpt-4o"})

	require.Error(t, err)
	assert.Equal(t, types.ErrFatalGateway, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	// one attempt + one retry, no more
	assert.Equal(t, 2, inner.calls)
}

func TestRetryFatalPassesThroughImmediately(t *testing.T) {
	inner := &scriptedGateway{outcomes: []error{fatalErr()}}
	gw := WithRetry(inner, fastPolicy(), zap.NewNop())

	_, err := gw.Complete(context.Background(), Request{Model: "gpt-4o"})

	require.Error(t, err)
	assert.Equal(t, types.ErrFatalGateway, types.GetErrorCode(err))
	assert.Equal(t, 1, inner.calls)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	inner := &scriptedGateway{outcomes: []error{transientErr()}}
	gw := WithRetry(inner, &RetryPolicy{MaxRetries: 1, InitialDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 2.0}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := gw.Complete(ctx, Request{Model: "gpt-4o"})

	require.Error(t, err)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	assert.Equal(t, 1, inner.calls)
}

func TestRegistry(t *testing.T) {
	inner := &scriptedGateway{outcomes: []error{nil}}
	reg := NewRegistry(inner)

	got, err := reg.Get("scripted")
	require.NoError(t, err)
	assert.Equal(t, inner, got)

	_, err = reg.Get("unknown")
	require.Error(t, err)
	assert.Equal(t, types.ErrFatalGateway, types.GetErrorCode(err))
}
