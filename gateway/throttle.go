package gateway

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/orchestron-ai/orchestron/types"
)

// throttledGateway applies a token-bucket limiter in front of a gateway so
// concurrent runs sharing one provider key do not trip provider-side rate
// limits.
type throttledGateway struct {
	inner   Gateway
	limiter *rate.Limiter
}

// WithThrottle wraps gw with a token-bucket limiter of rps requests per
// second and the given burst. Wait blocks until a slot frees or ctx is
// cancelled.
func WithThrottle(gw Gateway, rps float64, burst int) Gateway {
	if burst < 1 {
		burst = 1
	}
	return &throttledGateway{
		inner:   gw,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *throttledGateway) Provider() string { return t.inner.Provider() }

func (t *throttledGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrCancelled, "completion cancelled while rate limited").
			WithCause(err).WithProvider(t.inner.Provider())
	}
	return t.inner.Complete(ctx, req)
}
