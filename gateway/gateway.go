// Package gateway abstracts completion providers behind one interface and
// carries the cross-provider concerns: token ceilings, transient-error
// retry, and per-provider throttling. Provider bindings live in the
// gateway/openai and gateway/anthropic subpackages.
package gateway

import (
	"context"

	"github.com/orchestron-ai/orchestron/types"
)

// Request is one completion call. System and Prompt stay separate because
// providers carry the system text through different channels.
type Request struct {
	Provider    string
	Model       string
	System      string
	Prompt      string
	Temperature float64
	// MaxTokens is the completion budget. Callers clamp it with
	// ClampMaxTokens before issuing the request.
	MaxTokens int
}

// Response is the provider's completion plus its reported token usage.
// Usage may be zero when the provider omits it; callers fall back to a
// local estimate.
type Response struct {
	Text  string
	Usage types.TokenUsage
}

// Gateway issues completion requests against one provider. Implementations
// classify failures as transient (*types.Error with Retryable=true) or
// fatal, and must respect ctx cancellation.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() string
}

// Registry resolves a gateway by provider name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds a registry over the given gateways, keyed by
// Provider().
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		r.gateways[gw.Provider()] = gw
	}
	return r
}

// Get resolves the gateway for a provider.
func (r *Registry) Get(provider string) (Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, types.NewError(types.ErrFatalGateway, "no gateway registered for provider "+provider).
			WithProvider(provider)
	}
	return gw, nil
}

// Register adds or replaces a gateway. Not safe for concurrent use with Get;
// wire all gateways at startup.
func (r *Registry) Register(gw Gateway) {
	r.gateways[gw.Provider()] = gw
}
