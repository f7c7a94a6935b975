// Package anthropic binds the completion gateway to the Anthropic Messages
// API using the official client.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orchestron-ai/orchestron/gateway"
	"github.com/orchestron-ai/orchestron/types"
)

const providerName = "anthropic"

// Gateway issues completions against Anthropic.
type Gateway struct {
	client *anthropic.Client
}

// New creates a gateway with the given API key. An empty key falls back to
// the client's environment lookup.
func New(apiKey string) *Gateway {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Gateway{client: &client}
}

// NewFromClient wraps an existing client, used by tests.
func NewFromClient(client *anthropic.Client) *Gateway {
	return &Gateway{client: client}
}

// Provider implements gateway.Gateway.
func (g *Gateway) Provider() string { return providerName }

// Complete implements gateway.Gateway. The system text rides the dedicated
// System channel; the prompt becomes a single user message.
func (g *Gateway) Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return nil, types.NewError(types.ErrFatalGateway, "anthropic returned no text content").
			WithProvider(providerName)
	}

	return &gateway.Response{
		Text: sb.String(),
		Usage: types.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// classify maps SDK failures onto the engine's transient/fatal split, same
// policy as the OpenAI binding.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCancelled, "anthropic completion cancelled").
			WithCause(err).WithProvider(providerName)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return types.NewError(types.ErrTransientGateway, "anthropic transient failure").
				WithCause(err).WithProvider(providerName).WithRetryable(true).
				WithHTTPStatus(apiErr.StatusCode)
		default:
			return types.NewError(types.ErrFatalGateway, "anthropic request rejected").
				WithCause(err).WithProvider(providerName).
				WithHTTPStatus(apiErr.StatusCode)
		}
	}

	return types.NewError(types.ErrTransientGateway, "anthropic call failed before a response").
		WithCause(err).WithProvider(providerName).WithRetryable(true)
}
