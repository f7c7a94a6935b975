// Package openai binds the completion gateway to the OpenAI Chat
// Completions API using the official client.
package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/orchestron-ai/orchestron/gateway"
	"github.com/orchestron-ai/orchestron/types"
)

const providerName = "openai"

// Gateway issues completions against OpenAI.
type Gateway struct {
	client *openai.Client
}

// New creates a gateway with the given API key. An empty key falls back to
// the client's environment lookup.
func New(apiKey string) *Gateway {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return &Gateway{client: &client}
}

// NewFromClient wraps an existing client, used by tests.
func NewFromClient(client *openai.Client) *Gateway {
	return &Gateway{client: client}
}

// Provider implements gateway.Gateway.
func (g *Gateway) Provider() string { return providerName }

// Complete implements gateway.Gateway.
func (g *Gateway) Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               req.Model,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrFatalGateway, "openai returned no choices").
			WithProvider(providerName)
	}

	return &gateway.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: types.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// classify maps SDK failures onto the engine's transient/fatal split.
// Rate limits, timeouts, and server-side failures are transient; auth,
// malformed-request, and not-found failures are fatal. Failures without an
// HTTP status are treated as network hiccups, hence transient.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCancelled, "openai completion cancelled").
			WithCause(err).WithProvider(providerName)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return types.NewError(types.ErrTransientGateway, "openai transient failure").
				WithCause(err).WithProvider(providerName).WithRetryable(true).
				WithHTTPStatus(apiErr.StatusCode)
		default:
			return types.NewError(types.ErrFatalGateway, "openai request rejected").
				WithCause(err).WithProvider(providerName).
				WithHTTPStatus(apiErr.StatusCode)
		}
	}

	return types.NewError(types.ErrTransientGateway, "openai call failed before a response").
		WithCause(err).WithProvider(providerName).WithRetryable(true)
}
