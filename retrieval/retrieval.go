// Package retrieval augments agent prompts with knowledge snippets. The
// vector backend itself lives behind the Gateway interface; this package
// owns the query join rule, the knowledge-section rendering, and a Redis
// result cache.
package retrieval

import (
	"context"
)

// Query is one retrieval request, scoped to a project corpus.
type Query struct {
	ProjectID string `json:"project_id"`
	// Method selects the backend strategy (e.g. "semantic", "keyword").
	// Empty means the backend's default.
	Method        string            `json:"method,omitempty"`
	Text          string            `json:"text"`
	Parameters    map[string]any    `json:"parameters,omitempty"`
	ContentFilter map[string]string `json:"content_filter,omitempty"`
}

// Snippet is one ranked retrieval hit.
type Snippet struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// Gateway performs retrieval against a knowledge backend. Implementations
// return snippets ranked best-first; an empty result is not an error.
type Gateway interface {
	Search(ctx context.Context, q Query) ([]Snippet, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, q Query) ([]Snippet, error)

// Search implements Gateway.
func (f GatewayFunc) Search(ctx context.Context, q Query) ([]Snippet, error) {
	return f(ctx, q)
}
