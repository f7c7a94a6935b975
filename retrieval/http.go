package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/types"
)

// HTTPGateway queries a knowledge search service over HTTP. The service
// receives the Query as a JSON POST body and answers with ranked snippets.
type HTTPGateway struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPGateway points the gateway at a search endpoint.
func NewHTTPGateway(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("component", "retrieval_http")),
	}
}

type searchResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Search posts the query and decodes the ranked snippets. Server-side
// failures are classified transient; malformed responses are fatal.
func (g *HTTPGateway) Search(ctx context.Context, q Query) ([]Snippet, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode retrieval query").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "build retrieval request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrUnavailable, "retrieval backend unreachable").
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Cap the diagnostic read; error bodies should be small.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := types.NewError(types.ErrUnavailable,
			fmt.Sprintf("retrieval backend returned %d: %s", resp.StatusCode, detail)).
			WithHTTPStatus(resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			apiErr = apiErr.WithRetryable(true)
		}
		return nil, apiErr
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, types.NewError(types.ErrInternal, "decode retrieval response").WithCause(err)
	}

	g.logger.Debug("retrieval search",
		zap.String("project_id", q.ProjectID),
		zap.Int("snippets", len(decoded.Snippets)),
	)
	return decoded.Snippets, nil
}
