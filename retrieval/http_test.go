package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/types"
)

func TestHTTPGatewaySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var q Query
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "proj-1", q.ProjectID)
		assert.Equal(t, "refund policy", q.Text)

		json.NewEncoder(w).Encode(searchResponse{Snippets: []Snippet{
			{Content: "refunds take 5 days", Score: 0.92, Source: "policy.md"},
			{Content: "contact support", Score: 0.41, Source: "faq.md"},
		}})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, time.Second, zap.NewNop())
	snippets, err := gw.Search(context.Background(), Query{ProjectID: "proj-1", Text: "refund policy"})

	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, "refunds take 5 days", snippets[0].Content)
	assert.InDelta(t, 0.92, snippets[0].Score, 1e-9)
}

func TestHTTPGatewayServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, time.Second, zap.NewNop())
	_, err := gw.Search(context.Background(), Query{ProjectID: "p", Text: "q"})

	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, types.ErrUnavailable, types.GetErrorCode(err))
}

func TestHTTPGatewayClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, time.Second, zap.NewNop())
	_, err := gw.Search(context.Background(), Query{ProjectID: "p", Text: "q"})

	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
}

func TestHTTPGatewayUnreachable(t *testing.T) {
	gw := NewHTTPGateway("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())
	_, err := gw.Search(context.Background(), Query{ProjectID: "p", Text: "q"})

	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}
