package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/types"
)

func agentMsg(name, content string) types.Message {
	return types.Message{Role: types.RoleAgent, SenderName: name, Content: content}
}

func TestBuildQueryText(t *testing.T) {
	t.Run("trigger only", func(t *testing.T) {
		got := BuildQueryText("what is the refund policy?", nil)
		assert.Equal(t, "what is the refund policy?", got)
	})

	t.Run("takes three most recent agent turns oldest first", func(t *testing.T) {
		transcript := []types.Message{
			agentMsg("A", "turn one"),
			agentMsg("B", "turn two"),
			agentMsg("A", "turn three"),
			agentMsg("B", "turn four"),
		}
		got := BuildQueryText("trigger", transcript)
		assert.Equal(t, "trigger\nturn two\nturn three\nturn four", got)
	})

	t.Run("skips system and retrieval-context messages", func(t *testing.T) {
		transcript := []types.Message{
			agentMsg("A", "real turn"),
			{Role: types.RoleSystem, Content: "system noise"},
			{Role: types.RoleRetrievalContext, Content: "cached snippets"},
		}
		got := BuildQueryText("trigger", transcript)
		assert.Equal(t, "trigger\nreal turn", got)
	})

	t.Run("truncates to 512 runes", func(t *testing.T) {
		long := strings.Repeat("x", 600)
		got := BuildQueryText(long, nil)
		assert.Equal(t, 512, len([]rune(got)))
	})
}

func TestRenderKnowledge(t *testing.T) {
	t.Run("empty result renders nothing", func(t *testing.T) {
		assert.Empty(t, RenderKnowledge(nil))
	})

	t.Run("numbered blocks with sources", func(t *testing.T) {
		out := RenderKnowledge([]Snippet{
			{Content: "refunds take 5 days", Score: 0.92, Source: "policy.md"},
			{Content: "contact support first", Score: 0.81},
		})
		assert.True(t, strings.HasPrefix(out, "=== RELEVANT DOCUMENTS ==="))
		assert.Contains(t, out, "[Document 1 (policy.md)]")
		assert.Contains(t, out, "refunds take 5 days")
		assert.Contains(t, out, "[Document 2]")
	})
}

type countingGateway struct {
	calls    int
	snippets []Snippet
}

func (c *countingGateway) Search(_ context.Context, _ Query) ([]Snippet, error) {
	c.calls++
	return c.snippets, nil
}

func newCacheFixture(t *testing.T, inner Gateway, ttl time.Duration) (*CachedGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedGateway(inner, client, ttl, zap.NewNop()), mr
}

func TestCachedGatewayHitSkipsBackend(t *testing.T) {
	inner := &countingGateway{snippets: []Snippet{{Content: "doc", Score: 0.9, Source: "a.md"}}}
	cached, _ := newCacheFixture(t, inner, time.Minute)
	q := Query{ProjectID: "p1", Text: "refund policy"}

	first, err := cached.Search(context.Background(), q)
	require.NoError(t, err)
	second, err := cached.Search(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "second search must come from cache")
}

func TestCachedGatewayDistinctQueriesMiss(t *testing.T) {
	inner := &countingGateway{snippets: []Snippet{{Content: "doc"}}}
	cached, _ := newCacheFixture(t, inner, time.Minute)

	_, err := cached.Search(context.Background(), Query{ProjectID: "p1", Text: "alpha"})
	require.NoError(t, err)
	_, err = cached.Search(context.Background(), Query{ProjectID: "p1", Text: "beta"})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGatewayExpiry(t *testing.T) {
	inner := &countingGateway{snippets: []Snippet{{Content: "doc"}}}
	cached, mr := newCacheFixture(t, inner, time.Second)
	q := Query{ProjectID: "p1", Text: "gamma"}

	_, err := cached.Search(context.Background(), q)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = cached.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedGatewayDegradesWhenRedisDown(t *testing.T) {
	inner := &countingGateway{snippets: []Snippet{{Content: "doc"}}}
	cached, mr := newCacheFixture(t, inner, time.Minute)
	mr.Close()

	snippets, err := cached.Search(context.Background(), Query{ProjectID: "p1", Text: "delta"})

	require.NoError(t, err)
	assert.Len(t, snippets, 1)
	assert.Equal(t, 1, inner.calls)
}
