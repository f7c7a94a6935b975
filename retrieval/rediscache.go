package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a retrieval result may serve repeated
// turns. Corpora change slowly relative to conversation turns.
const DefaultCacheTTL = 10 * time.Minute

// CachedGateway wraps a Gateway with a Redis result cache keyed on the full
// query. Cache failures degrade to the backend rather than failing the
// turn.
type CachedGateway struct {
	inner  Gateway
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedGateway builds the cache wrapper. A non-positive ttl falls back
// to DefaultCacheTTL.
func NewCachedGateway(inner Gateway, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedGateway {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGateway{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "retrieval_cache")),
	}
}

// Search implements Gateway: serve from Redis when the exact query was seen
// within the TTL, otherwise hit the backend and store the result.
func (c *CachedGateway) Search(ctx context.Context, q Query) ([]Snippet, error) {
	key := cacheKey(q)

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var snippets []Snippet
		if err := json.Unmarshal([]byte(raw), &snippets); err == nil {
			c.logger.Debug("retrieval cache hit", zap.String("key", key))
			return snippets, nil
		}
		c.logger.Warn("retrieval cache entry corrupt, evicting", zap.String("key", key))
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.Warn("retrieval cache unavailable", zap.Error(err))
	}

	snippets, err := c.inner.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(snippets); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("retrieval cache store failed", zap.Error(err))
		}
	}
	return snippets, nil
}

// cacheKey hashes the full query so parameter and filter changes never
// collide with each other.
func cacheKey(q Query) string {
	raw, _ := json.Marshal(q)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("orchestron:retrieval:%s:%s", q.ProjectID, hex.EncodeToString(sum[:16]))
}
