package question

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizduel/internal/domain"
)

const defaultCacheTTL = 10 * time.Minute

type CacheConfig struct {
	Source Source
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// Cache is a read-through Redis cache in front of a Source.
// Redis failures are logged and the source is used instead.
type Cache struct {
	source Source
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCache(c CacheConfig) *Cache {
	if c.TTL <= 0 {
		c.TTL = defaultCacheTTL
	}

	return &Cache{
		source: c.Source,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (c *Cache) Question(ctx context.Context, id string) (*domain.Question, error) {
	key := c.key(id)

	b, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q domain.Question
		uerr := json.Unmarshal(b, &q)
		if uerr == nil {
			return &q, nil
		}
		slog.WarnContext(ctx, "question: drop corrupted cache entry", "key", key, "error", uerr)
	case !stderrors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "question: read cache failed", "key", key, "error", err)
	}

	q, err := c.source.Question(ctx, id)
	if err != nil {
		return nil, err
	}

	b, err = json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal question %s: %w", id, err)
	}

	if err := c.redis.Set(ctx, key, b, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "question: write cache failed", "key", key, "error", err)
	}

	return q, nil
}

func (c *Cache) key(id string) string {
	return fmt.Sprintf("%s:question:%s", c.prefix, id)
}
