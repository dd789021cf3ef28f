package redisad

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"replybot/internal/adapters/observability"
)

// Cache is a best-effort fast path over the reply store's terminal set.
// Keys never expire: the seen set only grows, so a stale entry cannot
// exist. MySQL stays authoritative; any miss falls through to it.
type Cache struct{ c *redis.Client }

func New(addr, pass string, db int) *Cache {
	return &Cache{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func key(reviewID string) string { return fmt.Sprintf("handled:%s", reviewID) }

func (r *Cache) Handled(ctx context.Context, reviewID string) (bool, error) {
	n, err := r.c.Exists(ctx, key(reviewID)).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	observability.ObserveCache("redis", "hit")
	return true, nil
}

func (r *Cache) MarkHandled(ctx context.Context, reviewID string) error {
	observability.ObserveCache("redis", "set")
	return r.c.Set(ctx, key(reviewID), "1", 0).Err()
}
