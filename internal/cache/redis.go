// Package cache provides the Redis-backed freshness cache used to skip
// per-item work that was completed recently.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const freshnessKeyPrefix = "aggregation:fresh:"

// FreshnessCache marks items as freshly processed for a TTL so that a
// resumed or overlapping run skips them instead of redoing the work.
// It is an optimization only; a cold cache just means extra idempotent
// recomputes.
type FreshnessCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewFreshnessCache creates a freshness cache with the given TTL.
func NewFreshnessCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *FreshnessCache {
	return &FreshnessCache{client: client, ttl: ttl, logger: logger}
}

// MarkFresh records that the item was just processed.
func (c *FreshnessCache) MarkFresh(ctx context.Context, kind, itemID string) error {
	key := freshnessKeyPrefix + kind + ":" + itemID
	if err := c.client.Set(ctx, key, 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("set freshness key: %w", err)
	}
	return nil
}

// IsFresh reports whether the item was processed within the TTL.
func (c *FreshnessCache) IsFresh(ctx context.Context, kind, itemID string) (bool, error) {
	key := freshnessKeyPrefix + kind + ":" + itemID
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check freshness key: %w", err)
	}
	return n > 0, nil
}

// Invalidate drops the freshness marks for a whole job kind, used when
// a forced re-run must not skip anything.
func (c *FreshnessCache) Invalidate(ctx context.Context, kind string) error {
	var cursor uint64
	pattern := freshnessKeyPrefix + kind + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return fmt.Errorf("scan freshness keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete freshness keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
