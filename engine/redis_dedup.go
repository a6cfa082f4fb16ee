package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDeduplicator tracks seen event IDs in Redis, letting multiple engine
// instances share one dedup window. Expiry is delegated to Redis key TTLs.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduplicator creates a Redis-backed deduplicator. A non-positive
// ttl falls back to DefaultDedupTTL.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduplicator{
		client: client,
		ttl:    ttl,
		prefix: "dedup:event:",
	}
}

// Seen reports whether the event ID has an unexpired dedup key.
func (d *RedisDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	return n > 0, nil
}

// MarkSeen writes the dedup key with the configured TTL.
func (d *RedisDeduplicator) MarkSeen(ctx context.Context, eventID string) error {
	if err := d.client.Set(ctx, d.prefix+eventID, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark failed: %w", err)
	}
	return nil
}
