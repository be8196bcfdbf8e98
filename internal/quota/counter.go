package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Counter is an atomic per-user conversation counter.
type Counter interface {
	// Increment adds one to the user's counter and returns the new value.
	Increment(ctx context.Context, userID string) (int, error)

	// Count returns the current value.
	Count(ctx context.Context, userID string) (int, error)
}

const redisKeyPrefix = "aexy:conversations_today:"

// RedisCounter keeps counters in Redis and relies on INCR for atomicity.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter creates a counter backed by the given client.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// Increment implements Counter.
func (c *RedisCounter) Increment(ctx context.Context, userID string) (int, error) {
	n, err := c.rdb.Incr(ctx, redisKeyPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("increment conversation counter: %w", err)
	}
	return int(n), nil
}

// Count implements Counter.
func (c *RedisCounter) Count(ctx context.Context, userID string) (int, error) {
	n, err := c.rdb.Get(ctx, redisKeyPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read conversation counter: %w", err)
	}
	return n, nil
}

// Ping verifies connectivity.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCounter) Close() error {
	return c.rdb.Close()
}
