package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter backed by a shared Redis instance, for deployments
// running more than one turnbridge process in front of the same clients.
// It implements a fixed-window counter: INCR a per-key-per-window counter,
// set its expiry on first increment, and compare against the configured
// ceiling.
type Redis struct {
	client    *redis.Client
	perMinute int64
	window    time.Duration
}

// NewRedis creates a Redis-backed Limiter allowing perMinute requests per
// key, each tracked in a 1-minute fixed window.
func NewRedis(client *redis.Client, perMinute int64) *Redis {
	return &Redis{client: client, perMinute: perMinute, window: time.Minute}
}

// Allow increments the counter for key's current window and compares it
// against the configured ceiling.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	windowKey := fmt.Sprintf("turnbridge:ratelimit:%s:%d", key, time.Now().Unix()/int64(r.window.Seconds()))

	count, err := r.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, windowKey, r.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}

	if count > r.perMinute {
		ttl, err := r.client.TTL(ctx, windowKey).Result()
		if err != nil || ttl < 0 {
			ttl = r.window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}
