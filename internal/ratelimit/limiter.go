// Package ratelimit provides a Redis-backed quota shared by every API instance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every quota counter
const DefaultKeyPrefix = "ratelimit:"

// Decision is the outcome of one CheckAndConsume call
type Decision struct {
	Limited   bool
	Remaining int
	// RetryAfter is the time until the current window resets
	RetryAfter time.Duration
}

// fixedWindow increments the counter for KEYS[1] and starts the window on the
// first hit. A rejected call does not consume quota.
// Returns {allowed, remaining, pttl}.
var fixedWindow = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('INCR', key)
	if current == 1 then
		redis.call('PEXPIRE', key, window)
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window)
		ttl = window
	end

	if current > limit then
		redis.call('DECR', key)
		return {0, 0, ttl}
	end

	return {1, limit - current, ttl}
`)

// RedisLimiter is a fixed-window counter evaluated atomically in Redis
type RedisLimiter struct {
	redis  redis.Cmdable
	prefix string
}

// NewRedisLimiter creates a limiter on the given client
func NewRedisLimiter(client redis.Cmdable, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLimiter{redis: client, prefix: prefix}, nil
}

// CheckAndConsume takes one unit of quota for key if any is left in the
// current window. Redis failures deny the request and return the error.
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Limited: true, RetryAfter: window}, fmt.Errorf("invalid limit %d", limit)
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	result, err := fixedWindow.Run(ctx, l.redis, []string{l.prefix + key}, limit, windowMs).Int64Slice()
	if err != nil {
		return Decision{Limited: true, RetryAfter: window}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{Limited: true, RetryAfter: window}, fmt.Errorf("unexpected rate limit reply %v", result)
	}

	return Decision{
		Limited:    result[0] == 0,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Reset clears the counter for key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.prefix+key).Err()
}
