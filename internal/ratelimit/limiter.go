// Package ratelimit counts login attempts per key in fixed windows.
//
// Two backends share the Limiter interface: MemoryLimiter for a single
// process and RedisLimiter when several instances must agree on counts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result describes one counted attempt.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	Hits       int64
}

// Limiter admits or rejects attempts for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Reset(ctx context.Context, key string) error
}

// Config sizes a limiter window.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

func (c Config) validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("ratelimit: max attempts must be positive")
	}
	if c.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	return nil
}

func result(hits, limit int64, ttl time.Duration) Result {
	res := Result{
		Allowed:   hits <= limit,
		Remaining: max(0, limit-hits),
		Hits:      hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res
}

// RedisLimiter is a fixed-window counter in Redis (INCR + EXPIRE).
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	cfg    Config
}

// NewRedisLimiter creates a limiter storing counters under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, cfg Config) (*RedisLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, cfg: cfg}, nil
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + strings.ReplaceAll(k, " ", "_")
}

// Allow counts an attempt for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.key(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("counting attempt: %w", err)
	}

	window := ttl.Val()
	// First hit in the window, or a key that lost its expiry.
	if incr.Val() == 1 || window < 0 {
		if err := l.client.Expire(ctx, k, l.cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("setting window expiry: %w", err)
		}
		window = l.cfg.Window
	}
	return result(incr.Val(), int64(l.cfg.MaxAttempts), window), nil
}

// Reset clears the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("resetting attempts: %w", err)
	}
	return nil
}
