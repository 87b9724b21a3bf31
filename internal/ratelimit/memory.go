package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	c   *gocache.Cache
	cfg Config
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(cfg Config) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{c: gocache.New(cfg.Window, time.Minute), cfg: cfg}, nil
}

// Allow counts an attempt for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	hits := int64(1)
	if err := l.c.Add(key, hits, l.cfg.Window); err != nil {
		// Counter exists for the current window.
		n, incErr := l.c.IncrementInt64(key, 1)
		if incErr != nil {
			// Expired between Add and Increment; start a new window.
			l.c.Set(key, hits, l.cfg.Window)
		} else {
			hits = n
		}
	}

	ttl := l.cfg.Window
	if _, exp, ok := l.c.GetWithExpiration(key); ok && !exp.IsZero() {
		ttl = time.Until(exp)
	}
	return result(hits, int64(l.cfg.MaxAttempts), ttl), nil
}

// Reset clears the counter for key.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}
