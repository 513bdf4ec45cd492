package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a fixed-window Limiter kept in process memory. A key's
// window opens on its first request and admits limit requests until it
// closes, matching the Redis limiter used by multi-instance deployments.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	windows  map[string]*counter
	now      func() time.Time
	lastScan time.Time
}

type counter struct {
	count  int
	expiry time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a limiter allowing limit requests per window per key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*counter),
		now:     time.Now,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictExpired(now)

	c, ok := l.windows[key]
	if !ok || !now.Before(c.expiry) {
		c = &counter{expiry: now.Add(l.window)}
		l.windows[key] = c
	}
	c.count++

	d := Decision{
		Limit:     l.limit,
		Allowed:   c.count <= l.limit,
		Remaining: max(l.limit-c.count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = c.expiry.Sub(now)
	}
	return d, nil
}

// evictExpired drops closed windows, at most once per window length.
func (l *MemoryLimiter) evictExpired(now time.Time) {
	if now.Sub(l.lastScan) < l.window {
		return
	}
	l.lastScan = now
	for k, c := range l.windows {
		if !now.Before(c.expiry) {
			delete(l.windows, k)
		}
	}
}
