package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/sample-paper-api/internal/ratelimit"
)

const limiterKeyPrefix = "ratelimit:"

// Limiter is a fixed-window ratelimit.Limiter shared by every process using
// the same Redis. Each key gets one counter per window.
type Limiter struct {
	client goredis.Cmdable
	limit  int
	window time.Duration
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// NewLimiter allows limit requests per window per key.
func NewLimiter(client goredis.Cmdable, limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{client: client, limit: limit, window: window}
}

// Allow implements ratelimit.Limiter.
func (l *Limiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	redisKey := limiterKeyPrefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	// a counter without expiry was just created; start its window
	window := ttl.Val()
	if window < 0 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
		window = l.window
	}

	count := int(incr.Val())
	d := ratelimit.Decision{
		Limit:     l.limit,
		Remaining: l.limit - count,
		Allowed:   count <= l.limit,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}
