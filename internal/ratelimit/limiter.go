package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether one more request for key fits in its budget.
// Version: 1.0
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
