package cache

import (
	"context"
	"time"
)

// Store is a key/value store with per-entry expiry.
// Version: 1.0
type Store interface {
	// Get returns the value for key. found is false on a miss or expiry.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
