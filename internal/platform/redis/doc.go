// Package redis provides Redis-backed implementations of cache.Store and
// ratelimit.Limiter on top of github.com/redis/go-redis/v9.
package redis
