// Package cache defines the key/value store with expiry used as a fast path
// for extraction results and sample papers, plus an in-process
// implementation. Cache entries are never the source of truth: callers treat
// every error as a miss.
package cache
