// Package ratelimit provides per-client request budgets for HTTP route
// groups. Limiter implementations live here (in-process fixed windows) and
// under internal/platform/redis (shared fixed windows).
package ratelimit
