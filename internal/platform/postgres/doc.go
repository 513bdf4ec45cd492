// Package postgres provides PostgreSQL implementations of the task store and
// the sample paper repository, together with the embedded schema migrations
// that create their tables and full-text index.
package postgres
