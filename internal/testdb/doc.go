// Package testdb provides helpers for tests that run against a real
// PostgreSQL database.
//
// Tests using it live behind the integration build tag and are skipped when
// no database URL is configured:
//
//	DATABASE_URL=postgres://... go test -tags=integration ./...
//
// Open applies the embedded migrations once per test binary. Use WithTx for
// stores that accept a store.DBTX, and Reset for stores that manage their own
// transactions.
package testdb
