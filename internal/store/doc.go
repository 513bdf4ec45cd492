// Package store defines interfaces for data persistence operations and the
// sentinel errors every implementation maps its failures onto.
package store
