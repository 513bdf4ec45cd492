// Package domain contains the sample paper entity and its validation rules,
// independent of storage, caching or transport.
package domain
