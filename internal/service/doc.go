// Package service contains the application-level operations on sample
// papers. It sits between the HTTP handlers and the store, adding
// cache-aside reads and write-through caching on top of store.PaperStore.
//
// Services receive their dependencies through constructor injection and
// never depend on a specific infrastructure implementation. Store errors are
// translated to service sentinels or wrapped in PaperServiceError so the API
// layer can map them with errors.Is.
package service
