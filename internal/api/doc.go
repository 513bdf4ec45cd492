// Package api handles incoming HTTP requests, request validation and
// response formatting. It adapts HTTP to the extraction orchestrator and the
// sample paper service, and maps their errors to status codes with
// MapErrorToStatusCode and GetSafeErrorMessage.
package api
