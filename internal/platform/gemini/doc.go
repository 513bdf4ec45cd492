// Package gemini provides an implementation of the extraction.Extractor
// interface backed by Google's Gemini API.
//
// The adapter renders an embedded prompt template, sends it together with the
// document (inline PDF bytes or plain text) in JSON response mode, strips any
// markdown fences from the reply, validates it against an embedded JSON
// Schema and finally against the domain validation rules.
//
// Transient failures (rate limiting, 5xx, network) are retried with
// exponential backoff and jitter inside the caller's deadline. All other
// failures are classified onto the extraction error kinds and returned
// immediately.
package gemini
