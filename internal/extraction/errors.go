package extraction

import "errors"

// Errors returned by Extractor implementations. Every failure wraps exactly
// one of them so callers can classify it with errors.Is.
var (
	// ErrInvalidInput is returned when the payload cannot be processed at all,
	// e.g. an empty document or an unsupported kind.
	ErrInvalidInput = errors.New("invalid extraction input")

	// ErrUpstreamUnavailable is returned for transient model failures such as
	// rate limiting, server errors or network faults.
	ErrUpstreamUnavailable = errors.New("extraction service unavailable")

	// ErrUpstreamTimeout is returned when the call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("extraction timed out")

	// ErrUpstreamRejected is returned when the model refused the input or
	// produced output that is not a valid sample paper.
	ErrUpstreamRejected = errors.New("extraction rejected by model")

	// ErrInvalidConfig is returned when an extractor is constructed with
	// unusable settings.
	ErrInvalidConfig = errors.New("invalid extractor configuration")
)
