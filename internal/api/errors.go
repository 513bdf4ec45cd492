package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

// ErrBadRequest marks request errors detected by the handlers themselves,
// such as malformed bodies or query parameters. Its message is safe to return.
var ErrBadRequest = errors.New("bad request")

// badRequest wraps a client-facing message in ErrBadRequest.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Bad request errors
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, extraction.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Dependency failures
	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, store.ErrTransactionFailed):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, ErrBadRequest):
		return strings.TrimPrefix(err.Error(), ErrBadRequest.Error()+": ")

	// Submission checks produce their own client-safe descriptions
	case errors.Is(err, extraction.ErrInvalidInput):
		return capitalize(err.Error())

	case errors.Is(err, domain.ErrEmptyPatch):
		return "Update must contain at least one field"

	case errors.Is(err, domain.ErrImmutableField):
		return "Field id cannot be updated"

	case errors.Is(err, domain.ErrValidation):
		return SanitizeValidationError(err)

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID format"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid sample paper data"

	case errors.Is(err, store.ErrPaperNotFound):
		return "Sample paper not found"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, store.ErrTransactionFailed):
		return "Service temporarily unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'SamplePaper.Time' Error:Field validation for 'Time' failed on the 'gt' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Decoder errors for unknown or mistyped fields
	if strings.Contains(errMsg, "unknown field") || strings.Contains(errMsg, "cannot unmarshal") {
		return "Invalid sample paper fields"
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "must not be empty"
	case "gt":
		return "must be positive"
	case "gte", "lte":
		return "out of range"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
