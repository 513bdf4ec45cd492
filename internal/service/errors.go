package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/sample-paper-api/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is; the API layer maps them to status codes.
var (
	// ErrPaperNotFound indicates that the sample paper does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrPaperNotFound = store.ErrPaperNotFound
)

// PaperServiceError wraps errors from the paper service with context.
type PaperServiceError struct {
	// Operation is the operation that failed (e.g., "create_paper", "search_papers")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for PaperServiceError.
func (e *PaperServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("paper service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("paper service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PaperServiceError) Unwrap() error {
	return e.Err
}

// NewPaperServiceError creates a new PaperServiceError.
// Not-found errors are returned as the ErrPaperNotFound sentinel.
func NewPaperServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrNotFound) {
		return ErrPaperNotFound
	}

	return &PaperServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
