package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"google.golang.org/genai"
)

// classifyError maps an error from the genai client onto an extraction
// error kind.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", extraction.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", extraction.ErrUpstreamUnavailable, err)
	}

	if code, ok := apiErrorCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests,
			code == http.StatusServiceUnavailable,
			code == http.StatusBadGateway,
			code == http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", extraction.ErrUpstreamUnavailable, err)
		case code == http.StatusGatewayTimeout, code == http.StatusRequestTimeout:
			return fmt.Errorf("%w: %v", extraction.ErrUpstreamTimeout, err)
		case code >= 500:
			return fmt.Errorf("%w: %v", extraction.ErrUpstreamUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", extraction.ErrUpstreamRejected, err)
		}
	}

	// transport failures carry no status code
	return fmt.Errorf("%w: %v", extraction.ErrUpstreamUnavailable, err)
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// isTransient reports whether a classified error is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, extraction.ErrUpstreamUnavailable)
}
