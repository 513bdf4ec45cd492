package extraction

import (
	"context"

	"github.com/phrazzld/sample-paper-api/internal/domain"
)

// InputKind identifies the format of an extraction payload.
type InputKind string

// Supported input kinds
const (
	InputKindPDF  InputKind = "pdf"
	InputKindText InputKind = "text"
)

// Valid reports whether k is a supported input kind.
func (k InputKind) Valid() bool {
	return k == InputKindPDF || k == InputKindText
}

// Extractor turns raw document content into a sample paper.
// Version: 1.0
type Extractor interface {
	// Extract must honour ctx cancellation and deadlines. Errors wrap one of
	// ErrInvalidInput, ErrUpstreamUnavailable, ErrUpstreamTimeout or
	// ErrUpstreamRejected.
	Extract(ctx context.Context, payload []byte, kind InputKind) (*domain.SamplePaper, error)
}
