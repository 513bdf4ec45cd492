package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/domain"
)

// Search paging bounds.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// PaperStore defines the interface for sample paper persistence and search.
// Version: 1.0
type PaperStore interface {
	// Create validates and saves a new paper, assigning its ID if unset.
	// Returns ErrInvalidEntity if the paper fails validation.
	Create(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error)

	// Get retrieves a paper by its ID.
	// Returns ErrPaperNotFound if the paper does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.SamplePaper, error)

	// Update replaces the top-level fields named in patch and re-validates.
	// Returns ErrPaperNotFound if the paper does not exist and
	// ErrInvalidEntity for an empty or invalid patch.
	Update(ctx context.Context, id uuid.UUID, patch map[string]json.RawMessage) (*domain.SamplePaper, error)

	// Delete removes a paper.
	// Returns ErrPaperNotFound if the paper does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// SearchText runs a full-text query over question and answer text,
	// best matches first. limit must be in [1, MaxSearchLimit] and skip >= 0.
	SearchText(ctx context.Context, query string, limit, skip int) ([]*domain.SamplePaper, error)
}
