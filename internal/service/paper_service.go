package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/cache"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/redact"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

// paperKeyPrefix namespaces cached papers
const paperKeyPrefix = "sample_papers:"

// PaperService provides sample paper operations
type PaperService interface {
	// Create validates and stores a new paper
	Create(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error)

	// Get retrieves a paper, preferring the cache
	Get(ctx context.Context, id uuid.UUID) (*domain.SamplePaper, error)

	// Update applies a top-level patch to a paper
	Update(ctx context.Context, id uuid.UUID, patch map[string]json.RawMessage) (*domain.SamplePaper, error)

	// Delete removes a paper
	Delete(ctx context.Context, id uuid.UUID) error

	// Search runs a full-text query over question and answer text
	Search(ctx context.Context, query string, limit, skip int) ([]*domain.SamplePaper, error)
}

// paperServiceImpl implements the PaperService interface
type paperServiceImpl struct {
	papers store.PaperStore
	cache  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewPaperService creates a new PaperService.
// It returns an error if any required dependency is nil.
func NewPaperService(
	papers store.PaperStore,
	paperCache cache.Store,
	ttl time.Duration,
	logger *slog.Logger,
) (PaperService, error) {
	if papers == nil {
		return nil, errors.New("paper store cannot be nil")
	}
	if paperCache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &paperServiceImpl{
		papers: papers,
		cache:  paperCache,
		ttl:    ttl,
		logger: logger.With("component", "paper_service"),
	}, nil
}

// Create implements PaperService
func (s *paperServiceImpl) Create(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error) {
	saved, err := s.papers.Create(ctx, paper)
	if err != nil {
		return nil, NewPaperServiceError("create_paper", "failed to save paper", err)
	}

	s.cachePaper(ctx, saved)
	s.logger.InfoContext(ctx, "sample paper created", "paper_id", saved.ID)
	return saved, nil
}

// Get implements PaperService
func (s *paperServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.SamplePaper, error) {
	if paper, ok := s.cachedPaper(ctx, id); ok {
		return paper, nil
	}

	paper, err := s.papers.Get(ctx, id)
	if err != nil {
		return nil, NewPaperServiceError("get_paper", "failed to retrieve paper", err)
	}

	s.cachePaper(ctx, paper)
	return paper, nil
}

// Update implements PaperService
func (s *paperServiceImpl) Update(
	ctx context.Context,
	id uuid.UUID,
	patch map[string]json.RawMessage,
) (*domain.SamplePaper, error) {
	updated, err := s.papers.Update(ctx, id, patch)
	if err != nil {
		return nil, NewPaperServiceError("update_paper", "failed to update paper", err)
	}

	s.cachePaper(ctx, updated)
	s.logger.InfoContext(ctx, "sample paper updated", "paper_id", id, "fields", len(patch))
	return updated, nil
}

// Delete implements PaperService
func (s *paperServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.papers.Delete(ctx, id); err != nil {
		return NewPaperServiceError("delete_paper", "failed to delete paper", err)
	}

	if err := s.cache.Delete(ctx, paperKey(id)); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cached paper",
			"paper_id", id,
			"error", redact.Error(err))
	}
	s.logger.InfoContext(ctx, "sample paper deleted", "paper_id", id)
	return nil
}

// Search implements PaperService
func (s *paperServiceImpl) Search(
	ctx context.Context,
	query string,
	limit, skip int,
) ([]*domain.SamplePaper, error) {
	papers, err := s.papers.SearchText(ctx, query, limit, skip)
	if err != nil {
		return nil, NewPaperServiceError("search_papers", "failed to search papers", err)
	}
	return papers, nil
}

func (s *paperServiceImpl) cachedPaper(ctx context.Context, id uuid.UUID) (*domain.SamplePaper, bool) {
	raw, found, err := s.cache.Get(ctx, paperKey(id))
	if err != nil {
		s.logger.WarnContext(ctx, "paper cache read failed", "paper_id", id, "error", redact.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var paper domain.SamplePaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed cached paper", "paper_id", id, "error", err)
		return nil, false
	}
	return &paper, true
}

func (s *paperServiceImpl) cachePaper(ctx context.Context, paper *domain.SamplePaper) {
	raw, err := json.Marshal(paper)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to encode paper for cache", "paper_id", paper.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, paperKey(paper.ID), raw, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "failed to cache paper", "paper_id", paper.ID, "error", redact.Error(err))
	}
}

func paperKey(id uuid.UUID) string {
	return fmt.Sprintf("%s%s", paperKeyPrefix, id)
}
