package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/platform/logger"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

// PostgresPaperStore implements store.PaperStore. The paper document lives in
// a JSONB column; question and answer text is copied into search_text, which
// feeds a generated tsvector column with a GIN index.
type PostgresPaperStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.PaperStore = (*PostgresPaperStore)(nil)

// NewPostgresPaperStore creates a new PostgresPaperStore
func NewPostgresPaperStore(db *sql.DB) *PostgresPaperStore {
	return &PostgresPaperStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and inserts a paper.
func (s *PostgresPaperStore) Create(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error) {
	log := logger.FromContext(ctx)

	if err := paper.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	saved := *paper
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}
	saved.CreatedAt = s.now()
	saved.UpdatedAt = saved.CreatedAt

	body, err := saved.Body()
	if err != nil {
		return nil, fmt.Errorf("failed to encode paper: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sample_papers (id, body, search_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		saved.ID, string(body), saved.SearchText(), saved.CreatedAt,
	)
	if err != nil {
		log.Error("failed to insert sample paper", "paper_id", saved.ID, "error", err)
		return nil, MapError(err)
	}

	log.Debug("sample paper created", "paper_id", saved.ID)
	return &saved, nil
}

// Get retrieves a paper by id.
func (s *PostgresPaperStore) Get(ctx context.Context, id uuid.UUID) (*domain.SamplePaper, error) {
	return scanPaper(s.db.QueryRowContext(ctx, `
		SELECT id, body, created_at, updated_at
		FROM sample_papers
		WHERE id = $1`, id))
}

// Update merges patch into the stored paper under a row lock and
// re-validates the result.
func (s *PostgresPaperStore) Update(
	ctx context.Context,
	id uuid.UUID,
	patch map[string]json.RawMessage,
) (*domain.SamplePaper, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: %w: %w", store.ErrInvalidEntity, domain.ErrValidation, domain.ErrEmptyPatch)
	}

	var updated *domain.SamplePaper
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := scanPaper(tx.QueryRowContext(ctx, `
			SELECT id, body, created_at, updated_at
			FROM sample_papers
			WHERE id = $1
			FOR UPDATE`, id))
		if err != nil {
			return err
		}

		patched, err := current.ApplyPatch(patch)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
			}
			return err
		}
		patched.UpdatedAt = s.now()

		body, err := patched.Body()
		if err != nil {
			return fmt.Errorf("failed to encode paper: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sample_papers
			SET body = $1, search_text = $2, updated_at = $3
			WHERE id = $4`,
			string(body), patched.SearchText(), patched.UpdatedAt, id,
		); err != nil {
			return MapError(err)
		}

		updated = patched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a paper.
func (s *PostgresPaperStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sample_papers WHERE id = $1`, id)
	if err != nil {
		logger.FromContext(ctx).Error("failed to delete sample paper", "paper_id", id, "error", err)
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrPaperNotFound)
}

// SearchText ranks papers against a web-search style query.
func (s *PostgresPaperStore) SearchText(
	ctx context.Context,
	query string,
	limit, skip int,
) ([]*domain.SamplePaper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query cannot be empty", store.ErrInvalidEntity)
	}
	if limit < 1 || limit > store.MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", store.ErrInvalidEntity, store.MaxSearchLimit)
	}
	if skip < 0 {
		return nil, fmt.Errorf("%w: skip cannot be negative", store.ErrInvalidEntity)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body, created_at, updated_at
		FROM sample_papers, websearch_to_tsquery('english', $1) AS q
		WHERE search_vector @@ q
		ORDER BY ts_rank(search_vector, q) DESC, created_at DESC
		LIMIT $2 OFFSET $3`,
		query, limit, skip,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to search sample papers", "error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	papers := make([]*domain.SamplePaper, 0, limit)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return papers, nil
}

func scanPaper(row rowScanner) (*domain.SamplePaper, error) {
	var (
		id                   uuid.UUID
		body                 []byte
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &body, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPaperNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	var paper domain.SamplePaper
	if err := json.Unmarshal(body, &paper); err != nil {
		return nil, store.NewStoreError("sample_paper", "get", "failed to decode stored paper "+id.String(), err)
	}
	paper.ID = id
	paper.CreatedAt = createdAt
	paper.UpdatedAt = updatedAt
	return &paper, nil
}
