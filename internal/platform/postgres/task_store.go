package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/platform/logger"
	"github.com/phrazzld/sample-paper-api/internal/store"
	"github.com/phrazzld/sample-paper-api/internal/task"
)

// createAttempts bounds the insert/select loop in CreateIfAbsent. A retry is
// only needed when the conflicting task finishes between the two statements.
const createAttempts = 3

const taskColumns = `id, kind, fingerprint, status, result_ref, error_kind, error_message, created_at, updated_at`

// PostgresTaskStore implements the task.TaskStore interface using PostgreSQL
type PostgresTaskStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ task.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateIfAbsent inserts a pending task unless the partial unique index on
// active fingerprints already holds one, in which case that task is returned.
func (s *PostgresTaskStore) CreateIfAbsent(ctx context.Context, nt task.NewTask) (*task.Task, bool, error) {
	log := logger.FromContext(ctx)

	createdAt := nt.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO extraction_tasks (id, kind, fingerprint, payload, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT DO NOTHING`,
			nt.ID, nt.Kind, nt.Fingerprint, nt.Payload, task.TaskStatusPending, createdAt,
		)
		if err != nil {
			log.Error("failed to insert task", "task_id", nt.ID, "error", err)
			return nil, false, MapError(err)
		}

		inserted, err := result.RowsAffected()
		if err != nil {
			return nil, false, MapError(err)
		}
		if inserted == 1 {
			return &task.Task{
				ID:          nt.ID,
				Kind:        nt.Kind,
				Fingerprint: nt.Fingerprint,
				Status:      task.TaskStatusPending,
				CreatedAt:   createdAt,
				UpdatedAt:   createdAt,
			}, true, nil
		}

		existing, err := s.scanTask(s.db.QueryRowContext(ctx, `
			SELECT `+taskColumns+`
			FROM extraction_tasks
			WHERE fingerprint = $1 AND status IN ('pending', 'processing')`,
			nt.Fingerprint,
		))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
		log.Debug("active task finished during insert, retrying", "fingerprint", nt.Fingerprint)
	}

	return nil, false, fmt.Errorf("%w: could not create task for fingerprint after %d attempts",
		store.ErrStoreUnavailable, createAttempts)
}

// Get retrieves a task by id.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return s.scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM extraction_tasks WHERE id = $1`, id))
}

// Payload returns the raw input stored with a task.
func (s *PostgresTaskStore) Payload(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM extraction_tasks WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return payload, nil
}

// Transition updates the task only if it is still in from.
func (s *PostgresTaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to task.TaskStatus,
	outcome task.Outcome,
) error {
	if err := task.ValidateTransition(from, to, outcome); err != nil {
		return err
	}

	var resultRef, errorKind, errorMessage sql.NullString
	if outcome.ResultRef != "" {
		resultRef = sql.NullString{String: outcome.ResultRef, Valid: true}
	}
	if outcome.Error != nil {
		errorKind = sql.NullString{String: string(outcome.Error.Kind), Valid: true}
		errorMessage = sql.NullString{String: outcome.Error.Message, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE extraction_tasks
		SET status = $1, result_ref = $2, error_kind = $3, error_message = $4, updated_at = $5
		WHERE id = $6 AND status = $7`,
		to, resultRef, errorKind, errorMessage, s.now(), id, from,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to update task status",
			"task_id", id,
			"status", to,
			"error", err)
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if affected > 0 {
		return nil
	}

	// distinguish a missing task from one that moved on
	var current task.TaskStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM extraction_tasks WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return MapError(err)
	}
	return fmt.Errorf("%w: task %s is %s, not %s", task.ErrStaleTransition, id, current, from)
}

// ListByStatus returns tasks in status not updated within olderThan,
// oldest first.
func (s *PostgresTaskStore) ListByStatus(
	ctx context.Context,
	status task.TaskStatus,
	olderThan time.Duration,
) ([]*task.Task, error) {
	var rows *sql.Rows
	var err error
	if olderThan > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM extraction_tasks
			WHERE status = $1 AND updated_at <= $2
			ORDER BY created_at ASC`,
			status, s.now().Add(-olderThan),
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM extraction_tasks
			WHERE status = $1
			ORDER BY created_at ASC`,
			status,
		)
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to query tasks by status",
			"status", status,
			"error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresTaskStore) scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var resultRef, errorKind, errorMessage sql.NullString

	err := row.Scan(
		&t.ID,
		&t.Kind,
		&t.Fingerprint,
		&t.Status,
		&resultRef,
		&errorKind,
		&errorMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	t.ResultRef = resultRef.String
	if errorKind.Valid {
		t.Error = &task.TaskError{Kind: task.ErrorKind(errorKind.String), Message: errorMessage.String}
	}
	return &t, nil
}
