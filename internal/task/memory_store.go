package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTaskStore is a TaskStore kept in process memory. It is used by tests
// and by single-process deployments without a database.
type MemoryTaskStore struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*Task
	payloads map[uuid.UUID][]byte
	// active maps a fingerprint to its PENDING or PROCESSING task
	active map[string]uuid.UUID
	now    func() time.Time
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:    make(map[uuid.UUID]*Task),
		payloads: make(map[uuid.UUID][]byte),
		active:   make(map[string]uuid.UUID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateIfAbsent implements TaskStore.
func (s *MemoryTaskStore) CreateIfAbsent(_ context.Context, nt NewTask) (*Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[nt.Fingerprint]; ok {
		existing := *s.tasks[id]
		return &existing, false, nil
	}
	if _, ok := s.tasks[nt.ID]; ok {
		return nil, false, fmt.Errorf("task %s already exists", nt.ID)
	}

	createdAt := nt.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	t := &Task{
		ID:          nt.ID,
		Kind:        nt.Kind,
		Fingerprint: nt.Fingerprint,
		Status:      TaskStatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	s.tasks[t.ID] = t
	s.payloads[t.ID] = append([]byte(nil), nt.Payload...)
	s.active[t.Fingerprint] = t.ID

	created := *t
	return &created, true, nil
}

// Get implements TaskStore.
func (s *MemoryTaskStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *t
	return &found, nil
}

// Payload implements TaskStore.
func (s *MemoryTaskStore) Payload(_ context.Context, id uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.payloads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

// Transition implements TaskStore.
func (s *MemoryTaskStore) Transition(
	_ context.Context,
	id uuid.UUID,
	from, to TaskStatus,
	outcome Outcome,
) error {
	if err := ValidateTransition(from, to, outcome); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != from {
		return fmt.Errorf("%w: task %s is %s, not %s", ErrStaleTransition, id, t.Status, from)
	}

	t.Status = to
	t.ResultRef = outcome.ResultRef
	if outcome.Error != nil {
		taskErr := *outcome.Error
		t.Error = &taskErr
	}
	t.UpdatedAt = s.now()
	if to.Terminal() {
		delete(s.active, t.Fingerprint)
	}
	return nil
}

// ListByStatus implements TaskStore. Results are ordered by creation time.
func (s *MemoryTaskStore) ListByStatus(
	_ context.Context,
	status TaskStatus,
	olderThan time.Duration,
) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	var out []*Task
	for _, t := range s.tasks {
		if t.Status != status {
			continue
		}
		if olderThan > 0 && t.UpdatedAt.After(cutoff) {
			continue
		}
		found := *t
		out = append(out, &found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
