package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Task statuses
const (
	// TaskStatusPending indicates the task is waiting to be processed
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusProcessing indicates the task is currently being processed
	TaskStatusProcessing TaskStatus = "processing"

	// TaskStatusCompleted indicates the task has been successfully processed
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task has failed
	TaskStatusFailed TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ErrorKind classifies why a task failed.
type ErrorKind string

// Failure kinds recorded on FAILED tasks.
const (
	ErrorKindInvalidInput        ErrorKind = "InvalidInput"
	ErrorKindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	ErrorKindUpstreamTimeout     ErrorKind = "UpstreamTimeout"
	ErrorKindUpstreamRejected    ErrorKind = "UpstreamRejected"
	ErrorKindStoreUnavailable    ErrorKind = "StoreUnavailable"
)

// TaskError is the structured failure detail stored on a FAILED task.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Task is the persisted record of one extraction job.
// The raw payload is stored alongside but is only reachable through
// TaskStore.Payload.
type Task struct {
	ID          uuid.UUID
	Kind        extraction.InputKind
	Fingerprint string
	Status      TaskStatus
	ResultRef   string
	Error       *TaskError
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewTask carries everything needed to insert a PENDING task.
type NewTask struct {
	ID          uuid.UUID
	Kind        extraction.InputKind
	Fingerprint string
	Payload     []byte
	CreatedAt   time.Time
}

// Outcome is written together with a status transition.
// ResultRef accompanies COMPLETED, Error accompanies FAILED.
type Outcome struct {
	ResultRef string
	Error     *TaskError
}

// Errors shared by the task components.
var (
	// ErrInvalidInput is returned by Submit when the payload is rejected
	// before any task is created.
	ErrInvalidInput = extraction.ErrInvalidInput

	// ErrNotFound is returned when a task id is unknown or malformed.
	ErrNotFound = store.ErrTaskNotFound

	// ErrStoreUnavailable is returned when the task store cannot be reached.
	ErrStoreUnavailable = store.ErrStoreUnavailable

	// ErrStaleTransition is returned by TaskStore.Transition when the task
	// is no longer in the expected source status.
	ErrStaleTransition = errors.New("task is not in the expected status")

	// ErrInvalidTransition is returned for transitions the lifecycle forbids
	// or whose outcome does not match the target status.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ValidateTransition checks a transition against the lifecycle
// PENDING -> PROCESSING -> COMPLETED | FAILED and the outcome rules:
// a result reference only with COMPLETED, an error only with FAILED.
func ValidateTransition(from, to TaskStatus, outcome Outcome) error {
	switch {
	case from == TaskStatusPending && to == TaskStatusProcessing:
		if outcome.ResultRef != "" || outcome.Error != nil {
			return fmt.Errorf("%w: %s -> %s carries an outcome", ErrInvalidTransition, from, to)
		}
	case from == TaskStatusProcessing && to == TaskStatusCompleted:
		if outcome.ResultRef == "" || outcome.Error != nil {
			return fmt.Errorf("%w: %s requires a result reference only", ErrInvalidTransition, to)
		}
	case from == TaskStatusProcessing && to == TaskStatusFailed:
		if outcome.Error == nil || outcome.ResultRef != "" {
			return fmt.Errorf("%w: %s requires an error only", ErrInvalidTransition, to)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TaskStore defines the persistence operations the orchestrator relies on.
// Implementations must make CreateIfAbsent atomic per fingerprint and
// Transition conditional on the current status.
type TaskStore interface {
	// CreateIfAbsent inserts a PENDING task unless a PENDING or PROCESSING
	// task already exists for the same fingerprint, in which case that task
	// is returned with created=false.
	CreateIfAbsent(ctx context.Context, t NewTask) (*Task, bool, error)

	// Get returns the task or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// Payload returns the raw input stored with the task.
	Payload(ctx context.Context, id uuid.UUID) ([]byte, error)

	// Transition moves a task from one status to another, recording the
	// outcome. It returns ErrStaleTransition if the task is not in from.
	Transition(ctx context.Context, id uuid.UUID, from, to TaskStatus, outcome Outcome) error

	// ListByStatus returns tasks in the given status whose last update is at
	// least olderThan ago. A zero age returns all of them.
	ListByStatus(ctx context.Context, status TaskStatus, olderThan time.Duration) ([]*Task, error)
}

// TaskQueueReader provides read access to queued task ids
type TaskQueueReader interface {
	// GetChannel returns a channel that can be used to receive task ids
	GetChannel() <-chan uuid.UUID
}

// TaskQueueWriter provides write access to the task queue
type TaskQueueWriter interface {
	// Enqueue adds a task id to the queue without blocking
	Enqueue(taskID uuid.UUID) error
}
