package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/cache"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/phrazzld/sample-paper-api/internal/redact"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

const (
	// resultKeyPrefix namespaces cached extraction results by fingerprint
	resultKeyPrefix = "extraction:"

	// finalizeTimeout bounds the terminal status write, which runs even when
	// the worker context has been cancelled
	finalizeTimeout = 5 * time.Second
)

// PaperRepository is the subset of document operations the orchestrator
// needs to store and read back extraction results.
type PaperRepository interface {
	Create(ctx context.Context, paper *domain.SamplePaper) (*domain.SamplePaper, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.SamplePaper, error)
}

// OrchestratorConfig holds the limits applied by the orchestrator.
type OrchestratorConfig struct {
	ExtractionTimeout time.Duration
	ResultCacheTTL    time.Duration
	MaxPDFBytes       int64
	MaxTextBytes      int64
}

// Snapshot is the externally visible state of a task. ResultUnavailable
// marks a COMPLETED task whose document no longer exists.
type Snapshot struct {
	TaskID            uuid.UUID            `json:"task_id"`
	Kind              extraction.InputKind `json:"kind"`
	Status            TaskStatus           `json:"status"`
	ResultRef         string               `json:"result_ref,omitempty"`
	Result            *domain.SamplePaper  `json:"result,omitempty"`
	ResultUnavailable bool                 `json:"result_unavailable,omitempty"`
	Error             *TaskError           `json:"error,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// resultEntry is the cached value stored under extraction:<fingerprint>.
// The document itself is read through the PaperRepository so edits and
// deletions are never masked by this entry.
type resultEntry struct {
	TaskID    uuid.UUID `json:"task_id"`
	ResultRef string    `json:"result_ref"`
}

// Orchestrator accepts extraction submissions, deduplicates them by input
// fingerprint, executes them in the background and answers status reads.
type Orchestrator struct {
	store     TaskStore
	queue     TaskQueueWriter
	extractor extraction.Extractor
	papers    PaperRepository
	cache     cache.Store
	config    OrchestratorConfig
	logger    *slog.Logger
	now       func() time.Time
}

var _ Executor = (*Orchestrator)(nil)

// NewOrchestrator validates its dependencies and returns an Orchestrator.
func NewOrchestrator(
	store TaskStore,
	queue TaskQueueWriter,
	extractor extraction.Extractor,
	papers PaperRepository,
	resultCache cache.Store,
	config OrchestratorConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if queue == nil {
		return nil, errors.New("task queue cannot be nil")
	}
	if extractor == nil {
		return nil, errors.New("extractor cannot be nil")
	}
	if papers == nil {
		return nil, errors.New("paper repository cannot be nil")
	}
	if resultCache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.ExtractionTimeout <= 0 {
		return nil, errors.New("extraction timeout must be positive")
	}

	return &Orchestrator{
		store:     store,
		queue:     queue,
		extractor: extractor,
		papers:    papers,
		cache:     resultCache,
		config:    config,
		logger:    logger.With("component", "task_orchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit registers an extraction request and returns the id of the task
// that will produce, or already produced, its result. It never waits for
// the extraction itself.
func (o *Orchestrator) Submit(ctx context.Context, payload []byte, kind extraction.InputKind) (uuid.UUID, error) {
	if err := o.validateInput(payload, kind); err != nil {
		return uuid.Nil, err
	}

	fingerprint := Fingerprint(kind, payload)
	log := o.logger.With("fingerprint", fingerprint, "input_kind", kind)

	if id, ok := o.cachedTask(ctx, log, fingerprint); ok {
		log.Info("returning cached extraction", "task_id", id)
		return id, nil
	}

	t, created, err := o.store.CreateIfAbsent(ctx, NewTask{
		ID:          uuid.New(),
		Kind:        kind,
		Fingerprint: fingerprint,
		Payload:     payload,
		CreatedAt:   o.now(),
	})
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		log.Error("failed to create task", "error", redact.Error(err))
		return uuid.Nil, err
	}
	if !created {
		log.Info("joined in-flight task", "task_id", t.ID, "status", t.Status)
		return t.ID, nil
	}

	if err := o.queue.Enqueue(t.ID); err != nil {
		// still PENDING; the runner's sweep dispatches it later
		log.Warn("task not dispatched immediately", "task_id", t.ID, "error", err)
	}

	log.Info("task submitted", "task_id", t.ID)
	return t.ID, nil
}

func (o *Orchestrator) validateInput(payload []byte, kind extraction.InputKind) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidInput)
	}

	switch kind {
	case extraction.InputKindPDF:
		if o.config.MaxPDFBytes > 0 && int64(len(payload)) > o.config.MaxPDFBytes {
			return fmt.Errorf("%w: PDF exceeds %d bytes", ErrInvalidInput, o.config.MaxPDFBytes)
		}
		if ct := http.DetectContentType(payload); ct != "application/pdf" {
			return fmt.Errorf("%w: payload is not a PDF document", ErrInvalidInput)
		}
	case extraction.InputKindText:
		if o.config.MaxTextBytes > 0 && int64(len(payload)) > o.config.MaxTextBytes {
			return fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidInput, o.config.MaxTextBytes)
		}
		if !utf8.Valid(payload) {
			return fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
		}
		if len(normalize(kind, payload)) == 0 {
			return fmt.Errorf("%w: text is blank", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unsupported input kind %q", ErrInvalidInput, kind)
	}
	return nil
}

// cachedTask returns the task id of a cached result for fingerprint. The
// entry is written just before its task turns COMPLETED, so a task still
// PROCESSING with a matching reference counts as a hit. An entry whose task
// moved elsewhere, or whose document was deleted, is discarded.
func (o *Orchestrator) cachedTask(ctx context.Context, log *slog.Logger, fingerprint string) (uuid.UUID, bool) {
	entry, ok := o.readResult(ctx, log, fingerprint)
	if !ok {
		return uuid.Nil, false
	}

	t, err := o.store.Get(ctx, entry.TaskID)
	if err != nil || t.Fingerprint != fingerprint {
		o.discardResult(ctx, log, fingerprint, entry.TaskID)
		return uuid.Nil, false
	}

	switch t.Status {
	case TaskStatusProcessing:
		return t.ID, true
	case TaskStatusCompleted:
		if t.ResultRef != entry.ResultRef {
			o.discardResult(ctx, log, fingerprint, entry.TaskID)
			return uuid.Nil, false
		}
		paperID, err := uuid.Parse(t.ResultRef)
		if err != nil {
			o.discardResult(ctx, log, fingerprint, entry.TaskID)
			return uuid.Nil, false
		}
		if _, err := o.papers.Get(ctx, paperID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				o.discardResult(ctx, log, fingerprint, entry.TaskID)
				return uuid.Nil, false
			}
			// the task is still recorded COMPLETED; recomputing would not help
			log.Warn("could not verify cached result", "task_id", t.ID, "error", redact.Error(err))
		}
		return t.ID, true
	default:
		o.discardResult(ctx, log, fingerprint, entry.TaskID)
		return uuid.Nil, false
	}
}

func (o *Orchestrator) discardResult(ctx context.Context, log *slog.Logger, fingerprint string, taskID uuid.UUID) {
	log.Warn("discarding stale cache entry", "task_id", taskID)
	if err := o.cache.Delete(ctx, resultKeyPrefix+fingerprint); err != nil {
		log.Warn("failed to delete stale cache entry", "error", redact.Error(err))
	}
}

func (o *Orchestrator) readResult(ctx context.Context, log *slog.Logger, fingerprint string) (*resultEntry, bool) {
	raw, found, err := o.cache.Get(ctx, resultKeyPrefix+fingerprint)
	if err != nil {
		log.Warn("cache read failed", "error", redact.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var entry resultEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn("ignoring malformed cache entry", "error", err)
		return nil, false
	}
	return &entry, true
}

// Execute runs one task to a terminal state. Only the caller whose
// PENDING -> PROCESSING transition succeeds does any work. It returns an
// error only when the task's state could not be recorded.
func (o *Orchestrator) Execute(ctx context.Context, taskID uuid.UUID) error {
	log := o.logger.With("task_id", taskID)

	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if t.Status != TaskStatusPending {
		log.Debug("task no longer pending, skipping", "status", t.Status)
		return nil
	}

	payload, err := o.store.Payload(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task payload: %w", err)
	}

	err = o.store.Transition(ctx, taskID, TaskStatusPending, TaskStatusProcessing, Outcome{})
	if errors.Is(err, ErrStaleTransition) {
		log.Debug("task claimed by another worker")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}

	log = log.With("input_kind", t.Kind)
	log.Info("processing task")

	paper, err := o.extract(ctx, payload, t.Kind)
	if err != nil {
		return o.fail(ctx, log, taskID, classify(err), err)
	}

	saved, err := o.papers.Create(ctx, paper)
	if err != nil {
		return o.fail(ctx, log, taskID, ErrorKindStoreUnavailable,
			fmt.Errorf("failed to store extracted paper: %w", err))
	}
	ref := saved.ID.String()

	finalCtx, cancel := finalizeContext(ctx)
	defer cancel()

	// the entry must exist before COMPLETED frees the fingerprint, otherwise a
	// resubmission in between would start a second extraction
	o.writeResult(finalCtx, log, t.Fingerprint, resultEntry{TaskID: taskID, ResultRef: ref})

	err = o.store.Transition(finalCtx, taskID, TaskStatusProcessing, TaskStatusCompleted, Outcome{ResultRef: ref})
	if err != nil {
		o.discardResult(finalCtx, log, t.Fingerprint, taskID)
	}
	if errors.Is(err, ErrStaleTransition) {
		log.Warn("task left processing before completion, result discarded", "result_ref", ref)
		return nil
	}
	if err != nil {
		return o.fail(ctx, log, taskID, ErrorKindStoreUnavailable,
			fmt.Errorf("failed to record completion: %w", err))
	}

	log.Info("task completed", "result_ref", ref)
	return nil
}

// extract calls the extractor under the configured deadline. A call that
// ignores its context is abandoned when the deadline passes.
func (o *Orchestrator) extract(
	ctx context.Context,
	payload []byte,
	kind extraction.InputKind,
) (*domain.SamplePaper, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.ExtractionTimeout)
	defer cancel()

	type result struct {
		paper *domain.SamplePaper
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: extractor panicked: %v", extraction.ErrUpstreamUnavailable, r)}
			}
		}()
		paper, err := o.extractor.Extract(ctx, payload, kind)
		done <- result{paper: paper, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.paper == nil {
			return nil, fmt.Errorf("%w: extractor returned no paper", extraction.ErrUpstreamRejected)
		}
		if err := r.paper.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", extraction.ErrUpstreamRejected, err)
		}
		return r.paper, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no result within %s", extraction.ErrUpstreamTimeout, o.config.ExtractionTimeout)
		}
		return nil, fmt.Errorf("%w: %s", extraction.ErrUpstreamTimeout, InterruptedMessage)
	}
}

// fail records a FAILED outcome. The failure itself is a handled result,
// so nil is returned once it is stored.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, taskID uuid.UUID, kind ErrorKind, cause error) error {
	msg := redact.Error(cause)

	finalCtx, cancel := finalizeContext(ctx)
	defer cancel()

	outcome := Outcome{Error: &TaskError{Kind: kind, Message: msg}}
	if err := o.store.Transition(finalCtx, taskID, TaskStatusProcessing, TaskStatusFailed, outcome); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			log.Warn("task left processing before failure was recorded", "error_kind", kind)
			return nil
		}
		log.Error("failed to record task failure", "error", redact.Error(err), "cause", msg)
		return fmt.Errorf("failed to mark task failed: %w", err)
	}

	log.Warn("task failed", "error_kind", kind, "error", msg)
	return nil
}

func (o *Orchestrator) writeResult(ctx context.Context, log *slog.Logger, fingerprint string, entry resultEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Warn("failed to encode cache entry", "error", err)
		return
	}
	if err := o.cache.Set(ctx, resultKeyPrefix+fingerprint, raw, o.config.ResultCacheTTL); err != nil {
		log.Warn("failed to cache extraction result", "error", redact.Error(err))
	}
}

// GetStatus returns the current snapshot of a task. The status comes from
// the task store and the result document from the PaperRepository. A
// COMPLETED task whose document is gone is marked ResultUnavailable; a
// repository failure is returned as ErrStoreUnavailable.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (*Snapshot, error) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed task id", ErrNotFound)
	}

	t, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		TaskID:    t.ID,
		Kind:      t.Kind,
		Status:    t.Status,
		ResultRef: t.ResultRef,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Status == TaskStatusCompleted {
		paper, err := o.loadResult(ctx, t)
		if err != nil {
			return nil, err
		}
		snapshot.Result = paper
		snapshot.ResultUnavailable = paper == nil
	}
	return snapshot, nil
}

func (o *Orchestrator) loadResult(ctx context.Context, t *Task) (*domain.SamplePaper, error) {
	log := o.logger.With("task_id", t.ID)

	paperID, err := uuid.Parse(t.ResultRef)
	if err != nil {
		log.Error("task has malformed result reference", "result_ref", t.ResultRef)
		return nil, nil
	}
	paper, err := o.papers.Get(ctx, paperID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Warn("failed to load task result", "result_ref", t.ResultRef, "error", redact.Error(err))
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return paper, nil
}

// classify maps an extraction failure onto the recorded error kind.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, extraction.ErrInvalidInput):
		return ErrorKindInvalidInput
	case errors.Is(err, extraction.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindUpstreamTimeout
	case errors.Is(err, extraction.ErrUpstreamRejected):
		return ErrorKindUpstreamRejected
	case errors.Is(err, store.ErrStoreUnavailable):
		return ErrorKindStoreUnavailable
	default:
		return ErrorKindUpstreamUnavailable
	}
}

// finalizeContext detaches from cancellation so terminal writes land during
// shutdown, bounded by finalizeTimeout.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
