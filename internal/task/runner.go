package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor runs a single task to a terminal state.
type Executor interface {
	Execute(ctx context.Context, taskID uuid.UUID) error
}

// InterruptedMessage is recorded on PROCESSING tasks that were abandoned by
// a stopped process or exceeded the stuck-task age.
const InterruptedMessage = "task interrupted before completion"

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many tasks execute concurrently
	WorkerCount int

	// StuckTaskAge defines how long a task can stay in processing
	// before it is failed as interrupted
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often the monitor runs.
	// PENDING tasks older than one interval are re-dispatched.
	// If zero, defaults to 1 minute
	StuckTaskCheckInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for running tasks
	ShutdownTimeout time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:            4,
		StuckTaskAge:           10 * time.Minute,
		StuckTaskCheckInterval: time.Minute,
		ShutdownTimeout:        30 * time.Second,
	}
}

// Runner owns the background side of the orchestrator: startup recovery,
// the worker pool and the stuck-task monitor.
type Runner struct {
	store  TaskStore
	queue  *TaskQueue
	pool   *WorkerPool
	config RunnerConfig
	logger *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a Runner that feeds ids from queue to executor.
func NewRunner(
	store TaskStore,
	queue *TaskQueue,
	executor Executor,
	config RunnerConfig,
	logger *slog.Logger,
) (*Runner, error) {
	if store == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if queue == nil {
		return nil, errors.New("task queue cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = time.Minute
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	logger = logger.With("component", "task_runner")

	pool, err := NewWorkerPool(queue, WorkerPoolConfig{
		WorkerCount:     config.WorkerCount,
		ShutdownTimeout: config.ShutdownTimeout,
	}, executor.Execute, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		store:      store,
		queue:      queue,
		pool:       pool,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
	}, nil
}

// Start recovers unfinished tasks, starts the workers and the monitor.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.pool.Start()

	r.wg.Add(1)
	go r.stuckTaskMonitor()

	return nil
}

// Stop stops the monitor, closes the queue and drains the workers.
// Tasks still PENDING are picked up again by the next Start.
func (r *Runner) Stop() error {
	r.cancelFunc()
	r.wg.Wait()
	r.queue.Close()
	return r.pool.Stop(r.config.ShutdownTimeout)
}

// Recover handles tasks left behind by a previous process: PENDING tasks are
// re-dispatched and PROCESSING tasks, whose worker is gone, are failed.
func (r *Runner) Recover(ctx context.Context) error {
	pending, err := r.store.ListByStatus(ctx, TaskStatusPending, 0)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}

	processing, err := r.store.ListByStatus(ctx, TaskStatusProcessing, 0)
	if err != nil {
		return fmt.Errorf("failed to get processing tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	r.failInterrupted(ctx, processing)
	r.requeue(pending)
	return nil
}

// sweep is one pass of the stuck-task monitor.
func (r *Runner) sweep(ctx context.Context) {
	if r.config.StuckTaskAge > 0 {
		stuck, err := r.store.ListByStatus(ctx, TaskStatusProcessing, r.config.StuckTaskAge)
		if err != nil {
			r.logger.Error("failed to check for stuck tasks", "error", err)
		} else if len(stuck) > 0 {
			r.logger.Info("found stuck tasks", "count", len(stuck))
			r.failInterrupted(ctx, stuck)
		}
	}

	pending, err := r.store.ListByStatus(ctx, TaskStatusPending, r.config.StuckTaskCheckInterval)
	if err != nil {
		r.logger.Error("failed to check for waiting tasks", "error", err)
		return
	}
	if len(pending) > 0 {
		r.logger.Info("re-dispatching waiting tasks", "count", len(pending))
		r.requeue(pending)
	}
}

func (r *Runner) failInterrupted(ctx context.Context, tasks []*Task) {
	outcome := Outcome{Error: &TaskError{Kind: ErrorKindUpstreamTimeout, Message: InterruptedMessage}}
	for _, t := range tasks {
		err := r.store.Transition(ctx, t.ID, TaskStatusProcessing, TaskStatusFailed, outcome)
		switch {
		case errors.Is(err, ErrStaleTransition):
			// finished while we were looking
		case err != nil:
			r.logger.Error("failed to fail interrupted task", "task_id", t.ID, "error", err)
		default:
			r.logger.Warn("failed interrupted task",
				"task_id", t.ID,
				"processing_since", t.UpdatedAt)
		}
	}
}

func (r *Runner) requeue(tasks []*Task) {
	for _, t := range tasks {
		if err := r.queue.Enqueue(t.ID); err != nil {
			r.logger.Warn("failed to requeue pending task", "task_id", t.ID, "error", err)
		}
	}
}

// stuckTaskMonitor periodically fails tasks stuck in processing and
// re-dispatches tasks that have waited too long in pending.
func (r *Runner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep(r.ctx)
		}
	}
}
