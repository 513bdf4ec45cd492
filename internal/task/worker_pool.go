package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// TaskHandler processes a single task id.
type TaskHandler func(ctx context.Context, taskID uuid.UUID) error

// WorkerPool dispatches task ids from a queue onto a bounded goroutine pool.
// A single dispatcher goroutine reads the queue; when every worker is busy it
// blocks, so the queue buffer absorbs bursts.
type WorkerPool struct {
	// taskQueue provides read access to the ids to be processed
	taskQueue TaskQueueReader

	// pool runs handler invocations on at most workerCount goroutines
	pool *ants.Pool

	// handler is invoked once per dequeued id
	handler TaskHandler

	workerCount int

	// wg tracks the dispatcher goroutine
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many tasks may execute concurrently.
	// If zero or negative, defaults to 1
	WorkerCount int

	// ShutdownTimeout bounds how long Stop waits for running tasks
	ShutdownTimeout time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:     2,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	taskQueue TaskQueueReader,
	config WorkerPoolConfig,
	handler TaskHandler,
	logger *slog.Logger,
) (*WorkerPool, error) {
	if taskQueue == nil {
		return nil, errors.New("task queue cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("task handler cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	logger = logger.With("component", "worker_pool")

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	pool, err := ants.NewPool(workerCount,
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("worker panicked", "panic", fmt.Sprint(p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		taskQueue:   taskQueue,
		pool:        pool,
		handler:     handler,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}, nil
}

// Start launches the dispatcher. Calling it more than once has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		p.wg.Add(1)
		go p.dispatch()
	})
}

// Stop cancels running handlers, stops the dispatcher and waits up to
// timeout for in-flight tasks to return.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		if releaseErr := p.pool.ReleaseTimeout(timeout); releaseErr != nil {
			err = fmt.Errorf("worker pool did not drain within %s: %w", timeout, releaseErr)
		}
		p.logger.Info("worker pool stopped")
	})
	return err
}

// Running returns the number of tasks currently executing.
func (p *WorkerPool) Running() int {
	return p.pool.Running()
}

func (p *WorkerPool) dispatch() {
	defer p.wg.Done()

	tasks := p.taskQueue.GetChannel()
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping dispatcher")
			return

		case taskID, ok := <-tasks:
			if !ok {
				p.logger.Debug("task channel closed, stopping dispatcher")
				return
			}
			if err := p.pool.Submit(func() { p.run(taskID) }); err != nil {
				// the task stays pending and is picked up by the next sweep
				p.logger.Error("failed to dispatch task", "task_id", taskID, "error", err)
			}
		}
	}
}

func (p *WorkerPool) run(taskID uuid.UUID) {
	logger := p.logger.With("task_id", taskID)
	if p.ctx.Err() != nil {
		logger.Debug("pool stopping, leaving task for recovery")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := p.handler(p.ctx, taskID); err != nil {
		logger.Error("task execution failed", "error", err)
	}
}
