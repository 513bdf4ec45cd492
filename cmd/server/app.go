package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/sample-paper-api/internal/cache"
	"github.com/phrazzld/sample-paper-api/internal/config"
	"github.com/phrazzld/sample-paper-api/internal/platform/gemini"
	"github.com/phrazzld/sample-paper-api/internal/platform/postgres"
	"github.com/phrazzld/sample-paper-api/internal/platform/redis"
	"github.com/phrazzld/sample-paper-api/internal/ratelimit"
	"github.com/phrazzld/sample-paper-api/internal/service"
	"github.com/phrazzld/sample-paper-api/internal/task"
)

const (
	// rateWindow is the period the per-minute budgets are counted over
	rateWindow = time.Minute

	// cacheSweepInterval is how often expired in-process cache entries are dropped
	cacheSweepInterval = time.Minute

	// shutdownTimeout bounds HTTP draining and worker shutdown
	shutdownTimeout = 30 * time.Second
)

// rateLimiters holds one limiter per route group.
type rateLimiters struct {
	papers     ratelimit.Limiter
	extraction ratelimit.Limiter
	tasks      ratelimit.Limiter
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// redis is nil when the in-process cache and limiters are used
	redis       *goredis.Client
	memoryCache *cache.MemoryStore

	cache        cache.Store
	limiters     rateLimiters
	paperService service.PaperService
	orchestrator *task.Orchestrator
	taskQueue    *task.TaskQueue
	taskRunner   *task.Runner
}

// newApplication creates a new application instance with all dependencies initialized.
// It accepts core dependencies like configuration, logger, and database connection that
// must be established before application initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (_ *application, err error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := app.setupCacheAndLimiters(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && app.redis != nil {
			_ = app.redis.Close()
		}
	}()

	app.paperService, err = service.NewPaperService(
		postgres.NewPostgresPaperStore(db),
		app.cache,
		cfg.Paper.CacheTTL(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create paper service: %w", err)
	}

	extractor, err := gemini.NewExtractor(ctx, logger.With("component", "gemini_extractor"), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}
	logger.Info("extractor initialized", "model", cfg.LLM.ModelName)

	taskStore := postgres.NewPostgresTaskStore(db)
	app.taskQueue = task.NewTaskQueue(cfg.Task.QueueSize, logger)

	app.orchestrator, err = task.NewOrchestrator(
		taskStore,
		app.taskQueue,
		extractor,
		app.paperService,
		app.cache,
		task.OrchestratorConfig{
			ExtractionTimeout: cfg.Task.ExtractionTimeout(),
			ResultCacheTTL:    cfg.Task.ResultCacheTTL(),
			MaxPDFBytes:       int64(cfg.Task.MaxPDFBytes),
			MaxTextBytes:      int64(cfg.Task.MaxTextBytes),
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.taskRunner, err = task.NewRunner(taskStore, app.taskQueue, app.orchestrator, task.RunnerConfig{
		WorkerCount:            cfg.Task.WorkerCount,
		StuckTaskAge:           cfg.Task.StuckTaskAge(),
		StuckTaskCheckInterval: cfg.Task.StuckTaskCheckInterval(),
		ShutdownTimeout:        shutdownTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task runner: %w", err)
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// setupCacheAndLimiters selects Redis when an address is configured and the
// in-process implementations otherwise.
func (app *application) setupCacheAndLimiters(ctx context.Context) error {
	rl := app.config.RateLimit

	if app.config.Redis.Addr == "" {
		app.memoryCache = cache.NewMemoryStore()
		app.cache = app.memoryCache
		app.limiters = rateLimiters{
			papers:     ratelimit.NewMemoryLimiter(rl.PapersPerMinute, rateWindow),
			extraction: ratelimit.NewMemoryLimiter(rl.ExtractionPerMinute, rateWindow),
			tasks:      ratelimit.NewMemoryLimiter(rl.TasksPerMinute, rateWindow),
		}
		app.logger.Info("using in-process cache and rate limiters")
		return nil
	}

	client, err := redis.Connect(ctx, app.config.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.redis = client
	app.cache = redis.NewCache(client)
	app.limiters = rateLimiters{
		papers:     redis.NewLimiter(client, rl.PapersPerMinute, rateWindow),
		extraction: redis.NewLimiter(client, rl.ExtractionPerMinute, rateWindow),
		tasks:      redis.NewLimiter(client, rl.TasksPerMinute, rateWindow),
	}
	app.logger.Info("using redis cache and rate limiters", "addr", app.config.Redis.Addr)
	return nil
}

// Run starts the task runner and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (app *application) Run(ctx context.Context) error {
	if err := app.taskRunner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// sweepCache periodically drops expired entries from the in-process cache
// until ctx is done.
func (app *application) sweepCache(ctx context.Context) error {
	if app.memoryCache == nil {
		return nil
	}

	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := app.memoryCache.Sweep(); n > 0 {
				app.logger.Debug("expired cache entries removed", "count", n)
			}
		}
	}
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		if err := app.taskRunner.Stop(); err != nil {
			app.logger.Error("error stopping task runner", "error", err)
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
