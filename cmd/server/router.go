package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/sample-paper-api/internal/api"
	apiMiddleware "github.com/phrazzld/sample-paper-api/internal/api/middleware"
	"github.com/phrazzld/sample-paper-api/internal/api/shared"
	"github.com/phrazzld/sample-paper-api/internal/ratelimit"
	"github.com/phrazzld/sample-paper-api/internal/service"
)

// healthCheckTimeout bounds the database ping behind GET /health
const healthCheckTimeout = 2 * time.Second

// routerDeps are the dependencies the HTTP routes are built from.
type routerDeps struct {
	appName      string
	extraction   api.ExtractionService
	papers       service.PaperService
	limiters     rateLimiters
	maxPDFBytes  int64
	maxTextBytes int64
	// ping reports dependency health; nil means always healthy
	ping   func(ctx context.Context) error
	logger *slog.Logger
}

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	return newRouter(routerDeps{
		appName:      app.config.Server.AppName,
		extraction:   app.orchestrator,
		papers:       app.paperService,
		limiters:     app.limiters,
		maxPDFBytes:  int64(app.config.Task.MaxPDFBytes),
		maxTextBytes: int64(app.config.Task.MaxTextBytes),
		ping:         app.db.PingContext,
		logger:       app.logger,
	})
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.TraceMiddleware(deps.logger))
	r.Use(middleware.Recoverer)

	extractionHandler := api.NewExtractionHandler(deps.extraction, deps.maxPDFBytes, deps.maxTextBytes, deps.logger)
	paperHandler := api.NewPaperHandler(deps.papers, deps.logger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, shared.MessageResponse{
			Message: "Hello World from " + deps.appName,
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := deps.ping(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Database unavailable", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(deps.limiters.extraction, "extraction", deps.logger))
		r.Post("/extract/pdf", extractionHandler.ExtractPDF)
		r.Post("/extract/text", extractionHandler.ExtractText)
	})

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(deps.limiters.tasks, "tasks", deps.logger))
		r.Get("/tasks/{task_id}", extractionHandler.GetTask)
	})

	r.Route("/sample-papers", func(r chi.Router) {
		r.Use(ratelimit.Middleware(deps.limiters.papers, "papers", deps.logger))
		r.Post("/", paperHandler.CreatePaper)
		r.Get("/ft/search", paperHandler.SearchPapers)
		r.Get("/{id}", paperHandler.GetPaper)
		r.Put("/{id}", paperHandler.UpdatePaper)
		r.Delete("/{id}", paperHandler.DeletePaper)
	})

	return r
}
