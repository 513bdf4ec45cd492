package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/api/shared"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/platform/logger"
	"github.com/phrazzld/sample-paper-api/internal/service"
	"github.com/phrazzld/sample-paper-api/internal/store"
)

// maxPaperBodyBytes bounds JSON bodies of paper create and update requests.
const maxPaperBodyBytes = 2 << 20

// PaperHandler handles sample paper CRUD and search requests.
type PaperHandler struct {
	papers service.PaperService
	logger *slog.Logger
}

// NewPaperHandler creates a new PaperHandler
func NewPaperHandler(papers service.PaperService, logger *slog.Logger) *PaperHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for PaperHandler")
	}

	return &PaperHandler{
		papers: papers,
		logger: logger.With(slog.String("component", "paper_handler")),
	}
}

// CreatePaper handles POST /sample-papers requests.
func (h *PaperHandler) CreatePaper(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPaperBodyBytes)

	var paper domain.SamplePaper
	if err := shared.DecodeJSON(r, &paper); err != nil {
		h.respondDecodeError(w, r, err)
		return
	}
	// ids are always assigned by the store
	paper.ID = uuid.Nil

	created, err := h.papers.Create(r.Context(), &paper)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, PaperCreatedResponse{
		Message: "Sample paper created successfully",
		ID:      created.ID,
	})
}

// GetPaper handles GET /sample-papers/{id} requests.
func (h *PaperHandler) GetPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	paper, err := h.papers.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, paper)
}

// UpdatePaper handles PUT /sample-papers/{id} requests. The body is a JSON
// object whose top-level fields replace those of the stored paper.
func (h *PaperHandler) UpdatePaper(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPaperBodyBytes)
	var patch map[string]json.RawMessage
	if err := shared.DecodeJSON(r, &patch); err != nil {
		h.respondDecodeError(w, r, err)
		return
	}

	updated, err := h.papers.Update(r.Context(), id, patch)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, PaperUpdatedResponse{
		Message: "Sample paper updated successfully",
		Paper:   updated,
	})
}

// DeletePaper handles DELETE /sample-papers/{id} requests.
func (h *PaperHandler) DeletePaper(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.papers.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, shared.MessageResponse{
		Message: "Sample paper deleted successfully",
	})
}

// SearchPapers handles GET /sample-papers/ft/search requests.
func (h *PaperHandler) SearchPapers(w http.ResponseWriter, r *http.Request) {
	limit, err := shared.QueryInt(r, "limit", store.DefaultSearchLimit)
	if err != nil {
		h.respondError(w, r, badRequest("%s", err.Error()))
		return
	}
	skip, err := shared.QueryInt(r, "skip", 0)
	if err != nil {
		h.respondError(w, r, badRequest("%s", err.Error()))
		return
	}

	params := SearchParams{
		Query: strings.TrimSpace(r.URL.Query().Get("query")),
		Limit: limit,
		Skip:  skip,
	}
	if err := shared.ValidateRequest(&params); err != nil {
		h.respondError(w, r, badRequest("query is required, limit must be between 1 and %d and skip cannot be negative",
			store.MaxSearchLimit))
		return
	}

	papers, err := h.papers.Search(r.Context(), params.Query, params.Limit, params.Skip)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("sample paper search",
		slog.Int("results", len(papers)),
		slog.Int("limit", params.Limit),
		slog.Int("skip", params.Skip))
	shared.RespondWithJSON(w, r, http.StatusOK, papers)
}

// pathID parses the {id} path parameter, writing a 400 response if it is
// not a UUID.
func (h *PaperHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("invalid sample paper id", slog.String("id", raw))
		h.respondError(w, r, domain.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func (h *PaperHandler) respondDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "Request body too large", err)
		return
	}
	shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
}

func (h *PaperHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
