package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/api/shared"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/phrazzld/sample-paper-api/internal/platform/logger"
	"github.com/phrazzld/sample-paper-api/internal/task"
)

const (
	// multipartOverhead is allowed on top of the file limit for form framing
	multipartOverhead = 64 << 10

	// multipartMemory is the part of a multipart body kept in memory
	multipartMemory = 8 << 20
)

// ExtractionService submits extraction requests and reports task status.
// It is implemented by *task.Orchestrator.
type ExtractionService interface {
	Submit(ctx context.Context, payload []byte, kind extraction.InputKind) (uuid.UUID, error)
	GetStatus(ctx context.Context, taskID string) (*task.Snapshot, error)
}

// ExtractionHandler handles extraction submissions and task status reads.
type ExtractionHandler struct {
	service      ExtractionService
	maxPDFBytes  int64
	maxTextBytes int64
	logger       *slog.Logger
}

// NewExtractionHandler creates a new ExtractionHandler. Bodies larger than
// the given limits are rejected before reaching the service.
func NewExtractionHandler(
	service ExtractionService,
	maxPDFBytes, maxTextBytes int64,
	logger *slog.Logger,
) *ExtractionHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ExtractionHandler")
	}

	return &ExtractionHandler{
		service:      service,
		maxPDFBytes:  maxPDFBytes,
		maxTextBytes: maxTextBytes,
		logger:       logger.With(slog.String("component", "extraction_handler")),
	}
}

// ExtractPDF handles POST /extract/pdf requests with a multipart "file" field.
func (h *ExtractionHandler) ExtractPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPDFBytes+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.respondBodyError(w, r, err, "Request must be multipart/form-data with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Missing file field", err)
		return
	}
	defer func() { _ = file.Close() }()

	if ct := header.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "application/pdf" && mediaType != "application/octet-stream" {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Uploaded file must be a PDF")
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(file, h.maxPDFBytes+1))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Failed to read uploaded file", err)
		return
	}

	h.submit(w, r, payload, extraction.InputKindPDF)
}

// ExtractText handles POST /extract/text requests. The text is read from a
// JSON body {"text": "..."} or from the "text" form field.
func (h *ExtractionHandler) ExtractText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxTextBytes+multipartOverhead)

	var text string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req TextExtractionRequest
		if err := shared.DecodeJSON(r, &req); err != nil {
			h.respondBodyError(w, r, err, "Invalid request format")
			return
		}
		if err := shared.ValidateRequest(&req); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Text is required", err)
			return
		}
		text = req.Text
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.respondBodyError(w, r, err, "Invalid form data")
			return
		}
		text = r.FormValue("text")
	default:
		if err := r.ParseForm(); err != nil {
			h.respondBodyError(w, r, err, "Invalid form data")
			return
		}
		text = r.PostFormValue("text")
	}

	if strings.TrimSpace(text) == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Text is required")
		return
	}

	h.submit(w, r, []byte(text), extraction.InputKindText)
}

// GetTask handles GET /tasks/{task_id} requests.
func (h *ExtractionHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	snap, err := h.service.GetStatus(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, snap)
}

func (h *ExtractionHandler) submit(
	w http.ResponseWriter,
	r *http.Request,
	payload []byte,
	kind extraction.InputKind,
) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := h.service.Submit(r.Context(), payload, kind)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("extraction request accepted",
		slog.String("task_id", taskID.String()),
		slog.String("kind", string(kind)),
		slog.Int("bytes", len(payload)))

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskAcceptedResponse{
		Message: "Extraction task accepted",
		TaskID:  taskID,
	})
}

// respondBodyError reports an unreadable body, distinguishing oversized ones.
func (h *ExtractionHandler) respondBodyError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "Request body too large", err)
		return
	}
	shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, message, err)
}
