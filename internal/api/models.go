package api

import (
	"github.com/google/uuid"
	"github.com/phrazzld/sample-paper-api/internal/domain"
)

// TextExtractionRequest is the JSON form of POST /extract/text.
type TextExtractionRequest struct {
	Text string `json:"text" validate:"required"`
}

// TaskAcceptedResponse is returned when an extraction request is accepted.
type TaskAcceptedResponse struct {
	Message string    `json:"message"`
	TaskID  uuid.UUID `json:"task_id"`
}

// PaperCreatedResponse is returned by POST /sample-papers.
type PaperCreatedResponse struct {
	Message string    `json:"message"`
	ID      uuid.UUID `json:"id"`
}

// PaperUpdatedResponse is returned by PUT /sample-papers/{id}.
type PaperUpdatedResponse struct {
	Message string              `json:"message"`
	Paper   *domain.SamplePaper `json:"paper"`
}

// SearchParams are the validated query parameters of the full-text search.
type SearchParams struct {
	Query string `validate:"required"`
	Limit int    `validate:"gte=1,lte=100"`
	Skip  int    `validate:"gte=0"`
}
