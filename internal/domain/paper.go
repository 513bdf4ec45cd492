package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Common validation errors for SamplePaper
var (
	ErrEmptyPatch     = errors.New("update contains no fields")
	ErrImmutableField = errors.New("field cannot be updated")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PaperParams identifies the board, grade and subject of a paper.
type PaperParams struct {
	Board   string `json:"board"`
	Grade   int    `json:"grade"   validate:"gte=1,lte=12"`
	Subject string `json:"subject"`
}

// Question is a single question with its answer.
type Question struct {
	Question     string         `json:"question"`
	Answer       string         `json:"answer"`
	Type         string         `json:"type"`
	QuestionSlug string         `json:"question_slug"`
	ReferenceID  string         `json:"reference_id"`
	Hint         *string        `json:"hint,omitempty"`
	Params       map[string]any `json:"params"`
}

// Section groups questions that share a type and mark value.
type Section struct {
	MarksPerQuestion int        `json:"marks_per_question" validate:"gt=0"`
	Type             string     `json:"type"`
	Questions        []Question `json:"questions"          validate:"dive"`
}

// SamplePaper represents a structured exam paper, either authored directly
// or produced by extraction from a PDF or raw text.
type SamplePaper struct {
	ID        uuid.UUID   `json:"id"`
	Title     string      `json:"title"`
	Type      string      `json:"type"`
	Time      int         `json:"time"     validate:"gt=0"`
	Marks     int         `json:"marks"    validate:"gt=0"`
	Params    PaperParams `json:"params"`
	Tags      []string    `json:"tags"     validate:"min=1"`
	Chapters  []string    `json:"chapters" validate:"min=1"`
	Sections  []Section   `json:"sections" validate:"min=1,dive"`
	CreatedAt time.Time   `json:"-"`
	UpdatedAt time.Time   `json:"-"`
}

// Validate checks the paper against its field constraints.
// Returns an error wrapping ErrValidation if any field fails.
func (p *SamplePaper) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// SearchText concatenates every question and answer in the paper.
// It is the text indexed for full-text search.
func (p *SamplePaper) SearchText() string {
	var b strings.Builder
	for _, s := range p.Sections {
		for _, q := range s.Questions {
			if q.Question != "" {
				b.WriteString(q.Question)
				b.WriteByte('\n')
			}
			if q.Answer != "" {
				b.WriteString(q.Answer)
				b.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Body returns the JSON document of the paper without its identifier.
func (p *SamplePaper) Body() ([]byte, error) {
	doc := *p
	doc.ID = uuid.Nil
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	return json.Marshal(fields)
}

// ApplyPatch returns a copy of the paper with the top-level fields of patch
// replaced. Unknown fields and changes to the id are rejected, and the
// result must pass Validate.
func (p *SamplePaper) ApplyPatch(patch map[string]json.RawMessage) (*SamplePaper, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyPatch)
	}
	if _, ok := patch["id"]; ok {
		return nil, fmt.Errorf("%w: %w: id", ErrValidation, ErrImmutableField)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode paper: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode paper fields: %w", err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patched paper: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	var updated SamplePaper
	if err := dec.Decode(&updated); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	updated.ID = p.ID
	updated.CreatedAt = p.CreatedAt
	updated.UpdatedAt = p.UpdatedAt

	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return &updated, nil
}
