package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/sample-paper-api/internal/config"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

const validPaperJSON = `{
  "title": "Maths Sample Paper",
  "type": "practice",
  "time": 180,
  "marks": 80,
  "params": {"board": "CBSE", "grade": 10, "subject": "Maths"},
  "tags": ["algebra"],
  "chapters": ["Quadratic Equations"],
  "sections": [{
    "marks_per_question": 2,
    "type": "short",
    "questions": [{
      "question": "Solve x^2 - 1 = 0",
      "answer": "x = 1 or x = -1",
      "type": "short",
      "question_slug": "solve-x2-minus-1",
      "reference_id": "Q1",
      "hint": null,
      "params": {}
    }]
  }]
}`

// fakeModels records calls and replays canned responses.
type fakeModels struct {
	mu        sync.Mutex
	calls     int
	contents  [][]*genai.Content
	configs   []*genai.GenerateContentConfig
	responses []fakeResponse
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, contents)
	f.configs = append(f.configs, cfg)
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.resp, r.err
}

func textResponse(text string) fakeResponse {
	return fakeResponse{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}}
}

func newTestExtractor(t *testing.T, client contentGenerator, maxRetries int) *Extractor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, err := newExtractor(logger, client, config.LLMConfig{
		GeminiAPIKey: "test-key",
		ModelName:    "gemini-test",
		MaxRetries:   maxRetries,
	})
	require.NoError(t, err)
	e.baseDelay = time.Millisecond
	return e
}

func TestNewExtractorValidation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &fakeModels{}

	_, err := newExtractor(nil, client, config.LLMConfig{ModelName: "m"})
	assert.Error(t, err)

	_, err = newExtractor(logger, nil, config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, extraction.ErrInvalidConfig)

	_, err = newExtractor(logger, client, config.LLMConfig{})
	assert.ErrorIs(t, err, extraction.ErrInvalidConfig)

	_, err = NewExtractor(context.Background(), logger, config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, extraction.ErrInvalidConfig)
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	client := &fakeModels{responses: []fakeResponse{textResponse("```json\n" + validPaperJSON + "\n```")}}
	e := newTestExtractor(t, client, 0)

	paper, err := e.Extract(context.Background(), []byte("Q1. Solve x^2 - 1 = 0"), extraction.InputKindText)

	require.NoError(t, err)
	assert.Equal(t, "Maths Sample Paper", paper.Title)
	assert.Equal(t, 10, paper.Params.Grade)
	require.Len(t, paper.Sections, 1)
	assert.Equal(t, "Q1", paper.Sections[0].Questions[0].ReferenceID)

	require.Len(t, client.contents, 1)
	parts := client.contents[0][0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "the text of a document")
	assert.Equal(t, "Q1. Solve x^2 - 1 = 0", parts[1].Text)
	assert.Equal(t, "application/json", client.configs[0].ResponseMIMEType)
}

func TestExtractPDFSendsInlineBytes(t *testing.T) {
	t.Parallel()

	client := &fakeModels{responses: []fakeResponse{textResponse(validPaperJSON)}}
	e := newTestExtractor(t, client, 0)
	pdf := []byte("%PDF-1.4 fake")

	_, err := e.Extract(context.Background(), pdf, extraction.InputKindPDF)
	require.NoError(t, err)

	parts := client.contents[0][0].Parts
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "application/pdf", parts[1].InlineData.MIMEType)
	assert.Equal(t, pdf, parts[1].InlineData.Data)
	assert.Contains(t, parts[0].Text, "a PDF document")
}

func TestExtractRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	client := &fakeModels{responses: []fakeResponse{textResponse(validPaperJSON)}}
	e := newTestExtractor(t, client, 0)

	_, err := e.Extract(context.Background(), nil, extraction.InputKindText)
	assert.ErrorIs(t, err, extraction.ErrInvalidInput)

	_, err = e.Extract(context.Background(), []byte("x"), extraction.InputKind("docx"))
	assert.ErrorIs(t, err, extraction.ErrInvalidInput)

	assert.Zero(t, client.calls)
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	client := &fakeModels{responses: []fakeResponse{
		{err: genai.APIError{Code: 503, Message: "overloaded"}},
		{err: genai.APIError{Code: 429, Message: "quota"}},
		textResponse(validPaperJSON),
	}}
	e := newTestExtractor(t, client, 3)

	paper, err := e.Extract(context.Background(), []byte("text"), extraction.InputKindText)

	require.NoError(t, err)
	assert.NotNil(t, paper)
	assert.Equal(t, 3, client.calls)
}

func TestExtractGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	client := &fakeModels{responses: []fakeResponse{{err: genai.APIError{Code: 500}}}}
	e := newTestExtractor(t, client, 2)

	_, err := e.Extract(context.Background(), []byte("text"), extraction.InputKindText)

	assert.ErrorIs(t, err, extraction.ErrUpstreamUnavailable)
	assert.Equal(t, 3, client.calls)
}

func TestExtractPermanentFailuresAreNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response fakeResponse
		want     error
	}{
		{"bad request", fakeResponse{err: genai.APIError{Code: 400}}, extraction.ErrUpstreamRejected},
		{"forbidden", fakeResponse{err: genai.APIError{Code: 403}}, extraction.ErrUpstreamRejected},
		{"invalid json", textResponse("not json at all"), extraction.ErrUpstreamRejected},
		{"schema mismatch", textResponse(`{"title": "only a title"}`), extraction.ErrUpstreamRejected},
		{"no candidates", fakeResponse{resp: &genai.GenerateContentResponse{}}, extraction.ErrUpstreamRejected},
		{"safety block", fakeResponse{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}}, extraction.ErrUpstreamRejected},
		{"gateway timeout", fakeResponse{err: genai.APIError{Code: 504}}, extraction.ErrUpstreamTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeModels{responses: []fakeResponse{tt.response}}
			e := newTestExtractor(t, client, 3)

			_, err := e.Extract(context.Background(), []byte("text"), extraction.InputKindText)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, client.calls)
		})
	}
}

func TestExtractHonoursDeadline(t *testing.T) {
	t.Parallel()

	client := &fakeModels{responses: []fakeResponse{{err: context.DeadlineExceeded}}}
	e := newTestExtractor(t, client, 3)

	_, err := e.Extract(context.Background(), []byte("text"), extraction.InputKindText)
	assert.ErrorIs(t, err, extraction.ErrUpstreamTimeout)
	assert.Equal(t, 1, client.calls)

	client = &fakeModels{responses: []fakeResponse{{err: genai.APIError{Code: 503}}}}
	e = newTestExtractor(t, client, 5)
	e.baseDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = e.Extract(ctx, []byte("text"), extraction.InputKindText)
	assert.ErrorIs(t, err, extraction.ErrUpstreamTimeout)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, classifyError(errors.New("dial tcp: connection refused")), extraction.ErrUpstreamUnavailable)
	assert.ErrorIs(t, classifyError(&genai.APIError{Code: 502}), extraction.ErrUpstreamUnavailable)
	assert.ErrorIs(t, classifyError(genai.APIError{Code: 404}), extraction.ErrUpstreamRejected)
	assert.NoError(t, classifyError(nil))
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
}

func TestExtractThrottlesModelCalls(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &fakeModels{responses: []fakeResponse{textResponse(validPaperJSON)}}
	e, err := newExtractor(logger, client, config.LLMConfig{
		GeminiAPIKey:      "test-key",
		ModelName:         "gemini-test",
		RequestsPerMinute: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, e.throttle)

	_, err = e.Extract(context.Background(), []byte("Q1. Define area."), extraction.InputKindText)
	require.NoError(t, err)

	// the next slot opens in a minute, well past this deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Extract(ctx, []byte("Q1. Define volume."), extraction.InputKindText)

	assert.ErrorIs(t, err, extraction.ErrUpstreamTimeout)
	assert.Equal(t, 1, client.calls)
}

func TestExtractUnthrottledByDefault(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(t, &fakeModels{responses: []fakeResponse{textResponse(validPaperJSON)}}, 0)
	assert.Nil(t, e.throttle)
}
