package gemini

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"text/template"
	"time"

	"github.com/phrazzld/sample-paper-api/internal/config"
	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

//go:embed prompt.tmpl
var promptTemplateText string

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 2 * time.Second
	pdfMIMEType       = "application/pdf"
)

// contentGenerator is the subset of the genai Models service used here.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// promptData is passed to the prompt template.
type promptData struct {
	IsPDF bool
}

// Extractor implements extraction.Extractor using the Gemini API.
type Extractor struct {
	logger         *slog.Logger
	client         contentGenerator
	model          string
	maxRetries     int
	baseDelay      time.Duration
	promptTemplate *template.Template
	schema         *jsonschema.Schema
	// throttle paces model calls across workers; nil means unthrottled
	throttle       *rate.Limiter

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ extraction.Extractor = (*Extractor)(nil)

// NewExtractor creates a Gemini-backed extractor.
// It validates the configuration and creates the genai client.
func NewExtractor(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Extractor, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", extraction.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", extraction.ErrInvalidConfig, err)
	}

	return newExtractor(logger, client.Models, cfg)
}

func newExtractor(logger *slog.Logger, client contentGenerator, cfg config.LLMConfig) (*Extractor, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", extraction.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", extraction.ErrInvalidConfig)
	}

	tmpl, err := template.New("extraction").Parse(promptTemplateText)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", extraction.ErrInvalidConfig, err)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extraction.ErrInvalidConfig, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		logger.Warn("invalid max retries value, using default", "max_retries", defaultMaxRetries)
		maxRetries = defaultMaxRetries
	}
	baseDelay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if cfg.RetryDelaySeconds < 0 {
		logger.Warn("invalid retry delay value, using default", "base_delay", defaultBaseDelay)
		baseDelay = defaultBaseDelay
	}

	var throttle *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		throttle = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Extractor{
		throttle:       throttle,
		logger:         logger.With("component", "gemini_extractor", "model", cfg.ModelName),
		client:         client,
		model:          cfg.ModelName,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		promptTemplate: tmpl,
		schema:         schema,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Extract sends the payload to Gemini and returns the parsed sample paper.
func (e *Extractor) Extract(
	ctx context.Context,
	payload []byte,
	kind extraction.InputKind,
) (*domain.SamplePaper, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", extraction.ErrInvalidInput)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported input kind %q", extraction.ErrInvalidInput, kind)
	}

	contents, err := e.buildContents(payload, kind)
	if err != nil {
		return nil, err
	}

	text, err := e.callWithRetry(ctx, contents)
	if err != nil {
		return nil, err
	}

	paper, err := parsePaper(e.schema, text)
	if err != nil {
		e.logger.WarnContext(ctx, "model output rejected", "error", err, "response_length", len(text))
		return nil, err
	}

	e.logger.InfoContext(ctx, "extraction succeeded",
		"input_kind", kind,
		"sections", len(paper.Sections))
	return paper, nil
}

// buildContents renders the prompt and pairs it with the document part.
func (e *Extractor) buildContents(payload []byte, kind extraction.InputKind) ([]*genai.Content, error) {
	var prompt bytes.Buffer
	if err := e.promptTemplate.Execute(&prompt, promptData{IsPDF: kind == extraction.InputKindPDF}); err != nil {
		return nil, fmt.Errorf("failed to execute prompt template: %w", err)
	}

	document := &genai.Part{Text: string(payload)}
	if kind == extraction.InputKindPDF {
		document = &genai.Part{InlineData: &genai.Blob{MIMEType: pdfMIMEType, Data: payload}}
	}

	return []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt.String()}, document},
	}}, nil
}

// callWithRetry calls the model, retrying transient failures with
// exponential backoff and jitter: delay = base * 2^attempt * [0.5, 1.0).
func (e *Extractor) callWithRetry(ctx context.Context, contents []*genai.Content) (string, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		e.logger.DebugContext(ctx, "making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", e.maxRetries+1)

		if e.throttle != nil {
			if err := e.throttle.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return "", classifyError(ctxErr)
				}
				return "", fmt.Errorf("%w: %v", extraction.ErrUpstreamTimeout, err)
			}
		}

		resp, err := e.client.GenerateContent(ctx, e.model, contents, cfg)
		if err != nil {
			err = classifyError(err)
		} else {
			var text string
			text, err = responseText(resp)
			if err == nil {
				return text, nil
			}
		}

		e.logger.WarnContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if !isTransient(err) {
			return "", err
		}
		if attempt >= e.maxRetries {
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d)", err, e.maxRetries)
		}

		delay := e.backoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", classifyError(ctx.Err())
		}
	}
}

func (e *Extractor) backoff(attempt int) time.Duration {
	e.rngMu.Lock()
	jitter := 0.5 + e.rng.Float64()*0.5
	e.rngMu.Unlock()
	return time.Duration(float64(e.baseDelay) * math.Pow(2, float64(attempt)) * jitter)
}
