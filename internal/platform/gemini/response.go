package gemini

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/sample-paper-api/internal/domain"
	"github.com/phrazzld/sample-paper-api/internal/extraction"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"
)

//go:embed sample_paper.schema.json
var samplePaperSchema []byte

const schemaURL = "sample_paper.schema.json"

// compileSchema compiles the embedded sample paper JSON Schema.
func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(samplePaperSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// responseText concatenates the text parts of the first candidate.
// Missing candidates or a safety stop are reported as rejections.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", extraction.ErrUpstreamRejected)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", extraction.ErrUpstreamRejected)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", extraction.ErrUpstreamRejected)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", extraction.ErrUpstreamRejected)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: response contained no text", extraction.ErrUpstreamRejected)
	}
	return b.String(), nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parsePaper turns raw model output into a validated sample paper.
func parsePaper(schema *jsonschema.Schema, text string) (*domain.SamplePaper, error) {
	raw := []byte(stripFences(text))

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %v", extraction.ErrUpstreamRejected, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: response does not match schema: %v", extraction.ErrUpstreamRejected, err)
	}

	var paper domain.SamplePaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		return nil, fmt.Errorf("%w: failed to decode paper: %v", extraction.ErrUpstreamRejected, err)
	}
	if err := paper.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", extraction.ErrUpstreamRejected, err)
	}
	return &paper, nil
}
