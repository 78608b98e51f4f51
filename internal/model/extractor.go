package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const extractorSystemPrompt = `You extract structured parameters from user requests.
Given a JSON schema and a request, return ONLY a JSON object matching the schema.
No markdown, no explanation. Omit fields you cannot fill.`

// Extractor turns free text into typed parameters with a minimal,
// schema-guided model call.
type Extractor struct {
	selector *Selector
	model    string
	logger   *slog.Logger
}

// NewExtractor creates an extractor using the given model id for its
// calls (typically the cheapest available).
func NewExtractor(selector *Selector, model string, logger *slog.Logger) *Extractor {
	return &Extractor{selector: selector, model: model, logger: logger}
}

// Extract runs the extraction call and parses the result. Callers are
// expected to degrade gracefully on error; extraction failure is never
// a user-facing condition.
func (e *Extractor) Extract(ctx context.Context, schema, query string) (map[string]any, error) {
	resp, err := e.selector.Complete(ctx, &Request{
		System: extractorSystemPrompt,
		Prompt: fmt.Sprintf("Schema:\n%s\n\nRequest:\n%s", schema, query),
		Model:  e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	raw := stripFences(resp.Content)
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		if e.logger != nil {
			e.logger.Debug("extraction returned non-JSON", "content", resp.Content)
		}
		return nil, fmt.Errorf("extraction output not valid JSON: %w", err)
	}
	return params, nil
}

// stripFences removes a markdown code fence if the model wrapped its
// JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
