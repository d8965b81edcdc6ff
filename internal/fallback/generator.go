// Package fallback is the last generator in the chain. It needs no network
// and derives a record directly from the user's text.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"corpusbot/internal/models"
	"corpusbot/internal/prompt"
)

const (
	promptPreview   = 100
	responsePreview = 200
)

// Backend builds a deterministic record from the quoted input in a prompt.
type Backend struct {
	now func() time.Time
}

// New returns a fallback backend.
func New() *Backend {
	return &Backend{now: time.Now}
}

// Complete returns a fenced JSON record. It fails only when the prompt holds
// no usable input.
func (b *Backend) Complete(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	input, ok := prompt.ExtractInput(p)
	if !ok {
		input = p
	}
	input = strings.Join(strings.Fields(input), " ")
	if input == "" {
		return "", fmt.Errorf("fallback: no input to work from")
	}

	rec := models.TrainingRecord{
		Prompt:   "What can you tell me about " + truncate(input, promptPreview) + "?",
		Response: "Based on the provided information: " + truncate(input, responsePreview),
		Labels: map[string]any{
			models.LabelDataSource:     "fallback",
			models.LabelLanguage:       "English",
			models.LabelLastUpdated:    b.now().Format(time.DateOnly),
			models.LabelTrainingWeight: json.Number("0.5"),
		},
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("fallback: %w", err)
	}
	return "```json\n" + string(body) + "\n```", nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// GetModelInfo returns backend information.
func (b *Backend) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "fallback",
		"model":    "deterministic",
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
