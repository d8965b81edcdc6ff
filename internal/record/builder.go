// Package record turns raw generator output into validated training
// records.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"corpusbot/internal/models"
)

// ErrMalformed is returned for any output that cannot become a record.
var ErrMalformed = errors.New("malformed record")

// Build parses raw as a JSON object and checks that prompt and response are
// non-blank strings. labels, when present, must be an object. All other
// fields pass through unchanged. Content is not filtered.
func Build(raw string) (*models.TrainingRecord, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}

	prompt, err := requiredString(fields, "prompt")
	if err != nil {
		return nil, err
	}
	response, err := requiredString(fields, "response")
	if err != nil {
		return nil, err
	}

	rec := &models.TrainingRecord{
		Prompt:   prompt,
		Response: response,
		Labels:   map[string]any{},
	}

	if raw, ok := fields["labels"]; ok && !isNull(raw) {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("%w: labels is not an object", ErrMalformed)
		}
		labels, err := models.DecodeLabels(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: labels: %v", ErrMalformed, err)
		}
		rec.Labels = labels
	}

	for k, v := range fields {
		switch k {
		case "prompt", "response", "labels":
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]json.RawMessage)
		}
		rec.Extra[k] = v
	}

	return rec, nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformed, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformed, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformed, key)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
