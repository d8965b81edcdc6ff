package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Recognized label keys. Labels are an open schema; keys outside this list
// are kept as-is.
const (
	LabelEntityType      = "entity_type"
	LabelEntityName      = "entity_name"
	LabelCostPerDay      = "cost_per_day_usd"
	LabelCurrency        = "currency"
	LabelLocation        = "location"
	LabelRegion          = "region"
	LabelCategory        = "category"
	LabelTone            = "tone"
	LabelContext         = "context"
	LabelIntent          = "intent"
	LabelDataSource      = "data_source"
	LabelLastUpdated     = "last_updated"
	LabelLanguage        = "language"
	LabelCulturalContext = "cultural_context"
	LabelPriority        = "priority"
	LabelTrainingWeight  = "training_weight"
)

// LabelKeys lists the recognized label keys in the order they are described
// to generators.
var LabelKeys = []string{
	LabelEntityType, LabelEntityName, LabelCostPerDay, LabelCurrency,
	LabelLocation, LabelRegion, LabelCategory, LabelTone, LabelContext,
	LabelIntent, LabelDataSource, LabelLastUpdated, LabelLanguage,
	LabelCulturalContext, LabelPriority, LabelTrainingWeight,
}

// TrainingRecord is one corpus entry.
//
// Labels values are strings or json.Number. Extra holds any top-level fields
// besides prompt, response and labels, kept as raw JSON so they round-trip
// unchanged.
type TrainingRecord struct {
	Prompt   string
	Response string
	Labels   map[string]any
	Extra    map[string]json.RawMessage
}

// Label returns the label value rendered as a string, or "" when absent.
func (r *TrainingRecord) Label(key string) string {
	v, ok := r.Labels[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON writes prompt, response and labels first, then extra fields in
// key order, so serialization is deterministic.
func (r TrainingRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		buf.Write(v)
		return nil
	}

	if err := write("prompt", r.Prompt); err != nil {
		return nil, err
	}
	if err := write("response", r.Response); err != nil {
		return nil, err
	}
	labels := r.Labels
	if labels == nil {
		labels = map[string]any{}
	}
	if err := write("labels", labels); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		switch k {
		case "prompt", "response", "labels":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, r.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a stored record. It is lenient about field types;
// structural validation of generator output is done by the record builder.
func (r *TrainingRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = TrainingRecord{}
	if raw, ok := fields["prompt"]; ok {
		if err := json.Unmarshal(raw, &r.Prompt); err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
	}
	if raw, ok := fields["response"]; ok {
		if err := json.Unmarshal(raw, &r.Response); err != nil {
			return fmt.Errorf("response: %w", err)
		}
	}
	if raw, ok := fields["labels"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		labels, err := DecodeLabels(raw)
		if err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		r.Labels = labels
	}

	for k, v := range fields {
		switch k {
		case "prompt", "response", "labels":
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// DecodeLabels decodes a labels object keeping numbers as json.Number.
func DecodeLabels(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	labels := map[string]any{}
	if err := dec.Decode(&labels); err != nil {
		return nil, err
	}
	return labels, nil
}
