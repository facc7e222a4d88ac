// Package analysis models the media-analysis document attached to cache
// entries, plus the small derived view the cache indexes for search.
//
// The payload is schema-flexible: fields the cache understands are typed,
// everything else round-trips through Extra untouched so the analysis shape
// can evolve without a schema migration.
package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StringList decodes from either a JSON string or an array of strings.
// Analysis producers have emitted both shapes for text elements.
type StringList []string

// UnmarshalJSON accepts "text" and ["text", ...].
func (l *StringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("string or string array expected: %w", err)
	}
	*l = StringList{one}
	return nil
}

// ColorProfile describes the colors observed in a creative.
type ColorProfile struct {
	DominantColors []string `json:"dominant_colors,omitempty"`
	Background     string   `json:"background,omitempty"`
}

// Payload is one analysis result for a cached creative.
type Payload struct {
	Summary           string                `json:"summary,omitempty"`
	PeopleDescription string                `json:"people_description,omitempty"`
	Colors            ColorProfile          `json:"colors,omitempty"`
	TextElements      map[string]StringList `json:"text_elements,omitempty"`

	// Extra preserves fields this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

type payloadAlias Payload

var knownPayloadFields = map[string]bool{
	"summary":            true,
	"people_description": true,
	"colors":             true,
	"text_elements":      true,
}

// UnmarshalJSON decodes known fields into their typed slots and parks the
// rest under Extra.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var alias payloadAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for field := range knownPayloadFields {
		delete(raw, field)
	}
	if len(raw) == 0 {
		raw = nil
	}
	*p = Payload(alias)
	p.Extra = raw
	return nil
}

// MarshalJSON merges the typed fields with Extra into one document.
func (p Payload) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(payloadAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return typed, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(p.Extra))
	}
	for field, value := range p.Extra {
		if !knownPayloadFields[field] {
			merged[field] = value
		}
	}
	return json.Marshal(merged)
}

// Decode parses a serialized payload. Callers on the read path treat a decode
// failure as "no analysis" rather than an error.
func Decode(data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	return &payload, nil
}

// Derived is the strongly-typed view the metadata store indexes. It is
// computed once when an analysis is attached, never re-parsed during search.
type Derived struct {
	DominantColors []string
	HasPeople      bool
	TextElements   []string
}

// Derive extracts the quick-filter fields from a payload.
func Derive(p *Payload) Derived {
	if p == nil {
		return Derived{}
	}
	var derived Derived

	for _, color := range p.Colors.DominantColors {
		if color = strings.TrimSpace(color); color != "" {
			derived.DominantColors = append(derived.DominantColors, color)
		}
	}

	derived.HasPeople = strings.TrimSpace(p.PeopleDescription) != ""

	categories := make([]string, 0, len(p.TextElements))
	for category := range p.TextElements {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		for _, text := range p.TextElements[category] {
			if text = strings.TrimSpace(text); text != "" {
				derived.TextElements = append(derived.TextElements, text)
			}
		}
	}

	return derived
}

// FreeText wraps a plain-text analysis response into a payload. Analysis
// backends sometimes answer with prose instead of structured JSON; the text is
// kept rather than dropped.
func FreeText(text string) *Payload {
	return &Payload{Summary: strings.TrimSpace(text)}
}
