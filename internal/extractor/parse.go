package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// eventWire is the permissive schema the model output is decoded into.
// Everything is optional and loosely typed; normalization is the sole
// bridge to the strict EventData.
type eventWire struct {
	EventType     string         `json:"event_type"`
	EventSubType  string         `json:"event_sub_type"`
	Title         string         `json:"title"`
	Summary       string         `json:"summary"`
	Confidence    any            `json:"confidence"`
	Perpetrator   string         `json:"perpetrator"`
	PerpType      string         `json:"perpetrator_type"`
	Location      *locationWire  `json:"location"`
	Casualties    map[string]any `json:"casualties"`
	Participants  []any          `json:"participants"`
	Organizations []any          `json:"organizations"`
	EventDate     string         `json:"event_date"`
	EventTime     string         `json:"event_time"`
	Impact        string         `json:"impact"`
	SourceName    string         `json:"source_name"`
}

type locationWire struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Venue   string `json:"venue"`
}

// parseResponse decodes a model response into the wire schema, stripping
// code fences and surrounding prose first.
func parseResponse(raw string) (*eventWire, error) {
	cleaned := stripCodeFences(raw)
	object, err := extractJSONObject(cleaned)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(object))
	dec.UseNumber()
	var wire eventWire
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	return &wire, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", fmt.Errorf("could not find opening brace '{' in the string")
	}

	end := strings.LastIndex(s, "}")
	if end == -1 {
		return "", fmt.Errorf("could not find closing brace '}' in the string")
	}

	if end < start {
		return "", fmt.Errorf("found closing brace '}' before opening brace '{'")
	}

	return s[start : end+1], nil
}

// asFloat coerces a loosely typed confidence value. The second return
// reports whether a usable number was present.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asInt coerces a loosely typed casualty count, rejecting non-integers.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// asStrings flattens a loosely typed list into trimmed strings.
func asStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
