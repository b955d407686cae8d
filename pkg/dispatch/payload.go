package dispatch

import (
	"encoding/json"
	"strings"
)

// PayloadKind tags how a Payload's content should be read.
type PayloadKind string

const (
	// PayloadStructured means the model output parsed as a JSON object and
	// Fields holds it.
	PayloadStructured PayloadKind = "structured"
	// PayloadRaw means the output was not valid JSON and Raw holds the
	// verbatim text.
	PayloadRaw PayloadKind = "raw"
)

// Payload is a model or agent output. Consumers branch on Kind instead of
// probing map shapes.
type Payload struct {
	Kind   PayloadKind
	Fields map[string]any
	Raw    string
}

// Structured wraps an already-parsed object.
func Structured(fields map[string]any) Payload {
	return Payload{Kind: PayloadStructured, Fields: fields}
}

// RawText wraps verbatim text that did not parse as JSON.
func RawText(text string) Payload {
	return Payload{Kind: PayloadRaw, Raw: text}
}

// ParsePayload extracts a structured object from model output. Models often
// wrap JSON in markdown fences or surround it with prose, so parsing is
// progressively more forgiving: strip fences, then cut to the outermost
// object braces, then fall back to a raw payload. It never fails.
func ParsePayload(content string) Payload {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return RawText(content)
	}

	candidate := strings.TrimPrefix(trimmed, "```json")
	candidate = strings.TrimPrefix(candidate, "```")
	candidate = strings.TrimSuffix(candidate, "```")
	candidate = strings.TrimSpace(candidate)

	if fields, ok := tryObject(candidate); ok {
		return Structured(fields)
	}

	// Try to find JSON object embedded in surrounding prose.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if fields, ok := tryObject(candidate[start : end+1]); ok {
			return Structured(fields)
		}
	}

	return RawText(content)
}

func tryObject(candidate string) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return nil, false
	}
	if fields == nil {
		return nil, false
	}
	return fields, true
}

// MarshalJSON renders structured payloads as their object and raw payloads
// as {"output": <text>} so the wire shape is always a JSON object.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Kind == PayloadRaw {
		return json.Marshal(map[string]string{"output": p.Raw})
	}
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// UnmarshalJSON restores the tagged form. The {"output": <string>} wrapper
// round-trips back to a raw payload; any other object is structured.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) == 1 {
		if text, ok := fields["output"].(string); ok {
			*p = RawText(text)
			return nil
		}
	}
	*p = Structured(fields)
	return nil
}
