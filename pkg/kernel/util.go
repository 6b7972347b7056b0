package kernel

import (
	"encoding/json"
	"strings"
)

// toMap converts any JSON-marshalable value into a generic payload map.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// extractAnswerText pulls the user-facing text out of a validated model
// response. Falls back to the raw text when the shape is unexpected, which
// only happens if the validator contract was loosened.
func extractAnswerText(raw string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		if text, ok := obj["text"].(string); ok && strings.TrimSpace(text) != "" {
			return text
		}
	}
	return raw
}
