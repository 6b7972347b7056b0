package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// MockAdapter returns scripted responses for offline orchestrator tests.
// When the script runs out it synthesizes a valid primary output, echoing
// the RUN_ID / EPACK / ARU anchors it finds in the prompt.
type MockAdapter struct {
	base
	mu            sync.Mutex
	responses     []string
	calls         int
	defaultAnswer string
}

// MockOption configures a mock adapter.
type MockOption func(*MockAdapter)

// WithResponses scripts the first n calls.
func WithResponses(responses ...string) MockOption {
	return func(m *MockAdapter) { m.responses = append([]string{}, responses...) }
}

// WithDefaultAnswer sets the synthesized answer text.
func WithDefaultAnswer(answer string) MockOption {
	return func(m *MockAdapter) { m.defaultAnswer = answer }
}

// NewMockAdapter builds a mock adapter for the given model name.
func NewMockAdapter(model string, opts ...MockOption) *MockAdapter {
	m := &MockAdapter{
		base:          base{provider: "mock", model: model},
		defaultAnswer: "Mock response for testing.",
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Calls reports how many generations have been served.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockAdapter) GenerateText(ctx context.Context, prompt string, temperature float64, timeout time.Duration) (string, map[string]any, error) {
	return callWithTimeout(ctx, timeout, func(ctx context.Context) (string, map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		var text string
		if m.calls < len(m.responses) {
			text = m.responses[m.calls]
		} else {
			text = m.synthesize(prompt)
		}
		m.calls++
		meta := map[string]any{"mock": true, "call_number": m.calls, "model": m.model}
		return text, meta, nil
	})
}

func (m *MockAdapter) synthesize(prompt string) string {
	aru := anchorValue(prompt, "ARU=")
	if aru == "" {
		aru = "ANSWER"
	}
	out := map[string]any{
		"run_id":             anchorValue(prompt, "RUN_ID="),
		"epack":              anchorValue(prompt, "EPACK="),
		"aru":                aru,
		"answer":             m.defaultAnswer,
		"reasoning_trace":    []string{"mock_step_1"},
		"claims":             []any{},
		"overall_confidence": 0.8,
		"uncertainty_flags":  []string{},
		"next_step":          nil,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// anchorValue extracts the value following prefix in prompt text, stopping
// at the first whitespace.
func anchorValue(text, prefix string) string {
	idx := strings.Index(text, prefix)
	if idx == -1 {
		return ""
	}
	rest := text[idx+len(prefix):]
	if end := strings.IndexAny(rest, " \n\r\t"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
