// Package llm provides model-provider adapters behind a single generate
// interface, with a typed error taxonomy, a provider registry with
// per-(provider, model) caching, and client-side rate limiting.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Adapter is the provider capability the consensus orchestrator and turn
// engine consume. Implementations must honor ctx and timeout.
type Adapter interface {
	Provider() string
	Model() string
	GenerateText(ctx context.Context, prompt string, temperature float64, timeout time.Duration) (string, map[string]any, error)
}

// TryParseJSON parses text as a JSON object, falling back to the first
// "{" ... last "}" slice when the model wrapped its JSON in prose.
func TryParseJSON(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// base carries provider identity shared by all adapters.
type base struct {
	provider string
	model    string
}

func (b base) Provider() string { return b.provider }
func (b base) Model() string    { return b.model }

// callWithTimeout applies the per-call deadline uniformly across adapters
// and converts deadline expiry into a TIMEOUT adapter error.
func callWithTimeout(ctx context.Context, timeout time.Duration,
	call func(ctx context.Context) (string, map[string]any, error),
) (string, map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, meta, err := call(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", nil, &Error{Kind: KindTimeout, Message: "adapter call timed out", Err: err}
		}
		return "", nil, err
	}
	return text, meta, nil
}
