package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter speaks the chat-completions wire format. Any endpoint
// exposing that surface works via WithBaseURL.
type OpenAIAdapter struct {
	base
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// OpenAIOption configures the adapter.
type OpenAIOption func(*OpenAIAdapter)

// WithBaseURL points the adapter at a compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(a *OpenAIAdapter) { a.baseURL = url }
}

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(a *OpenAIAdapter) { a.httpClient = c }
}

// WithRateLimit caps outbound requests per second client-side.
func WithRateLimit(rps float64, burst int) OpenAIOption {
	return func(a *OpenAIAdapter) { a.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithAPIKey overrides the OPENAI_API_KEY environment lookup.
func WithAPIKey(key string) OpenAIOption {
	return func(a *OpenAIAdapter) { a.apiKey = key }
}

// NewOpenAIAdapter builds an adapter for the given model. The API key
// comes from OPENAI_API_KEY unless overridden.
func NewOpenAIAdapter(model string, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	a := &OpenAIAdapter{
		base:       base{provider: "openai", model: model},
		apiKey:     os.Getenv("OPENAI_API_KEY"),
		baseURL:    openAIDefaultBaseURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	if a.apiKey == "" {
		return nil, &Error{Kind: KindAuth, Message: "OPENAI_API_KEY not set in environment"}
	}
	return a, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

func (a *OpenAIAdapter) GenerateText(ctx context.Context, prompt string, temperature float64, timeout time.Duration) (string, map[string]any, error) {
	return callWithTimeout(ctx, timeout, func(ctx context.Context) (string, map[string]any, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return "", nil, &Error{Kind: KindRateLimit, Message: "client-side rate limit", Err: err}
			}
		}

		body, err := json.Marshal(chatRequest{
			Model:       a.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
			MaxTokens:   2048,
		})
		if err != nil {
			return "", nil, fmt.Errorf("openai: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", nil, fmt.Errorf("openai: create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return "", nil, classifyMessage(err.Error(), err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", nil, classifyStatus(resp.StatusCode, string(snippet))
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", nil, &Error{Kind: KindTransient, Message: "decode response", Err: err}
		}
		if len(out.Choices) == 0 {
			return "", nil, &Error{Kind: KindTransient, Message: "empty choices in response"}
		}
		meta := map[string]any{"request_id": out.ID, "usage": out.Usage}
		return out.Choices[0].Message.Content, meta, nil
	})
}
