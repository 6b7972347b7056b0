package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies adapter failures so callers can decide between retry,
// backoff, and hard failure.
type Kind string

const (
	KindAuth      Kind = "AUTH"
	KindRateLimit Kind = "RATE_LIMIT"
	KindTimeout   Kind = "TIMEOUT"
	KindTransient Kind = "TRANSIENT"
	KindOther     Kind = "OTHER"
)

// Error is a classified adapter failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from any error chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindOther
}

// Retryable reports whether a failure kind warrants another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTimeout, KindTransient:
		return true
	}
	return false
}

// classifyMessage maps provider error text onto the taxonomy. Providers
// do not share status vocabularies, so string matching is the floor.
func classifyMessage(msg string, err error) *Error {
	lower := strings.ToLower(msg)
	kind := KindTransient
	switch {
	case strings.Contains(lower, "rate") && strings.Contains(lower, "limit"):
		kind = KindRateLimit
	case strings.Contains(lower, "auth") || strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized"):
		kind = KindAuth
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// classifyStatus maps an HTTP response code onto the taxonomy.
func classifyStatus(code int, body string) *Error {
	switch {
	case code == 401 || code == 403:
		return &Error{Kind: KindAuth, Message: fmt.Sprintf("status %d: %s", code, body)}
	case code == 429:
		return &Error{Kind: KindRateLimit, Message: fmt.Sprintf("status %d: %s", code, body)}
	case code == 408 || code == 504:
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("status %d: %s", code, body)}
	case code >= 500:
		return &Error{Kind: KindTransient, Message: fmt.Sprintf("status %d: %s", code, body)}
	}
	return &Error{Kind: KindOther, Message: fmt.Sprintf("status %d: %s", code, body)}
}
