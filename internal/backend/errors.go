package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is the unified error interface backend calls return. The
// protocol runner's retry loop (internal/protocol) reads Retryable and
// takes its delays from internal/retry, not from RetryAfter; the
// failure-classification step reads ModelUnavailable to decide
// TrialRecord.status.
type Error interface {
	error
	Provider() string
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
	ModelUnavailable() bool
}

// ConfigurationError signals a misconfigured backend (missing API key,
// unknown provider) and is never retryable.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "backend configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) Provider() string           { return "" }
func (e *ConfigurationError) StatusCode() int            { return 0 }
func (e *ConfigurationError) Retryable() bool            { return false }
func (e *ConfigurationError) RetryAfter() *time.Duration { return nil }
func (e *ConfigurationError) ModelUnavailable() bool     { return false }

type httpErrorBase struct {
	provider         string
	statusCode       int
	message          string
	retryable        bool
	retryAfter       *time.Duration
	modelUnavailable bool
	rawResponse      any
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *httpErrorBase) Provider() string           { return e.provider }
func (e *httpErrorBase) StatusCode() int            { return e.statusCode }
func (e *httpErrorBase) Retryable() bool            { return e.retryable }
func (e *httpErrorBase) RetryAfter() *time.Duration { return e.retryAfter }
func (e *httpErrorBase) ModelUnavailable() bool     { return e.modelUnavailable }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type NotFoundError struct{ httpErrorBase }
type RequestTimeoutError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

// ErrorFromHTTPStatus classifies a failed HTTP call into the unified
// error hierarchy. A 404 (or a 400 whose message names the model) is
// treated as model_unavailable so the executor can route
// TrialRecord.status accordingly rather than treating it as a generic
// call failure.
func ErrorFromHTTPStatus(provider string, statusCode int, message string, raw any, retryAfter *time.Duration) error {
	base := httpErrorBase{
		provider:    strings.TrimSpace(provider),
		statusCode:  statusCode,
		message:     message,
		retryAfter:  retryAfter,
		rawResponse: raw,
	}
	lower := strings.ToLower(message)
	modelMissing := strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist") || strings.Contains(lower, "unavailable"))

	switch statusCode {
	case 400, 422:
		base.retryable = false
		base.modelUnavailable = modelMissing
		return &InvalidRequestError{base}
	case 401, 403:
		base.retryable = false
		return &AuthenticationError{base}
	case 404:
		base.retryable = false
		base.modelUnavailable = true
		return &NotFoundError{base}
	case 408:
		base.retryable = true
		return &RequestTimeoutError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = true
		return &UnknownHTTPError{base}
	}
}

// NewRequestTimeoutError constructs a non-HTTP timeout (context deadline
// exceeded). Call timeouts are not retried by the executor's default
// policy — the per_call_ms budget already exhausted.
func NewRequestTimeoutError(provider, message string) error {
	return &RequestTimeoutError{httpErrorBase{
		provider:   strings.TrimSpace(provider),
		statusCode: 0,
		message:    message,
		retryable:  false,
	}}
}

// ParseRetryAfter parses a Retry-After header (integer seconds or HTTP-date).
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

func IsModelUnavailable(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.ModelUnavailable()
	}
	return false
}
