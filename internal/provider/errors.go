package provider

import (
	"fmt"
	"time"
)

// ConnectionError wraps network and timeout failures. Callers may retry; the
// client itself already retried within its configured budget.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("provider %s: connection failure: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RateLimitError reports a 429 from the provider. RetryAfter comes from the
// Retry-After header and defaults to one hour when absent or malformed.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
}

// APIError is a structured application error returned by the provider. Never
// retried.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}
