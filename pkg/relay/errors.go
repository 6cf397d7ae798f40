package relay

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstreamAuthFailed is returned when the upstream rejects the
	// account's access token (401 or 403).
	ErrUpstreamAuthFailed = errors.New("relay: upstream rejected credentials")

	// ErrUpstreamTimeout is returned when the connect, idle, or total
	// timeout expires.
	ErrUpstreamTimeout = errors.New("relay: upstream timed out")

	// ErrUpstreamRateLimited is returned for upstream 429 responses.
	ErrUpstreamRateLimited = errors.New("relay: upstream rate limited")
)

// StatusError reports a non-success upstream HTTP status outside the
// dedicated auth and rate-limit cases.
type StatusError struct {
	// StatusCode is the upstream HTTP status.
	StatusCode int

	// Body is a bounded prefix of the upstream error body.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: upstream returned status %d: %s", e.StatusCode, e.Body)
}

// RateLimitError wraps ErrUpstreamRateLimited with the upstream's
// Retry-After hint.
type RateLimitError struct {
	// RetryAfter is the upstream's suggested backoff, zero if absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("relay: upstream rate limited, retry after %s", e.RetryAfter)
	}
	return "relay: upstream rate limited"
}

// Unwrap maps onto the sentinel for errors.Is checks.
func (e *RateLimitError) Unwrap() error {
	return ErrUpstreamRateLimited
}

// ProtocolError reports an upstream response that is not a well-formed
// event stream.
type ProtocolError struct {
	// Detail describes the malformation.
	Detail string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("relay: protocol error: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("relay: protocol error: %s", e.Detail)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
