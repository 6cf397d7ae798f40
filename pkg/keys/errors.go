package keys

import (
	"errors"
	"fmt"
)

// Policy violation and lookup errors. All are terminal for the current
// request and returned before any upstream call is attempted.
var (
	// ErrInvalidFormat is returned for credentials that fail the prefix
	// check. No store lookup is performed for these.
	ErrInvalidFormat = errors.New("keys: invalid credential format")

	// ErrNotFound is returned when no record matches the credential hash,
	// or when the matched record is soft-deleted.
	ErrNotFound = errors.New("keys: key not found")

	// ErrDisabled is returned for keys with the active flag cleared.
	ErrDisabled = errors.New("keys: key disabled")

	// ErrExpired is returned for keys past their expiration, under either
	// the fixed or the rolling-activation mode.
	ErrExpired = errors.New("keys: key expired")

	// ErrModelNotAllowed is returned when model restrictions are enabled
	// and the requested model is not in the allow-list.
	ErrModelNotAllowed = errors.New("keys: model not allowed for this key")

	// ErrClientNotAllowed is returned when client restrictions are enabled
	// and the requesting client is not in the allow-list.
	ErrClientNotAllowed = errors.New("keys: client not allowed for this key")

	// ErrConcurrencyLimitExceeded is returned when the key's concurrency
	// cap is reached.
	ErrConcurrencyLimitExceeded = errors.New("keys: concurrency limit exceeded")

	// ErrRateLimitExceeded is returned when the request-rate window cap or
	// its in-window cost cap is reached.
	ErrRateLimitExceeded = errors.New("keys: rate limit exceeded")

	// ErrQuotaExceeded is returned when a daily, total, or weekly-Opus
	// cost ceiling is reached.
	ErrQuotaExceeded = errors.New("keys: cost quota exceeded")
)

// CorruptRecordError reports a stored key record whose fields failed to
// parse. Records are string-typed in the store; parse failures surface as
// this error rather than a crash.
type CorruptRecordError struct {
	// ID is the key record identifier.
	ID string

	// Field is the hash field that failed to parse.
	Field string

	// Cause is the underlying parse error.
	Cause error
}

// Error implements the error interface.
func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("keys: corrupt record %q: field %q: %v", e.ID, e.Field, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *CorruptRecordError) Unwrap() error {
	return e.Cause
}
