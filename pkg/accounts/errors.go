package accounts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no account matches the given id.
	ErrNotFound = errors.New("accounts: account not found")

	// ErrNoHealthyAccount is returned by Select when every account in the
	// pool is disabled, rate limited, or failing refresh.
	ErrNoHealthyAccount = errors.New("accounts: no healthy account available")

	// ErrRefreshRetryable marks refresh failures worth retrying: network
	// errors, 5xx responses, and lock acquisition timeouts. The stored
	// refresh token is still presumed good.
	ErrRefreshRetryable = errors.New("accounts: token refresh failed (retryable)")

	// ErrRefreshFailed marks terminal refresh failures: the token endpoint
	// rejected the refresh token. The account needs re-authorization.
	ErrRefreshFailed = errors.New("accounts: token refresh rejected")
)

// RefreshError carries the upstream detail of a failed token refresh.
type RefreshError struct {
	// AccountID is the account whose refresh failed.
	AccountID string

	// StatusCode is the token endpoint's HTTP status, zero for transport
	// failures.
	StatusCode int

	// Retryable distinguishes transient failures from rejected tokens.
	Retryable bool

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("accounts: refresh for %q failed with status %d", e.AccountID, e.StatusCode)
	}
	return fmt.Sprintf("accounts: refresh for %q failed: %v", e.AccountID, e.Cause)
}

// Unwrap maps the error onto the retryable / terminal sentinels so callers
// can branch with errors.Is.
func (e *RefreshError) Unwrap() error {
	if e.Retryable {
		return ErrRefreshRetryable
	}
	return ErrRefreshFailed
}
