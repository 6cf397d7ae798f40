package accounts

import (
	"time"
)

// Status describes an account's availability for selection.
type Status string

const (
	// StatusActive accounts are eligible for selection.
	StatusActive Status = "active"

	// StatusDisabled accounts are taken out of rotation by an operator.
	StatusDisabled Status = "disabled"

	// StatusRateLimited accounts sit out until RateLimitedUntil passes.
	StatusRateLimited Status = "rate_limited"

	// StatusRefreshFailed accounts have a rejected refresh token and need
	// re-authorization.
	StatusRefreshFailed Status = "refresh_failed"
)

// Account is one upstream provider account with its OAuth credentials.
// Stored as a JSON document; the access and refresh tokens never appear in
// logs.
type Account struct {
	// ID is the opaque account identifier.
	ID string `json:"id"`

	// Name is the operator-facing display name.
	Name string `json:"name"`

	// Email is the provider account email, learned from the profile API.
	Email string `json:"email,omitempty"`

	// Status gates selection.
	Status Status `json:"status"`

	// AccessToken is the current OAuth bearer token.
	AccessToken string `json:"accessToken,omitempty"`

	// RefreshToken is the single-use token for the refresh grant.
	RefreshToken string `json:"refreshToken,omitempty"`

	// ExpiresAt is the access token expiry as a millisecond epoch value.
	ExpiresAt int64 `json:"expiresAt,omitempty"`

	// Scopes are the granted OAuth scopes.
	Scopes []string `json:"scopes,omitempty"`

	// IsMax records whether the account is on a Max-tier subscription.
	IsMax bool `json:"isMax,omitempty"`

	// CodeVerifier is the PKCE verifier for an authorization flow in
	// progress. Cleared once the code exchange completes.
	CodeVerifier string `json:"codeVerifier,omitempty"`

	// OAuthState is the pending flow's state parameter.
	OAuthState string `json:"oauthState,omitempty"`

	// Proxy, when set, routes all upstream traffic for this account.
	Proxy *Proxy `json:"proxy,omitempty"`

	// ConsecutiveFailures counts refresh and upstream auth failures since
	// the last success.
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`

	// RateLimitedUntil is when a rate-limited account re-enters rotation.
	RateLimitedUntil time.Time `json:"rateLimitedUntil,omitempty"`

	// LastUsedAt orders least-recently-used selection.
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`

	// CreatedAt is when the account was added to the pool.
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// TokenValidFor reports whether the access token is good for at least
// margin beyond now.
func (a *Account) TokenValidFor(now time.Time, margin time.Duration) bool {
	if a.AccessToken == "" || a.ExpiresAt == 0 {
		return false
	}
	expiry := time.UnixMilli(a.ExpiresAt)
	return now.Add(margin).Before(expiry)
}

// Selectable reports whether the account may serve a request right now.
// Rate-limited accounts recover automatically once their penalty passes.
func (a *Account) Selectable(now time.Time) bool {
	switch a.Status {
	case StatusActive:
		return true
	case StatusRateLimited:
		return now.After(a.RateLimitedUntil)
	default:
		return false
	}
}

// Redacted returns a copy safe for API responses and logs: token material
// is replaced with a fixed placeholder.
func (a *Account) Redacted() Account {
	out := *a
	if out.AccessToken != "" {
		out.AccessToken = "[redacted]"
	}
	if out.RefreshToken != "" {
		out.RefreshToken = "[redacted]"
	}
	out.CodeVerifier = ""
	out.OAuthState = ""
	return out
}
