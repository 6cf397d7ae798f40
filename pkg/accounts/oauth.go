package accounts

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Upstream OAuth endpoints and client identity. The client id and redirect
// URI are fixed by the provider's first-party CLI registration.
const (
	authorizeEndpoint = "https://claude.ai/oauth/authorize"
	tokenEndpoint     = "https://console.anthropic.com/v1/oauth/token"
	profileEndpoint   = "https://api.anthropic.com/api/oauth/profile"
	redirectURI       = "https://console.anthropic.com/oauth/code/callback"
	oauthClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	oauthScopes       = "org:create_api_key user:profile user:inference"

	// oauthUserAgent must match what the token endpoint expects from the
	// first-party CLI.
	oauthUserAgent = "claude-cli/1.0.56 (external, cli)"
)

var authorizationCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// randomURLSafe returns n random bytes base64url-encoded without padding.
func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// codeChallenge derives the S256 PKCE challenge from a verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BeginAuthorization starts a PKCE flow for an account and returns the URL
// the operator must open in a browser. The verifier and state are stored on
// the account until the callback is completed.
func (p *Pool) BeginAuthorization(ctx context.Context, id string) (string, error) {
	account, err := p.Get(ctx, id)
	if err != nil {
		return "", err
	}

	verifier, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("accounts: generating code verifier: %w", err)
	}
	state, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("accounts: generating state: %w", err)
	}

	account.CodeVerifier = verifier
	account.OAuthState = state
	if err := p.save(ctx, account); err != nil {
		return "", err
	}

	query := url.Values{
		"code":                  {"true"},
		"client_id":             {p.clientID},
		"response_type":         {"code"},
		"redirect_uri":          {p.redirectURI},
		"scope":                 {oauthScopes},
		"code_challenge":        {codeChallenge(verifier)},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}
	return p.authorizeURL + "?" + query.Encode(), nil
}

// ParseCallback extracts the authorization code from operator input, which
// may be the full callback URL or the bare code with URL fragments still
// attached.
func ParseCallback(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("accounts: empty authorization code")
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("accounts: invalid callback URL: %w", err)
		}
		code := parsed.Query().Get("code")
		if code == "" {
			return "", fmt.Errorf("accounts: callback URL has no code parameter")
		}
		return code, nil
	}

	code := trimmed
	if i := strings.IndexByte(code, '#'); i >= 0 {
		code = code[:i]
	}
	if i := strings.IndexByte(code, '&'); i >= 0 {
		code = code[:i]
	}
	if len(code) < 10 || !authorizationCodePattern.MatchString(code) {
		return "", fmt.Errorf("accounts: malformed authorization code")
	}
	return code, nil
}

// tokenResponse is the token endpoint's payload for both the authorization
// code and refresh grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// CompleteAuthorization exchanges the callback code for tokens and attaches
// them to the account, then fills in profile details.
func (p *Pool) CompleteAuthorization(ctx context.Context, id, callbackInput string) (*Account, error) {
	account, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.CodeVerifier == "" {
		return nil, fmt.Errorf("accounts: no authorization in progress for %q", id)
	}

	code, err := ParseCallback(callbackInput)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     p.clientID,
		"code":          code,
		"redirect_uri":  p.redirectURI,
		"code_verifier": account.CodeVerifier,
		"state":         account.OAuthState,
	}

	token, err := p.postToken(ctx, account, body)
	if err != nil {
		return nil, err
	}

	account.AccessToken = token.AccessToken
	account.RefreshToken = token.RefreshToken
	account.ExpiresAt = (p.now().Unix() + token.ExpiresIn) * 1000
	account.Scopes = strings.Fields(token.Scope)
	account.IsMax = true
	account.CodeVerifier = ""
	account.OAuthState = ""
	account.Status = StatusActive
	account.ConsecutiveFailures = 0

	if profile, err := p.fetchProfile(ctx, account); err == nil {
		account.Email = profile.Email
		account.IsMax = profile.HasClaudeMax
	}

	if err := p.save(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// profileInfo is the subset of the profile API response the pool keeps.
type profileInfo struct {
	Email        string
	HasClaudeMax bool
	HasClaudePro bool
}

// fetchProfile queries the provider's profile API with the account's access
// token.
func (p *Pool) fetchProfile(ctx context.Context, account *Account) (*profileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", oauthUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client, err := p.clientFor(account)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("accounts: profile API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Account struct {
			Email        string `json:"email"`
			HasClaudeMax bool   `json:"has_claude_max"`
			HasClaudePro bool   `json:"has_claude_pro"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("accounts: decoding profile response: %w", err)
	}

	return &profileInfo{
		Email:        payload.Account.Email,
		HasClaudeMax: payload.Account.HasClaudeMax,
		HasClaudePro: payload.Account.HasClaudePro,
	}, nil
}

// postToken sends a grant request to the token endpoint through the
// account's proxy, with the header set the endpoint expects.
func (p *Pool) postToken(ctx context.Context, account *Account, body map[string]string) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", oauthUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://claude.ai/")
	req.Header.Set("Origin", "https://claude.ai")

	client, err := p.clientFor(account)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &RefreshError{AccountID: account.ID, Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, &RefreshError{
			AccountID:  account.ID,
			StatusCode: resp.StatusCode,
			Retryable:  retryable,
			Cause:      fmt.Errorf("token endpoint: %s", strings.TrimSpace(string(detail))),
		}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, &RefreshError{AccountID: account.ID, Retryable: true, Cause: err}
	}
	if token.AccessToken == "" {
		return nil, &RefreshError{AccountID: account.ID, Cause: fmt.Errorf("token endpoint returned no access token")}
	}
	return &token, nil
}

// clientFor returns the HTTP client for an account, wrapping the shared
// client with the account's proxy transport when one is configured.
func (p *Pool) clientFor(account *Account) (*http.Client, error) {
	if account.Proxy == nil {
		return p.httpClient, nil
	}

	proxyURL, err := account.Proxy.URL()
	if err != nil {
		return nil, err
	}

	client := *p.httpClient
	client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return &client, nil
}
