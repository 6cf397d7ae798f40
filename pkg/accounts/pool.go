package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/callisto/pkg/store"
)

const (
	accountKeyPrefix = "account:"
	lockKeyPrefix    = "lock:account:"
)

// Pool manages the upstream account inventory.
type Pool struct {
	store store.Store

	// refreshMargin is how close to expiry a token may get before it is
	// refreshed ahead of use.
	refreshMargin time.Duration

	// lockTTL bounds how long a crashed holder can pin a refresh lock.
	lockTTL time.Duration

	// lockWait bounds how long a request waits for another holder's
	// refresh to finish.
	lockWait time.Duration

	// failureThreshold is how many consecutive failures sideline an
	// account.
	failureThreshold int

	httpClient   *http.Client
	tokenURL     string
	authorizeURL string
	redirectURI  string
	profileURL   string
	clientID     string

	now func() time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRefreshMargin overrides the ahead-of-expiry refresh margin.
func WithRefreshMargin(margin time.Duration) PoolOption {
	return func(p *Pool) { p.refreshMargin = margin }
}

// WithLockTimings overrides the refresh lock TTL and wait bound.
func WithLockTimings(ttl, wait time.Duration) PoolOption {
	return func(p *Pool) { p.lockTTL, p.lockWait = ttl, wait }
}

// WithFailureThreshold overrides how many consecutive failures sideline an
// account.
func WithFailureThreshold(n int) PoolOption {
	return func(p *Pool) { p.failureThreshold = n }
}

// WithHTTPClient replaces the HTTP client used for OAuth endpoints.
func WithHTTPClient(client *http.Client) PoolOption {
	return func(p *Pool) { p.httpClient = client }
}

// WithEndpoints overrides the OAuth endpoint URLs, for tests.
func WithEndpoints(tokenURL, profileURL string) PoolOption {
	return func(p *Pool) { p.tokenURL, p.profileURL = tokenURL, profileURL }
}

// WithPoolClock replaces the time source, for tests.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates an account pool backed by the given store.
func NewPool(st store.Store, opts ...PoolOption) *Pool {
	p := &Pool{
		store:            st,
		refreshMargin:    10 * time.Second,
		lockTTL:          30 * time.Second,
		lockWait:         15 * time.Second,
		failureThreshold: 3,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		tokenURL:         tokenEndpoint,
		authorizeURL:     authorizeEndpoint,
		redirectURI:      redirectURI,
		profileURL:       profileEndpoint,
		clientID:         oauthClientID,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add registers a new account. Credentials are attached later through the
// authorization flow or a direct token import.
func (p *Pool) Add(ctx context.Context, name string, proxy *Proxy) (*Account, error) {
	if proxy != nil {
		if err := proxy.Validate(); err != nil {
			return nil, err
		}
	}

	account := &Account{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusActive,
		Proxy:     proxy,
		CreatedAt: p.now().UTC(),
	}
	if err := p.save(ctx, account); err != nil {
		return nil, err
	}

	slog.Info("account added", "account_id", account.ID, "name", name, "proxy", proxy.Masked())
	return account, nil
}

// Get returns the account with the given id.
func (p *Pool) Get(ctx context.Context, id string) (*Account, error) {
	raw, err := p.store.Get(ctx, accountKeyPrefix+id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accounts: reading account %q: %w", id, err)
	}

	var account Account
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, fmt.Errorf("accounts: corrupt account %q: %w", id, err)
	}
	return &account, nil
}

// List returns all accounts ordered by creation time.
func (p *Pool) List(ctx context.Context) ([]*Account, error) {
	keys, err := p.store.Scan(ctx, accountKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("accounts: scanning accounts: %w", err)
	}

	accounts := make([]*Account, 0, len(keys))
	for _, key := range keys {
		account, err := p.Get(ctx, strings.TrimPrefix(key, accountKeyPrefix))
		if err != nil {
			slog.Warn("skipping unreadable account", "key", key, "error", err)
			continue
		}
		accounts = append(accounts, account)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// Remove deletes an account from the pool.
func (p *Pool) Remove(ctx context.Context, id string) error {
	if _, err := p.Get(ctx, id); err != nil {
		return err
	}
	return p.store.Delete(ctx, accountKeyPrefix+id)
}

// SetStatus moves an account into or out of rotation.
func (p *Pool) SetStatus(ctx context.Context, id string, status Status) error {
	account, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	account.Status = status
	if status == StatusActive {
		account.ConsecutiveFailures = 0
		account.RateLimitedUntil = time.Time{}
	}
	return p.save(ctx, account)
}

// Select picks the healthy account that has gone longest without serving a
// request and stamps it as used. Rate-limited accounts whose penalty has
// passed count as healthy again.
func (p *Pool) Select(ctx context.Context) (*Account, error) {
	return p.SelectExcluding(ctx)
}

// SelectExcluding is Select skipping the given account ids, used to retry a
// failed request on a different account.
func (p *Pool) SelectExcluding(ctx context.Context, exclude ...string) (*Account, error) {
	accounts, err := p.List(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	now := p.now()
	var pick *Account
	for _, account := range accounts {
		if excluded[account.ID] || !account.Selectable(now) {
			continue
		}
		if pick == nil || account.LastUsedAt.Before(pick.LastUsedAt) {
			pick = account
		}
	}
	if pick == nil {
		return nil, ErrNoHealthyAccount
	}

	pick.LastUsedAt = now.UTC()
	if err := p.save(ctx, pick); err != nil {
		return nil, err
	}
	return pick, nil
}

// MarkSuccess records a successful upstream call, clearing the failure
// streak and any expired rate-limit penalty.
func (p *Pool) MarkSuccess(ctx context.Context, id string) error {
	account, err := p.Get(ctx, id)
	if err != nil {
		return err
	}

	account.ConsecutiveFailures = 0
	if account.Status == StatusRateLimited && p.now().After(account.RateLimitedUntil) {
		account.Status = StatusActive
		account.RateLimitedUntil = time.Time{}
	}
	return p.save(ctx, account)
}

// MarkFailure records an upstream auth or refresh failure. Crossing the
// failure threshold sidelines the account until an operator intervenes.
func (p *Pool) MarkFailure(ctx context.Context, id string) error {
	account, err := p.Get(ctx, id)
	if err != nil {
		return err
	}

	account.ConsecutiveFailures++
	if account.ConsecutiveFailures >= p.failureThreshold && account.Status == StatusActive {
		account.Status = StatusRefreshFailed
		slog.Warn("account sidelined after repeated failures",
			"account_id", id,
			"failures", account.ConsecutiveFailures,
		)
	}
	return p.save(ctx, account)
}

// MarkRateLimited takes an account out of rotation until the given time.
func (p *Pool) MarkRateLimited(ctx context.Context, id string, until time.Time) error {
	account, err := p.Get(ctx, id)
	if err != nil {
		return err
	}

	account.Status = StatusRateLimited
	account.RateLimitedUntil = until.UTC()
	slog.Warn("account rate limited by upstream", "account_id", id, "until", until)
	return p.save(ctx, account)
}

// ImportTokens attaches an externally obtained token pair to an account.
func (p *Pool) ImportTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt int64) error {
	account, err := p.Get(ctx, id)
	if err != nil {
		return err
	}

	account.AccessToken = accessToken
	account.RefreshToken = refreshToken
	account.ExpiresAt = expiresAt
	account.Status = StatusActive
	account.ConsecutiveFailures = 0
	return p.save(ctx, account)
}

func (p *Pool) save(ctx context.Context, account *Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("accounts: encoding account %q: %w", account.ID, err)
	}
	if err := p.store.Set(ctx, accountKeyPrefix+account.ID, string(raw), 0); err != nil {
		return fmt.Errorf("accounts: persisting account %q: %w", account.ID, err)
	}
	return nil
}
