package accounts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EnsureFresh returns the account with an access token valid for at least
// the refresh margin, refreshing it first if needed.
//
// Refresh is serialized with a per-account store lock. The refresh token is
// single-use upstream: two concurrent refreshes would invalidate each
// other, so contenders either take the lock and refresh, or wait for the
// holder and pick up the token it stored.
func (p *Pool) EnsureFresh(ctx context.Context, id string) (*Account, error) {
	account, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.TokenValidFor(p.now(), p.refreshMargin) {
		return account, nil
	}
	if account.RefreshToken == "" {
		return nil, &RefreshError{AccountID: id, Cause: errors.New("no refresh token on file")}
	}

	lockKey := lockKeyPrefix + id
	owner := uuid.NewString()

	deadline := p.now().Add(p.lockWait)
	for {
		acquired, err := p.store.AcquireLock(ctx, lockKey, owner, p.lockTTL)
		if err != nil {
			return nil, &RefreshError{AccountID: id, Retryable: true, Cause: err}
		}
		if acquired {
			break
		}

		// Another holder is refreshing. Wait and re-check: by the time the
		// lock frees up the stored token is usually fresh already.
		select {
		case <-ctx.Done():
			return nil, &RefreshError{AccountID: id, Retryable: true, Cause: ctx.Err()}
		case <-time.After(100 * time.Millisecond):
		}

		account, err = p.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if account.TokenValidFor(p.now(), p.refreshMargin) {
			return account, nil
		}
		if p.now().After(deadline) {
			return nil, &RefreshError{AccountID: id, Retryable: true, Cause: errors.New("timed out waiting for refresh lock")}
		}
	}
	defer func() {
		if err := p.store.ReleaseLock(ctx, lockKey, owner); err != nil {
			slog.Warn("failed to release refresh lock", "account_id", id, "error", err)
		}
	}()

	// Re-read under the lock: a contender that held the lock before us may
	// have refreshed already.
	account, err = p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.TokenValidFor(p.now(), p.refreshMargin) {
		return account, nil
	}

	refreshed, err := p.refresh(ctx, account)
	if err != nil {
		if errors.Is(err, ErrRefreshFailed) {
			account.Status = StatusRefreshFailed
			account.ConsecutiveFailures++
			if saveErr := p.save(ctx, account); saveErr != nil {
				slog.Warn("failed to record refresh failure", "account_id", id, "error", saveErr)
			}
		}
		return nil, err
	}
	return refreshed, nil
}

// refresh performs the refresh grant and persists the rotated token pair.
// Caller must hold the account's refresh lock.
func (p *Pool) refresh(ctx context.Context, account *Account) (*Account, error) {
	token, err := p.postToken(ctx, account, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     p.clientID,
		"refresh_token": account.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	account.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		// The endpoint rotates refresh tokens; keep the old one only if no
		// replacement came back.
		account.RefreshToken = token.RefreshToken
	}
	account.ExpiresAt = (p.now().Unix() + token.ExpiresIn) * 1000
	account.ConsecutiveFailures = 0
	if account.Status == StatusRefreshFailed {
		account.Status = StatusActive
	}

	if err := p.save(ctx, account); err != nil {
		return nil, err
	}

	slog.Info("access token refreshed",
		"account_id", account.ID,
		"expires_at", time.UnixMilli(account.ExpiresAt),
	)
	return account, nil
}
