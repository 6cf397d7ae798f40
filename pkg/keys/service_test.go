package keys

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/store"
)

// flatPricer charges a fixed amount per request regardless of tokens.
type flatPricer struct {
	perRequest float64
}

func (p flatPricer) Cost(model string, usage Usage) float64 {
	return p.perRequest
}

// countingStore wraps a Store and counts read operations, to verify that
// malformed credentials are rejected without touching the store.
type countingStore struct {
	store.Store
	reads int
}

func (c *countingStore) HGet(ctx context.Context, key, field string) (string, error) {
	c.reads++
	return c.Store.HGet(ctx, key, field)
}

func (c *countingStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.reads++
	return c.Store.HGetAll(ctx, key)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, flatPricer{}, opts...)
	return svc, st
}

func mustGenerate(t *testing.T, svc *Service, params GenerateParams) (*Record, string) {
	t.Helper()
	rec, credential, err := svc.Generate(context.Background(), params)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return rec, credential
}

func TestGenerateAndValidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, credential := mustGenerate(t, svc, GenerateParams{Name: "ci-bot"})

	if !WellFormed(credential) {
		t.Fatalf("generated credential %q is not well-formed", credential)
	}
	if rec.SecretHash == credential {
		t.Fatal("plaintext credential stored as hash")
	}

	got, snap, err := svc.Validate(ctx, credential)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("Validate() ID = %q, want %q", got.ID, rec.ID)
	}
	if got.Name != "ci-bot" {
		t.Errorf("Validate() Name = %q, want %q", got.Name, "ci-bot")
	}
	if snap.TotalCost != 0 || snap.DailyRequests != 0 {
		t.Errorf("fresh key snapshot not zero: %+v", snap)
	}
}

func TestValidateMalformedSkipsStore(t *testing.T) {
	counting := &countingStore{Store: store.NewMemoryStore()}
	svc := NewService(counting, flatPricer{})

	for _, credential := range []string{"", "sk-ant-xxx", "cr_short", "CR_0123456789abcdef0123"} {
		_, _, err := svc.Validate(context.Background(), credential)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Validate(%q) error = %v, want ErrInvalidFormat", credential, err)
		}
	}
	if counting.reads != 0 {
		t.Errorf("malformed credentials caused %d store reads, want 0", counting.reads)
	}
}

func TestValidateUnknownCredential(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Validate(context.Background(), "cr_000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Validate() error = %v, want ErrNotFound", err)
	}
}

func TestValidateDisabledAndDeleted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, credential := mustGenerate(t, svc, GenerateParams{Name: "ops"})

	inactive := false
	if _, err := svc.Update(ctx, rec.ID, Patch{Active: &inactive}); err != nil {
		t.Fatalf("Update(disable) error = %v", err)
	}
	if _, _, err := svc.Validate(ctx, credential); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled key Validate() error = %v, want ErrDisabled", err)
	}

	deleted := true
	if _, err := svc.Update(ctx, rec.ID, Patch{Deleted: &deleted}); err != nil {
		t.Fatalf("Update(delete) error = %v", err)
	}
	// Soft-deleted keys are indistinguishable from unknown ones.
	if _, _, err := svc.Validate(ctx, credential); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key Validate() error = %v, want ErrNotFound", err)
	}
}

func TestValidateFixedExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, credential := mustGenerate(t, svc, GenerateParams{
		Name:      "short-lived",
		ExpiresAt: now.Add(time.Hour),
	})

	if _, _, err := svc.Validate(ctx, credential); err != nil {
		t.Fatalf("Validate() before expiry error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, _, err := svc.Validate(ctx, credential); !errors.Is(err, ErrExpired) {
		t.Fatalf("Validate() after expiry error = %v, want ErrExpired", err)
	}
}

func TestValidateRollingActivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, credential := mustGenerate(t, svc, GenerateParams{
		Name:             "trial",
		ActivationWindow: 24 * time.Hour,
	})

	// The activation clock must not start until first use.
	now = now.Add(30 * 24 * time.Hour)
	rec, _, err := svc.Validate(ctx, credential)
	if err != nil {
		t.Fatalf("first Validate() error = %v", err)
	}
	if rec.ActivatedAt.IsZero() {
		t.Fatal("first use did not record activation")
	}

	now = now.Add(12 * time.Hour)
	if _, _, err := svc.Validate(ctx, credential); err != nil {
		t.Fatalf("Validate() inside activation window error = %v", err)
	}

	now = now.Add(13 * time.Hour)
	if _, _, err := svc.Validate(ctx, credential); !errors.Is(err, ErrExpired) {
		t.Fatalf("Validate() past activation window error = %v, want ErrExpired", err)
	}
}

func TestAuthorizeRestrictions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:                      "restricted",
		ModelRestrictionsEnabled:  true,
		AllowedModels:             []string{"claude-sonnet-4"},
		ClientRestrictionsEnabled: true,
		AllowedClients:            []string{"claude-cli"},
	})

	tests := []struct {
		name    string
		reqCtx  RequestContext
		wantErr error
	}{
		{"allowed", RequestContext{Model: "claude-sonnet-4", ClientID: "claude-cli"}, nil},
		{"case-insensitive model", RequestContext{Model: "Claude-Sonnet-4", ClientID: "claude-cli"}, nil},
		{"blocked model", RequestContext{Model: "claude-opus-4", ClientID: "claude-cli"}, ErrModelNotAllowed},
		{"blocked client", RequestContext{Model: "claude-sonnet-4", ClientID: "curl"}, ErrClientNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lease, err := svc.Authorize(ctx, rec, tt.reqCtx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authorize() error = %v, want %v", err, tt.wantErr)
			}
			if lease != nil {
				lease.Release(ctx)
			}
		})
	}
}

func TestAuthorizeConcurrencyLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const limit = 3
	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:             "parallel",
		ConcurrencyLimit: limit,
	})

	var leases []*Lease
	for i := 0; i < limit; i++ {
		lease, err := svc.Authorize(ctx, rec, RequestContext{Model: "claude-sonnet-4"})
		if err != nil {
			t.Fatalf("Authorize() #%d error = %v", i+1, err)
		}
		leases = append(leases, lease)
	}

	// Request N+1 must be rejected without disturbing the held slots.
	if _, err := svc.Authorize(ctx, rec, RequestContext{Model: "claude-sonnet-4"}); !errors.Is(err, ErrConcurrencyLimitExceeded) {
		t.Fatalf("Authorize() over limit error = %v, want ErrConcurrencyLimitExceeded", err)
	}
	if got := svc.ConcurrencyCount(ctx, rec.ID); got != limit {
		t.Fatalf("ConcurrencyCount() after rejection = %d, want %d", got, limit)
	}

	leases[0].Release(ctx)
	if _, err := svc.Authorize(ctx, rec, RequestContext{Model: "claude-sonnet-4"}); err != nil {
		t.Fatalf("Authorize() after release error = %v", err)
	}
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{Name: "once", ConcurrencyLimit: 5})

	lease, err := svc.Authorize(ctx, rec, RequestContext{})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease.Release(ctx)
		}()
	}
	wg.Wait()

	if got := svc.ConcurrencyCount(ctx, rec.ID); got != 0 {
		t.Fatalf("ConcurrencyCount() after repeated Release = %d, want 0", got)
	}
}

func TestAuthorizeRateWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:              "bursty",
		RateLimitWindow:   time.Minute,
		RateLimitRequests: 2,
	})

	for i := 0; i < 2; i++ {
		lease, err := svc.Authorize(ctx, rec, RequestContext{})
		if err != nil {
			t.Fatalf("Authorize() #%d error = %v", i+1, err)
		}
		lease.Release(ctx)
	}

	if _, err := svc.Authorize(ctx, rec, RequestContext{}); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Authorize() over window cap error = %v, want ErrRateLimitExceeded", err)
	}

	// A fixed window resets fully at the next boundary.
	now = now.Add(time.Minute)
	if _, err := svc.Authorize(ctx, rec, RequestContext{}); err != nil {
		t.Fatalf("Authorize() in next window error = %v", err)
	}
}

func TestAuthorizeSlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	svc, _ := newTestService(t,
		WithClock(func() time.Time { return now }),
		WithWindowMode(WindowSliding),
	)
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:              "smooth",
		RateLimitWindow:   time.Minute,
		RateLimitRequests: 10,
	})

	// Fill the previous window with 8 requests.
	for i := 0; i < 8; i++ {
		if _, err := svc.Authorize(ctx, rec, RequestContext{}); err != nil {
			t.Fatalf("Authorize() warm-up #%d error = %v", i+1, err)
		}
	}

	// Halfway into the next window the previous 8 still weigh in at 4, so
	// only 6 more requests fit under the cap of 10.
	now = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	for i := 0; i < 6; i++ {
		if _, err := svc.Authorize(ctx, rec, RequestContext{}); err != nil {
			t.Fatalf("Authorize() #%d in new window error = %v", i+1, err)
		}
	}
	if _, err := svc.Authorize(ctx, rec, RequestContext{}); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Authorize() over sliding cap error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestAuthorizeRejectedRateCheckReleasesSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:              "strict",
		ConcurrencyLimit:  1,
		RateLimitWindow:   time.Minute,
		RateLimitRequests: 1,
	})

	lease, err := svc.Authorize(ctx, rec, RequestContext{})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	lease.Release(ctx)

	// The rate limiter rejects this one; the concurrency slot it briefly
	// held must be returned.
	if _, err := svc.Authorize(ctx, rec, RequestContext{}); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Authorize() error = %v, want ErrRateLimitExceeded", err)
	}
	if got := svc.ConcurrencyCount(ctx, rec.ID); got != 0 {
		t.Fatalf("ConcurrencyCount() after rate rejection = %d, want 0", got)
	}
}

func TestAuthorizeCostCeilings(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, flatPricer{perRequest: 4})
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:           "budgeted",
		DailyCostLimit: 10,
	})

	for i := 0; i < 2; i++ {
		if _, err := svc.Authorize(ctx, rec, RequestContext{EstimatedCost: 4}); err != nil {
			t.Fatalf("Authorize() #%d error = %v", i+1, err)
		}
		if err := svc.CommitUsage(ctx, rec, Usage{InputTokens: 100, Model: "claude-sonnet-4"}); err != nil {
			t.Fatalf("CommitUsage() #%d error = %v", i+1, err)
		}
	}

	// 8 USD spent; a 4 USD estimate would cross the 10 USD ceiling.
	if _, err := svc.Authorize(ctx, rec, RequestContext{EstimatedCost: 4}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Authorize() over daily ceiling error = %v, want ErrQuotaExceeded", err)
	}

	// A smaller request still fits.
	if _, err := svc.Authorize(ctx, rec, RequestContext{EstimatedCost: 1}); err != nil {
		t.Fatalf("Authorize() within ceiling error = %v", err)
	}
}

func TestAuthorizeQuotaRejectionReturnsRateSlot(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, flatPricer{perRequest: 12})
	ctx := context.Background()

	rec, credential := mustGenerate(t, svc, GenerateParams{
		Name:              "capped",
		DailyCostLimit:    10,
		RateLimitWindow:   time.Minute,
		RateLimitRequests: 5,
	})

	// Push the daily spend past the ceiling.
	if err := svc.CommitUsage(ctx, rec, Usage{InputTokens: 100, Model: "claude-sonnet-4"}); err != nil {
		t.Fatalf("CommitUsage() error = %v", err)
	}

	if _, err := svc.Authorize(ctx, rec, RequestContext{EstimatedCost: 1}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Authorize() error = %v, want ErrQuotaExceeded", err)
	}

	// The quota-rejected request must not keep its rate-window count.
	_, snap, err := svc.Validate(ctx, credential)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if snap.WindowRequests != 0 {
		t.Errorf("WindowRequests after quota rejection = %d, want 0", snap.WindowRequests)
	}
}

func TestWeeklyOpusCeiling(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, flatPricer{perRequest: 6})
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{
		Name:                "opus-capped",
		WeeklyOpusCostLimit: 10,
	})

	if err := svc.CommitUsage(ctx, rec, Usage{OutputTokens: 50, Model: "claude-opus-4"}); err != nil {
		t.Fatalf("CommitUsage() error = %v", err)
	}

	// Opus spend is at 6 USD; another 6 USD Opus request crosses the cap,
	// but a Sonnet request is unaffected.
	if _, err := svc.Authorize(ctx, rec, RequestContext{Model: "claude-opus-4", EstimatedCost: 6}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Authorize(opus) error = %v, want ErrQuotaExceeded", err)
	}
	if _, err := svc.Authorize(ctx, rec, RequestContext{Model: "claude-sonnet-4", EstimatedCost: 6}); err != nil {
		t.Fatalf("Authorize(sonnet) error = %v", err)
	}
}

func TestCommitUsageAdditive(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, flatPricer{perRequest: 1})
	ctx := context.Background()

	rec, credential := mustGenerate(t, svc, GenerateParams{Name: "shared"})

	commits := []Usage{
		{InputTokens: 100, OutputTokens: 20, Model: "claude-sonnet-4"},
		{InputTokens: 300, OutputTokens: 50, Model: "claude-sonnet-4"},
		{InputTokens: 7, OutputTokens: 3, Model: "claude-haiku-3"},
	}

	// Interleave commits from several goroutines; the totals must come out
	// the same regardless of ordering.
	var wg sync.WaitGroup
	for _, usage := range commits {
		wg.Add(1)
		go func(u Usage) {
			defer wg.Done()
			if err := svc.CommitUsage(ctx, rec, u); err != nil {
				t.Errorf("CommitUsage() error = %v", err)
			}
		}(usage)
	}
	wg.Wait()

	_, snap, err := svc.Validate(ctx, credential)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if snap.TotalInputTokens != 407 {
		t.Errorf("TotalInputTokens = %d, want 407", snap.TotalInputTokens)
	}
	if snap.TotalOutputTokens != 73 {
		t.Errorf("TotalOutputTokens = %d, want 73", snap.TotalOutputTokens)
	}
	if snap.DailyRequests != 3 {
		t.Errorf("DailyRequests = %d, want 3", snap.DailyRequests)
	}
	if snap.TotalCost != 3 {
		t.Errorf("TotalCost = %g, want 3", snap.TotalCost)
	}
}

func TestListExcludesDeleted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	kept, _ := mustGenerate(t, svc, GenerateParams{Name: "kept"})
	removed, _ := mustGenerate(t, svc, GenerateParams{Name: "removed"})

	deleted := true
	if _, err := svc.Update(ctx, removed.ID, Patch{Deleted: &deleted}); err != nil {
		t.Fatalf("Update(delete) error = %v", err)
	}

	summaries, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].Record.ID != kept.ID {
		t.Fatalf("List() = %d entries, want only %q", len(summaries), kept.Name)
	}

	all, err := svc.List(ctx, true)
	if err != nil {
		t.Fatalf("List(includeDeleted) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List(includeDeleted) = %d entries, want 2", len(all))
	}
}

func TestUpdateValidatesAndPersists(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, _ := mustGenerate(t, svc, GenerateParams{Name: "mutable", DailyCostLimit: 5})

	negative := -1.0
	if _, err := svc.Update(ctx, rec.ID, Patch{DailyCostLimit: &negative}); err == nil {
		t.Fatal("Update() accepted a negative limit")
	}

	raised := 50.0
	name := "renamed"
	updated, err := svc.Update(ctx, rec.ID, Patch{Name: &name, DailyCostLimit: &raised})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != "renamed" || updated.DailyCostLimit != 50 {
		t.Errorf("Update() = %q/%g, want renamed/50", updated.Name, updated.DailyCostLimit)
	}

	if _, err := svc.Update(ctx, "no-such-id", Patch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestCorruptRecordSurfaces(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	rec, credential := mustGenerate(t, svc, GenerateParams{Name: "doomed"})

	if err := st.HSet(ctx, recordKey(rec.ID), map[string]string{fieldActive: "not-a-bool"}); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}

	_, _, err := svc.Validate(ctx, credential)
	var corrupt *CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("Validate() error = %v, want CorruptRecordError", err)
	}
	if corrupt.Field != fieldActive {
		t.Errorf("CorruptRecordError.Field = %q, want %q", corrupt.Field, fieldActive)
	}
}
