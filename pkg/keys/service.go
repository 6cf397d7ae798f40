package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/callisto/pkg/store"
)

// Store key layout. Record hashes live under "apikey:{id}"; the secret-hash
// index is a single hash deliberately outside that prefix so record scans
// never pick it up.
const (
	recordKeyPrefix = "apikey:"
	hashIndexKey    = "apikey-index"

	dailyUsagePrefix  = "usage:daily:"
	totalUsagePrefix  = "usage:total:"
	weeklyOpusPrefix  = "usage:opus:"
	rateRequestPrefix = "ratelimit:requests:"
	rateCostPrefix    = "ratelimit:cost:"
	concurrencyPrefix = "concurrency:"

	// dailyUsageTTL keeps per-day buckets long enough for reporting
	// without growing the store unboundedly.
	dailyUsageTTL = 90 * 24 * time.Hour

	// weeklyOpusTTL covers the current and previous ISO week.
	weeklyOpusTTL = 15 * 24 * time.Hour

	// concurrencySlotTTL is a safety net against slots leaked by a
	// crashed instance; it is refreshed on every acquisition.
	concurrencySlotTTL = 10 * time.Minute
)

// Pricer converts observed token counts into USD cost. Implemented by
// pricing.Calculator; kept as an interface so the policy engine carries no
// pricing state of its own.
type Pricer interface {
	Cost(model string, usage Usage) float64
}

// Service is the policy engine over stored key records.
//
// The Service owns ApiKey record semantics and is the sole writer of
// key-side counters. It performs no network calls beyond the state store.
type Service struct {
	store      store.Store
	pricer     Pricer
	windowMode WindowMode

	// now is replaceable in tests.
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithWindowMode selects fixed or sliding rate windows.
func WithWindowMode(mode WindowMode) Option {
	return func(s *Service) { s.windowMode = mode }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a policy engine backed by the given store.
func NewService(st store.Store, pricer Pricer, opts ...Option) *Service {
	s := &Service{
		store:      st,
		pricer:     pricer,
		windowMode: WindowFixed,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateParams describes a new key. Zero limits mean unlimited.
type GenerateParams struct {
	Name                      string
	ExpiresAt                 time.Time
	ActivationWindow          time.Duration
	DailyCostLimit            float64
	TotalCostLimit            float64
	WeeklyOpusCostLimit       float64
	RateLimitWindow           time.Duration
	RateLimitRequests         int64
	RateLimitCost             float64
	ConcurrencyLimit          int64
	Permissions               string
	ModelRestrictionsEnabled  bool
	AllowedModels             []string
	ClientRestrictionsEnabled bool
	AllowedClients            []string
	Tags                      []string
}

// Generate creates a key record and returns it with the plaintext
// credential. The plaintext is not recoverable afterwards.
func (s *Service) Generate(ctx context.Context, params GenerateParams) (*Record, string, error) {
	if err := validateLimits(params.DailyCostLimit, params.TotalCostLimit,
		params.WeeklyOpusCostLimit, params.RateLimitCost,
		float64(params.RateLimitRequests), float64(params.ConcurrencyLimit)); err != nil {
		return nil, "", err
	}

	credential, err := GenerateCredential()
	if err != nil {
		return nil, "", fmt.Errorf("keys: generating credential: %w", err)
	}

	permissions := params.Permissions
	if permissions == "" {
		permissions = PermissionAll
	}

	rec := &Record{
		ID:                        uuid.NewString(),
		Name:                      params.Name,
		SecretHash:                HashCredential(credential),
		Active:                    true,
		CreatedAt:                 s.now().UTC(),
		ExpiresAt:                 params.ExpiresAt,
		ActivationWindow:          params.ActivationWindow,
		DailyCostLimit:            params.DailyCostLimit,
		TotalCostLimit:            params.TotalCostLimit,
		WeeklyOpusCostLimit:       params.WeeklyOpusCostLimit,
		RateLimitWindow:           params.RateLimitWindow,
		RateLimitRequests:         params.RateLimitRequests,
		RateLimitCost:             params.RateLimitCost,
		ConcurrencyLimit:          params.ConcurrencyLimit,
		Permissions:               permissions,
		ModelRestrictionsEnabled:  params.ModelRestrictionsEnabled,
		AllowedModels:             params.AllowedModels,
		ClientRestrictionsEnabled: params.ClientRestrictionsEnabled,
		AllowedClients:            params.AllowedClients,
		Tags:                      params.Tags,
	}

	if err := s.store.HSet(ctx, recordKey(rec.ID), rec.serialize()); err != nil {
		return nil, "", fmt.Errorf("keys: persisting record: %w", err)
	}
	if err := s.store.HSet(ctx, hashIndexKey, map[string]string{rec.SecretHash: rec.ID}); err != nil {
		return nil, "", fmt.Errorf("keys: indexing record: %w", err)
	}

	slog.Info("api key generated", "key_id", rec.ID, "name", rec.Name)
	return rec, credential, nil
}

// Validate checks a presented credential and returns the matching record
// with its live usage snapshot.
//
// Malformed credentials are rejected before any store lookup. Snapshot
// reads tolerate store misses by treating counters as zero; a validation
// never fails because telemetry is missing.
func (s *Service) Validate(ctx context.Context, credential string) (*Record, *Snapshot, error) {
	if !WellFormed(credential) {
		return nil, nil, ErrInvalidFormat
	}

	id, err := s.store.HGet(ctx, hashIndexKey, HashCredential(credential))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("keys: index lookup: %w", err)
	}

	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if rec.Deleted {
		return nil, nil, ErrNotFound
	}
	if !rec.Active {
		return nil, nil, ErrDisabled
	}

	now := s.now()
	switch {
	case rec.ActivationWindow > 0:
		// Rolling-activation mode: the clock starts at first use.
		if rec.ActivatedAt.IsZero() {
			rec.ActivatedAt = now.UTC()
			if err := s.store.HSet(ctx, recordKey(rec.ID), map[string]string{
				fieldActivatedAt: formatTime(rec.ActivatedAt),
			}); err != nil {
				return nil, nil, fmt.Errorf("keys: recording activation: %w", err)
			}
		} else if now.After(rec.ActivatedAt.Add(rec.ActivationWindow)) {
			return nil, nil, ErrExpired
		}
	case !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt):
		return nil, nil, ErrExpired
	}

	snapshot := s.snapshot(ctx, rec)
	return rec, snapshot, nil
}

// Lease is a held concurrency slot. Release is safe to call from multiple
// failure paths; the decrement fires exactly once.
type Lease struct {
	svc     *Service
	keyID   string
	counted bool
	once    sync.Once
}

// Release returns the concurrency slot. Idempotent.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		if !l.counted {
			return
		}
		if _, err := l.svc.store.IncrBy(ctx, concurrencyKey(l.keyID), -1); err != nil {
			slog.Warn("failed to release concurrency slot", "key_id", l.keyID, "error", err)
		}
	})
}

// Authorize applies the key's policy to a request and, on success, reserves
// a concurrency slot. Checks run in a fixed order: model restriction,
// client restriction, concurrency, rate window, cost ceilings. Every
// rejection after the slot increment releases the slot first.
func (s *Service) Authorize(ctx context.Context, rec *Record, reqCtx RequestContext) (*Lease, error) {
	if rec.ModelRestrictionsEnabled && !containsFold(rec.AllowedModels, reqCtx.Model) {
		return nil, ErrModelNotAllowed
	}
	if rec.ClientRestrictionsEnabled && !containsFold(rec.AllowedClients, reqCtx.ClientID) {
		return nil, ErrClientNotAllowed
	}

	lease := &Lease{svc: s, keyID: rec.ID}

	// Concurrency: the one check that must be atomic. Increment first,
	// compare against the cap, compensate on rejection.
	if rec.ConcurrencyLimit > 0 {
		current, err := s.store.IncrBy(ctx, concurrencyKey(rec.ID), 1)
		if err != nil {
			return nil, fmt.Errorf("keys: acquiring concurrency slot: %w", err)
		}
		if current > rec.ConcurrencyLimit {
			_, _ = s.store.IncrBy(ctx, concurrencyKey(rec.ID), -1)
			return nil, ErrConcurrencyLimitExceeded
		}
		lease.counted = true
		_ = s.store.Expire(ctx, concurrencyKey(rec.ID), concurrencySlotTTL)
	}

	if err := s.checkRateWindow(ctx, rec, reqCtx); err != nil {
		lease.Release(ctx)
		return nil, err
	}

	if err := s.checkCostCeilings(ctx, rec, reqCtx); err != nil {
		s.releaseRateSlot(ctx, rec)
		lease.Release(ctx)
		return nil, err
	}

	return lease, nil
}

// releaseRateSlot compensates the current window bucket when a request was
// counted by checkRateWindow but rejected by a later check, so only
// admitted requests stay counted.
func (s *Service) releaseRateSlot(ctx context.Context, rec *Record) {
	if rec.RateLimitWindow <= 0 || rec.RateLimitRequests <= 0 {
		return
	}
	bucketKey := rateBucketKey(rateRequestPrefix, rec.ID, rec.RateLimitWindow, s.now(), 0)
	_, _ = s.store.IncrBy(ctx, bucketKey, -1)
}

// checkRateWindow enforces the request cap and optional cost cap within the
// configured window. Requests are counted in window-indexed buckets so the
// sliding mode can weigh the previous bucket; only admitted requests stay
// counted.
func (s *Service) checkRateWindow(ctx context.Context, rec *Record, reqCtx RequestContext) error {
	if rec.RateLimitWindow <= 0 || rec.RateLimitRequests <= 0 {
		return nil
	}

	now := s.now()
	bucketKey := rateBucketKey(rateRequestPrefix, rec.ID, rec.RateLimitWindow, now, 0)

	count, err := s.store.IncrBy(ctx, bucketKey, 1)
	if err != nil {
		return fmt.Errorf("keys: rate window increment: %w", err)
	}
	if count == 1 {
		// Buckets live for two windows so the sliding mode can still see
		// the previous one.
		_ = s.store.Expire(ctx, bucketKey, 2*rec.RateLimitWindow)
	}

	total := s.windowCount(ctx, rateRequestPrefix, rec, now, float64(count))
	if int64(total) > rec.RateLimitRequests {
		_, _ = s.store.IncrBy(ctx, bucketKey, -1)
		return ErrRateLimitExceeded
	}

	if rec.RateLimitCost > 0 {
		spent := s.windowCost(ctx, rec, now)
		if spent+reqCtx.EstimatedCost > rec.RateLimitCost {
			_, _ = s.store.IncrBy(ctx, bucketKey, -1)
			return ErrRateLimitExceeded
		}
	}
	return nil
}

// checkCostCeilings enforces daily, total, and weekly-Opus USD caps.
// A cap of zero means unlimited.
func (s *Service) checkCostCeilings(ctx context.Context, rec *Record, reqCtx RequestContext) error {
	snap := s.snapshot(ctx, rec)
	est := reqCtx.EstimatedCost

	if rec.DailyCostLimit > 0 && snap.DailyCost+est > rec.DailyCostLimit {
		return ErrQuotaExceeded
	}
	if rec.TotalCostLimit > 0 && snap.TotalCost+est > rec.TotalCostLimit {
		return ErrQuotaExceeded
	}
	if rec.WeeklyOpusCostLimit > 0 && isOpusModel(reqCtx.Model) &&
		snap.WeeklyOpusCost+est > rec.WeeklyOpusCostLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// CommitUsage folds one request's observed usage into the key's counters.
// All writes are atomic store increments: commits from concurrent requests
// on the same key may interleave in any order without losing tokens.
func (s *Service) CommitUsage(ctx context.Context, rec *Record, usage Usage) error {
	cost := 0.0
	if s.pricer != nil {
		cost = s.pricer.Cost(usage.Model, usage)
	}

	now := s.now()
	dailyKey := dailyUsageKey(rec.ID, now)
	totalKey := totalUsageKey(rec.ID)

	increments := []struct {
		key   string
		field string
		delta int64
	}{
		{dailyKey, "input_tokens", usage.InputTokens},
		{dailyKey, "output_tokens", usage.OutputTokens},
		{dailyKey, "cache_creation_tokens", usage.CacheCreationTokens},
		{dailyKey, "cache_read_tokens", usage.CacheReadTokens},
		{dailyKey, "requests", 1},
		{totalKey, "input_tokens", usage.InputTokens},
		{totalKey, "output_tokens", usage.OutputTokens},
		{totalKey, "requests", 1},
	}
	for _, inc := range increments {
		if inc.delta == 0 {
			continue
		}
		if _, err := s.store.HIncrBy(ctx, inc.key, inc.field, inc.delta); err != nil {
			return fmt.Errorf("keys: usage increment %s/%s: %w", inc.key, inc.field, err)
		}
	}
	_ = s.store.Expire(ctx, dailyKey, dailyUsageTTL)

	if cost > 0 {
		if _, err := s.store.HIncrByFloat(ctx, dailyKey, "cost", cost); err != nil {
			return fmt.Errorf("keys: daily cost increment: %w", err)
		}
		if _, err := s.store.HIncrByFloat(ctx, totalKey, "cost", cost); err != nil {
			return fmt.Errorf("keys: total cost increment: %w", err)
		}
		if isOpusModel(usage.Model) {
			weeklyKey := weeklyOpusKey(rec.ID, now)
			if _, err := s.store.HIncrByFloat(ctx, weeklyKey, "cost", cost); err != nil {
				return fmt.Errorf("keys: weekly opus cost increment: %w", err)
			}
			_ = s.store.Expire(ctx, weeklyKey, weeklyOpusTTL)
		}
		if rec.RateLimitWindow > 0 && rec.RateLimitCost > 0 {
			costKey := rateBucketKey(rateCostPrefix, rec.ID, rec.RateLimitWindow, now, 0)
			if _, err := s.store.HIncrByFloat(ctx, costKey, "cost", cost); err != nil {
				return fmt.Errorf("keys: window cost increment: %w", err)
			}
			_ = s.store.Expire(ctx, costKey, 2*rec.RateLimitWindow)
		}
	}

	slog.Debug("usage committed",
		"key_id", rec.ID,
		"model", usage.Model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost", cost,
	)
	return nil
}

// List enumerates stored keys ordered by creation time. Soft-deleted keys
// are excluded unless includeDeleted is set. A snapshot failure for one key
// degrades that entry to zeroed stats rather than aborting the listing.
func (s *Service) List(ctx context.Context, includeDeleted bool) ([]Summary, error) {
	recordKeys, err := s.store.Scan(ctx, recordKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("keys: scanning records: %w", err)
	}

	summaries := make([]Summary, 0, len(recordKeys))
	for _, key := range recordKeys {
		id := strings.TrimPrefix(key, recordKeyPrefix)
		rec, err := s.load(ctx, id)
		if err != nil {
			slog.Warn("skipping unreadable key record", "key_id", id, "error", err)
			continue
		}
		if rec.Deleted && !includeDeleted {
			continue
		}
		summaries = append(summaries, Summary{Record: *rec, Usage: *s.snapshot(ctx, rec)})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Record.CreatedAt.Before(summaries[j].Record.CreatedAt)
	})
	return summaries, nil
}

// Patch is a partial update. Nil fields keep their stored values.
type Patch struct {
	Name                      *string
	Active                    *bool
	Deleted                   *bool
	ExpiresAt                 *time.Time
	DailyCostLimit            *float64
	TotalCostLimit            *float64
	WeeklyOpusCostLimit       *float64
	RateLimitWindow           *time.Duration
	RateLimitRequests         *int64
	RateLimitCost             *float64
	ConcurrencyLimit          *int64
	ModelRestrictionsEnabled  *bool
	AllowedModels             []string
	ClientRestrictionsEnabled *bool
	AllowedClients            []string
	Tags                      []string
}

// Update merges a patch into a stored record. The merged record is
// re-validated before persisting; the update is all-or-nothing.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Record, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Active != nil {
		rec.Active = *patch.Active
	}
	if patch.Deleted != nil {
		rec.Deleted = *patch.Deleted
	}
	if patch.ExpiresAt != nil {
		rec.ExpiresAt = *patch.ExpiresAt
	}
	if patch.DailyCostLimit != nil {
		rec.DailyCostLimit = *patch.DailyCostLimit
	}
	if patch.TotalCostLimit != nil {
		rec.TotalCostLimit = *patch.TotalCostLimit
	}
	if patch.WeeklyOpusCostLimit != nil {
		rec.WeeklyOpusCostLimit = *patch.WeeklyOpusCostLimit
	}
	if patch.RateLimitWindow != nil {
		rec.RateLimitWindow = *patch.RateLimitWindow
	}
	if patch.RateLimitRequests != nil {
		rec.RateLimitRequests = *patch.RateLimitRequests
	}
	if patch.RateLimitCost != nil {
		rec.RateLimitCost = *patch.RateLimitCost
	}
	if patch.ConcurrencyLimit != nil {
		rec.ConcurrencyLimit = *patch.ConcurrencyLimit
	}
	if patch.ModelRestrictionsEnabled != nil {
		rec.ModelRestrictionsEnabled = *patch.ModelRestrictionsEnabled
	}
	if patch.AllowedModels != nil {
		rec.AllowedModels = patch.AllowedModels
	}
	if patch.ClientRestrictionsEnabled != nil {
		rec.ClientRestrictionsEnabled = *patch.ClientRestrictionsEnabled
	}
	if patch.AllowedClients != nil {
		rec.AllowedClients = patch.AllowedClients
	}
	if patch.Tags != nil {
		rec.Tags = patch.Tags
	}

	if err := validateLimits(rec.DailyCostLimit, rec.TotalCostLimit,
		rec.WeeklyOpusCostLimit, rec.RateLimitCost,
		float64(rec.RateLimitRequests), float64(rec.ConcurrencyLimit)); err != nil {
		return nil, err
	}
	if rec.RateLimitWindow < 0 {
		return nil, fmt.Errorf("keys: rate limit window must be non-negative")
	}

	if err := s.store.HSet(ctx, recordKey(rec.ID), rec.serialize()); err != nil {
		return nil, fmt.Errorf("keys: persisting update: %w", err)
	}
	return rec, nil
}

// ConcurrencyCount returns the number of slots currently held for a key.
func (s *Service) ConcurrencyCount(ctx context.Context, keyID string) int64 {
	raw, err := s.store.Get(ctx, concurrencyKey(keyID))
	if err != nil {
		return 0
	}
	n, err := parseStoredInt(raw)
	if err != nil {
		return 0
	}
	return n
}

// load reads and parses a record by id.
func (s *Service) load(ctx context.Context, id string) (*Record, error) {
	fields, err := s.store.HGetAll(ctx, recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("keys: reading record %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseRecord(id, fields)
}

// snapshot merges a key's live counters from the store. Any read failure
// degrades to zero.
func (s *Service) snapshot(ctx context.Context, rec *Record) *Snapshot {
	now := s.now()
	snap := &Snapshot{}

	if daily, err := s.store.HGetAll(ctx, dailyUsageKey(rec.ID, now)); err == nil {
		snap.DailyCost = lookupFloat(daily, "cost")
		snap.DailyRequests = lookupInt(daily, "requests")
		snap.DailyInputTokens = lookupInt(daily, "input_tokens")
		snap.DailyOutputTokens = lookupInt(daily, "output_tokens")
	}
	if total, err := s.store.HGetAll(ctx, totalUsageKey(rec.ID)); err == nil {
		snap.TotalCost = lookupFloat(total, "cost")
		snap.TotalInputTokens = lookupInt(total, "input_tokens")
		snap.TotalOutputTokens = lookupInt(total, "output_tokens")
	}
	if weekly, err := s.store.HGetAll(ctx, weeklyOpusKey(rec.ID, now)); err == nil {
		snap.WeeklyOpusCost = lookupFloat(weekly, "cost")
	}

	if rec.RateLimitWindow > 0 {
		if raw, err := s.store.Get(ctx, rateBucketKey(rateRequestPrefix, rec.ID, rec.RateLimitWindow, now, 0)); err == nil {
			if n, err := parseStoredInt(raw); err == nil {
				snap.WindowRequests = int64(s.windowCount(ctx, rateRequestPrefix, rec, now, float64(n)))
			}
		}
		snap.WindowCost = s.windowCost(ctx, rec, now)
	}

	snap.Concurrency = s.ConcurrencyCount(ctx, rec.ID)
	return snap
}

// windowCount returns the effective request count for the window. In fixed
// mode this is just the current bucket; in sliding mode the previous bucket
// contributes proportionally to its remaining overlap.
func (s *Service) windowCount(ctx context.Context, prefix string, rec *Record, now time.Time, current float64) float64 {
	if s.windowMode != WindowSliding {
		return current
	}

	prevKey := rateBucketKey(prefix, rec.ID, rec.RateLimitWindow, now, -1)
	raw, err := s.store.Get(ctx, prevKey)
	if err != nil {
		return current
	}
	prev, err := parseStoredInt(raw)
	if err != nil {
		return current
	}

	windowSecs := rec.RateLimitWindow.Seconds()
	elapsed := float64(now.Unix()%int64(windowSecs)) / windowSecs
	return current + float64(prev)*(1-elapsed)
}

// windowCost returns the USD spend in the current rate window.
func (s *Service) windowCost(ctx context.Context, rec *Record, now time.Time) float64 {
	costKey := rateBucketKey(rateCostPrefix, rec.ID, rec.RateLimitWindow, now, 0)
	fields, err := s.store.HGetAll(ctx, costKey)
	if err != nil {
		return 0
	}
	return lookupFloat(fields, "cost")
}

func validateLimits(limits ...float64) error {
	for _, limit := range limits {
		if limit < 0 {
			return fmt.Errorf("keys: limits must be non-negative")
		}
	}
	return nil
}

// isOpusModel reports whether a model falls under the weekly special cap.
func isOpusModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "opus")
}

func recordKey(id string) string      { return recordKeyPrefix + id }
func concurrencyKey(id string) string { return concurrencyPrefix + id }
func totalUsageKey(id string) string  { return totalUsagePrefix + id }

func dailyUsageKey(id string, now time.Time) string {
	return dailyUsagePrefix + id + ":" + now.UTC().Format("2006-01-02")
}

func weeklyOpusKey(id string, now time.Time) string {
	year, week := now.UTC().ISOWeek()
	return fmt.Sprintf("%s%s:%d-W%02d", weeklyOpusPrefix, id, year, week)
}

// rateBucketKey names the window-indexed counter bucket. offset selects the
// current (0) or previous (-1) window.
func rateBucketKey(prefix, id string, window time.Duration, now time.Time, offset int64) string {
	index := now.Unix()/int64(window.Seconds()) + offset
	return fmt.Sprintf("%s%s:%d", prefix, id, index)
}

func lookupInt(fields map[string]string, field string) int64 {
	n, err := parseStoredInt(fields[field])
	if err != nil {
		return 0
	}
	return n
}

func lookupFloat(fields map[string]string, field string) float64 {
	raw := fields[field]
	if raw == "" {
		return 0
	}
	f, err := parseStoredFloat(raw)
	if err != nil {
		return 0
	}
	return f
}

func parseStoredInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseStoredFloat(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}
