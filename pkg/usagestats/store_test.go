package usagestats

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "usage.db")
	}
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndSummarize(t *testing.T) {
	store := openTestStore(t, Config{})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{KeyID: "key-a", AccountID: "acct-1", Model: "claude-sonnet-4", InputTokens: 100, OutputTokens: 40, Cost: 0.5, Completed: true, CreatedAt: now},
		{KeyID: "key-a", AccountID: "acct-2", Model: "claude-opus-4", InputTokens: 300, OutputTokens: 0, Cost: 1.25, Completed: false, CreatedAt: now.Add(time.Minute)},
		{KeyID: "key-b", AccountID: "acct-1", Model: "claude-sonnet-4", InputTokens: 50, OutputTokens: 10, Cost: 0.1, Completed: true, CreatedAt: now},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	summary, err := store.SummarizeKey(ctx, "key-a", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SummarizeKey() error = %v", err)
	}
	if summary.Requests != 2 {
		t.Errorf("Requests = %d, want 2", summary.Requests)
	}
	if summary.InputTokens != 400 || summary.OutputTokens != 40 {
		t.Errorf("tokens = %d/%d, want 400/40", summary.InputTokens, summary.OutputTokens)
	}
	if summary.Cost != 1.75 {
		t.Errorf("Cost = %g, want 1.75", summary.Cost)
	}

	// The window excludes entries outside it.
	summary, err = store.SummarizeKey(ctx, "key-a", now.Add(30*time.Second), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SummarizeKey() error = %v", err)
	}
	if summary.Requests != 1 {
		t.Errorf("windowed Requests = %d, want 1", summary.Requests)
	}
}

func TestRecentEntriesOrderAndPartialFlag(t *testing.T) {
	store := openTestStore(t, Config{})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := store.Record(ctx, Entry{
			KeyID:       "key-a",
			AccountID:   "acct-1",
			Model:       "claude-sonnet-4",
			InputTokens: int64(i + 1),
			Completed:   i != 2,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := store.RecentEntries(ctx, "key-a", 2)
	if err != nil {
		t.Fatalf("RecentEntries() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentEntries() returned %d rows, want 2", len(got))
	}
	if got[0].InputTokens != 3 || got[1].InputTokens != 2 {
		t.Errorf("order = %d, %d; want newest first", got[0].InputTokens, got[1].InputTokens)
	}
	if got[0].Completed {
		t.Error("newest entry should carry the mid-stream failure flag")
	}
}

func TestPruneRespectsRetention(t *testing.T) {
	store := openTestStore(t, Config{RetentionDays: 30})
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	fresh := time.Now().UTC()

	for _, createdAt := range []time.Time{old, old, fresh} {
		if err := store.Record(ctx, Entry{KeyID: "key-a", AccountID: "acct-1", Model: "m", CreatedAt: createdAt}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	deleted, err := store.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Prune() deleted %d rows, want 2", deleted)
	}

	remaining, err := store.RecentEntries(ctx, "key-a", 10)
	if err != nil {
		t.Fatalf("RecentEntries() error = %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("%d rows remain, want 1", len(remaining))
	}
}

func TestPruneDisabledWithoutRetention(t *testing.T) {
	store := openTestStore(t, Config{})
	ctx := context.Background()

	if err := store.Record(ctx, Entry{KeyID: "k", AccountID: "a", Model: "m", CreatedAt: time.Now().AddDate(-1, 0, 0)}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	deleted, err := store.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("Prune() with retention disabled deleted %d rows", deleted)
	}
}
