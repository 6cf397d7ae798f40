package usagestats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs retention pruning on a cron schedule.
type Scheduler struct {
	store *Store
	cron  *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a retention scheduler for the store.
func NewScheduler(store *Store) *Scheduler {
	return &Scheduler{store: store, cron: cron.New()}
}

// Start schedules pruning per the store's PruneSchedule cron expression
// and stops when ctx is cancelled. An empty schedule is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.store.cfg.PruneSchedule
	if schedule == "" || s.store.cfg.RetentionDays <= 0 {
		slog.Info("usage log retention not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("usagestats: invalid prune schedule %q: %w", schedule, err)
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.runPrune(ctx) }); err != nil {
		return fmt.Errorf("usagestats: scheduling prune: %w", err)
	}

	s.cron.Start()
	s.running = true
	slog.Info("usage log retention scheduler started",
		"schedule", schedule,
		"retention_days", s.store.cfg.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler, waiting for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	slog.Info("usage log retention scheduler stopped")
}

func (s *Scheduler) runPrune(ctx context.Context) {
	pruneCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	deleted, err := s.store.Prune(pruneCtx)
	if err != nil {
		slog.Error("usage log prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("usage log pruned", "deleted", deleted)
	}
}
