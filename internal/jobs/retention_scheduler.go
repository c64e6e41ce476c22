// Package jobs contains background jobs driven by tickers. Jobs follow a
// common shape: NewX validates intervals, Start(ctx) blocks in a
// ticker/select loop, Stop() closes the stop channel.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/retention"
)

// RetentionScheduler periodically runs the retention engine.
type RetentionScheduler struct {
	engine     *retention.Engine
	interval   time.Duration
	staleAfter time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewRetentionScheduler creates the scheduler. Intervals at or below zero
// fall back to hourly runs and a two hour stale-run window.
func NewRetentionScheduler(engine *retention.Engine, cfg config.RetentionConfig) *RetentionScheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	staleAfter := cfg.StaleRunAfter
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}

	return &RetentionScheduler{
		engine:     engine,
		interval:   interval,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the scheduling loop. It reconciles zombie runs once before
// the first tick, then runs cleanup every interval until Stop or ctx
// cancellation.
func (s *RetentionScheduler) Start(ctx context.Context) {
	slog.Info("retention scheduler started",
		"interval", s.interval, "stale_run_after", s.staleAfter)

	// A crash mid-run leaves a 'running' row that would block every future
	// run; clear it before scheduling anything.
	if err := s.engine.ReapZombies(ctx, s.staleAfter); err != nil {
		slog.Error("failed to reap stale retention runs", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanup(ctx)
		case <-s.stopChan:
			slog.Info("retention scheduler stopped")
			return
		case <-ctx.Done():
			slog.Info("retention scheduler context cancelled")
			return
		}
	}
}

// Stop stops the scheduling loop. Safe to call more than once.
func (s *RetentionScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *RetentionScheduler) runCleanup(ctx context.Context) {
	_, err := s.engine.Run(ctx, models.TriggerScheduled, nil)
	if errors.Is(err, retention.ErrRunActive) {
		// Manual trigger in flight, or the previous scheduled run is still
		// working through its batches. Skip this tick.
		slog.Info("skipping scheduled retention run, another run is active")
		return
	}
	if err != nil {
		slog.Error("scheduled retention run failed", "error", err)
	}
}
