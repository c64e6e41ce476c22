package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/telemetry"
)

// ErrRunActive is returned by Run when another cleanup run holds the
// single-active-run guard.
var ErrRunActive = repositories.ErrRunActive

// DefaultBatchSize bounds how many rows a single delete statement removes.
const DefaultBatchSize = 500

// Engine executes retention cleanup runs against the log store.
type Engine struct {
	apps      *repositories.AppRepository
	logs      *repositories.LogRepository
	retention *repositories.RetentionRepository
	batchSize int
}

// NewEngine creates a retention engine. batchSize <= 0 falls back to
// DefaultBatchSize.
func NewEngine(apps *repositories.AppRepository, logs *repositories.LogRepository, retention *repositories.RetentionRepository, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		apps:      apps,
		logs:      logs,
		retention: retention,
		batchSize: batchSize,
	}
}

// Run executes one cleanup pass over every app and tier with an effective
// policy. Exactly one run may be in flight; a second caller gets
// ErrRunActive. The run row is always finalized — success with the total
// rows deleted, or failed with the error message and whatever was deleted
// before the failure.
func (e *Engine) Run(ctx context.Context, triggerType string, userID *int64) (*models.RetentionRun, error) {
	run, err := e.retention.StartRun(ctx, triggerType, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	slog.Info("retention run started", "run_id", run.ID, "trigger", triggerType)

	totalDeleted, runErr := e.sweep(ctx)

	telemetry.RetentionRunDuration.Observe(time.Since(start).Seconds())

	// Finalization must not be cancelled along with the sweep.
	finalizeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr != nil {
		telemetry.RetentionRunsTotal.WithLabelValues(models.RunStatusFailed).Inc()
		if err := e.retention.FailRun(finalizeCtx, run.ID, totalDeleted, runErr.Error()); err != nil {
			slog.Error("failed to finalize retention run", "run_id", run.ID, "error", err)
		}
		slog.Error("retention run failed",
			"run_id", run.ID, "logs_deleted", totalDeleted, "error", runErr)
		return nil, runErr
	}

	if err := e.retention.CompleteRun(finalizeCtx, run.ID, totalDeleted); err != nil {
		slog.Error("failed to finalize retention run", "run_id", run.ID, "error", err)
	}
	telemetry.RetentionRunsTotal.WithLabelValues(models.RunStatusSuccess).Inc()
	slog.Info("retention run completed",
		"run_id", run.ID, "logs_deleted", totalDeleted,
		"duration", time.Since(start).Round(time.Millisecond))

	run.Status = models.RunStatusSuccess
	run.LogsDeleted = totalDeleted
	now := time.Now().UTC()
	run.CompletedAt = &now
	return run, nil
}

// sweep applies every effective policy and returns the total rows deleted,
// including rows deleted before any error.
func (e *Engine) sweep(ctx context.Context) (int64, error) {
	apps, resolver, err := e.loadState(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, app := range apps {
		for _, tier := range models.Tiers {
			policy := resolver.Effective(app, tier)
			if policy == nil {
				continue
			}
			deleted, err := e.enforce(ctx, app, tier, policy)
			total += deleted
			if err != nil {
				return total, fmt.Errorf("app %q tier %s: %w", app.Name, tier, err)
			}
			if deleted > 0 {
				telemetry.RetentionDeletedTotal.WithLabelValues(app.Name, string(tier)).Add(float64(deleted))
				slog.Debug("retention deleted rows",
					"app", app.Name, "tier", tier, "rows", deleted, "source", policy.Source)
			}
		}
	}
	return total, nil
}

// enforce deletes everything one policy condemns for (app, tier), looping in
// batches so no single transaction grows unbounded. Deletion conditions are
// absolute (cutoff timestamp, keep count), so re-running after a partial
// failure removes only what is still condemned.
func (e *Engine) enforce(ctx context.Context, app *models.App, tier models.Tier, policy *EffectivePolicy) (int64, error) {
	levels := LevelsForTier(tier)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var deleted int64
		var err error
		switch policy.Type {
		case models.RetentionTimeBased:
			if policy.RetentionDays == nil {
				return total, fmt.Errorf("time_based policy %d has no retention_days", policy.PolicyID)
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -*policy.RetentionDays)
			deleted, err = e.logs.DeleteOlderThan(ctx, app.ID, levels, cutoff, e.batchSize)
		case models.RetentionCountBased:
			if policy.RetentionCount == nil {
				return total, fmt.Errorf("count_based policy %d has no retention_count", policy.PolicyID)
			}
			deleted, err = e.logs.DeleteBeyondCount(ctx, app.ID, levels, *policy.RetentionCount, e.batchSize)
		default:
			return total, fmt.Errorf("unknown retention type %q", policy.Type)
		}
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted == 0 {
			return total, nil
		}
	}
}

// Preview reports what a run would delete right now, per effective policy,
// without touching any rows or the run table.
func (e *Engine) Preview(ctx context.Context) ([]*models.RetentionPreview, error) {
	apps, resolver, err := e.loadState(ctx)
	if err != nil {
		return nil, err
	}

	previews := []*models.RetentionPreview{}
	for _, app := range apps {
		for _, tier := range models.Tiers {
			policy := resolver.Effective(app, tier)
			if policy == nil {
				continue
			}

			var stats *repositories.DeletionStats
			switch policy.Type {
			case models.RetentionTimeBased:
				if policy.RetentionDays == nil {
					continue
				}
				cutoff := time.Now().UTC().AddDate(0, 0, -*policy.RetentionDays)
				stats, err = e.logs.StatsOlderThan(ctx, app.ID, LevelsForTier(tier), cutoff)
			case models.RetentionCountBased:
				if policy.RetentionCount == nil {
					continue
				}
				stats, err = e.logs.StatsBeyondCount(ctx, app.ID, LevelsForTier(tier), *policy.RetentionCount)
			default:
				continue
			}
			if err != nil {
				return nil, err
			}

			appID := app.ID
			appName := app.Name
			preview := &models.RetentionPreview{
				PolicyID:      policy.PolicyID,
				AppID:         &appID,
				AppName:       &appName,
				PriorityTier:  tier,
				RetentionType: policy.Type,
				LogCount:      stats.Count,
				OldestLog:     stats.Oldest,
				NewestLog:     stats.Newest,
			}
			if policy.Source == SourceEnvironment {
				env := app.Environment
				preview.Environment = &env
			}
			previews = append(previews, preview)
		}
	}
	return previews, nil
}

// ReapZombies fails any run row stuck in 'running' longer than staleAfter.
// Called once at scheduler startup so a crash mid-run cannot wedge the
// single-active-run guard forever.
func (e *Engine) ReapZombies(ctx context.Context, staleAfter time.Duration) error {
	n, err := e.retention.ReapStaleRuns(ctx, staleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("marked stale retention runs as failed", "count", n, "stale_after", staleAfter)
	}
	return nil
}

func (e *Engine) loadState(ctx context.Context) ([]*models.App, *Resolver, error) {
	apps, err := e.apps.ListApps(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list apps: %w", err)
	}
	appPolicies, err := e.retention.ListPolicies(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("list retention policies: %w", err)
	}
	envPolicies, err := e.retention.ListEnvironmentPolicies(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list environment retention policies: %w", err)
	}
	return apps, NewResolver(appPolicies, envPolicies), nil
}
