// retention_repository.go implements persistence for retention policies
// (per-app and per-environment) and retention run audit records.
//
// The single-active-run invariant lives here: StartRun inserts the running
// row with a NOT EXISTS guard in one statement, so two concurrent triggers
// cannot both begin a run no matter how they interleave.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// ErrRunActive is returned by StartRun when a retention run is already in
// progress.
var ErrRunActive = errors.New("a retention run is already in progress")

// RetentionRepository handles retention policy and run database operations
type RetentionRepository struct {
	db *sqlx.DB
}

// NewRetentionRepository creates a new RetentionRepository
func NewRetentionRepository(db *sqlx.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// ---------------------------------------------------------------------------
// Per-app policies
// ---------------------------------------------------------------------------

const policyColumns = `
	p.id, p.app_id, p.priority_tier, p.retention_type, p.retention_days,
	p.retention_count, p.enabled, p.created_at, p.updated_at
`

// UpsertPolicy creates or replaces the policy for (app, tier).
func (r *RetentionRepository) UpsertPolicy(ctx context.Context, p *models.RetentionPolicy) error {
	now := time.Now().UTC()
	p.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_policies (app_id, priority_tier, retention_type,
		                                retention_days, retention_count, enabled,
		                                created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, priority_tier) DO UPDATE SET
			retention_type = excluded.retention_type,
			retention_days = excluded.retention_days,
			retention_count = excluded.retention_count,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, p.AppID, p.PriorityTier, p.RetentionType, p.RetentionDays, p.RetentionCount,
		p.Enabled, now, now)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		p.ID = id
	}
	return nil
}

// GetPolicy returns the policy for (app, tier), or nil.
func (r *RetentionRepository) GetPolicy(ctx context.Context, appID int64, tier models.Tier) (*models.RetentionPolicy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM retention_policies p
		WHERE p.app_id = ? AND p.priority_tier = ?
	`

	p := &models.RetentionPolicy{}
	err := r.db.GetContext(ctx, p, query, appID, tier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPolicyByID returns a per-app policy by its row ID, or nil.
func (r *RetentionRepository) GetPolicyByID(ctx context.Context, id int64) (*models.RetentionPolicy, error) {
	query := `
		SELECT ` + policyColumns + `, a.name AS app_name
		FROM retention_policies p
		JOIN apps a ON a.id = p.app_id
		WHERE p.id = ?
	`

	p := &models.RetentionPolicy{}
	err := r.db.GetContext(ctx, p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPolicies returns all per-app policies with app names, optionally
// scoped to one app.
func (r *RetentionRepository) ListPolicies(ctx context.Context, appID *int64) ([]*models.RetentionPolicy, error) {
	query := `
		SELECT ` + policyColumns + `, a.name AS app_name
		FROM retention_policies p
		JOIN apps a ON a.id = p.app_id
		ORDER BY a.name, p.priority_tier
	`
	args := []interface{}{}
	if appID != nil {
		query = `
			SELECT ` + policyColumns + `, a.name AS app_name
			FROM retention_policies p
			JOIN apps a ON a.id = p.app_id
			WHERE p.app_id = ?
			ORDER BY p.priority_tier
		`
		args = append(args, *appID)
	}

	policies := []*models.RetentionPolicy{}
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, err
	}
	return policies, nil
}

// DeletePolicy removes a per-app policy by ID.
func (r *RetentionRepository) DeletePolicy(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM retention_policies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Environment policies
// ---------------------------------------------------------------------------

// UpsertEnvironmentPolicy creates or replaces the policy for
// (environment, tier).
func (r *RetentionRepository) UpsertEnvironmentPolicy(ctx context.Context, p *models.EnvironmentRetentionPolicy) error {
	now := time.Now().UTC()
	p.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO environment_retention_policies (environment, priority_tier,
		                                            retention_type, retention_days,
		                                            retention_count, enabled,
		                                            created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(environment, priority_tier) DO UPDATE SET
			retention_type = excluded.retention_type,
			retention_days = excluded.retention_days,
			retention_count = excluded.retention_count,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, p.Environment, p.PriorityTier, p.RetentionType, p.RetentionDays,
		p.RetentionCount, p.Enabled, now, now)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		p.ID = id
	}
	return nil
}

// GetEnvironmentPolicy returns the policy for (environment, tier), or nil.
func (r *RetentionRepository) GetEnvironmentPolicy(ctx context.Context, env models.Environment, tier models.Tier) (*models.EnvironmentRetentionPolicy, error) {
	query := `
		SELECT id, environment, priority_tier, retention_type, retention_days,
		       retention_count, enabled, created_at, updated_at
		FROM environment_retention_policies
		WHERE environment = ? AND priority_tier = ?
	`

	p := &models.EnvironmentRetentionPolicy{}
	err := r.db.GetContext(ctx, p, query, env, tier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListEnvironmentPolicies returns all environment policies.
func (r *RetentionRepository) ListEnvironmentPolicies(ctx context.Context) ([]*models.EnvironmentRetentionPolicy, error) {
	query := `
		SELECT id, environment, priority_tier, retention_type, retention_days,
		       retention_count, enabled, created_at, updated_at
		FROM environment_retention_policies
		ORDER BY environment, priority_tier
	`

	policies := []*models.EnvironmentRetentionPolicy{}
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, err
	}
	return policies, nil
}

// GetEnvironmentPolicyByID returns an environment policy by row ID, or nil.
func (r *RetentionRepository) GetEnvironmentPolicyByID(ctx context.Context, id int64) (*models.EnvironmentRetentionPolicy, error) {
	query := `
		SELECT id, environment, priority_tier, retention_type, retention_days,
		       retention_count, enabled, created_at, updated_at
		FROM environment_retention_policies
		WHERE id = ?
	`

	p := &models.EnvironmentRetentionPolicy{}
	err := r.db.GetContext(ctx, p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteEnvironmentPolicy removes an environment policy by ID.
func (r *RetentionRepository) DeleteEnvironmentPolicy(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM environment_retention_policies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountEnvironmentPolicies returns the number of environment policies.
// Used at startup to decide whether to seed defaults.
func (r *RetentionRepository) CountEnvironmentPolicies(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM environment_retention_policies`)
	return count, err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

const runColumns = `
	r.id, r.trigger_type, r.started_at, r.completed_at, r.status,
	r.logs_deleted, r.error_message, r.triggered_by_user_id
`

// StartRun records the start of a retention run. The insert is guarded so it
// only succeeds while no other run has status 'running'; ErrRunActive is
// returned otherwise.
func (r *RetentionRepository) StartRun(ctx context.Context, triggerType string, userID *int64) (*models.RetentionRun, error) {
	started := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_runs (trigger_type, started_at, status, logs_deleted, triggered_by_user_id)
		SELECT ?, ?, ?, 0, ?
		WHERE NOT EXISTS (SELECT 1 FROM retention_runs WHERE status = ?)
	`, triggerType, started, models.RunStatusRunning, userID, models.RunStatusRunning)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrRunActive
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.RetentionRun{
		ID:                id,
		TriggerType:       triggerType,
		StartedAt:         started,
		Status:            models.RunStatusRunning,
		TriggeredByUserID: userID,
	}, nil
}

// CompleteRun marks a run successful and records its deletion total.
func (r *RetentionRepository) CompleteRun(ctx context.Context, runID int64, logsDeleted int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE retention_runs
		SET status = ?, completed_at = ?, logs_deleted = ?
		WHERE id = ? AND status = ?
	`, models.RunStatusSuccess, time.Now().UTC(), logsDeleted, runID, models.RunStatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FailRun marks a run failed, keeping the count of rows deleted before the
// failure.
func (r *RetentionRepository) FailRun(ctx context.Context, runID int64, logsDeleted int64, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE retention_runs
		SET status = ?, completed_at = ?, logs_deleted = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, models.RunStatusFailed, time.Now().UTC(), logsDeleted, errMsg, runID, models.RunStatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRun retrieves a run by ID with the triggering username joined, or nil.
func (r *RetentionRepository) GetRun(ctx context.Context, id int64) (*models.RetentionRun, error) {
	query := `
		SELECT ` + runColumns + `, u.username AS triggered_by_username
		FROM retention_runs r
		LEFT JOIN web_users u ON u.id = r.triggered_by_user_id
		WHERE r.id = ?
	`

	run := &models.RetentionRun{}
	err := r.db.GetContext(ctx, run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *RetentionRepository) ListRuns(ctx context.Context, limit int) ([]*models.RetentionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + runColumns + `, u.username AS triggered_by_username
		FROM retention_runs r
		LEFT JOIN web_users u ON u.id = r.triggered_by_user_id
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ?
	`

	runs := []*models.RetentionRun{}
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, err
	}
	return runs, nil
}

// ReapStaleRuns marks runs that have been 'running' longer than staleAfter
// as failed. A run that old belongs to a crashed process; marking it failed
// releases the single-active-run guard. Returns the number of runs reaped.
func (r *RetentionRepository) ReapStaleRuns(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	res, err := r.db.ExecContext(ctx, `
		UPDATE retention_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?
	`, models.RunStatusFailed, time.Now().UTC(),
		"run abandoned: process exited before completion",
		models.RunStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
