// Package repositories implements the data access layer (repository pattern)
// for just-logging. Each repository type encapsulates all database queries for
// a domain entity. Handlers and engines never issue SQL directly — all
// database access goes through this layer, which makes query logic testable
// in isolation and prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// ErrAppHasLogs is returned by DeleteApp when logs still reference the app
// and purge was not requested.
var ErrAppHasLogs = errors.New("app still has log entries")

// AppRepository handles app database operations
type AppRepository struct {
	db *sqlx.DB
}

// NewAppRepository creates a new AppRepository
func NewAppRepository(db *sqlx.DB) *AppRepository {
	return &AppRepository{db: db}
}

// CreateApp inserts a new app and fills in its generated ID.
func (r *AppRepository) CreateApp(ctx context.Context, app *models.App) error {
	if app.Environment == "" {
		app.Environment = models.EnvDevelopment
	}
	app.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO apps (name, environment, created_at)
		VALUES (?, ?, ?)
	`

	res, err := r.db.ExecContext(ctx, query, app.Name, app.Environment, app.CreatedAt)
	if err != nil {
		return err
	}
	app.ID, err = res.LastInsertId()
	return err
}

// GetAppByID retrieves an app by ID. Returns nil when not found.
func (r *AppRepository) GetAppByID(ctx context.Context, id int64) (*models.App, error) {
	query := `
		SELECT id, name, environment, created_at
		FROM apps
		WHERE id = ?
	`

	app := &models.App{}
	err := r.db.GetContext(ctx, app, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

// GetAppByName retrieves an app by its unique name. Returns nil when not found.
func (r *AppRepository) GetAppByName(ctx context.Context, name string) (*models.App, error) {
	query := `
		SELECT id, name, environment, created_at
		FROM apps
		WHERE name = ?
	`

	app := &models.App{}
	err := r.db.GetContext(ctx, app, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ListApps returns all apps ordered by name.
func (r *AppRepository) ListApps(ctx context.Context) ([]*models.App, error) {
	query := `
		SELECT id, name, environment, created_at
		FROM apps
		ORDER BY name
	`

	apps := []*models.App{}
	if err := r.db.SelectContext(ctx, &apps, query); err != nil {
		return nil, err
	}
	return apps, nil
}

// UpdateApp updates an app's name and environment.
func (r *AppRepository) UpdateApp(ctx context.Context, app *models.App) error {
	query := `
		UPDATE apps
		SET name = ?, environment = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query, app.Name, app.Environment, app.ID)
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

// DeleteApp removes an app. API keys, parsing rules, and retention policies
// cascade via foreign keys; log rows do not (the logs table is unconstrained
// for write speed), so deletion is refused while logs remain unless the
// caller purges them first.
func (r *AppRepository) DeleteApp(ctx context.Context, id int64) error {
	var logCount int64
	if err := r.db.GetContext(ctx, &logCount,
		`SELECT COUNT(*) FROM logs WHERE app_id = ?`, id); err != nil {
		return err
	}
	if logCount > 0 {
		return ErrAppHasLogs
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM apps WHERE id = ?`, id)
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

// CountApps returns the number of registered apps.
func (r *AppRepository) CountApps(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM apps`)
	return count, err
}
