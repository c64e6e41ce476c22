package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// DashboardRepository handles dashboard, widget, and saved query database
// operations
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository creates a new DashboardRepository
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// dashboardRow maps a dashboards row; layout_config is JSON text.
type dashboardRow struct {
	ID              int64          `db:"id"`
	Name            string         `db:"name"`
	Description     *string        `db:"description"`
	OwnerID         int64          `db:"owner_id"`
	IsPublic        bool           `db:"is_public"`
	LayoutConfig    sql.NullString `db:"layout_config"`
	RefreshInterval int            `db:"refresh_interval"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (row *dashboardRow) toModel() (*models.Dashboard, error) {
	d := &models.Dashboard{
		ID:              row.ID,
		Name:            row.Name,
		Description:     row.Description,
		OwnerID:         row.OwnerID,
		IsPublic:        row.IsPublic,
		RefreshInterval: row.RefreshInterval,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.LayoutConfig.Valid && row.LayoutConfig.String != "" {
		if err := json.Unmarshal([]byte(row.LayoutConfig.String), &d.LayoutConfig); err != nil {
			return nil, err
		}
	}
	return d, nil
}

type widgetRow struct {
	ID          int64     `db:"id"`
	DashboardID int64     `db:"dashboard_id"`
	WidgetType  string    `db:"widget_type"`
	Title       string    `db:"title"`
	PositionX   int       `db:"position_x"`
	PositionY   int       `db:"position_y"`
	Width       int       `db:"width"`
	Height      int       `db:"height"`
	Config      string    `db:"config"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row *widgetRow) toModel() (*models.DashboardWidget, error) {
	w := &models.DashboardWidget{
		ID:          row.ID,
		DashboardID: row.DashboardID,
		WidgetType:  row.WidgetType,
		Title:       row.Title,
		PositionX:   row.PositionX,
		PositionY:   row.PositionY,
		Width:       row.Width,
		Height:      row.Height,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Config != "" {
		if err := json.Unmarshal([]byte(row.Config), &w.Config); err != nil {
			return nil, err
		}
	}
	return w, nil
}

type savedQueryRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
	OwnerID     int64     `db:"owner_id"`
	IsPublic    bool      `db:"is_public"`
	QueryConfig string    `db:"query_config"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row *savedQueryRow) toModel() (*models.SavedQuery, error) {
	q := &models.SavedQuery{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		OwnerID:     row.OwnerID,
		IsPublic:    row.IsPublic,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.QueryConfig != "" {
		if err := json.Unmarshal([]byte(row.QueryConfig), &q.QueryConfig); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// ---------------------------------------------------------------------------
// Dashboards
// ---------------------------------------------------------------------------

// CreateDashboard inserts a new dashboard.
func (r *DashboardRepository) CreateDashboard(ctx context.Context, d *models.Dashboard) error {
	layout, err := marshalMap(d.LayoutConfig)
	if err != nil {
		return err
	}
	if d.RefreshInterval <= 0 {
		d.RefreshInterval = 60
	}
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dashboards (name, description, owner_id, is_public, layout_config,
		                        refresh_interval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Name, d.Description, d.OwnerID, d.IsPublic, layout, d.RefreshInterval, now, now)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// GetDashboardByID retrieves a dashboard with its widgets. Returns nil if
// not found.
func (r *DashboardRepository) GetDashboardByID(ctx context.Context, id int64) (*models.Dashboard, error) {
	row := &dashboardRow{}
	err := r.db.GetContext(ctx, row, `SELECT * FROM dashboards WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d, err := row.toModel()
	if err != nil {
		return nil, err
	}
	d.Widgets, err = r.ListWidgets(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDashboards returns the dashboards visible to a user: their own plus
// public ones, ordered by name. Widgets are not loaded.
func (r *DashboardRepository) ListDashboards(ctx context.Context, userID int64) ([]*models.Dashboard, error) {
	rows := []*dashboardRow{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM dashboards
		WHERE owner_id = ? OR is_public = 1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, err
	}

	dashboards := make([]*models.Dashboard, 0, len(rows))
	for _, row := range rows {
		d, err := row.toModel()
		if err != nil {
			return nil, err
		}
		dashboards = append(dashboards, d)
	}
	return dashboards, nil
}

// UpdateDashboard updates a dashboard's metadata and layout.
func (r *DashboardRepository) UpdateDashboard(ctx context.Context, d *models.Dashboard) error {
	layout, err := marshalMap(d.LayoutConfig)
	if err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE dashboards
		SET name = ?, description = ?, is_public = ?, layout_config = ?,
		    refresh_interval = ?, updated_at = ?
		WHERE id = ?
	`, d.Name, d.Description, d.IsPublic, layout, d.RefreshInterval, d.UpdatedAt, d.ID)
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

// DeleteDashboard removes a dashboard; widgets cascade.
func (r *DashboardRepository) DeleteDashboard(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dashboards WHERE id = ?`, id)
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
// Widgets
// ---------------------------------------------------------------------------

// CreateWidget adds a widget to a dashboard.
func (r *DashboardRepository) CreateWidget(ctx context.Context, w *models.DashboardWidget) error {
	config, err := json.Marshal(w.Config)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dashboard_widgets (dashboard_id, widget_type, title, position_x,
		                               position_y, width, height, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.DashboardID, w.WidgetType, w.Title, w.PositionX, w.PositionY,
		w.Width, w.Height, string(config), now, now)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	w.ID = id
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

// GetWidgetByID retrieves a widget by ID. Returns nil if not found.
func (r *DashboardRepository) GetWidgetByID(ctx context.Context, id int64) (*models.DashboardWidget, error) {
	row := &widgetRow{}
	err := r.db.GetContext(ctx, row, `SELECT * FROM dashboard_widgets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListWidgets returns a dashboard's widgets in reading order.
func (r *DashboardRepository) ListWidgets(ctx context.Context, dashboardID int64) ([]*models.DashboardWidget, error) {
	rows := []*widgetRow{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM dashboard_widgets
		WHERE dashboard_id = ?
		ORDER BY position_y, position_x, id
	`, dashboardID)
	if err != nil {
		return nil, err
	}

	widgets := make([]*models.DashboardWidget, 0, len(rows))
	for _, row := range rows {
		w, err := row.toModel()
		if err != nil {
			return nil, err
		}
		widgets = append(widgets, w)
	}
	return widgets, nil
}

// UpdateWidget updates a widget's title, position, size, and config.
func (r *DashboardRepository) UpdateWidget(ctx context.Context, w *models.DashboardWidget) error {
	config, err := json.Marshal(w.Config)
	if err != nil {
		return err
	}
	w.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE dashboard_widgets
		SET widget_type = ?, title = ?, position_x = ?, position_y = ?,
		    width = ?, height = ?, config = ?, updated_at = ?
		WHERE id = ?
	`, w.WidgetType, w.Title, w.PositionX, w.PositionY, w.Width, w.Height,
		string(config), w.UpdatedAt, w.ID)
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

// DeleteWidget removes a widget.
func (r *DashboardRepository) DeleteWidget(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dashboard_widgets WHERE id = ?`, id)
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
// Saved queries
// ---------------------------------------------------------------------------

// CreateSavedQuery inserts a new saved query.
func (r *DashboardRepository) CreateSavedQuery(ctx context.Context, q *models.SavedQuery) error {
	config, err := json.Marshal(q.QueryConfig)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO saved_queries (name, description, owner_id, is_public, query_config,
		                           created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, q.Name, q.Description, q.OwnerID, q.IsPublic, string(config), now, now)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	q.ID = id
	q.CreatedAt = now
	q.UpdatedAt = now
	return nil
}

// GetSavedQueryByID retrieves a saved query by ID. Returns nil if not found.
func (r *DashboardRepository) GetSavedQueryByID(ctx context.Context, id int64) (*models.SavedQuery, error) {
	row := &savedQueryRow{}
	err := r.db.GetContext(ctx, row, `SELECT * FROM saved_queries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListSavedQueries returns the saved queries visible to a user: their own
// plus public ones.
func (r *DashboardRepository) ListSavedQueries(ctx context.Context, userID int64) ([]*models.SavedQuery, error) {
	rows := []*savedQueryRow{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM saved_queries
		WHERE owner_id = ? OR is_public = 1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, err
	}

	queries := make([]*models.SavedQuery, 0, len(rows))
	for _, row := range rows {
		q, err := row.toModel()
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// UpdateSavedQuery updates a saved query.
func (r *DashboardRepository) UpdateSavedQuery(ctx context.Context, q *models.SavedQuery) error {
	config, err := json.Marshal(q.QueryConfig)
	if err != nil {
		return err
	}
	q.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE saved_queries
		SET name = ?, description = ?, is_public = ?, query_config = ?, updated_at = ?
		WHERE id = ?
	`, q.Name, q.Description, q.IsPublic, string(config), q.UpdatedAt, q.ID)
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

// DeleteSavedQuery removes a saved query.
func (r *DashboardRepository) DeleteSavedQuery(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ?`, id)
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
