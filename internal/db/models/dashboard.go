// dashboard.go defines the Dashboard, DashboardWidget, and SavedQuery models
// consumed by the dashboard UI. These are thin CRUD entities; the server
// stores their JSON configuration opaquely.
package models

import "time"

// Widget types rendered by the dashboard UI.
const (
	WidgetMetric    = "metric"
	WidgetChart     = "chart"
	WidgetTable     = "table"
	WidgetLogStream = "log_stream"
)

// ValidWidgetType reports whether s is a recognised widget type.
func ValidWidgetType(s string) bool {
	switch s {
	case WidgetMetric, WidgetChart, WidgetTable, WidgetLogStream:
		return true
	}
	return false
}

// Dashboard is a user-owned collection of widgets.
type Dashboard struct {
	ID              int64                  `db:"id" json:"id"`
	Name            string                 `db:"name" json:"name"`
	Description     *string                `db:"description" json:"description,omitempty"`
	OwnerID         int64                  `db:"owner_id" json:"owner_id"`
	IsPublic        bool                   `db:"is_public" json:"is_public"`
	LayoutConfig    map[string]interface{} `db:"-" json:"layout_config,omitempty"`
	RefreshInterval int                    `db:"refresh_interval" json:"refresh_interval"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`

	Widgets []*DashboardWidget `db:"-" json:"widgets,omitempty"`
}

// DashboardWidget is one positioned widget on a dashboard.
type DashboardWidget struct {
	ID          int64                  `db:"id" json:"id"`
	DashboardID int64                  `db:"dashboard_id" json:"dashboard_id"`
	WidgetType  string                 `db:"widget_type" json:"widget_type"`
	Title       string                 `db:"title" json:"title"`
	PositionX   int                    `db:"position_x" json:"position_x"`
	PositionY   int                    `db:"position_y" json:"position_y"`
	Width       int                    `db:"width" json:"width"`
	Height      int                    `db:"height" json:"height"`
	Config      map[string]interface{} `db:"-" json:"config"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updated_at"`
}

// SavedQuery is a reusable log filter owned by a user.
type SavedQuery struct {
	ID          int64                  `db:"id" json:"id"`
	Name        string                 `db:"name" json:"name"`
	Description *string                `db:"description" json:"description,omitempty"`
	OwnerID     int64                  `db:"owner_id" json:"owner_id"`
	IsPublic    bool                   `db:"is_public" json:"is_public"`
	QueryConfig map[string]interface{} `db:"-" json:"query_config"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updated_at"`
}
