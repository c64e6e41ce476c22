package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/middleware"
)

// DashboardHandlers handles dashboards, widgets, and saved queries.
//
// Access model: everyone sees their own items plus public ones; only the
// owner or an admin may modify or delete an item.
type DashboardHandlers struct {
	dashRepo *repositories.DashboardRepository
}

// NewDashboardHandlers creates a new DashboardHandlers instance
func NewDashboardHandlers(dashRepo *repositories.DashboardRepository) *DashboardHandlers {
	return &DashboardHandlers{dashRepo: dashRepo}
}

func canView(user *models.WebUser, ownerID int64, isPublic bool) bool {
	return isPublic || user.ID == ownerID || user.IsAdmin()
}

func canModify(user *models.WebUser, ownerID int64) bool {
	return user.ID == ownerID || user.IsAdmin()
}

// ---------------------------------------------------------------------------
// Dashboards
// ---------------------------------------------------------------------------

type dashboardRequest struct {
	Name            string                 `json:"name" binding:"required"`
	Description     *string                `json:"description"`
	IsPublic        bool                   `json:"is_public"`
	LayoutConfig    map[string]interface{} `json:"layout_config"`
	RefreshInterval int                    `json:"refresh_interval"`
}

// ListDashboardsHandler handles GET /api/dashboards
func (h *DashboardHandlers) ListDashboardsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		dashboards, err := h.dashRepo.ListDashboards(c.Request.Context(), user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list dashboards"})
			return
		}
		if dashboards == nil {
			dashboards = []*models.Dashboard{}
		}
		c.JSON(http.StatusOK, gin.H{"dashboards": dashboards})
	}
}

// GetDashboardHandler handles GET /api/dashboards/:id
func (h *DashboardHandlers) GetDashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dashboard ID"})
			return
		}

		dashboard, err := h.dashRepo.GetDashboardByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard"})
			return
		}
		if dashboard == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Dashboard not found"})
			return
		}
		if !canView(middleware.CurrentUser(c), dashboard.OwnerID, dashboard.IsPublic) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.JSON(http.StatusOK, dashboard)
	}
}

// CreateDashboardHandler handles POST /api/dashboards
func (h *DashboardHandlers) CreateDashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dashboardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Dashboard name is required"})
			return
		}

		dashboard := &models.Dashboard{
			Name:            req.Name,
			Description:     req.Description,
			OwnerID:         middleware.CurrentUser(c).ID,
			IsPublic:        req.IsPublic,
			LayoutConfig:    req.LayoutConfig,
			RefreshInterval: req.RefreshInterval,
		}
		if err := h.dashRepo.CreateDashboard(c.Request.Context(), dashboard); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create dashboard"})
			return
		}
		c.JSON(http.StatusCreated, dashboard)
	}
}

// UpdateDashboardHandler handles PUT /api/dashboards/:id
func (h *DashboardHandlers) UpdateDashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dashboard ID"})
			return
		}

		var req dashboardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Dashboard name is required"})
			return
		}

		dashboard, err := h.dashRepo.GetDashboardByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard"})
			return
		}
		if dashboard == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Dashboard not found"})
			return
		}
		if !canModify(middleware.CurrentUser(c), dashboard.OwnerID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}

		dashboard.Name = req.Name
		dashboard.Description = req.Description
		dashboard.IsPublic = req.IsPublic
		dashboard.LayoutConfig = req.LayoutConfig
		if req.RefreshInterval > 0 {
			dashboard.RefreshInterval = req.RefreshInterval
		}

		if err := h.dashRepo.UpdateDashboard(c.Request.Context(), dashboard); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update dashboard"})
			return
		}
		c.JSON(http.StatusOK, dashboard)
	}
}

// DeleteDashboardHandler handles DELETE /api/dashboards/:id
func (h *DashboardHandlers) DeleteDashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dashboard ID"})
			return
		}

		dashboard, err := h.dashRepo.GetDashboardByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard"})
			return
		}
		if dashboard == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Dashboard not found"})
			return
		}
		if !canModify(middleware.CurrentUser(c), dashboard.OwnerID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}

		if err := h.dashRepo.DeleteDashboard(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete dashboard"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Dashboard deleted"})
	}
}

// ---------------------------------------------------------------------------
// Widgets
// ---------------------------------------------------------------------------

type widgetRequest struct {
	WidgetType string                 `json:"widget_type" binding:"required"`
	Title      string                 `json:"title" binding:"required"`
	PositionX  int                    `json:"position_x"`
	PositionY  int                    `json:"position_y"`
	Width      int                    `json:"width"`
	Height     int                    `json:"height"`
	Config     map[string]interface{} `json:"config"`
}

// loadOwnedDashboard fetches a dashboard and verifies the caller may modify
// it. Writes the error response itself and returns nil when access fails.
func (h *DashboardHandlers) loadOwnedDashboard(c *gin.Context, id int64) *models.Dashboard {
	dashboard, err := h.dashRepo.GetDashboardByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard"})
		return nil
	}
	if dashboard == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Dashboard not found"})
		return nil
	}
	if !canModify(middleware.CurrentUser(c), dashboard.OwnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
		return nil
	}
	return dashboard
}

// CreateWidgetHandler handles POST /api/dashboards/:id/widgets
func (h *DashboardHandlers) CreateWidgetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dashboardID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dashboard ID"})
			return
		}

		var req widgetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Widget type and title are required"})
			return
		}
		if !models.ValidWidgetType(req.WidgetType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid widget_type, expected metric, chart, table, or log_stream"})
			return
		}

		if h.loadOwnedDashboard(c, dashboardID) == nil {
			return
		}

		widget := &models.DashboardWidget{
			DashboardID: dashboardID,
			WidgetType:  req.WidgetType,
			Title:       req.Title,
			PositionX:   req.PositionX,
			PositionY:   req.PositionY,
			Width:       req.Width,
			Height:      req.Height,
			Config:      req.Config,
		}
		if err := h.dashRepo.CreateWidget(c.Request.Context(), widget); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create widget"})
			return
		}
		c.JSON(http.StatusCreated, widget)
	}
}

// UpdateWidgetHandler handles PUT /api/widgets/:id
func (h *DashboardHandlers) UpdateWidgetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid widget ID"})
			return
		}

		var req widgetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Widget type and title are required"})
			return
		}
		if !models.ValidWidgetType(req.WidgetType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid widget_type, expected metric, chart, table, or log_stream"})
			return
		}

		widget, err := h.dashRepo.GetWidgetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load widget"})
			return
		}
		if widget == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Widget not found"})
			return
		}
		if h.loadOwnedDashboard(c, widget.DashboardID) == nil {
			return
		}

		widget.WidgetType = req.WidgetType
		widget.Title = req.Title
		widget.PositionX = req.PositionX
		widget.PositionY = req.PositionY
		widget.Width = req.Width
		widget.Height = req.Height
		widget.Config = req.Config

		if err := h.dashRepo.UpdateWidget(c.Request.Context(), widget); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update widget"})
			return
		}
		c.JSON(http.StatusOK, widget)
	}
}

// DeleteWidgetHandler handles DELETE /api/widgets/:id
func (h *DashboardHandlers) DeleteWidgetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid widget ID"})
			return
		}

		widget, err := h.dashRepo.GetWidgetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load widget"})
			return
		}
		if widget == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Widget not found"})
			return
		}
		if h.loadOwnedDashboard(c, widget.DashboardID) == nil {
			return
		}

		if err := h.dashRepo.DeleteWidget(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete widget"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Widget deleted"})
	}
}

// ---------------------------------------------------------------------------
// Saved queries
// ---------------------------------------------------------------------------

type savedQueryRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description *string                `json:"description"`
	IsPublic    bool                   `json:"is_public"`
	QueryConfig map[string]interface{} `json:"query_config" binding:"required"`
}

// ListSavedQueriesHandler handles GET /api/saved-queries
func (h *DashboardHandlers) ListSavedQueriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		queries, err := h.dashRepo.ListSavedQueries(c.Request.Context(), user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list saved queries"})
			return
		}
		if queries == nil {
			queries = []*models.SavedQuery{}
		}
		c.JSON(http.StatusOK, gin.H{"queries": queries})
	}
}

// CreateSavedQueryHandler handles POST /api/saved-queries
func (h *DashboardHandlers) CreateSavedQueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req savedQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name and query_config are required"})
			return
		}

		query := &models.SavedQuery{
			Name:        req.Name,
			Description: req.Description,
			OwnerID:     middleware.CurrentUser(c).ID,
			IsPublic:    req.IsPublic,
			QueryConfig: req.QueryConfig,
		}
		if err := h.dashRepo.CreateSavedQuery(c.Request.Context(), query); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create saved query"})
			return
		}
		c.JSON(http.StatusCreated, query)
	}
}

// UpdateSavedQueryHandler handles PUT /api/saved-queries/:id
func (h *DashboardHandlers) UpdateSavedQueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid saved query ID"})
			return
		}

		var req savedQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name and query_config are required"})
			return
		}

		query, err := h.dashRepo.GetSavedQueryByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load saved query"})
			return
		}
		if query == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Saved query not found"})
			return
		}
		if !canModify(middleware.CurrentUser(c), query.OwnerID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}

		query.Name = req.Name
		query.Description = req.Description
		query.IsPublic = req.IsPublic
		query.QueryConfig = req.QueryConfig

		if err := h.dashRepo.UpdateSavedQuery(c.Request.Context(), query); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update saved query"})
			return
		}
		c.JSON(http.StatusOK, query)
	}
}

// DeleteSavedQueryHandler handles DELETE /api/saved-queries/:id
func (h *DashboardHandlers) DeleteSavedQueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid saved query ID"})
			return
		}

		query, err := h.dashRepo.GetSavedQueryByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load saved query"})
			return
		}
		if query == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Saved query not found"})
			return
		}
		if !canModify(middleware.CurrentUser(c), query.OwnerID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}

		if err := h.dashRepo.DeleteSavedQuery(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete saved query"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Saved query deleted"})
	}
}
