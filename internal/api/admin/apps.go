package admin

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

// purgeBatchSize bounds each delete transaction when purging an app's logs,
// keeping the SQLite write lock short.
const purgeBatchSize = 1000

// AppHandlers handles app registration and lifecycle.
type AppHandlers struct {
	appRepo *repositories.AppRepository
	logRepo *repositories.LogRepository
}

// NewAppHandlers creates a new AppHandlers instance
func NewAppHandlers(appRepo *repositories.AppRepository, logRepo *repositories.LogRepository) *AppHandlers {
	return &AppHandlers{appRepo: appRepo, logRepo: logRepo}
}

type appRequest struct {
	Name        string `json:"name" binding:"required"`
	Environment string `json:"environment"`
}

func validEnvironment(env models.Environment) bool {
	return models.ValidEnvironment(string(env))
}

// ListHandler handles GET /api/apps
func (h *AppHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		apps, err := h.appRepo.ListApps(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list apps"})
			return
		}
		if apps == nil {
			apps = []*models.App{}
		}
		c.JSON(http.StatusOK, gin.H{"apps": apps})
	}
}

// GetHandler handles GET /api/apps/:id
func (h *AppHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid app ID"})
			return
		}

		app, err := h.appRepo.GetAppByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load app"})
			return
		}
		if app == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}
		c.JSON(http.StatusOK, app)
	}
}

// @Summary      Register an app
// @Description  Creates a new app. App names are unique; environment defaults to development.
// @Tags         Apps
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.App
// @Failure      409  {object}  map[string]interface{}  "Name already taken"
// @Router       /api/apps [post]
// CreateHandler handles POST /api/apps
func (h *AppHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "App name is required"})
			return
		}

		env := models.Environment(req.Environment)
		if req.Environment != "" && !validEnvironment(env) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid environment, expected production, staging, or development"})
			return
		}

		existing, err := h.appRepo.GetAppByName(c.Request.Context(), req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create app"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "An app with this name already exists"})
			return
		}

		app := &models.App{
			Name:        req.Name,
			Environment: env,
		}
		if err := h.appRepo.CreateApp(c.Request.Context(), app); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create app"})
			return
		}

		c.JSON(http.StatusCreated, app)
	}
}

// UpdateHandler handles PUT /api/apps/:id
func (h *AppHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid app ID"})
			return
		}

		var req appRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "App name is required"})
			return
		}

		env := models.Environment(req.Environment)
		if req.Environment != "" && !validEnvironment(env) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid environment, expected production, staging, or development"})
			return
		}

		app, err := h.appRepo.GetAppByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load app"})
			return
		}
		if app == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		app.Name = req.Name
		if req.Environment != "" {
			app.Environment = env
		}

		if err := h.appRepo.UpdateApp(c.Request.Context(), app); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update app"})
			return
		}
		c.JSON(http.StatusOK, app)
	}
}

// @Summary      Delete an app
// @Description  Deletes an app. Refused with 409 while logs still reference it, unless purge=true also removes the logs.
// @Tags         Apps
// @Produce      json
// @Param        purge  query  bool  false  "Also delete the app's logs"
// @Success      200  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "App still has logs"
// @Router       /api/apps/{id} [delete]
// DeleteHandler handles DELETE /api/apps/:id
func (h *AppHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid app ID"})
			return
		}

		purged := int64(0)
		if c.Query("purge") == "true" {
			// Batched so each delete transaction holds the write lock briefly.
			for {
				n, err := h.logRepo.PurgeApp(c.Request.Context(), id, purgeBatchSize)
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge logs"})
					return
				}
				purged += n
				if n == 0 {
					break
				}
			}
		}

		err = h.appRepo.DeleteApp(c.Request.Context(), id)
		if errors.Is(err, repositories.ErrAppHasLogs) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "App still has log entries; pass purge=true to delete them",
			})
			return
		}
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete app"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "App deleted", "logs_purged": purged})
	}
}
