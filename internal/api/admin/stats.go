package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/ingest"
)

// StatsHandlers serves operational statistics for the admin UI.
type StatsHandlers struct {
	db      *sqlx.DB
	appRepo *repositories.AppRepository
	logRepo *repositories.LogRepository
	writer  *ingest.Writer
}

// NewStatsHandlers creates a new StatsHandlers instance
func NewStatsHandlers(db *sqlx.DB, appRepo *repositories.AppRepository, logRepo *repositories.LogRepository, writer *ingest.Writer) *StatsHandlers {
	return &StatsHandlers{db: db, appRepo: appRepo, logRepo: logRepo, writer: writer}
}

// @Summary      Server statistics
// @Description  Returns ingest queue counters, per-level log counts, app count, and database pool stats. Pass app_id to scope level counts to one app.
// @Tags         Stats
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/stats [get]
// StatsHandler handles GET /api/stats
func (h *StatsHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var appID *int64
		if raw := c.Query("app_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid app_id"})
				return
			}
			appID = &id
		}

		levelCounts, err := h.logRepo.LevelCounts(c.Request.Context(), appID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
			return
		}

		appCount, err := h.appRepo.CountApps(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
			return
		}

		dbStats := h.db.Stats()

		c.JSON(http.StatusOK, gin.H{
			"ingest":       h.writer.Snapshot(),
			"level_counts": levelCounts,
			"app_count":    appCount,
			"database": gin.H{
				"open_connections": dbStats.OpenConnections,
				"in_use":           dbStats.InUse,
				"idle":             dbStats.Idle,
				"wait_count":       dbStats.WaitCount,
			},
		})
	}
}
