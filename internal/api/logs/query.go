package logs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// QueryHandlers serves the session-authenticated log search endpoints.
type QueryHandlers struct {
	logRepo *repositories.LogRepository
}

// NewQueryHandlers creates a new QueryHandlers instance
func NewQueryHandlers(logRepo *repositories.LogRepository) *QueryHandlers {
	return &QueryHandlers{logRepo: logRepo}
}

// parseFilter builds a repository filter from query parameters. Invalid
// values return a descriptive error message instead of being silently
// dropped, so dashboard bugs surface immediately.
func parseFilter(c *gin.Context) (repositories.LogFilter, string) {
	var f repositories.LogFilter

	if raw := c.Query("app_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, "Invalid app_id"
		}
		f.AppID = &id
	}

	if raw := c.Query("levels"); raw != "" {
		for _, l := range strings.Split(raw, ",") {
			l = strings.TrimSpace(l)
			if l == "" {
				continue
			}
			f.Levels = append(f.Levels, models.Level(strings.ToUpper(l)))
		}
	}

	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "Invalid since timestamp, expected RFC3339"
		}
		f.Since = &t
	}

	if raw := c.Query("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "Invalid until timestamp, expected RFC3339"
		}
		f.Until = &t
	}

	f.Search = c.Query("search")

	if raw := c.Query("tags"); raw != "" {
		tags := make(map[string]string)
		for _, pair := range strings.Split(raw, ",") {
			key, value, ok := strings.Cut(pair, ":")
			if !ok || key == "" {
				return f, "Invalid tags filter, expected key:value pairs"
			}
			tags[key] = value
		}
		f.Tags = tags
	}

	f.Limit = defaultQueryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, "Invalid limit"
		}
		if n > maxQueryLimit {
			n = maxQueryLimit
		}
		f.Limit = n
	}

	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, "Invalid offset"
		}
		f.Offset = n
	}

	return f, ""
}

// @Summary      Query logs
// @Description  Returns log entries matching the given filters, newest first.
// @Tags         Logs
// @Produce      json
// @Param        app_id  query  int     false  "Filter by app"
// @Param        levels  query  string  false  "Comma-separated levels (ERROR,WARN)"
// @Param        since   query  string  false  "RFC3339 inclusive lower bound"
// @Param        until   query  string  false  "RFC3339 exclusive upper bound"
// @Param        search  query  string  false  "Substring match on message"
// @Param        tags    query  string  false  "Comma-separated key:value pairs"
// @Param        limit   query  int     false  "Page size (default 100, max 1000)"
// @Param        offset  query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/logs [get]
// QueryHandler handles GET /api/logs
func (h *QueryHandlers) QueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, errMsg := parseFilter(c)
		if errMsg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": errMsg})
			return
		}

		entries, err := h.logRepo.Query(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query logs"})
			return
		}
		if entries == nil {
			entries = []*models.LogEntry{}
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":   entries,
			"count":  len(entries),
			"limit":  filter.Limit,
			"offset": filter.Offset,
		})
	}
}

// CountHandler handles GET /api/logs/count
func (h *QueryHandlers) CountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, errMsg := parseFilter(c)
		if errMsg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": errMsg})
			return
		}

		count, err := h.logRepo.Count(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// GetHandler handles GET /api/logs/:id
func (h *QueryHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log ID"})
			return
		}

		entry, err := h.logRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load log entry"})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Log entry not found"})
			return
		}

		c.JSON(http.StatusOK, entry)
	}
}

// TagKeysHandler handles GET /api/logs/tags. It returns the distinct tag
// keys seen across all stored logs, for filter autocompletion.
func (h *QueryHandlers) TagKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := h.logRepo.TagKeys(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tag keys"})
			return
		}
		if keys == nil {
			keys = []string{}
		}

		c.JSON(http.StatusOK, gin.H{"tags": keys})
	}
}
