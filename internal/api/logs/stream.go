package logs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/repositories"
)

const (
	streamPollInterval = time.Second
	streamKeepalive    = 15 * time.Second
	streamBatchLimit   = 200
)

// StreamHandlers serves the live log tail over Server-Sent Events.
type StreamHandlers struct {
	logRepo *repositories.LogRepository
}

// NewStreamHandlers creates a new StreamHandlers instance
func NewStreamHandlers(logRepo *repositories.LogRepository) *StreamHandlers {
	return &StreamHandlers{logRepo: logRepo}
}

// @Summary      Stream logs
// @Description  Server-Sent Events stream of new log entries matching the filters. Each event is one entry as JSON. The stream starts at the current tail, or at after_id when given.
// @Tags         Logs
// @Produce      text/event-stream
// @Param        after_id  query  int  false  "Resume cursor: only entries with id greater than this"
// @Router       /api/logs/stream [get]
// StreamHandler handles GET /api/logs/stream
func (h *StreamHandlers) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, errMsg := parseFilter(c)
		if errMsg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": errMsg})
			return
		}

		cursor, err := h.startCursor(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start stream"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		keepalive := time.NewTicker(streamKeepalive)
		defer keepalive.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				// SSE comment line keeps proxies from timing out the
				// connection during quiet periods.
				fmt.Fprint(c.Writer, ": keepalive\n\n")
				c.Writer.Flush()
			case <-ticker.C:
				filter.AfterID = &cursor
				filter.Limit = streamBatchLimit
				filter.Offset = 0

				entries, err := h.logRepo.Query(ctx, filter)
				if err != nil {
					// Transient query failures should not tear down the
					// stream; the next tick retries.
					continue
				}
				for _, entry := range entries {
					payload, err := json.Marshal(entry)
					if err != nil {
						continue
					}
					fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
					if entry.ID > cursor {
						cursor = entry.ID
					}
				}
				if len(entries) > 0 {
					c.Writer.Flush()
				}
			}
		}
	}
}

// startCursor resolves the stream's starting position. An explicit after_id
// lets a reconnecting client resume without gaps; otherwise the stream begins
// at the current tail so clients only see new entries.
func (h *StreamHandlers) startCursor(c *gin.Context) (int64, error) {
	if raw := c.Query("after_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id >= 0 {
			return id, nil
		}
	}
	return h.logRepo.MaxID(c.Request.Context())
}
