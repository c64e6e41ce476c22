// Package logs implements the log-facing HTTP handlers: ingestion, querying,
// live streaming, and export.
package logs

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/ingest"
	"github.com/just-logging/just-logging/internal/middleware"
)

// IngestHandlers handles API-key-authenticated log submission.
type IngestHandlers struct {
	writer *ingest.Writer
}

// NewIngestHandlers creates a new IngestHandlers instance
func NewIngestHandlers(writer *ingest.Writer) *IngestHandlers {
	return &IngestHandlers{writer: writer}
}

// logPayload is the wire format for one submitted log entry.
type logPayload struct {
	Level          string                 `json:"level"`
	Message        string                 `json:"message"`
	Timestamp      *time.Time             `json:"timestamp"`
	StructuredData map[string]interface{} `json:"structured_data"`
	Tags           map[string]string      `json:"tags"`
}

type batchPayload struct {
	Logs []logPayload `json:"logs"`
}

// @Summary      Ingest logs
// @Description  Accepts a single log entry or a JSON array of entries. Requires an API key. Entries are queued for asynchronous persistence; 202 means accepted, not yet durable.
// @Tags         Logs
// @Security     ApiKey
// @Accept       json
// @Produce      json
// @Success      202  {object}  map[string]interface{}  "accepted, dropped"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      503  {object}  map[string]interface{}  "Ingest queue full"
// @Router       /api/logs [post]
// IngestHandler accepts one entry or an array of entries.
// POST /api/logs
func (h *IngestHandlers) IngestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payloads []logPayload

		// Peek at the first byte to accept both a single object and an array.
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			return
		}
		trimmed := strings.TrimLeft(string(body), " \t\r\n")
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(body, &payloads); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON array"})
				return
			}
		} else {
			var single logPayload
			if err := json.Unmarshal(body, &single); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
				return
			}
			payloads = []logPayload{single}
		}

		h.enqueue(c, payloads)
	}
}

// BatchIngestHandler accepts {"logs": [...]}.
// POST /api/logs/batch
func (h *IngestHandlers) BatchIngestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload batchPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		if len(payload.Logs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "logs array is empty"})
			return
		}
		h.enqueue(c, payload.Logs)
	}
}

func (h *IngestHandlers) enqueue(c *gin.Context, payloads []logPayload) {
	key := middleware.CurrentAPIKey(c)
	if key == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
		return
	}

	// Validate the whole payload up front so a 400 never follows entries
	// that were already queued.
	for i := range payloads {
		if payloads[i].Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}
	}

	now := time.Now().UTC()
	accepted := 0
	dropped := 0

	for i := range payloads {
		p := &payloads[i]
		entry := &models.LogEntry{
			AppID:           key.AppID,
			AppName:         key.AppName,
			Level:           normalizeLevel(p.Level),
			Message:         p.Message,
			StructuredData:  p.StructuredData,
			Tags:            mergeTags(key.Tags, p.Tags),
			Timestamp:       now,
			ServerTimestamp: now,
		}
		if p.Timestamp != nil {
			entry.Timestamp = p.Timestamp.UTC()
		}

		if err := h.writer.Enqueue(entry); err != nil {
			dropped++
		} else {
			accepted++
		}
	}

	if accepted == 0 && dropped > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "Ingest queue is full",
			"accepted": 0,
			"dropped":  dropped,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"dropped":  dropped,
	})
}

// normalizeLevel uppercases the submitted level and defaults empty to INFO.
// Unrecognised levels are stored as-is; retention classifies them into the
// high tier so they get the longest retention.
func normalizeLevel(level string) models.Level {
	if level == "" {
		return models.LevelInfo
	}
	return models.Level(strings.ToUpper(level))
}

// mergeTags overlays client tags on the API key's default tags. Client tags
// win on conflict; the key's defaults fill the gaps.
func mergeTags(keyTags, clientTags map[string]string) map[string]string {
	if len(keyTags) == 0 && len(clientTags) == 0 {
		return nil
	}
	merged := make(map[string]string, len(keyTags)+len(clientTags))
	for k, v := range keyTags {
		merged[k] = v
	}
	for k, v := range clientTags {
		merged[k] = v
	}
	return merged
}
