package admin

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/auth"
	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

// APIKeyHandlers handles ingestion key management.
type APIKeyHandlers struct {
	apiKeyRepo *repositories.APIKeyRepository
	appRepo    *repositories.AppRepository
	cfg        *config.Config
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(apiKeyRepo *repositories.APIKeyRepository, appRepo *repositories.AppRepository, cfg *config.Config) *APIKeyHandlers {
	return &APIKeyHandlers{apiKeyRepo: apiKeyRepo, appRepo: appRepo, cfg: cfg}
}

// maskedKey renders a key for list responses with the secret obscured.
type maskedKey struct {
	*models.APIKey
	Key string `json:"key"`
}

func maskKeys(keys []*models.APIKey) []maskedKey {
	out := make([]maskedKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, maskedKey{APIKey: k, Key: auth.MaskAPIKey(k.Key)})
	}
	return out
}

// ListHandler handles GET /api/api-keys?app_id=. Key values are masked; the
// full secret is only ever returned once, by CreateHandler.
func (h *APIKeyHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID, err := strconv.ParseInt(c.Query("app_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "app_id is required"})
			return
		}

		keys, err := h.apiKeyRepo.ListKeysForApp(c.Request.Context(), appID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"keys": maskKeys(keys)})
	}
}

type createKeyRequest struct {
	AppID int64             `json:"app_id" binding:"required"`
	Tags  map[string]string `json:"tags"`
}

// @Summary      Create an API key
// @Description  Generates a new ingestion key for the app. The full key value appears only in this response; store it now.
// @Tags         APIKeys
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "App not found"
// @Router       /api/api-keys [post]
// CreateHandler handles POST /api/api-keys
func (h *APIKeyHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "app_id is required"})
			return
		}
		appID := req.AppID

		app, err := h.appRepo.GetAppByID(c.Request.Context(), appID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load app"})
			return
		}
		if app == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		raw, err := auth.GenerateAPIKey(h.cfg.Auth.APIKeyPrefix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
			return
		}

		key := &models.APIKey{
			Key:      raw,
			AppID:    appID,
			IsActive: true,
			Tags:     req.Tags,
		}
		if err := h.apiKeyRepo.CreateKey(c.Request.Context(), key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":      key.ID,
			"key":     raw,
			"app_id":  appID,
			"tags":    key.Tags,
			"warning": "Store this key now; it will not be shown again",
		})
	}
}

type updateTagsRequest struct {
	Tags map[string]string `json:"tags"`
}

// UpdateTagsHandler handles PUT /api/api-keys/:id/tags. The new tag set
// replaces the old one wholesale.
func (h *APIKeyHandlers) UpdateTagsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
			return
		}

		var req updateTagsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		key, err := h.apiKeyRepo.GetKeyByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load API key"})
			return
		}
		if key == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}

		if err := h.apiKeyRepo.ReplaceTags(c.Request.Context(), id, req.Tags); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update tags"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id, "tags": req.Tags})
	}
}

// DeleteHandler handles DELETE /api/api-keys/:id. By default this revokes
// the key: a soft delete that stops authentication while the row survives so
// existing logs keep a resolvable origin. Pass hard=true to remove the row.
func (h *APIKeyHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
			return
		}

		if c.Query("hard") == "true" {
			err = h.apiKeyRepo.DeleteKey(c.Request.Context(), id)
		} else {
			err = h.apiKeyRepo.SetActive(c.Request.Context(), id, false)
		}
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
	}
}
