package admin

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/middleware"
	"github.com/just-logging/just-logging/internal/retention"
)

// RetentionHandlers handles retention policy management, manual cleanup
// triggers, dry-run previews, and the run audit trail.
type RetentionHandlers struct {
	retentionRepo *repositories.RetentionRepository
	engine        *retention.Engine
}

// NewRetentionHandlers creates a new RetentionHandlers instance
func NewRetentionHandlers(retentionRepo *repositories.RetentionRepository, engine *retention.Engine) *RetentionHandlers {
	return &RetentionHandlers{retentionRepo: retentionRepo, engine: engine}
}

type policyRequest struct {
	AppID          int64  `json:"app_id"`
	PriorityTier   string `json:"priority_tier" binding:"required"`
	RetentionType  string `json:"retention_type" binding:"required"`
	RetentionDays  *int   `json:"retention_days"`
	RetentionCount *int   `json:"retention_count"`
	Enabled        *bool  `json:"enabled"`
}

type envPolicyRequest struct {
	Environment    string `json:"environment" binding:"required"`
	PriorityTier   string `json:"priority_tier" binding:"required"`
	RetentionType  string `json:"retention_type" binding:"required"`
	RetentionDays  *int   `json:"retention_days"`
	RetentionCount *int   `json:"retention_count"`
	Enabled        *bool  `json:"enabled"`
}

// validatePolicyFields checks the tier/type/threshold combination shared by
// app and environment policies.
func validatePolicyFields(tier, retentionType string, days, count *int) string {
	if !models.ValidTier(tier) {
		return "Invalid priority_tier, expected high, medium, or low"
	}
	if !models.ValidRetentionType(retentionType) {
		return "Invalid retention_type, expected time_based or count_based"
	}
	switch models.RetentionType(retentionType) {
	case models.RetentionTimeBased:
		if days == nil || *days < 1 {
			return "time_based policies require retention_days >= 1"
		}
	case models.RetentionCountBased:
		if count == nil || *count < 1 {
			return "count_based policies require retention_count >= 1"
		}
	}
	return ""
}

// ListPoliciesHandler handles GET /api/retention/policies. Pass app_id to
// scope to one app.
func (h *RetentionHandlers) ListPoliciesHandler() gin.HandlerFunc {
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

		policies, err := h.retentionRepo.ListPolicies(c.Request.Context(), appID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list retention policies"})
			return
		}
		if policies == nil {
			policies = []*models.RetentionPolicy{}
		}
		c.JSON(http.StatusOK, gin.H{"policies": policies})
	}
}

// UpsertPolicyHandler handles PUT /api/retention/policies. One policy exists
// per (app, tier); writing again replaces the previous settings.
func (h *RetentionHandlers) UpsertPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req policyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "priority_tier and retention_type are required"})
			return
		}
		if req.AppID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "app_id is required"})
			return
		}
		if msg := validatePolicyFields(req.PriorityTier, req.RetentionType, req.RetentionDays, req.RetentionCount); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		policy := &models.RetentionPolicy{
			AppID:          req.AppID,
			PriorityTier:   models.Tier(req.PriorityTier),
			RetentionType:  models.RetentionType(req.RetentionType),
			RetentionDays:  req.RetentionDays,
			RetentionCount: req.RetentionCount,
			Enabled:        req.Enabled == nil || *req.Enabled,
		}
		if err := h.retentionRepo.UpsertPolicy(c.Request.Context(), policy); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save retention policy"})
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

// GetPolicyHandler handles GET /api/retention-policies/:id
func (h *RetentionHandlers) GetPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
			return
		}

		policy, err := h.retentionRepo.GetPolicyByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load retention policy"})
			return
		}
		if policy == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

// ListAppPoliciesHandler handles GET /api/apps/:id/retention-policies
func (h *RetentionHandlers) ListAppPoliciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid app ID"})
			return
		}

		policies, err := h.retentionRepo.ListPolicies(c.Request.Context(), &appID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list retention policies"})
			return
		}
		if policies == nil {
			policies = []*models.RetentionPolicy{}
		}
		c.JSON(http.StatusOK, gin.H{"policies": policies})
	}
}

// DeletePolicyHandler handles DELETE /api/retention-policies/:id
func (h *RetentionHandlers) DeletePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
			return
		}

		err = h.retentionRepo.DeletePolicy(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention policy not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete retention policy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Retention policy deleted"})
	}
}

// ListEnvironmentPoliciesHandler handles GET /api/retention/environment-policies
func (h *RetentionHandlers) ListEnvironmentPoliciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policies, err := h.retentionRepo.ListEnvironmentPolicies(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list environment policies"})
			return
		}
		if policies == nil {
			policies = []*models.EnvironmentRetentionPolicy{}
		}
		c.JSON(http.StatusOK, gin.H{"policies": policies})
	}
}

// UpsertEnvironmentPolicyHandler handles PUT /api/retention/environment-policies
func (h *RetentionHandlers) UpsertEnvironmentPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req envPolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "environment, priority_tier, and retention_type are required"})
			return
		}

		env := models.Environment(req.Environment)
		if !validEnvironment(env) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid environment, expected production, staging, or development"})
			return
		}
		if msg := validatePolicyFields(req.PriorityTier, req.RetentionType, req.RetentionDays, req.RetentionCount); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		policy := &models.EnvironmentRetentionPolicy{
			Environment:    env,
			PriorityTier:   models.Tier(req.PriorityTier),
			RetentionType:  models.RetentionType(req.RetentionType),
			RetentionDays:  req.RetentionDays,
			RetentionCount: req.RetentionCount,
			Enabled:        req.Enabled == nil || *req.Enabled,
		}
		if err := h.retentionRepo.UpsertEnvironmentPolicy(c.Request.Context(), policy); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save environment policy"})
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

// GetEnvironmentPolicyHandler handles GET /api/environment-retention-policies/:id
func (h *RetentionHandlers) GetEnvironmentPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
			return
		}

		policy, err := h.retentionRepo.GetEnvironmentPolicyByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load environment policy"})
			return
		}
		if policy == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Environment policy not found"})
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

// DeleteEnvironmentPolicyHandler handles DELETE /api/environment-retention-policies/:id.
// The engine falls back to no policy for that (environment, tier): affected
// logs are kept forever until a new policy covers them.
func (h *RetentionHandlers) DeleteEnvironmentPolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
			return
		}

		err = h.retentionRepo.DeleteEnvironmentPolicy(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Environment policy not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete environment policy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Environment policy deleted"})
	}
}

// @Summary      Trigger cleanup
// @Description  Runs the retention engine immediately. Only one run may be active at a time; a concurrent run returns 409.
// @Tags         Retention
// @Produce      json
// @Success      200  {object}  models.RetentionRun
// @Failure      409  {object}  map[string]interface{}  "A run is already active"
// @Router       /api/retention/run-cleanup [post]
// RunCleanupHandler handles POST /api/retention/run-cleanup
func (h *RetentionHandlers) RunCleanupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID *int64
		if user := middleware.CurrentUser(c); user != nil {
			userID = &user.ID
		}

		run, err := h.engine.Run(c.Request.Context(), models.TriggerManual, userID)
		if errors.Is(err, retention.ErrRunActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "A cleanup run is already in progress"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup run failed: " + err.Error()})
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

// PreviewHandler handles GET /api/retention/preview. Dry run: reports what
// each effective policy would delete without touching any rows.
func (h *RetentionHandlers) PreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		previews, err := h.engine.Preview(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build retention preview"})
			return
		}
		if previews == nil {
			previews = []*models.RetentionPreview{}
		}
		c.JSON(http.StatusOK, gin.H{"previews": previews})
	}
}

// ListRunsHandler handles GET /api/retention/runs
func (h *RetentionHandlers) ListRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
				return
			}
			limit = n
		}

		runs, err := h.retentionRepo.ListRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list retention runs"})
			return
		}
		if runs == nil {
			runs = []*models.RetentionRun{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

// GetRunHandler handles GET /api/retention/runs/:id
func (h *RetentionHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
			return
		}

		run, err := h.retentionRepo.GetRun(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load retention run"})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retention run not found"})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}
