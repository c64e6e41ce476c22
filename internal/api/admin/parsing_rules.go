package admin

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/parsing"
)

// ParsingRuleHandlers handles parsing rule management.
type ParsingRuleHandlers struct {
	ruleRepo *repositories.ParsingRuleRepository
	engine   *parsing.Engine
}

// NewParsingRuleHandlers creates a new ParsingRuleHandlers instance
func NewParsingRuleHandlers(ruleRepo *repositories.ParsingRuleRepository) *ParsingRuleHandlers {
	return &ParsingRuleHandlers{ruleRepo: ruleRepo, engine: parsing.NewEngine()}
}

type parsingRuleRequest struct {
	AppID         *int64            `json:"app_id"`
	Name          string            `json:"name" binding:"required"`
	ParserType    string            `json:"parser_type" binding:"required"`
	Pattern       string            `json:"pattern" binding:"required"`
	FieldMappings map[string]string `json:"field_mappings"`
	Tags          map[string]string `json:"tags"`
	Enabled       *bool             `json:"enabled"`
	Priority      int               `json:"priority"`
}

func (req *parsingRuleRequest) validate() string {
	if req.ParserType != models.ParserTypeRegex && req.ParserType != models.ParserTypeJSON {
		return "Invalid parser_type, expected regex or json"
	}
	return ""
}

// ListHandler handles GET /api/parsing-rules. Pass app_id to scope to one
// app's rules (global rules are not included in a scoped listing).
func (h *ParsingRuleHandlers) ListHandler() gin.HandlerFunc {
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

		rules, err := h.ruleRepo.ListRules(c.Request.Context(), appID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list parsing rules"})
			return
		}
		if rules == nil {
			rules = []*models.ParsingRule{}
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

// GetHandler handles GET /api/parsing-rules/:id
func (h *ParsingRuleHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
			return
		}

		rule, err := h.ruleRepo.GetRuleByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load parsing rule"})
			return
		}
		if rule == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Parsing rule not found"})
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

// CreateHandler handles POST /api/parsing-rules
func (h *ParsingRuleHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req parsingRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name, parser_type, and pattern are required"})
			return
		}
		if msg := req.validate(); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		rule := &models.ParsingRule{
			AppID:         req.AppID,
			Name:          req.Name,
			ParserType:    req.ParserType,
			Pattern:       req.Pattern,
			FieldMappings: req.FieldMappings,
			Tags:          req.Tags,
			Enabled:       req.Enabled == nil || *req.Enabled,
			Priority:      req.Priority,
		}

		// Reject rules whose pattern cannot compile before they reach the
		// ingest path.
		if _, _, err := h.engine.Test(rule, ""); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pattern: " + err.Error()})
			return
		}

		if err := h.ruleRepo.CreateRule(c.Request.Context(), rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create parsing rule"})
			return
		}
		c.JSON(http.StatusCreated, rule)
	}
}

// UpdateHandler handles PUT /api/parsing-rules/:id
func (h *ParsingRuleHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
			return
		}

		var req parsingRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name, parser_type, and pattern are required"})
			return
		}
		if msg := req.validate(); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		rule, err := h.ruleRepo.GetRuleByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load parsing rule"})
			return
		}
		if rule == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Parsing rule not found"})
			return
		}

		rule.AppID = req.AppID
		rule.Name = req.Name
		rule.ParserType = req.ParserType
		rule.Pattern = req.Pattern
		rule.FieldMappings = req.FieldMappings
		rule.Tags = req.Tags
		if req.Enabled != nil {
			rule.Enabled = *req.Enabled
		}
		rule.Priority = req.Priority

		if _, _, err := h.engine.Test(rule, ""); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pattern: " + err.Error()})
			return
		}

		if err := h.ruleRepo.UpdateRule(c.Request.Context(), rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update parsing rule"})
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

type toggleRuleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleHandler handles POST /api/parsing-rules/:id/toggle
func (h *ParsingRuleHandlers) ToggleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
			return
		}

		var req toggleRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		rule, err := h.ruleRepo.GetRuleByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load parsing rule"})
			return
		}
		if rule == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Parsing rule not found"})
			return
		}

		rule.Enabled = req.Enabled
		if err := h.ruleRepo.UpdateRule(c.Request.Context(), rule); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update parsing rule"})
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

type testRuleRequest struct {
	Message string `json:"message" binding:"required"`
}

// @Summary      Test a parsing rule
// @Description  Evaluates the stored rule against a sample message and returns the extracted fields. Works on disabled rules, so rules can be developed safely before enabling them.
// @Tags         ParsingRules
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/parsing-rules/{id}/test [post]
// TestHandler handles POST /api/parsing-rules/:id/test
func (h *ParsingRuleHandlers) TestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
			return
		}

		var req testRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
			return
		}

		rule, err := h.ruleRepo.GetRuleByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load parsing rule"})
			return
		}
		if rule == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Parsing rule not found"})
			return
		}

		fields, matched, err := h.engine.Test(rule, req.Message)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pattern: " + err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"matched": matched,
			"fields":  fields,
			"tags":    rule.Tags,
		})
	}
}

type adHocTestRequest struct {
	ParserType    string            `json:"parser_type" binding:"required"`
	Pattern       string            `json:"pattern" binding:"required"`
	FieldMappings map[string]string `json:"field_mappings"`
	Tags          map[string]string `json:"tags"`
	Message       string            `json:"message" binding:"required"`
}

// TestAdHocHandler handles POST /api/parsing-rules/test. The rule definition
// comes from the request body and is never persisted, so patterns can be
// iterated on before a rule exists.
func (h *ParsingRuleHandlers) TestAdHocHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adHocTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "parser_type, pattern and message are required"})
			return
		}
		if req.ParserType != models.ParserTypeRegex && req.ParserType != models.ParserTypeJSON {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid parser_type, expected regex or json"})
			return
		}

		rule := &models.ParsingRule{
			ParserType:    req.ParserType,
			Pattern:       req.Pattern,
			FieldMappings: req.FieldMappings,
			Tags:          req.Tags,
		}

		fields, matched, err := h.engine.Test(rule, req.Message)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pattern: " + err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"matched": matched,
			"fields":  fields,
			"tags":    rule.Tags,
		})
	}
}

// DeleteHandler handles DELETE /api/parsing-rules/:id
func (h *ParsingRuleHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
			return
		}

		err = h.ruleRepo.DeleteRule(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Parsing rule not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete parsing rule"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Parsing rule deleted"})
	}
}
