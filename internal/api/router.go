// Package api wires together all HTTP routes for the just-logging backend.
//
// Route grouping philosophy:
//   - Ingestion routes (POST /api/logs, /api/logs/batch) authenticate with the
//     X-API-Key header only. Log emitters are machines; they never hold a
//     session cookie, and they get their own rate limit bucket sized for
//     sustained write traffic.
//   - Everything else under /api/ requires a session cookie and, where the
//     operation mutates shared state, an RBAC role check on top.
//   - /api/health is public so load balancers can probe without credentials.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/api/admin"
	"github.com/just-logging/just-logging/internal/api/logs"
	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/ingest"
	"github.com/just-logging/just-logging/internal/jobs"
	"github.com/just-logging/just-logging/internal/middleware"
	"github.com/just-logging/just-logging/internal/retention"
	"github.com/just-logging/just-logging/internal/safego"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	writer       *ingest.Writer
	scheduler    *jobs.RetentionScheduler
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained
// first; the ingest writer flushes its remaining queue before returning.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bg.writer.Stop(ctx); err != nil {
		slog.Error("ingest writer did not drain cleanly", "error", err)
	}

	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	appRepo := repositories.NewAppRepository(db)
	logRepo := repositories.NewLogRepository(db)
	ruleRepo := repositories.NewParsingRuleRepository(db)
	retentionRepo := repositories.NewRetentionRepository(db)
	dashRepo := repositories.NewDashboardRepository(db)

	// The ingest writer owns the only write path into the logs table.
	writer := ingest.NewWriter(logRepo, ruleRepo, cfg.Ingest, cfg.Parsing)
	writer.Start(context.Background())

	retentionEngine := retention.NewEngine(appRepo, logRepo, retentionRepo, cfg.Retention.DeleteBatchSize)

	var scheduler *jobs.RetentionScheduler
	if cfg.Retention.Enabled {
		scheduler = jobs.NewRetentionScheduler(retentionEngine, cfg.Retention)
		sched := scheduler
		safego.Go(func() { sched.Start(context.Background()) })
	}

	// Rate limiters: auth gets the strictest bucket (brute-force surface),
	// ingest the largest (machine traffic), everything else the default.
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	ingestRateLimiter := middleware.NewRateLimiter(middleware.IngestRateLimitConfig())
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/api/health", healthCheckHandler(db))

	// API version
	router.GET("/api/version", versionHandler())

	// Initialize handlers
	ingestHandlers := logs.NewIngestHandlers(writer)
	queryHandlers := logs.NewQueryHandlers(logRepo)
	streamHandlers := logs.NewStreamHandlers(logRepo)
	exportHandlers := logs.NewExportHandlers(logRepo)

	authHandlers := admin.NewAuthHandlers(userRepo, cfg)
	appHandlers := admin.NewAppHandlers(appRepo, logRepo)
	apiKeyHandlers := admin.NewAPIKeyHandlers(apiKeyRepo, appRepo, cfg)
	userHandlers := admin.NewUserHandlers(userRepo)
	ruleHandlers := admin.NewParsingRuleHandlers(ruleRepo)
	retentionHandlers := admin.NewRetentionHandlers(retentionRepo, retentionEngine)
	dashboardHandlers := admin.NewDashboardHandlers(dashRepo)
	statsHandlers := admin.NewStatsHandlers(db, appRepo, logRepo, writer)

	// Ingestion endpoints (API key auth, no session)
	ingestGroup := router.Group("/api")
	ingestGroup.Use(middleware.RateLimitMiddleware(ingestRateLimiter))
	ingestGroup.Use(middleware.APIKeyAuthMiddleware(apiKeyRepo))
	{
		ingestGroup.POST("/logs", ingestHandlers.IngestHandler())
		ingestGroup.POST("/logs/batch", ingestHandlers.BatchIngestHandler())
	}

	// Login is the only unauthenticated session endpoint; it gets the strict
	// auth rate limit.
	loginGroup := router.Group("/api/auth")
	loginGroup.Use(middleware.RateLimitMiddleware(authRateLimiter))
	{
		loginGroup.POST("/login", authHandlers.LoginHandler())
	}

	// Session-authenticated endpoints
	sessionGroup := router.Group("/api")
	sessionGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
	sessionGroup.Use(middleware.SessionAuthMiddleware(userRepo))
	{
		sessionGroup.POST("/auth/logout", authHandlers.LogoutHandler())
		sessionGroup.GET("/auth/me", authHandlers.MeHandler())
		sessionGroup.POST("/auth/change-password", authHandlers.ChangePasswordHandler())

		// Log queries (any role)
		sessionGroup.GET("/logs", queryHandlers.QueryHandler())
		sessionGroup.GET("/logs/count", queryHandlers.CountHandler())
		sessionGroup.GET("/logs/tags", queryHandlers.TagKeysHandler())
		sessionGroup.GET("/logs/stream", streamHandlers.StreamHandler())
		sessionGroup.GET("/logs/export", exportHandlers.ExportHandler())
		sessionGroup.GET("/logs/:id", queryHandlers.GetHandler())

		// Apps: reads for everyone, writes for editors, deletion for admins
		sessionGroup.GET("/apps", appHandlers.ListHandler())
		sessionGroup.GET("/apps/:id", appHandlers.GetHandler())
		sessionGroup.GET("/apps/:id/retention-policies", retentionHandlers.ListAppPoliciesHandler())
		sessionGroup.POST("/apps", middleware.RequireEditor(), appHandlers.CreateHandler())
		sessionGroup.PUT("/apps/:id", middleware.RequireEditor(), appHandlers.UpdateHandler())
		sessionGroup.DELETE("/apps/:id", middleware.RequireAdmin(), appHandlers.DeleteHandler())

		// API keys (editor+)
		keysGroup := sessionGroup.Group("/api-keys")
		keysGroup.Use(middleware.RequireEditor())
		{
			keysGroup.GET("", apiKeyHandlers.ListHandler())
			keysGroup.POST("", apiKeyHandlers.CreateHandler())
			keysGroup.PUT("/:id/tags", apiKeyHandlers.UpdateTagsHandler())
			keysGroup.DELETE("/:id", apiKeyHandlers.DeleteHandler())
		}

		// User management (admin only)
		usersGroup := sessionGroup.Group("/users")
		usersGroup.Use(middleware.RequireAdmin())
		{
			usersGroup.GET("", userHandlers.ListHandler())
			usersGroup.POST("", userHandlers.CreateHandler())
			usersGroup.GET("/:id", userHandlers.GetHandler())
			usersGroup.PUT("/:id", userHandlers.UpdateHandler())
			usersGroup.DELETE("/:id", userHandlers.DeleteHandler())
			usersGroup.POST("/:id/reset-password", userHandlers.ResetPasswordHandler())
		}

		// Parsing rules: reads and dry-run tests for everyone, writes for editors
		sessionGroup.GET("/parsing-rules", ruleHandlers.ListHandler())
		sessionGroup.GET("/parsing-rules/:id", ruleHandlers.GetHandler())
		sessionGroup.POST("/parsing-rules/test", ruleHandlers.TestAdHocHandler())
		sessionGroup.POST("/parsing-rules/:id/test", ruleHandlers.TestHandler())
		sessionGroup.POST("/parsing-rules", middleware.RequireEditor(), ruleHandlers.CreateHandler())
		sessionGroup.PUT("/parsing-rules/:id", middleware.RequireEditor(), ruleHandlers.UpdateHandler())
		sessionGroup.POST("/parsing-rules/:id/toggle", middleware.RequireEditor(), ruleHandlers.ToggleHandler())
		sessionGroup.DELETE("/parsing-rules/:id", middleware.RequireEditor(), ruleHandlers.DeleteHandler())

		// Retention policies. POST and PUT both upsert: policies are keyed on
		// (app, tier), so re-submitting a definition replaces the old one.
		sessionGroup.GET("/retention-policies", retentionHandlers.ListPoliciesHandler())
		sessionGroup.GET("/retention-policies/:id", retentionHandlers.GetPolicyHandler())
		sessionGroup.POST("/retention-policies", middleware.RequireEditor(), retentionHandlers.UpsertPolicyHandler())
		sessionGroup.PUT("/retention-policies/:id", middleware.RequireEditor(), retentionHandlers.UpsertPolicyHandler())
		sessionGroup.DELETE("/retention-policies/:id", middleware.RequireEditor(), retentionHandlers.DeletePolicyHandler())

		sessionGroup.GET("/environment-retention-policies", retentionHandlers.ListEnvironmentPoliciesHandler())
		sessionGroup.GET("/environment-retention-policies/:id", retentionHandlers.GetEnvironmentPolicyHandler())
		sessionGroup.POST("/environment-retention-policies", middleware.RequireEditor(), retentionHandlers.UpsertEnvironmentPolicyHandler())
		sessionGroup.PUT("/environment-retention-policies/:id", middleware.RequireEditor(), retentionHandlers.UpsertEnvironmentPolicyHandler())
		sessionGroup.DELETE("/environment-retention-policies/:id", middleware.RequireEditor(), retentionHandlers.DeleteEnvironmentPolicyHandler())

		// Retention operations
		sessionGroup.POST("/retention/run-cleanup", middleware.RequireAdmin(), retentionHandlers.RunCleanupHandler())
		sessionGroup.GET("/retention/preview", retentionHandlers.PreviewHandler())
		sessionGroup.GET("/retention/runs", retentionHandlers.ListRunsHandler())
		sessionGroup.GET("/retention/runs/:id", retentionHandlers.GetRunHandler())

		// Dashboards, widgets and saved queries
		sessionGroup.GET("/dashboards", dashboardHandlers.ListDashboardsHandler())
		sessionGroup.POST("/dashboards", dashboardHandlers.CreateDashboardHandler())
		sessionGroup.GET("/dashboards/:id", dashboardHandlers.GetDashboardHandler())
		sessionGroup.PUT("/dashboards/:id", dashboardHandlers.UpdateDashboardHandler())
		sessionGroup.DELETE("/dashboards/:id", dashboardHandlers.DeleteDashboardHandler())
		sessionGroup.POST("/dashboards/:id/widgets", dashboardHandlers.CreateWidgetHandler())
		sessionGroup.PUT("/widgets/:id", dashboardHandlers.UpdateWidgetHandler())
		sessionGroup.DELETE("/widgets/:id", dashboardHandlers.DeleteWidgetHandler())
		sessionGroup.GET("/saved-queries", dashboardHandlers.ListSavedQueriesHandler())
		sessionGroup.POST("/saved-queries", dashboardHandlers.CreateSavedQueryHandler())
		sessionGroup.PUT("/saved-queries/:id", dashboardHandlers.UpdateSavedQueryHandler())
		sessionGroup.DELETE("/saved-queries/:id", dashboardHandlers.DeleteSavedQueryHandler())

		// Operational stats
		sessionGroup.GET("/stats", statsHandlers.StatsHandler())
	}

	bg := &BackgroundServices{
		writer:       writer,
		scheduler:    scheduler,
		rateLimiters: []*middleware.RateLimiter{authRateLimiter, ingestRateLimiter, generalRateLimiter},
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /api/health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the
	// global handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
