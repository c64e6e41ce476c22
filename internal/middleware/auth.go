// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → Role → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the user (or api key) identity; role checks read from that context.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/just-logging/just-logging/internal/auth"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

// Context keys populated by the auth middlewares.
const (
	ContextUser       = "user"
	ContextUserID     = "user_id"
	ContextRole       = "role"
	ContextAPIKey     = "api_key"
	ContextAPIKeyID   = "api_key_id"
	ContextAppID      = "app_id"
	ContextAuthMethod = "auth_method"
)

// SessionAuthMiddleware authenticates dashboard requests via the session_token
// cookie (with an Authorization: Bearer fallback for non-browser clients).
// On success the authenticated user is loaded and stored in the Gin context.
func SessionAuthMiddleware(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		// The token is stateless, but the user row is re-read on every request
		// so deactivation and role changes take effect immediately instead of
		// at token expiry.
		user, err := userRepo.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil || !user.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not found or deactivated",
			})
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)
		c.Set(ContextAuthMethod, "session")

		c.Next()
	}
}

// sessionToken extracts the session JWT from the cookie or, failing that,
// from a Bearer Authorization header.
func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(auth.SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// APIKeyAuthMiddleware authenticates log producers via the X-API-Key header
// (or Authorization: Bearer). The key row, including its app binding and
// default tags, is stored in the Gin context for the ingest handlers.
func APIKeyAuthMiddleware(apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := auth.ExtractAPIKey(c.GetHeader(auth.APIKeyHeader), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			return
		}

		apiKey, err := apiKeyRepo.GetActiveKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
			})
			return
		}
		if apiKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or revoked API key",
			})
			return
		}

		// Update last-used timestamp asynchronously. This is intentionally
		// fire-and-forget: last-used tracking is best-effort and a synchronous
		// write on every ingest request would double the write load. The
		// 5-second timeout prevents leaked goroutines if the DB stalls.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiKeyRepo.UpdateLastUsed(ctx, apiKey.ID)
		}()

		c.Set(ContextAPIKey, apiKey)
		c.Set(ContextAPIKeyID, apiKey.ID)
		c.Set(ContextAppID, apiKey.AppID)
		c.Set(ContextAuthMethod, "api_key")

		c.Next()
	}
}

// CurrentUser returns the authenticated web user from the Gin context, or nil
// when the request was not session-authenticated.
func CurrentUser(c *gin.Context) *models.WebUser {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	user, ok := v.(*models.WebUser)
	if !ok {
		return nil
	}
	return user
}

// CurrentAPIKey returns the authenticated ingestion key from the Gin context,
// or nil when the request was not key-authenticated.
func CurrentAPIKey(c *gin.Context) *models.APIKey {
	v, ok := c.Get(ContextAPIKey)
	if !ok {
		return nil
	}
	key, ok := v.(*models.APIKey)
	if !ok {
		return nil
	}
	return key
}
