// Package admin implements the session-authenticated management API:
// login and account handling, app and API key administration, parsing
// rules, retention policies, dashboards, and server statistics.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/auth"
	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/middleware"
)

// AuthHandlers handles login, logout, and self-service account operations.
type AuthHandlers struct {
	userRepo *repositories.UserRepository
	cfg      *config.Config
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(userRepo *repositories.UserRepository, cfg *config.Config) *AuthHandlers {
	return &AuthHandlers{userRepo: userRepo, cfg: cfg}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Log in
// @Description  Validates credentials and sets the session_token cookie.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/auth/login [post]
// LoginHandler handles POST /api/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
			return
		}

		user, err := h.userRepo.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		// Same response for unknown user, wrong password, and deactivated
		// account, so the endpoint cannot be used to enumerate usernames.
		if user == nil || !user.IsActive || !auth.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Username, string(user.Role), h.cfg.Auth.SessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		_ = h.userRepo.UpdateLastLogin(c.Request.Context(), user.ID)

		maxAge := int(h.cfg.Auth.SessionTTL.Seconds())
		if maxAge <= 0 {
			maxAge = 24 * 60 * 60
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(auth.SessionCookieName, token, maxAge, "/", "", h.cfg.Security.TLS.Enabled, true)

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// LogoutHandler handles POST /api/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetCookie(auth.SessionCookieName, "", -1, "/", "", h.cfg.Security.TLS.Enabled, true)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// MeHandler handles GET /api/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePasswordHandler handles POST /api/auth/change-password
func (h *AuthHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Current and new passwords are required"})
			return
		}

		if !auth.CheckPassword(req.CurrentPassword, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
			return
		}
		if len(req.NewPassword) < auth.MinPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Password must be at least 8 characters",
			})
			return
		}

		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
			return
		}
		if err := h.userRepo.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	}
}
