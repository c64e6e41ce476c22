// rbac.go implements role-based authorization middleware.
//
// Roles are checked against the user row loaded by SessionAuthMiddleware at
// request time rather than against the JWT claims. This is a deliberate
// choice: when an admin demotes a user, the change takes effect on the user's
// next request without needing to invalidate or reissue their token.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/just-logging/just-logging/internal/db/models"
)

// roleRank orders roles by capability. Higher ranks include all capabilities
// of lower ones.
func roleRank(r models.Role) int {
	switch r {
	case models.RoleAdmin:
		return 3
	case models.RoleEditor:
		return 2
	case models.RoleViewer:
		return 1
	}
	return 0
}

// RequireRole aborts with 403 unless the authenticated user holds at least
// the given role. Must be registered after SessionAuthMiddleware.
func RequireRole(minRole models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		if roleRank(user.Role) < roleRank(minRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Insufficient permissions",
				"details": "Required role: " + string(minRole),
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin is shorthand for RequireRole(models.RoleAdmin).
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

// RequireEditor is shorthand for RequireRole(models.RoleEditor).
func RequireEditor() gin.HandlerFunc {
	return RequireRole(models.RoleEditor)
}
