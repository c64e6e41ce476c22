package admin

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/auth"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = auth.InitJWTSecret("test-secret-0123456789abcdef0123456789abcdef")
}

// newTestDB returns a sqlmock-backed sqlx handle and verifies all
// expectations were met at cleanup.
func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}

// asUser injects an authenticated user into the request context, standing in
// for SessionAuthMiddleware.
func asUser(user *models.WebUser) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUser, user)
		c.Set(middleware.ContextUserID, user.ID)
		c.Set(middleware.ContextRole, user.Role)
	}
}

func adminUser() *models.WebUser {
	return &models.WebUser{ID: 1, Username: "root", Role: models.RoleAdmin, IsActive: true}
}

func editorUser() *models.WebUser {
	return &models.WebUser{ID: 2, Username: "dev", Role: models.RoleEditor, IsActive: true}
}
