package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/auth"
	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{SessionTTL: time.Hour, APIKeyPrefix: "jlo_"},
	}
}

func userResultRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "password_hash", "email", "full_name", "role",
		"is_active", "last_login", "created_at",
	})
}

func newAuthRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTestDB(t)
	handlers := NewAuthHandlers(repositories.NewUserRepository(db), testConfig())

	router := gin.New()
	router.POST("/api/auth/login", handlers.LoginHandler())
	router.POST("/api/auth/logout", handlers.LogoutHandler())
	router.GET("/api/auth/me", asUser(adminUser()), handlers.MeHandler())
	return router, mock
}

func TestLoginHandler_SetsSessionCookie(t *testing.T) {
	router, mock := newAuthRouter(t)

	hash, err := auth.HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	mock.ExpectQuery("FROM web_users").
		WithArgs("root").
		WillReturnRows(userResultRows().AddRow(
			int64(1), "root", hash, nil, nil, "admin", true, nil, time.Now(),
		))
	mock.ExpectExec("UPDATE web_users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"root","password":"correct-horse-battery"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	found := false
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == auth.SessionCookieName && cookie.Value != "" {
			found = true
			if !cookie.HttpOnly {
				t.Error("session cookie should be HttpOnly")
			}
			if _, err := auth.ValidateJWT(cookie.Value); err != nil {
				t.Errorf("cookie does not hold a valid session token: %v", err)
			}
		}
	}
	if !found {
		t.Error("expected session_token cookie to be set")
	}
	if strings.Contains(w.Body.String(), hash) {
		t.Error("password hash must not appear in the response")
	}
}

func TestLoginHandler_WrongPassword(t *testing.T) {
	router, mock := newAuthRouter(t)

	hash, _ := auth.HashPassword("the-real-password")
	mock.ExpectQuery("FROM web_users").
		WithArgs("root").
		WillReturnRows(userResultRows().AddRow(
			int64(1), "root", hash, nil, nil, "admin", true, nil, time.Now(),
		))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"root","password":"a-guess"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestLoginHandler_UnknownUserSameResponse(t *testing.T) {
	router, mock := newAuthRouter(t)

	mock.ExpectQuery("FROM web_users").
		WithArgs("ghost").
		WillReturnRows(userResultRows())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"ghost","password":"whatever"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid username or password") {
		t.Errorf("unknown user should get the generic message, got %s", w.Body.String())
	}
}

func TestLoginHandler_DeactivatedUser(t *testing.T) {
	router, mock := newAuthRouter(t)

	hash, _ := auth.HashPassword("correct-horse-battery")
	mock.ExpectQuery("FROM web_users").
		WithArgs("former").
		WillReturnRows(userResultRows().AddRow(
			int64(5), "former", hash, nil, nil, "viewer", false, nil, time.Now(),
		))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"former","password":"correct-horse-battery"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for deactivated user, got %d", w.Code)
	}
}

func TestLogoutHandler_ClearsCookie(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/auth/logout", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == auth.SessionCookieName && cookie.MaxAge >= 0 {
			t.Error("logout should expire the session cookie")
		}
	}
}

func TestMeHandler(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/auth/me", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"username":"root"`) {
		t.Errorf("expected current user in body, got %s", w.Body.String())
	}
}
