package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/just-logging/just-logging/internal/db/repositories"
)

func ruleResultRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "app_id", "name", "parser_type", "pattern", "field_mappings",
		"tags", "enabled", "priority", "created_at", "updated_at",
	})
}

func newRuleRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTestDB(t)
	handlers := NewParsingRuleHandlers(repositories.NewParsingRuleRepository(db))

	router := gin.New()
	router.Use(asUser(editorUser()))
	router.GET("/api/parsing-rules", handlers.ListHandler())
	router.POST("/api/parsing-rules", handlers.CreateHandler())
	router.POST("/api/parsing-rules/:id/test", handlers.TestHandler())
	router.POST("/api/parsing-rules/:id/toggle", handlers.ToggleHandler())
	return router, mock
}

func TestCreateParsingRuleHandler(t *testing.T) {
	router, mock := newRuleRouter(t)

	mock.ExpectExec("INSERT INTO parsing_rules").
		WillReturnResult(sqlmock.NewResult(5, 1))

	body := `{"name":"http-errors","parser_type":"regex","pattern":"status=(?P<code>\\d+)","field_mappings":{"code":"status_code"},"priority":10}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/parsing-rules", strings.NewReader(body))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"enabled":true`) {
		t.Errorf("rules should default to enabled, got %s", w.Body.String())
	}
}

func TestCreateParsingRuleHandler_BadRegexRejected(t *testing.T) {
	router, _ := newRuleRouter(t)

	body := `{"name":"broken","parser_type":"regex","pattern":"status=(unclosed"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/parsing-rules", strings.NewReader(body))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an uncompilable pattern, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateParsingRuleHandler_UnknownParserType(t *testing.T) {
	router, _ := newRuleRouter(t)

	body := `{"name":"x","parser_type":"xml","pattern":"whatever"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/parsing-rules", strings.NewReader(body))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown parser type, got %d", w.Code)
	}
}

func TestTestParsingRuleHandler_MatchExtractsFields(t *testing.T) {
	router, mock := newRuleRouter(t)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM parsing_rules").
		WithArgs(int64(7)).
		WillReturnRows(ruleResultRows().AddRow(
			int64(7), nil, "http-errors", "regex", `status=(?P<code>\d+)`,
			`{"code":"status_code"}`, `{"source":"http"}`, true, 10, now, now,
		))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/parsing-rules/7/test",
		strings.NewReader(`{"message":"GET /checkout status=502"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"matched":true`) {
		t.Errorf("expected a match, got %s", body)
	}
	if !strings.Contains(body, `"status_code":"502"`) {
		t.Errorf("expected extracted field, got %s", body)
	}
}

func TestTestParsingRuleHandler_WorksOnDisabledRule(t *testing.T) {
	router, mock := newRuleRouter(t)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM parsing_rules").
		WithArgs(int64(8)).
		WillReturnRows(ruleResultRows().AddRow(
			int64(8), nil, "draft", "regex", `user=(?P<user>\w+)`,
			`{"user":"user"}`, nil, false, 0, now, now,
		))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/parsing-rules/8/test",
		strings.NewReader(`{"message":"login user=sam"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("disabled rules must still be testable, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"matched":true`) {
		t.Errorf("expected a match, got %s", w.Body.String())
	}
}

func TestToggleParsingRuleHandler(t *testing.T) {
	router, mock := newRuleRouter(t)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM parsing_rules").
		WithArgs(int64(7)).
		WillReturnRows(ruleResultRows().AddRow(
			int64(7), nil, "http-errors", "regex", `status=(?P<code>\d+)`,
			nil, nil, true, 10, now, now,
		))
	mock.ExpectExec("UPDATE parsing_rules").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/parsing-rules/7/toggle",
		strings.NewReader(`{"enabled":false}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"enabled":false`) {
		t.Errorf("expected toggled state in body, got %s", w.Body.String())
	}
}
