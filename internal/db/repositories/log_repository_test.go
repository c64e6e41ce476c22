package repositories

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/just-logging/just-logging/internal/db/models"
)

func logRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "app_id", "level", "message", "structured_data", "parsed_fields",
		"tags", "parser_rule_id", "timestamp", "server_timestamp", "created_at",
		"app_name",
	})
}

// ---------------------------------------------------------------------------
// buildWhere
// ---------------------------------------------------------------------------

func TestBuildWhere_Empty(t *testing.T) {
	where, args := buildWhere(LogFilter{})
	if where != "" {
		t.Errorf("where = %q, want empty", where)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

func TestBuildWhere_AllClauses(t *testing.T) {
	appID := int64(3)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	afterID := int64(500)

	where, args := buildWhere(LogFilter{
		AppID:   &appID,
		Levels:  []models.Level{models.LevelError, models.LevelFatal},
		Since:   &since,
		Until:   &until,
		Search:  "timeout",
		Tags:    map[string]string{"region": "eu"},
		AfterID: &afterID,
	})

	for _, want := range []string{
		"l.app_id = ?",
		"l.level IN (?, ?)",
		"l.server_timestamp >= ?",
		"l.server_timestamp < ?",
		"l.message LIKE ?",
		"json_extract(l.tags, ?) = ?",
		"l.id > ?",
	} {
		if !strings.Contains(where, want) {
			t.Errorf("where missing %q: %s", want, where)
		}
	}
	// app + 2 levels + since + until + search + tag path + tag value + afterID
	if len(args) != 9 {
		t.Errorf("len(args) = %d, want 9", len(args))
	}
	// tag key becomes a parameterised json path, never SQL text
	found := false
	for _, a := range args {
		if a == "$.region" {
			found = true
		}
	}
	if !found {
		t.Errorf("args missing $.region path: %v", args)
	}
}

func TestBuildWhere_SearchWrappedInWildcards(t *testing.T) {
	_, args := buildWhere(LogFilter{Search: "timeout"})
	if len(args) != 1 || args[0] != "%timeout%" {
		t.Errorf("args = %v, want [%%timeout%%]", args)
	}
}

// ---------------------------------------------------------------------------
// InsertBatch
// ---------------------------------------------------------------------------

func TestInsertBatch_EmptySlice_NoOp(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewLogRepository(db)

	if err := repo.InsertBatch(context.Background(), nil); err != nil {
		t.Errorf("InsertBatch(nil): %v", err)
	}
}

func TestInsertBatch_SinglePreparedStatementPerBatch(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO logs")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	entries := []*models.LogEntry{
		{AppID: 1, Level: models.LevelInfo, Message: "started", Timestamp: now, ServerTimestamp: now},
		{AppID: 1, Level: models.LevelError, Message: "boom", Timestamp: now, ServerTimestamp: now,
			Tags: map[string]string{"env": "prod"}},
	}
	if err := repo.InsertBatch(context.Background(), entries); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
}

func TestInsertBatch_ExecFailure_RollsBack(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO logs")
	prep.ExpectExec().WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	now := time.Now().UTC()
	entries := []*models.LogEntry{
		{AppID: 1, Level: models.LevelInfo, Message: "started", Timestamp: now, ServerTimestamp: now},
	}
	if err := repo.InsertBatch(context.Background(), entries); err == nil {
		t.Fatal("InsertBatch succeeded, want error")
	}
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

func TestQuery_DecodesJSONColumns(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM logs l").
		WillReturnRows(logRows().AddRow(
			int64(1), int64(3), "ERROR", "payment failed",
			`{"order_id":"A-17"}`, `{"status":"500"}`, `{"env":"prod"}`,
			int64(9), now, now, now, "checkout",
		))

	entries, err := repo.Query(context.Background(), LogFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.StructuredData["order_id"] != "A-17" {
		t.Errorf("StructuredData = %v", e.StructuredData)
	}
	if e.ParsedFields["status"] != "500" {
		t.Errorf("ParsedFields = %v", e.ParsedFields)
	}
	if e.Tags["env"] != "prod" {
		t.Errorf("Tags = %v", e.Tags)
	}
	if e.ParserRuleID == nil || *e.ParserRuleID != 9 {
		t.Errorf("ParserRuleID = %v, want 9", e.ParserRuleID)
	}
	if e.AppName != "checkout" {
		t.Errorf("AppName = %q", e.AppName)
	}
}

func TestQuery_NullJSONColumns_LeaveMapsNil(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM logs l").
		WillReturnRows(logRows().AddRow(
			int64(1), int64(3), "INFO", "started",
			nil, nil, nil, nil, now, now, now, "checkout",
		))

	entries, err := repo.Query(context.Background(), LogFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	e := entries[0]
	if e.StructuredData != nil || e.ParsedFields != nil || e.Tags != nil {
		t.Errorf("maps not nil: %+v", e)
	}
}

func TestQuery_DefaultLimitApplied(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	mock.ExpectQuery("LIMIT").
		WithArgs(100, 0).
		WillReturnRows(logRows())

	if _, err := repo.Query(context.Background(), LogFilter{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
}

func TestQuery_AfterID_OrdersAscending(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	afterID := int64(250)
	mock.ExpectQuery("ORDER BY l.id ASC").
		WithArgs(afterID, 50, 0).
		WillReturnRows(logRows())

	_, err := repo.Query(context.Background(), LogFilter{AfterID: &afterID, Limit: 50})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Retention delete primitives
// ---------------------------------------------------------------------------

func TestDeleteOlderThan_ReportsRowsDeleted(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM logs").
		WithArgs(int64(3), "ERROR", "FATAL", cutoff, 500).
		WillReturnResult(sqlmock.NewResult(0, 500))

	n, err := repo.DeleteOlderThan(context.Background(), 3,
		[]models.Level{models.LevelError, models.LevelFatal}, cutoff, 500)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 500 {
		t.Errorf("n = %d, want 500", n)
	}
}

func TestDeleteOlderThan_NoLevels_NoOp(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewLogRepository(db)

	n, err := repo.DeleteOlderThan(context.Background(), 3, nil, time.Now(), 500)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestDeleteBeyondCount_KeepsNewestRows(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	// batch limit first, keep offset second
	mock.ExpectExec("OFFSET").
		WithArgs(int64(3), "WARN", "INFO", 500, 10000).
		WillReturnResult(sqlmock.NewResult(0, 321))

	n, err := repo.DeleteBeyondCount(context.Background(), 3,
		[]models.Level{models.LevelWarn, models.LevelInfo}, 10000, 500)
	if err != nil {
		t.Fatalf("DeleteBeyondCount: %v", err)
	}
	if n != 321 {
		t.Errorf("n = %d, want 321", n)
	}
}

func TestStatsOlderThan_EmptyRange(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(3), "DEBUG", "TRACE", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).
			AddRow(int64(0), nil, nil))

	stats, err := repo.StatsOlderThan(context.Background(), 3,
		[]models.Level{models.LevelDebug, models.LevelTrace}, cutoff)
	if err != nil {
		t.Fatalf("StatsOlderThan: %v", err)
	}
	if stats.Count != 0 || stats.Oldest != nil || stats.Newest != nil {
		t.Errorf("stats = %+v, want empty", stats)
	}
}

func TestStatsBeyondCount_ReportsRange(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	oldest := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	newest := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(3), "ERROR", "FATAL", 10000).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).
			AddRow(int64(4200), oldest, newest))

	stats, err := repo.StatsBeyondCount(context.Background(), 3,
		[]models.Level{models.LevelError, models.LevelFatal}, 10000)
	if err != nil {
		t.Fatalf("StatsBeyondCount: %v", err)
	}
	if stats.Count != 4200 {
		t.Errorf("Count = %d, want 4200", stats.Count)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(oldest) {
		t.Errorf("Oldest = %v, want %v", stats.Oldest, oldest)
	}
	if stats.Newest == nil || !stats.Newest.Equal(newest) {
		t.Errorf("Newest = %v, want %v", stats.Newest, newest)
	}
}

// ---------------------------------------------------------------------------
// MaxID / TagKeys / LevelCounts
// ---------------------------------------------------------------------------

func TestMaxID_EmptyTable_ReturnsZero(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	mock.ExpectQuery("COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(0)))

	id, err := repo.MaxID(context.Background())
	if err != nil {
		t.Fatalf("MaxID: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0", id)
	}
}

func TestTagKeys_DistinctSorted(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	mock.ExpectQuery("json_each").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).
			AddRow("env").AddRow("region").AddRow("team"))

	keys, err := repo.TagKeys(context.Background())
	if err != nil {
		t.Fatalf("TagKeys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "env" || keys[2] != "team" {
		t.Errorf("keys = %v", keys)
	}
}

func TestLevelCounts_ScopedToApp(t *testing.T) {
	db, mock := newTestDB(t)
	repo := NewLogRepository(db)

	appID := int64(3)
	mock.ExpectQuery("GROUP BY level").
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"level", "n"}).
			AddRow("ERROR", int64(12)).
			AddRow("INFO", int64(480)))

	counts, err := repo.LevelCounts(context.Background(), &appID)
	if err != nil {
		t.Fatalf("LevelCounts: %v", err)
	}
	if counts[models.LevelError] != 12 || counts[models.LevelInfo] != 480 {
		t.Errorf("counts = %v", counts)
	}
}
