package repositories

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db"
	"github.com/just-logging/just-logging/internal/db/models"
)

// Tests against a real migrated SQLite database, so filter SQL and JSON tag
// extraction run for real instead of being matched as query shapes.

var sqliteDBSeq atomic.Int64

func newSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repositories_%d?mode=memory&cache=shared", sqliteDBSeq.Add(1))
	database, err := db.Connect(dsn, 1)
	if err != nil {
		t.Fatalf("db.Connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.RunMigrations(database, "up"); err != nil {
		t.Fatalf("db.RunMigrations: %v", err)
	}
	return sqlx.NewDb(database, "sqlite")
}

func seedSQLiteApp(t *testing.T, sqlxDB *sqlx.DB, name string) *models.App {
	t.Helper()
	app := &models.App{Name: name, Environment: models.EnvProduction}
	if err := NewAppRepository(sqlxDB).CreateApp(context.Background(), app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}
	return app
}

func TestLogRepositorySQLite_InsertAndFilter(t *testing.T) {
	sqlxDB := newSQLiteDB(t)
	app := seedSQLiteApp(t, sqlxDB, "checkout")
	other := seedSQLiteApp(t, sqlxDB, "billing")

	repo := NewLogRepository(sqlxDB)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	entries := []*models.LogEntry{
		{AppID: app.ID, Level: models.LevelInfo, Message: "checkout started",
			Tags:      map[string]string{"region": "us-east"},
			Timestamp: base, ServerTimestamp: base},
		{AppID: app.ID, Level: models.LevelError, Message: "payment declined",
			Tags:      map[string]string{"region": "eu-west"},
			Timestamp: base.Add(time.Second), ServerTimestamp: base.Add(time.Second)},
		{AppID: other.ID, Level: models.LevelError, Message: "invoice failed",
			Timestamp: base.Add(2 * time.Second), ServerTimestamp: base.Add(2 * time.Second)},
	}
	if err := repo.InsertBatch(ctx, entries); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	// App filter.
	got, err := repo.Query(ctx, LogFilter{AppID: &app.ID})
	if err != nil {
		t.Fatalf("Query by app: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("app filter returned %d entries, want 2", len(got))
	}
	// Newest first by default.
	if got[0].Message != "payment declined" || got[1].Message != "checkout started" {
		t.Errorf("unexpected order: %q, %q", got[0].Message, got[1].Message)
	}
	if got[0].AppName != "checkout" {
		t.Errorf("app_name = %q, want checkout", got[0].AppName)
	}

	// Level filter crosses apps.
	n, err := repo.Count(ctx, LogFilter{Levels: []models.Level{models.LevelError}})
	if err != nil {
		t.Fatalf("Count by level: %v", err)
	}
	if n != 2 {
		t.Errorf("ERROR count = %d, want 2", n)
	}

	// Tag filter uses json_extract against the stored JSON.
	got, err = repo.Query(ctx, LogFilter{Tags: map[string]string{"region": "eu-west"}})
	if err != nil {
		t.Fatalf("Query by tag: %v", err)
	}
	if len(got) != 1 || got[0].Message != "payment declined" {
		t.Fatalf("tag filter returned %d entries, want the eu-west one", len(got))
	}
	if got[0].Tags["region"] != "eu-west" {
		t.Errorf("tags did not round-trip: %v", got[0].Tags)
	}

	// Search is a substring match on the message.
	n, err = repo.Count(ctx, LogFilter{Search: "declined"})
	if err != nil {
		t.Fatalf("Count by search: %v", err)
	}
	if n != 1 {
		t.Errorf("search count = %d, want 1", n)
	}
}

func TestLogRepositorySQLite_AfterIDPreservesArrivalOrder(t *testing.T) {
	sqlxDB := newSQLiteDB(t)
	app := seedSQLiteApp(t, sqlxDB, "checkout")

	repo := NewLogRepository(sqlxDB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entries := make([]*models.LogEntry, 0, 5)
	for i := 0; i < 5; i++ {
		entries = append(entries, &models.LogEntry{
			AppID:           app.ID,
			Level:           models.LevelInfo,
			Message:         fmt.Sprintf("entry %d", i),
			Timestamp:       now,
			ServerTimestamp: now,
		})
	}
	if err := repo.InsertBatch(ctx, entries); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	maxID, err := repo.MaxID(ctx)
	if err != nil {
		t.Fatalf("MaxID: %v", err)
	}
	if maxID < 5 {
		t.Fatalf("MaxID = %d, want at least 5", maxID)
	}

	// Stream reads return rows in arrival order after the cursor.
	after := maxID - 3
	got, err := repo.Query(ctx, LogFilter{AfterID: &after})
	if err != nil {
		t.Fatalf("Query after id: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("after-id query returned %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("entries out of arrival order: id %d before %d", got[i-1].ID, got[i].ID)
		}
	}
	if got[0].ID != after+1 {
		t.Errorf("first entry id = %d, want %d", got[0].ID, after+1)
	}
}

func TestAPIKeyRepositorySQLite_Lifecycle(t *testing.T) {
	sqlxDB := newSQLiteDB(t)
	app := seedSQLiteApp(t, sqlxDB, "checkout")

	repo := NewAPIKeyRepository(sqlxDB)
	ctx := context.Background()

	key := &models.APIKey{
		Key:   "jlo_lifecycle_test_key",
		AppID: app.ID,
		Tags:  map[string]string{"env": "staging"},
	}
	if err := repo.CreateKey(ctx, key); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	active, err := repo.GetActiveKey(ctx, "jlo_lifecycle_test_key")
	if err != nil {
		t.Fatalf("GetActiveKey: %v", err)
	}
	if active == nil {
		t.Fatal("expected active key lookup to succeed")
	}
	if active.AppName != "checkout" {
		t.Errorf("app_name = %q, want checkout", active.AppName)
	}
	if active.Tags["env"] != "staging" {
		t.Errorf("tags did not round-trip: %v", active.Tags)
	}

	if err := repo.SetActive(ctx, key.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	revoked, err := repo.GetActiveKey(ctx, "jlo_lifecycle_test_key")
	if err != nil {
		t.Fatalf("GetActiveKey after revoke: %v", err)
	}
	if revoked != nil {
		t.Error("revoked key still resolves as active")
	}
}
