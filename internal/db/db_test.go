package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	got := DSN("/var/lib/just-logging/logs.db")
	if !strings.HasPrefix(got, "file:/var/lib/just-logging/logs.db?_pragma=") {
		t.Errorf("plain path not converted to URI with pragmas: %s", got)
	}
	if !strings.Contains(got, "_pragma=foreign_keys(1)") {
		t.Errorf("foreign_keys pragma missing from DSN: %s", got)
	}
	if !strings.Contains(got, "_pragma=busy_timeout(5000)") {
		t.Errorf("busy_timeout pragma missing from DSN: %s", got)
	}

	got = DSN("file:shared?mode=memory&cache=shared")
	if !strings.HasPrefix(got, "file:shared?mode=memory&cache=shared&_pragma=") {
		t.Errorf("existing URI query parameters not preserved: %s", got)
	}
}

// Every connection the pool opens must carry the per-connection pragmas,
// not just the first one.
func TestConnect_PragmasOnEveryPooledConnection(t *testing.T) {
	database, err := Connect(filepath.Join(t.TempDir(), "pool.db"), 4)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()

	// Holding all four connections open at once forces the pool to open
	// four distinct SQLite connections.
	for i := 0; i < 4; i++ {
		conn, err := database.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn %d: %v", i, err)
		}
		defer conn.Close()

		var fk int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("PRAGMA foreign_keys on conn %d: %v", i, err)
		}
		if fk != 1 {
			t.Errorf("conn %d: foreign_keys = %d, want 1", i, fk)
		}

		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("PRAGMA busy_timeout on conn %d: %v", i, err)
		}
		if timeout != 5000 {
			t.Errorf("conn %d: busy_timeout = %d, want 5000", i, timeout)
		}
	}
}

func TestConnect_ForeignKeysEnforced(t *testing.T) {
	database, err := Connect(filepath.Join(t.TempDir(), "fk.db"), 2)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := RunMigrations(database, "up"); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	_, err = database.Exec(`
		INSERT INTO api_keys (key, app_id, is_active, created_at)
		VALUES ('jlo_orphan', 999, 1, datetime('now'))
	`)
	if err == nil {
		t.Fatal("expected foreign key violation inserting a key for a nonexistent app")
	}
}

func TestRunMigrations_UpReportsVersion(t *testing.T) {
	database, err := Connect(filepath.Join(t.TempDir(), "migrate.db"), 1)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := RunMigrations(database, "up"); err != nil {
		t.Fatalf("RunMigrations up: %v", err)
	}
	// Re-running must be a no-op, not an error.
	if err := RunMigrations(database, "up"); err != nil {
		t.Fatalf("RunMigrations up (second): %v", err)
	}

	version, dirty, err := GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("GetMigrationVersion: %v", err)
	}
	if dirty {
		t.Error("schema marked dirty after clean migration")
	}
	if version == 0 {
		t.Error("expected a nonzero schema version")
	}
}
