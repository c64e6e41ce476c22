package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newWriterForTest(t *testing.T, ingestCfg config.IngestConfig, parsingCfg config.ParsingConfig) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	w := NewWriter(
		repositories.NewLogRepository(sqlxDB),
		repositories.NewParsingRuleRepository(sqlxDB),
		ingestCfg, parsingCfg,
	)
	return w, mock
}

func testEntry(appID int64, level models.Level, message string) *models.LogEntry {
	now := time.Now().UTC()
	return &models.LogEntry{
		AppID:           appID,
		AppName:         "checkout",
		Level:           level,
		Message:         message,
		Timestamp:       now,
		ServerTimestamp: now,
	}
}

func stopWriter(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Construction defaults
// ---------------------------------------------------------------------------

func TestNewWriter_ZeroConfig_AppliesDefaults(t *testing.T) {
	w, _ := newWriterForTest(t, config.IngestConfig{}, config.ParsingConfig{})

	if cap(w.queue) != 10000 {
		t.Errorf("queue cap = %d, want 10000", cap(w.queue))
	}
	if w.batchSize != 100 {
		t.Errorf("batchSize = %d, want 100", w.batchSize)
	}
	if w.flushInterval != 100*time.Millisecond {
		t.Errorf("flushInterval = %v, want 100ms", w.flushInterval)
	}
}

// ---------------------------------------------------------------------------
// Enqueue backpressure
// ---------------------------------------------------------------------------

func TestEnqueue_FullQueue_DropsAndReportsErrQueueFull(t *testing.T) {
	w, _ := newWriterForTest(t,
		config.IngestConfig{QueueSize: 1, BatchSize: 10, FlushInterval: time.Hour},
		config.ParsingConfig{})

	// writer not started: the single slot fills and stays full
	if err := w.Enqueue(testEntry(1, models.LevelInfo, "first")); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	err := w.Enqueue(testEntry(1, models.LevelInfo, "second"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}

	stats := w.Snapshot()
	if stats.Enqueued != 1 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want enqueued=1 dropped=1", stats)
	}
	if stats.QueueDepth != 1 || stats.QueueSize != 1 {
		t.Errorf("stats = %+v, want depth=1 size=1", stats)
	}
}

// ---------------------------------------------------------------------------
// Drain on Stop
// ---------------------------------------------------------------------------

func TestStop_DrainsBufferedEntriesBeforeExit(t *testing.T) {
	w, mock := newWriterForTest(t,
		config.IngestConfig{QueueSize: 10, BatchSize: 100, FlushInterval: time.Hour},
		config.ParsingConfig{})

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO logs")
	for i := 0; i < 3; i++ {
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}
	mock.ExpectCommit()

	for i := 0; i < 3; i++ {
		if err := w.Enqueue(testEntry(1, models.LevelInfo, "queued")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	w.Start(context.Background())
	stopWriter(t, w)

	stats := w.Snapshot()
	if stats.Written != 3 {
		t.Errorf("written = %d, want 3", stats.Written)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	w, _ := newWriterForTest(t,
		config.IngestConfig{QueueSize: 10, BatchSize: 100, FlushInterval: time.Hour},
		config.ParsingConfig{})

	w.Start(context.Background())
	stopWriter(t, w)
	stopWriter(t, w) // second Stop must not panic on a closed channel
}

// ---------------------------------------------------------------------------
// Batch-size flush
// ---------------------------------------------------------------------------

func TestWriter_FlushesWhenBatchFills(t *testing.T) {
	w, mock := newWriterForTest(t,
		config.IngestConfig{QueueSize: 10, BatchSize: 2, FlushInterval: time.Hour},
		config.ParsingConfig{})

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO logs")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	w.Start(context.Background())
	if err := w.Enqueue(testEntry(1, models.LevelInfo, "a")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := w.Enqueue(testEntry(1, models.LevelInfo, "b")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// the full batch flushes without waiting for the ticker
	deadline := time.Now().Add(5 * time.Second)
	for w.Snapshot().Written < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("written = %d, want 2 before deadline", w.Snapshot().Written)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopWriter(t, w)
}

// ---------------------------------------------------------------------------
// Write errors
// ---------------------------------------------------------------------------

func TestWriter_InsertFailure_CountsWriteError(t *testing.T) {
	w, mock := newWriterForTest(t,
		config.IngestConfig{QueueSize: 10, BatchSize: 100, FlushInterval: time.Hour},
		config.ParsingConfig{})

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	if err := w.Enqueue(testEntry(1, models.LevelInfo, "doomed")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Start(context.Background())
	stopWriter(t, w)

	stats := w.Snapshot()
	if stats.WriteErrors != 1 {
		t.Errorf("writeErrors = %d, want 1", stats.WriteErrors)
	}
	if stats.Written != 0 {
		t.Errorf("written = %d, want 0", stats.Written)
	}
}

// ---------------------------------------------------------------------------
// Parsing enrichment
// ---------------------------------------------------------------------------

func TestWriter_AppliesParsingRulesBeforePersist(t *testing.T) {
	w, mock := newWriterForTest(t,
		config.IngestConfig{QueueSize: 10, BatchSize: 100, FlushInterval: time.Hour},
		config.ParsingConfig{Enabled: true, CacheRefreshInterval: time.Hour})

	now := time.Now().UTC()
	mock.ExpectQuery("FROM parsing_rules").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "app_id", "name", "parser_type", "pattern", "field_mappings",
			"tags", "enabled", "priority", "created_at", "updated_at",
		}).AddRow(int64(7), nil, "http-status", "regex", `status=(?P<code>\d+)`,
			nil, nil, true, 10, now, now))

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO logs")
	prep.ExpectExec().
		WithArgs(int64(1), "ERROR", "status=500", nil, `{"code":"500"}`, nil,
			int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := w.Enqueue(testEntry(1, models.LevelError, "status=500")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Start(context.Background())
	stopWriter(t, w)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestWriter_RuleLoadFailure_StillPersistsUnenriched(t *testing.T) {
	w, mock := newWriterForTest(t,
		config.IngestConfig{QueueSize: 10, BatchSize: 100, FlushInterval: time.Hour},
		config.ParsingConfig{Enabled: true, CacheRefreshInterval: time.Hour})

	mock.ExpectQuery("FROM parsing_rules").
		WillReturnError(errors.New("database is locked"))

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO logs")
	prep.ExpectExec().
		WithArgs(int64(1), "ERROR", "status=500", nil, nil, nil,
			nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := w.Enqueue(testEntry(1, models.LevelError, "status=500")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Start(context.Background())
	stopWriter(t, w)

	stats := w.Snapshot()
	if stats.Written != 1 {
		t.Errorf("written = %d, want 1", stats.Written)
	}
}
