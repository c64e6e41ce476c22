package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	e := NewEngine(
		repositories.NewAppRepository(sqlxDB),
		repositories.NewLogRepository(sqlxDB),
		repositories.NewRetentionRepository(sqlxDB),
		500,
	)
	return e, mock
}

func appListRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "environment", "created_at"})
}

func appPolicyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "app_id", "priority_tier", "retention_type", "retention_days",
		"retention_count", "enabled", "created_at", "updated_at", "app_name",
	})
}

func envPolicyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "environment", "priority_tier", "retention_type", "retention_days",
		"retention_count", "enabled", "created_at", "updated_at",
	})
}

// expectState queues the three load queries: apps, per-app policies,
// environment policies.
func expectState(mock sqlmock.Sqlmock, apps, policies, envPolicies *sqlmock.Rows) {
	mock.ExpectQuery("FROM apps").WillReturnRows(apps)
	mock.ExpectQuery("FROM retention_policies").WillReturnRows(policies)
	mock.ExpectQuery("FROM environment_retention_policies").WillReturnRows(envPolicies)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_TimeBasedPolicy_DeletesInBatchesUntilDone(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO retention_runs").
		WillReturnResult(sqlmock.NewResult(31, 1))

	expectState(mock,
		appListRows().AddRow(int64(3), "checkout", "production", now),
		appPolicyRows(),
		envPolicyRows().AddRow(int64(1), "production", "high", "time_based",
			90, nil, true, now, now))

	// high tier sweeps in two batches, then reports empty
	mock.ExpectExec("DELETE FROM logs").WillReturnResult(sqlmock.NewResult(0, 500))
	mock.ExpectExec("DELETE FROM logs").WillReturnResult(sqlmock.NewResult(0, 120))
	mock.ExpectExec("DELETE FROM logs").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec("UPDATE retention_runs").
		WithArgs(models.RunStatusSuccess, sqlmock.AnyArg(), int64(620),
			int64(31), models.RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := e.Run(context.Background(), models.TriggerScheduled, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.LogsDeleted != 620 {
		t.Errorf("LogsDeleted = %d, want 620", run.LogsDeleted)
	}
	if run.Status != models.RunStatusSuccess {
		t.Errorf("Status = %q, want success", run.Status)
	}
}

func TestRun_SecondConcurrentRun_GetsErrRunActive(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectExec("INSERT INTO retention_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := e.Run(context.Background(), models.TriggerManual, nil)
	if !errors.Is(err, ErrRunActive) {
		t.Errorf("err = %v, want ErrRunActive", err)
	}
}

func TestRun_DeleteFailure_FinalizesRunAsFailed(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO retention_runs").
		WillReturnResult(sqlmock.NewResult(31, 1))

	expectState(mock,
		appListRows().AddRow(int64(3), "checkout", "production", now),
		appPolicyRows(),
		envPolicyRows().AddRow(int64(1), "production", "high", "time_based",
			90, nil, true, now, now))

	mock.ExpectExec("DELETE FROM logs").WillReturnResult(sqlmock.NewResult(0, 500))
	mock.ExpectExec("DELETE FROM logs").WillReturnError(errors.New("disk I/O error"))

	// failure finalization records the 500 rows that did get deleted
	mock.ExpectExec("UPDATE retention_runs").
		WithArgs(models.RunStatusFailed, sqlmock.AnyArg(), int64(500),
			sqlmock.AnyArg(), int64(31), models.RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := e.Run(context.Background(), models.TriggerScheduled, nil)
	if err == nil {
		t.Fatal("Run succeeded, want error")
	}
}

func TestRun_NoPolicies_CompletesWithZeroDeletes(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO retention_runs").
		WillReturnResult(sqlmock.NewResult(31, 1))

	expectState(mock,
		appListRows().AddRow(int64(3), "checkout", "development", now),
		appPolicyRows(),
		envPolicyRows())

	mock.ExpectExec("UPDATE retention_runs").
		WithArgs(models.RunStatusSuccess, sqlmock.AnyArg(), int64(0),
			int64(31), models.RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := e.Run(context.Background(), models.TriggerScheduled, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.LogsDeleted != 0 {
		t.Errorf("LogsDeleted = %d, want 0", run.LogsDeleted)
	}
}

func TestRun_CountBasedPolicy_UsesKeepOffset(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO retention_runs").
		WillReturnResult(sqlmock.NewResult(31, 1))

	expectState(mock,
		appListRows().AddRow(int64(3), "checkout", "staging", now),
		appPolicyRows().AddRow(int64(12), int64(3), "low", "count_based",
			nil, 100, true, now, now, "checkout"),
		envPolicyRows())

	// keep-offset delete: batch 500, keep the newest 100
	mock.ExpectExec("OFFSET").
		WithArgs(int64(3), "DEBUG", "TRACE", 500, 100).
		WillReturnResult(sqlmock.NewResult(0, 50))
	mock.ExpectExec("OFFSET").
		WithArgs(int64(3), "DEBUG", "TRACE", 500, 100).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec("UPDATE retention_runs").
		WithArgs(models.RunStatusSuccess, sqlmock.AnyArg(), int64(50),
			int64(31), models.RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := e.Run(context.Background(), models.TriggerScheduled, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.LogsDeleted != 50 {
		t.Errorf("LogsDeleted = %d, want 50", run.LogsDeleted)
	}
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

func TestPreview_ReportsWithoutDeleting(t *testing.T) {
	e, mock := newEngine(t)
	now := time.Now().UTC()
	oldest := now.AddDate(0, 0, -200)
	newest := now.AddDate(0, 0, -91)

	expectState(mock,
		appListRows().AddRow(int64(3), "checkout", "production", now),
		appPolicyRows(),
		envPolicyRows().AddRow(int64(1), "production", "high", "time_based",
			90, nil, true, now, now))

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min", "max"}).
			AddRow(int64(4200), oldest, newest))

	previews, err := e.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(previews) != 1 {
		t.Fatalf("len = %d, want 1", len(previews))
	}
	p := previews[0]
	if p.LogCount != 4200 {
		t.Errorf("LogCount = %d, want 4200", p.LogCount)
	}
	if p.Environment == nil || *p.Environment != models.EnvProduction {
		t.Errorf("Environment = %v, want production (policy source)", p.Environment)
	}
	if p.AppName == nil || *p.AppName != "checkout" {
		t.Errorf("AppName = %v, want checkout", p.AppName)
	}
}

// ---------------------------------------------------------------------------
// ReapZombies
// ---------------------------------------------------------------------------

func TestReapZombies_DelegatesToRepository(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectExec("UPDATE retention_runs").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := e.ReapZombies(context.Background(), 2*time.Hour); err != nil {
		t.Errorf("ReapZombies: %v", err)
	}
}
