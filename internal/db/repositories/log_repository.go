// log_repository.go implements persistence for log entries: bulk ingestion,
// filtered querying, tag inventory, and the batched deletes used by the
// retention engine.
//
// The logs table deliberately has no foreign key on app_id — enforcing one
// would add a lookup to every insert on the hottest write path. App
// resolution happens at authentication time, before entries reach the queue.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// LogFilter narrows log queries. Zero-valued fields are ignored.
type LogFilter struct {
	AppID   *int64
	Levels  []models.Level
	Since   *time.Time // inclusive lower bound on server_timestamp
	Until   *time.Time // exclusive upper bound on server_timestamp
	Search  string     // substring match on message
	Tags    map[string]string
	AfterID *int64 // only rows with id > AfterID (stream cursor)
	Limit   int
	Offset  int
}

// LogRepository handles log entry database operations
type LogRepository struct {
	db *sqlx.DB
}

// NewLogRepository creates a new LogRepository
func NewLogRepository(db *sqlx.DB) *LogRepository {
	return &LogRepository{db: db}
}

// logRow is the scan target for the logs table; JSON columns are decoded
// into the model maps after scanning.
type logRow struct {
	ID              int64          `db:"id"`
	AppID           int64          `db:"app_id"`
	Level           string         `db:"level"`
	Message         string         `db:"message"`
	StructuredData  sql.NullString `db:"structured_data"`
	ParsedFields    sql.NullString `db:"parsed_fields"`
	Tags            sql.NullString `db:"tags"`
	ParserRuleID    *int64         `db:"parser_rule_id"`
	Timestamp       time.Time      `db:"timestamp"`
	ServerTimestamp time.Time      `db:"server_timestamp"`
	CreatedAt       time.Time      `db:"created_at"`
	AppName         string         `db:"app_name"`
}

func (row *logRow) toModel() (*models.LogEntry, error) {
	entry := &models.LogEntry{
		ID:              row.ID,
		AppID:           row.AppID,
		Level:           models.Level(row.Level),
		Message:         row.Message,
		ParserRuleID:    row.ParserRuleID,
		Timestamp:       row.Timestamp,
		ServerTimestamp: row.ServerTimestamp,
		CreatedAt:       row.CreatedAt,
		AppName:         row.AppName,
	}
	if row.StructuredData.Valid && row.StructuredData.String != "" {
		if err := json.Unmarshal([]byte(row.StructuredData.String), &entry.StructuredData); err != nil {
			return nil, fmt.Errorf("decode structured_data for log %d: %w", row.ID, err)
		}
	}
	if row.ParsedFields.Valid && row.ParsedFields.String != "" {
		if err := json.Unmarshal([]byte(row.ParsedFields.String), &entry.ParsedFields); err != nil {
			return nil, fmt.Errorf("decode parsed_fields for log %d: %w", row.ID, err)
		}
	}
	if row.Tags.Valid && row.Tags.String != "" {
		if err := json.Unmarshal([]byte(row.Tags.String), &entry.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for log %d: %w", row.ID, err)
		}
	}
	return entry, nil
}

// marshalMap renders a map as its JSON column value, NULL when empty.
func marshalMap(m interface{}) (interface{}, error) {
	switch v := m.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(v) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// InsertBatch writes a batch of entries in one transaction. Entries keep
// their queue order; generated IDs are not reported back because the write
// path is asynchronous and nothing awaits them.
func (r *LogRepository) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (app_id, level, message, structured_data, parsed_fields, tags,
		                  parser_rule_id, timestamp, server_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		structured, err := marshalMap(e.StructuredData)
		if err != nil {
			return err
		}
		parsed, err := marshalMap(e.ParsedFields)
		if err != nil {
			return err
		}
		tags, err := marshalMap(e.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.AppID, string(e.Level), e.Message, structured, parsed, tags,
			e.ParserRuleID, e.Timestamp, e.ServerTimestamp, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// buildWhere renders the filter into a WHERE clause and argument list.
func buildWhere(f LogFilter) (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}

	if f.AppID != nil {
		clauses = append(clauses, "l.app_id = ?")
		args = append(args, *f.AppID)
	}
	if len(f.Levels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Levels)), ", ")
		clauses = append(clauses, "l.level IN ("+placeholders+")")
		for _, lv := range f.Levels {
			args = append(args, string(lv))
		}
	}
	if f.Since != nil {
		clauses = append(clauses, "l.server_timestamp >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		clauses = append(clauses, "l.server_timestamp < ?")
		args = append(args, *f.Until)
	}
	if f.Search != "" {
		clauses = append(clauses, "l.message LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	for k, v := range f.Tags {
		// json_extract path is parameterised; tag keys are caller-controlled
		// strings, never spliced into SQL.
		clauses = append(clauses, "json_extract(l.tags, ?) = ?")
		args = append(args, "$."+k, v)
	}
	if f.AfterID != nil {
		clauses = append(clauses, "l.id > ?")
		args = append(args, *f.AfterID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Query returns matching log entries, newest first. When AfterID is set the
// order flips to ascending so stream consumers receive rows in arrival order.
func (r *LogRepository) Query(ctx context.Context, f LogFilter) ([]*models.LogEntry, error) {
	where, args := buildWhere(f)

	order := "ORDER BY l.server_timestamp DESC, l.id DESC"
	if f.AfterID != nil {
		order = "ORDER BY l.id ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT l.id, l.app_id, l.level, l.message, l.structured_data, l.parsed_fields,
		       l.tags, l.parser_rule_id, l.timestamp, l.server_timestamp, l.created_at,
		       COALESCE(a.name, '') AS app_name
		FROM logs l
		LEFT JOIN apps a ON a.id = l.app_id
		%s
		%s
		LIMIT ? OFFSET ?
	`, where, order)
	args = append(args, limit, f.Offset)

	rows := []logRow{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	entries := make([]*models.LogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Count returns the number of entries matching the filter.
func (r *LogRepository) Count(ctx context.Context, f LogFilter) (int64, error) {
	where, args := buildWhere(f)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM logs l %s`, where)

	var count int64
	err := r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

// GetByID retrieves one entry by ID. Returns nil when not found.
func (r *LogRepository) GetByID(ctx context.Context, id int64) (*models.LogEntry, error) {
	query := `
		SELECT l.id, l.app_id, l.level, l.message, l.structured_data, l.parsed_fields,
		       l.tags, l.parser_rule_id, l.timestamp, l.server_timestamp, l.created_at,
		       COALESCE(a.name, '') AS app_name
		FROM logs l
		LEFT JOIN apps a ON a.id = l.app_id
		WHERE l.id = ?
	`

	row := logRow{}
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// MaxID returns the highest log row ID, or 0 on an empty table. Stream
// consumers use it as their starting cursor.
func (r *LogRepository) MaxID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM logs`)
	return id, err
}

// TagKeys returns the distinct tag keys present across all stored logs,
// using SQLite's json_each over the tags column.
func (r *LogRepository) TagKeys(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT je.key
		FROM logs l, json_each(l.tags) je
		WHERE l.tags IS NOT NULL
		ORDER BY je.key
	`

	keys := []string{}
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, err
	}
	return keys, nil
}

// LevelCounts returns per-level entry counts, optionally scoped to one app.
func (r *LogRepository) LevelCounts(ctx context.Context, appID *int64) (map[models.Level]int64, error) {
	query := `SELECT level, COUNT(*) AS n FROM logs GROUP BY level`
	args := []interface{}{}
	if appID != nil {
		query = `SELECT level, COUNT(*) AS n FROM logs WHERE app_id = ? GROUP BY level`
		args = append(args, *appID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.Level]int64{}
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[models.Level(level)] = n
	}
	return counts, rows.Err()
}

// DeleteOlderThan removes up to batchSize entries for one app and level set
// whose server_timestamp is before cutoff. Returns the number of rows
// deleted; callers loop until this returns 0.
func (r *LogRepository) DeleteOlderThan(ctx context.Context, appID int64, levels []models.Level, cutoff time.Time, batchSize int) (int64, error) {
	if len(levels) == 0 || batchSize <= 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")
	query := fmt.Sprintf(`
		DELETE FROM logs
		WHERE id IN (
			SELECT id FROM logs
			WHERE app_id = ? AND level IN (%s) AND server_timestamp < ?
			ORDER BY id
			LIMIT ?
		)
	`, placeholders)

	args := []interface{}{appID}
	for _, lv := range levels {
		args = append(args, string(lv))
	}
	args = append(args, cutoff, batchSize)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteBeyondCount removes up to batchSize of the oldest entries for one
// app and level set beyond the newest `keep` entries. Returns rows deleted;
// callers loop until 0.
func (r *LogRepository) DeleteBeyondCount(ctx context.Context, appID int64, levels []models.Level, keep int, batchSize int) (int64, error) {
	if len(levels) == 0 || batchSize <= 0 || keep < 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")
	query := fmt.Sprintf(`
		DELETE FROM logs
		WHERE id IN (
			SELECT id FROM logs
			WHERE app_id = ? AND level IN (%s)
			ORDER BY server_timestamp DESC, id DESC
			LIMIT ? OFFSET ?
		)
	`, placeholders)

	args := []interface{}{appID}
	for _, lv := range levels {
		args = append(args, string(lv))
	}
	args = append(args, batchSize, keep)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeletionStats describes what a retention policy would remove: the matching
// row count and the timestamp range it spans.
type DeletionStats struct {
	Count  int64
	Oldest *time.Time
	Newest *time.Time
}

// StatsOlderThan reports what DeleteOlderThan would remove in total.
func (r *LogRepository) StatsOlderThan(ctx context.Context, appID int64, levels []models.Level, cutoff time.Time) (*DeletionStats, error) {
	if len(levels) == 0 {
		return &DeletionStats{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")
	query := fmt.Sprintf(`
		SELECT COUNT(*), MIN(server_timestamp), MAX(server_timestamp)
		FROM logs
		WHERE app_id = ? AND level IN (%s) AND server_timestamp < ?
	`, placeholders)

	args := []interface{}{appID}
	for _, lv := range levels {
		args = append(args, string(lv))
	}
	args = append(args, cutoff)

	return r.scanStats(ctx, query, args)
}

// StatsBeyondCount reports what DeleteBeyondCount would remove in total.
func (r *LogRepository) StatsBeyondCount(ctx context.Context, appID int64, levels []models.Level, keep int) (*DeletionStats, error) {
	if len(levels) == 0 || keep < 0 {
		return &DeletionStats{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(levels)), ", ")
	query := fmt.Sprintf(`
		SELECT COUNT(*), MIN(server_timestamp), MAX(server_timestamp)
		FROM logs
		WHERE id IN (
			SELECT id FROM logs
			WHERE app_id = ? AND level IN (%s)
			ORDER BY server_timestamp DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`, placeholders)

	args := []interface{}{appID}
	for _, lv := range levels {
		args = append(args, string(lv))
	}
	args = append(args, keep)

	return r.scanStats(ctx, query, args)
}

func (r *LogRepository) scanStats(ctx context.Context, query string, args []interface{}) (*DeletionStats, error) {
	stats := &DeletionStats{}
	var oldest, newest sql.NullTime
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Count, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.Oldest = &oldest.Time
	}
	if newest.Valid {
		stats.Newest = &newest.Time
	}
	return stats, nil
}

// PurgeApp deletes up to batchSize log rows for an app regardless of level
// or age. Used when deleting an app with purge=true; callers loop until 0.
func (r *LogRepository) PurgeApp(ctx context.Context, appID int64, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM logs
		WHERE id IN (SELECT id FROM logs WHERE app_id = ? LIMIT ?)
	`, appID, batchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
