// api_key_repository.go implements persistence for ingestion API keys and
// their default tags. Tags live in a child table (api_key_tags) rather than a
// JSON column so individual tags can be upserted without rewriting the set.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateKey inserts a new API key and its default tags in one transaction.
func (r *APIKeyRepository) CreateKey(ctx context.Context, key *models.APIKey) error {
	key.IsActive = true
	key.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (key, app_id, is_active, created_at)
		VALUES (?, ?, ?, ?)
	`, key.Key, key.AppID, key.IsActive, key.CreatedAt)
	if err != nil {
		return err
	}
	key.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for k, v := range key.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO api_key_tags (api_key_id, tag_key, tag_value)
			VALUES (?, ?, ?)
		`, key.ID, k, v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetActiveKey looks up an active key by its secret value, joining the app
// name and loading default tags. Returns nil when the key is unknown or
// revoked. This is the hot path for ingest authentication; the key column is
// backed by a unique index.
func (r *APIKeyRepository) GetActiveKey(ctx context.Context, key string) (*models.APIKey, error) {
	query := `
		SELECT k.id, k.key, k.app_id, k.is_active, k.last_used, k.created_at,
		       a.name AS app_name
		FROM api_keys k
		JOIN apps a ON a.id = k.app_id
		WHERE k.key = ? AND k.is_active = 1
	`

	apiKey := &models.APIKey{}
	err := r.db.GetContext(ctx, apiKey, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if apiKey.Tags, err = r.loadTags(ctx, apiKey.ID); err != nil {
		return nil, err
	}
	return apiKey, nil
}

// GetKeyByID retrieves a key by ID regardless of active state.
func (r *APIKeyRepository) GetKeyByID(ctx context.Context, id int64) (*models.APIKey, error) {
	query := `
		SELECT k.id, k.key, k.app_id, k.is_active, k.last_used, k.created_at,
		       a.name AS app_name
		FROM api_keys k
		JOIN apps a ON a.id = k.app_id
		WHERE k.id = ?
	`

	apiKey := &models.APIKey{}
	err := r.db.GetContext(ctx, apiKey, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if apiKey.Tags, err = r.loadTags(ctx, apiKey.ID); err != nil {
		return nil, err
	}
	return apiKey, nil
}

// ListKeysForApp returns all keys for an app, newest first, tags included.
func (r *APIKeyRepository) ListKeysForApp(ctx context.Context, appID int64) ([]*models.APIKey, error) {
	query := `
		SELECT k.id, k.key, k.app_id, k.is_active, k.last_used, k.created_at,
		       a.name AS app_name
		FROM api_keys k
		JOIN apps a ON a.id = k.app_id
		WHERE k.app_id = ?
		ORDER BY k.created_at DESC, k.id DESC
	`

	keys := []*models.APIKey{}
	if err := r.db.SelectContext(ctx, &keys, query, appID); err != nil {
		return nil, err
	}
	for _, k := range keys {
		tags, err := r.loadTags(ctx, k.ID)
		if err != nil {
			return nil, err
		}
		k.Tags = tags
	}
	return keys, nil
}

// SetActive activates or revokes a key.
func (r *APIKeyRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteKey permanently removes a key and its tags (cascade).
func (r *APIKeyRepository) DeleteKey(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateLastUsed stamps the key's last-used time. Best-effort; callers run
// this fire-and-forget.
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// ReplaceTags overwrites the key's default tag set.
func (r *APIKeyRepository) ReplaceTags(ctx context.Context, id int64, tags map[string]string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM api_key_tags WHERE api_key_id = ?`, id); err != nil {
		return err
	}
	for k, v := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO api_key_tags (api_key_id, tag_key, tag_value)
			VALUES (?, ?, ?)
		`, id, k, v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// loadTags reads the default tags for one key.
func (r *APIKeyRepository) loadTags(ctx context.Context, keyID int64) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag_key, tag_value
		FROM api_key_tags
		WHERE api_key_id = ?
		ORDER BY tag_key
	`, keyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return tags, rows.Err()
}
