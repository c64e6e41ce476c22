// parsing_rule_repository.go implements persistence for parsing rules.
// field_mappings and tags are stored as JSON columns and (de)serialized
// here so the rest of the code works with plain maps.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// ParsingRuleRepository handles parsing rule database operations
type ParsingRuleRepository struct {
	db *sqlx.DB
}

// NewParsingRuleRepository creates a new ParsingRuleRepository
func NewParsingRuleRepository(db *sqlx.DB) *ParsingRuleRepository {
	return &ParsingRuleRepository{db: db}
}

type parsingRuleRow struct {
	ID            int64          `db:"id"`
	AppID         *int64         `db:"app_id"`
	Name          string         `db:"name"`
	ParserType    string         `db:"parser_type"`
	Pattern       string         `db:"pattern"`
	FieldMappings sql.NullString `db:"field_mappings"`
	Tags          sql.NullString `db:"tags"`
	Enabled       bool           `db:"enabled"`
	Priority      int            `db:"priority"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (row *parsingRuleRow) toModel() (*models.ParsingRule, error) {
	rule := &models.ParsingRule{
		ID:         row.ID,
		AppID:      row.AppID,
		Name:       row.Name,
		ParserType: row.ParserType,
		Pattern:    row.Pattern,
		Enabled:    row.Enabled,
		Priority:   row.Priority,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.FieldMappings.Valid && row.FieldMappings.String != "" {
		if err := json.Unmarshal([]byte(row.FieldMappings.String), &rule.FieldMappings); err != nil {
			return nil, fmt.Errorf("decode field_mappings for rule %d: %w", row.ID, err)
		}
	}
	if row.Tags.Valid && row.Tags.String != "" {
		if err := json.Unmarshal([]byte(row.Tags.String), &rule.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for rule %d: %w", row.ID, err)
		}
	}
	return rule, nil
}

const parsingRuleColumns = `
	id, app_id, name, parser_type, pattern, field_mappings, tags,
	enabled, priority, created_at, updated_at
`

// CreateRule inserts a new parsing rule and fills in its generated ID.
func (r *ParsingRuleRepository) CreateRule(ctx context.Context, rule *models.ParsingRule) error {
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	mappings, err := marshalMap(rule.FieldMappings)
	if err != nil {
		return err
	}
	tags, err := marshalMap(rule.Tags)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO parsing_rules (app_id, name, parser_type, pattern, field_mappings,
		                           tags, enabled, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.AppID, rule.Name, rule.ParserType, rule.Pattern, mappings, tags,
		rule.Enabled, rule.Priority, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	rule.ID, err = res.LastInsertId()
	return err
}

// GetRuleByID retrieves a rule by ID. Returns nil when not found.
func (r *ParsingRuleRepository) GetRuleByID(ctx context.Context, id int64) (*models.ParsingRule, error) {
	row := parsingRuleRow{}
	err := r.db.GetContext(ctx, &row,
		`SELECT `+parsingRuleColumns+` FROM parsing_rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListRules returns all rules, optionally scoped to one app (global rules
// included), ordered by priority DESC, id ASC.
func (r *ParsingRuleRepository) ListRules(ctx context.Context, appID *int64) ([]*models.ParsingRule, error) {
	query := `SELECT ` + parsingRuleColumns + ` FROM parsing_rules ORDER BY priority DESC, id ASC`
	args := []interface{}{}
	if appID != nil {
		query = `SELECT ` + parsingRuleColumns + `
			FROM parsing_rules
			WHERE app_id IS NULL OR app_id = ?
			ORDER BY priority DESC, id ASC`
		args = append(args, *appID)
	}

	rows := []parsingRuleRow{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	rules := make([]*models.ParsingRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ListEnabledRules returns the enabled rules applicable to one app (its own
// rules plus globals) in evaluation order: priority DESC, id ASC. This is
// the query the ingest pipeline refreshes its rule cache from.
func (r *ParsingRuleRepository) ListEnabledRules(ctx context.Context, appID int64) ([]*models.ParsingRule, error) {
	query := `SELECT ` + parsingRuleColumns + `
		FROM parsing_rules
		WHERE enabled = 1 AND (app_id IS NULL OR app_id = ?)
		ORDER BY priority DESC, id ASC`

	rows := []parsingRuleRow{}
	if err := r.db.SelectContext(ctx, &rows, query, appID); err != nil {
		return nil, err
	}

	rules := make([]*models.ParsingRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// UpdateRule rewrites a rule. UpdatedAt changes, which also invalidates the
// parsing engine's compiled pattern cache for this rule.
func (r *ParsingRuleRepository) UpdateRule(ctx context.Context, rule *models.ParsingRule) error {
	rule.UpdatedAt = time.Now().UTC()

	mappings, err := marshalMap(rule.FieldMappings)
	if err != nil {
		return err
	}
	tags, err := marshalMap(rule.Tags)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE parsing_rules
		SET app_id = ?, name = ?, parser_type = ?, pattern = ?, field_mappings = ?,
		    tags = ?, enabled = ?, priority = ?, updated_at = ?
		WHERE id = ?
	`, rule.AppID, rule.Name, rule.ParserType, rule.Pattern, mappings, tags,
		rule.Enabled, rule.Priority, rule.UpdatedAt, rule.ID)
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

// DeleteRule removes a rule. Stored logs keep their parser_rule_id so
// historical enrichment stays attributable.
func (r *ParsingRuleRepository) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM parsing_rules WHERE id = ?`, id)
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
