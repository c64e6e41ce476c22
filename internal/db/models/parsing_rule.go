// parsing_rule.go defines the ParsingRule model used by the parsing rule
// engine to enrich raw log messages at ingestion time.
package models

import "time"

// Parser types supported by the parsing rule engine.
const (
	ParserTypeRegex = "regex"
	ParserTypeJSON  = "json"
)

// ParsingRule is a pattern + field-mapping definition. AppID nil means the
// rule is global and applies to every app. Higher Priority rules are
// evaluated first; ties break on ascending rule ID so selection is
// deterministic.
//
// For regex rules, Pattern is a Go regular expression and FieldMappings maps
// named capture groups to output field names. For json rules, Pattern is a
// dot-separated key path that must exist in the log's structured payload and
// FieldMappings maps key paths to output field names.
type ParsingRule struct {
	ID            int64             `db:"id" json:"id"`
	AppID         *int64            `db:"app_id" json:"app_id,omitempty"`
	Name          string            `db:"name" json:"name"`
	ParserType    string            `db:"parser_type" json:"parser_type"`
	Pattern       string            `db:"pattern" json:"pattern"`
	FieldMappings map[string]string `db:"-" json:"field_mappings,omitempty"`
	Tags          map[string]string `db:"-" json:"tags,omitempty"`
	Enabled       bool              `db:"enabled" json:"enabled"`
	Priority      int               `db:"priority" json:"priority"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}
