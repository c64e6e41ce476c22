// log_entry.go defines the LogEntry model and the log level vocabulary.
package models

import "time"

// Level is a log severity. Levels are stored uppercase; TRACE is accepted on
// ingestion for tier classification even though SDKs normally emit the five
// canonical levels.
type Level string

const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// ValidLevel reports whether s (already uppercased) is a recognised level.
func ValidLevel(s string) bool {
	switch Level(s) {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// LogEntry represents one ingested log record.
//
// Timestamp is the client-side time the event occurred, ServerTimestamp the
// time the server accepted it, and CreatedAt the time the row was persisted.
// ServerTimestamp drives retention; CreatedAt is system-assigned and
// immutable.
type LogEntry struct {
	ID             int64                  `db:"id" json:"id"`
	AppID          int64                  `db:"app_id" json:"app_id"`
	Level          Level                  `db:"level" json:"level"`
	Message        string                 `db:"message" json:"message"`
	StructuredData map[string]interface{} `db:"-" json:"structured_data,omitempty"`
	ParsedFields   map[string]string      `db:"-" json:"parsed_fields,omitempty"`
	Tags           map[string]string      `db:"-" json:"tags,omitempty"`
	ParserRuleID   *int64                 `db:"parser_rule_id" json:"parser_rule_id,omitempty"`
	Timestamp      time.Time              `db:"timestamp" json:"timestamp"`
	ServerTimestamp time.Time             `db:"server_timestamp" json:"server_timestamp"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`

	// Joined fields
	AppName string `db:"app_name" json:"app_name,omitempty"`
}
