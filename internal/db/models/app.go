// Package models defines the database model types for just-logging.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the engines (parsing, retention), query logic
// belongs in the repositories layer.
package models

import "time"

// Environment identifies the deployment environment an app belongs to.
// Environment-level retention policies are keyed on this value.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// ValidEnvironment reports whether s is a recognised environment name.
func ValidEnvironment(s string) bool {
	switch Environment(s) {
	case EnvProduction, EnvStaging, EnvDevelopment:
		return true
	}
	return false
}

// App represents a registered application. An app is the root aggregate for
// its API keys, parsing rules, per-app retention policies, and log entries.
type App struct {
	ID          int64       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Environment Environment `db:"environment" json:"environment"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}
