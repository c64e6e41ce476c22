// retention.go defines the retention policy, environment policy, and
// retention run audit models.
package models

import "time"

// RetentionType selects how a policy decides which logs to delete.
type RetentionType string

const (
	RetentionTimeBased  RetentionType = "time_based"
	RetentionCountBased RetentionType = "count_based"
)

// ValidRetentionType reports whether s is a recognised retention type.
func ValidRetentionType(s string) bool {
	return RetentionType(s) == RetentionTimeBased || RetentionType(s) == RetentionCountBased
}

// Tier is a severity bucket used to select a retention policy.
type Tier string

const (
	TierHigh   Tier = "high"   // FATAL, ERROR
	TierMedium Tier = "medium" // WARN, INFO
	TierLow    Tier = "low"    // DEBUG, TRACE
)

// Tiers lists all tiers in descending severity order.
var Tiers = []Tier{TierHigh, TierMedium, TierLow}

// ValidTier reports whether s is a recognised tier name.
func ValidTier(s string) bool {
	switch Tier(s) {
	case TierHigh, TierMedium, TierLow:
		return true
	}
	return false
}

// RetentionPolicy is a per-app retention rule for one tier. A policy with
// AppID nil is not valid here — environment-wide defaults live in
// EnvironmentRetentionPolicy. At most one policy exists per (app, tier).
type RetentionPolicy struct {
	ID             int64         `db:"id" json:"id"`
	AppID          int64         `db:"app_id" json:"app_id"`
	PriorityTier   Tier          `db:"priority_tier" json:"priority_tier"`
	RetentionType  RetentionType `db:"retention_type" json:"retention_type"`
	RetentionDays  *int          `db:"retention_days" json:"retention_days,omitempty"`
	RetentionCount *int          `db:"retention_count" json:"retention_count,omitempty"`
	Enabled        bool          `db:"enabled" json:"enabled"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`

	// Joined fields
	AppName string `db:"app_name" json:"app_name,omitempty"`
}

// EnvironmentRetentionPolicy is the default retention rule for one tier in
// one environment. A per-app policy for the same tier overrides it.
type EnvironmentRetentionPolicy struct {
	ID             int64         `db:"id" json:"id"`
	Environment    Environment   `db:"environment" json:"environment"`
	PriorityTier   Tier          `db:"priority_tier" json:"priority_tier"`
	RetentionType  RetentionType `db:"retention_type" json:"retention_type"`
	RetentionDays  *int          `db:"retention_days" json:"retention_days,omitempty"`
	RetentionCount *int          `db:"retention_count" json:"retention_count,omitempty"`
	Enabled        bool          `db:"enabled" json:"enabled"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// Retention run trigger types and statuses.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RetentionRun is the audit record for one execution of the retention
// engine. Exactly one row may have Status == RunStatusRunning at a time.
type RetentionRun struct {
	ID                int64      `db:"id" json:"id"`
	TriggerType       string     `db:"trigger_type" json:"trigger_type"`
	StartedAt         time.Time  `db:"started_at" json:"started_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Status            string     `db:"status" json:"status"`
	LogsDeleted       int64      `db:"logs_deleted" json:"logs_deleted"`
	ErrorMessage      *string    `db:"error_message" json:"error_message,omitempty"`
	TriggeredByUserID *int64     `db:"triggered_by_user_id" json:"triggered_by_user_id,omitempty"`

	// Joined fields
	TriggeredByUsername *string `db:"triggered_by_username" json:"triggered_by_username,omitempty"`
}

// RetentionPreview describes what one policy would delete in a dry run.
type RetentionPreview struct {
	PolicyID      int64         `json:"policy_id"`
	AppID         *int64        `json:"app_id,omitempty"`
	AppName       *string       `json:"app_name,omitempty"`
	Environment   *Environment  `json:"environment,omitempty"`
	PriorityTier  Tier          `json:"priority_tier"`
	RetentionType RetentionType `json:"retention_type"`
	LogCount      int64         `json:"log_count"`
	OldestLog     *time.Time    `json:"oldest_log,omitempty"`
	NewestLog     *time.Time    `json:"newest_log,omitempty"`
}
