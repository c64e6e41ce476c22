// api_key.go defines the APIKey model used to authenticate log ingestion.
package models

import "time"

// APIKey represents an ingestion credential for a single app. The key value
// is the unique secret presented in the X-API-Key header; revocation is a
// soft delete via IsActive so historical logs keep a resolvable origin.
type APIKey struct {
	ID        int64      `db:"id" json:"id"`
	Key       string     `db:"key" json:"key"`
	AppID     int64      `db:"app_id" json:"app_id"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	LastUsed  *time.Time `db:"last_used" json:"last_used,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`

	// Joined fields (not stored in api_keys table)
	AppName string            `db:"app_name" json:"app_name"`
	Tags    map[string]string `db:"-" json:"tags"`
}
