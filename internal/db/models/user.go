// user.go defines the WebUser model for dashboard accounts and the role
// vocabulary used for authorization.
package models

import "time"

// Role grants a fixed set of capabilities. Admins manage users and trigger
// retention runs, editors manage apps/keys/rules/policies, viewers read.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ValidRole reports whether s is a recognised role name.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// WebUser represents a dashboard account. PasswordHash is a bcrypt hash and
// is never serialized.
type WebUser struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Email        *string    `db:"email" json:"email,omitempty"`
	FullName     *string    `db:"full_name" json:"full_name,omitempty"`
	Role         Role       `db:"role" json:"role"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CanEdit reports whether the user may mutate apps, keys, rules, and
// retention policies.
func (u *WebUser) CanEdit() bool {
	return u.Role == RoleAdmin || u.Role == RoleEditor
}

// IsAdmin reports whether the user holds the admin role.
func (u *WebUser) IsAdmin() bool {
	return u.Role == RoleAdmin
}
