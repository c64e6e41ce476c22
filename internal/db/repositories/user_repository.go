package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/just-logging/just-logging/internal/db/models"
)

// UserRepository handles web user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, username, password_hash, email, full_name, role, is_active, last_login, created_at
`

// CreateUser inserts a new web user. PasswordHash must already be a bcrypt
// hash.
func (r *UserRepository) CreateUser(ctx context.Context, u *models.WebUser) error {
	if u.Role == "" {
		u.Role = models.RoleViewer
	}
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO web_users (username, password_hash, email, full_name, role, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.Username, u.PasswordHash, u.Email, u.FullName, u.Role, u.IsActive, now)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	u.CreatedAt = now
	return nil
}

// GetUserByID retrieves a user by ID. Returns nil if not found.
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*models.WebUser, error) {
	query := `SELECT ` + userColumns + ` FROM web_users WHERE id = ?`

	u := &models.WebUser{}
	err := r.db.GetContext(ctx, u, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username. Returns nil if not found.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.WebUser, error) {
	query := `SELECT ` + userColumns + ` FROM web_users WHERE username = ?`

	u := &models.WebUser{}
	err := r.db.GetContext(ctx, u, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (r *UserRepository) ListUsers(ctx context.Context) ([]*models.WebUser, error) {
	query := `SELECT ` + userColumns + ` FROM web_users ORDER BY username`

	users := []*models.WebUser{}
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser updates a user's profile fields and role.
func (r *UserRepository) UpdateUser(ctx context.Context, u *models.WebUser) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE web_users
		SET email = ?, full_name = ?, role = ?, is_active = ?
		WHERE id = ?
	`, u.Email, u.FullName, u.Role, u.IsActive, u.ID)
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

// UpdatePassword replaces a user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE web_users SET password_hash = ? WHERE id = ?`, passwordHash, id)
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

// UpdateLastLogin stamps the user's last successful login time.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_users SET last_login = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// DeleteUser removes a user account.
func (r *UserRepository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM web_users WHERE id = ?`, id)
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

// CountAdmins returns the number of active admin users. Used to prevent
// demoting or deleting the last admin.
func (r *UserRepository) CountAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM web_users WHERE role = ? AND is_active = 1`, models.RoleAdmin)
	return count, err
}

// CountUsers returns the total number of users. Used at startup to decide
// whether to bootstrap the initial admin account.
func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM web_users`)
	return count, err
}
