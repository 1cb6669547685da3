package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// UserRepo persists user accounts for one tenant. Emails are unique
// across the whole installation (login is by email alone), but reads
// other than GetByEmail stay tenant-scoped.
type UserRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

const userColumns = `tenant_id, user_id, email, password_hash, role, created_at, disabled_at`

// Create inserts a user. A duplicate email maps to ErrConflict, which
// the signup handler surfaces as HTTP 409.
func (r *UserRepo) Create(ctx context.Context, u *contracts.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, u.UserID, strings.ToLower(u.Email), u.PasswordHash,
		string(u.Role), u.CreatedAt.UTC(), u.DisabledAt)
	return translateErr(err)
}

// GetByEmail finds a user by email for login. Deliberately not
// tenant-filtered: the tenant is discovered from the user row.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*contracts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.queryOne(ctx, query, strings.ToLower(email))
}

// Get loads one user by ID within the tenant.
func (r *UserRepo) Get(ctx context.Context, userID string) (*contracts.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND user_id = $2`
	return r.queryOne(ctx, query, r.tenantID, userID)
}

// CountActive counts the tenant's non-disabled users, for seat quota.
func (r *UserRepo) CountActive(ctx context.Context) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND disabled_at IS NULL`
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID).Scan(&n)
	return n, translateErr(err)
}

// Disable soft-deletes a user. Disabled users free their seat but the
// row is retained for audit history.
func (r *UserRepo) Disable(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET disabled_at = $1 WHERE tenant_id = $2 AND user_id = $3 AND disabled_at IS NULL`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query), at.UTC(), r.tenantID, userID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserByEmail is the login lookup. It runs before any tenant is known,
// so it takes the bare handle instead of a tenant-bound repository.
func UserByEmail(ctx context.Context, db *sql.DB, dialect Dialect, email string) (*contracts.User, error) {
	r := &UserRepo{db: db, dialect: dialect}
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.queryOne(ctx, query, strings.ToLower(email))
}

func (r *UserRepo) queryOne(ctx context.Context, query string, args ...any) (*contracts.User, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, query), args...)
	var u contracts.User
	var role string
	var disabled sql.NullTime
	err := row.Scan(&u.TenantID, &u.UserID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &disabled)
	if err != nil {
		return nil, translateErr(err)
	}
	u.Role = contracts.Role(role)
	if disabled.Valid {
		t := disabled.Time
		u.DisabledAt = &t
	}
	return &u, nil
}
