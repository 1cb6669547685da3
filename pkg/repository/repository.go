// Package repository provides tenant-bound persistence for the control
// plane's entities. A repository instance is constructed for exactly
// one tenant and every query it issues carries that tenant_id; rows
// belonging to another tenant are unreachable through it.
//
// On PostgreSQL the session tenant context is additionally set via
// set_config so row-level security policies can enforce isolation in
// the database itself.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Dialect selects SQL generation differences between the supported
// engines.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var (
	// ErrNotFound is returned when a tenant-scoped entity is absent.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("repository: conflict")
	// ErrNoTenant is returned when a repository is constructed without
	// a tenant ID.
	ErrNoTenant = errors.New("repository: tenant ID required")
)

// Repositories bundles the per-entity repositories for one tenant.
type Repositories struct {
	Models     *ModelRepo
	Plans      *PlanRepo
	Runs       *RunRepo
	Watermarks *WatermarkRepo
	Users      *UserRepo
	Tenants    *TenantRepo
	Audit      *AuditRepo
	Checks     *CheckRepo

	db       *sql.DB
	dialect  Dialect
	tenantID string
}

// New binds a repository set to one tenant.
func New(db *sql.DB, dialect Dialect, tenantID string) (*Repositories, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	r := &Repositories{db: db, dialect: dialect, tenantID: tenantID}
	r.Models = &ModelRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Plans = &PlanRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Runs = &RunRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Watermarks = &WatermarkRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Users = &UserRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Tenants = &TenantRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Audit = &AuditRepo{db: db, dialect: dialect, tenantID: tenantID}
	r.Checks = &CheckRepo{db: db, dialect: dialect, tenantID: tenantID}
	return r, nil
}

// TenantID returns the tenant the repositories are bound to.
func (r *Repositories) TenantID() string { return r.tenantID }

// BindSession sets the session tenant context inside a transaction so
// PostgreSQL row-level security policies see the tenant. It must run
// before any mutation in the same transaction. On SQLite it is a no-op:
// isolation there rests on the application-level tenant binding alone.
func BindSession(ctx context.Context, tx *sql.Tx, dialect Dialect, tenantID string) error {
	if dialect != DialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("repository: bind session tenant: %w", err)
	}
	return nil
}

// Rebind converts $N placeholders to ? for SQLite, for callers outside
// this package that query the control-plane tables directly.
func Rebind(dialect Dialect, query string) string {
	return rebind(dialect, query)
}

// rebind converts $N placeholders to ? for SQLite. Queries are written
// in PostgreSQL form and rebound as needed.
func rebind(dialect Dialect, query string) string {
	if dialect == DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}

// translateErr maps dialect constraint violations onto ErrConflict so
// callers never see driver error types.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	// modernc.org/sqlite reports constraint failures in the message.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
