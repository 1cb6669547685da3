package repository

import (
	"context"
	"database/sql"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// AuditRepo persists the tenant's immutable audit log. Entries are
// append-only; there is no update or delete path.
type AuditRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

// Append writes one audit entry.
func (r *AuditRepo) Append(ctx context.Context, e *contracts.AuditEntry) error {
	query := `INSERT INTO audit_log (tenant_id, entry_id, actor_id, action, resource, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, e.EntryID, e.ActorID, e.Action, e.Resource, e.Detail, e.CreatedAt.UTC())
	return translateErr(err)
}

// List returns the tenant's newest entries first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]contracts.AuditEntry, error) {
	query := `SELECT tenant_id, entry_id, actor_id, action, resource, detail, created_at
		FROM audit_log WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), r.tenantID, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []contracts.AuditEntry
	for rows.Next() {
		var e contracts.AuditEntry
		if err := rows.Scan(&e.TenantID, &e.EntryID, &e.ActorID, &e.Action, &e.Resource, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
