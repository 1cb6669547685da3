package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// PlanRepo persists plans for one tenant. The plan body is stored as
// its canonical JSON; the approvals list and auto_approved flag are the
// only mutable parts and live in their own columns.
type PlanRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
	now      func() time.Time
}

// WithClock overrides the creation timestamp source.
func (r *PlanRepo) WithClock(now func() time.Time) *PlanRepo {
	r.now = now
	return r
}

// Save stores a newly generated plan. Plans are immutable and never
// deleted; saving an existing plan ID is a conflict.
func (r *PlanRepo) Save(ctx context.Context, tenantID string, plan *contracts.Plan) error {
	if tenantID != r.tenantID {
		return fmt.Errorf("%w: plan for tenant %q", ErrNotFound, tenantID)
	}
	body, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("repository: marshal plan: %w", err)
	}
	approvals, err := json.Marshal(approvalsOrEmpty(plan.Approvals))
	if err != nil {
		return fmt.Errorf("repository: marshal approvals: %w", err)
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	query := `INSERT INTO plans (tenant_id, plan_id, base_sha, target_sha, plan_json, approvals_json, auto_approved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, plan.PlanID, plan.Base, plan.Target, string(body),
		string(approvals), plan.AutoApproved, now().UTC())
	return translateErr(err)
}

// Get loads one plan. The stored approvals and auto_approved flag
// override whatever the immutable body carried at save time.
func (r *PlanRepo) Get(ctx context.Context, tenantID, planID string) (*contracts.Plan, error) {
	if tenantID != r.tenantID {
		return nil, ErrNotFound
	}
	query := `SELECT plan_json, approvals_json, auto_approved FROM plans WHERE tenant_id = $1 AND plan_id = $2`
	var body, approvals string
	var autoApproved bool
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID, planID).
		Scan(&body, &approvals, &autoApproved)
	if err != nil {
		return nil, translateErr(err)
	}
	var plan contracts.Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, fmt.Errorf("repository: decode plan %s: %w", planID, err)
	}
	if err := json.Unmarshal([]byte(approvals), &plan.Approvals); err != nil {
		return nil, fmt.Errorf("repository: decode approvals %s: %w", planID, err)
	}
	plan.AutoApproved = autoApproved
	return &plan, nil
}

// SetApprovals replaces the approvals list and auto_approved flag.
func (r *PlanRepo) SetApprovals(ctx context.Context, tenantID, planID string, approvals []contracts.Approval, autoApproved bool) error {
	if tenantID != r.tenantID {
		return ErrNotFound
	}
	body, err := json.Marshal(approvalsOrEmpty(approvals))
	if err != nil {
		return fmt.Errorf("repository: marshal approvals: %w", err)
	}
	query := `UPDATE plans SET approvals_json = $1, auto_approved = $2 WHERE tenant_id = $3 AND plan_id = $4`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		string(body), autoApproved, r.tenantID, planID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns plan IDs for the tenant, newest first.
func (r *PlanRepo) List(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT plan_id FROM plans WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), r.tenantID, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func approvalsOrEmpty(a []contracts.Approval) []contracts.Approval {
	if a == nil {
		return []contracts.Approval{}
	}
	return a
}
