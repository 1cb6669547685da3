package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/reconcile"
)

// CheckRepo persists reconciliation checks, schema drift records and
// reconciliation schedules for one tenant. It implements the
// reconciliation service's CheckStore and the scheduler's
// ScheduleStore.
type CheckRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

// SaveCheck stores one reconciliation outcome.
func (r *CheckRepo) SaveCheck(ctx context.Context, check *contracts.ReconciliationCheck) error {
	query := `INSERT INTO reconciliation_checks
		(tenant_id, check_id, run_id, model_name, expected_status, warehouse_status,
		 discrepancy_type, resolved, resolved_by, resolved_at, resolution_note, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, check.CheckID, check.RunID, check.ModelName,
		string(check.ExpectedStatus), string(check.WarehouseStatus),
		string(check.Discrepancy), check.Resolved, check.ResolvedBy,
		check.ResolvedAt, check.ResolutionNote, check.CheckedAt.UTC())
	return translateErr(err)
}

// OpenChecks lists unresolved discrepancies, newest first.
func (r *CheckRepo) OpenChecks(ctx context.Context, limit int) ([]contracts.ReconciliationCheck, error) {
	query := `SELECT tenant_id, check_id, run_id, model_name, expected_status, warehouse_status,
		discrepancy_type, resolved, resolved_by, resolved_at, resolution_note, checked_at
		FROM reconciliation_checks
		WHERE tenant_id = $1 AND resolved = FALSE
		ORDER BY checked_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), r.tenantID, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var checks []contracts.ReconciliationCheck
	for rows.Next() {
		var c contracts.ReconciliationCheck
		var expected, warehouse, disc string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&c.TenantID, &c.CheckID, &c.RunID, &c.ModelName, &expected, &warehouse,
			&disc, &c.Resolved, &c.ResolvedBy, &resolvedAt, &c.ResolutionNote, &c.CheckedAt); err != nil {
			return nil, err
		}
		c.ExpectedStatus = contracts.RunStatus(expected)
		c.WarehouseStatus = contracts.RunStatus(warehouse)
		c.Discrepancy = contracts.DiscrepancyType(disc)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			c.ResolvedAt = &t
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// Resolve marks a check resolved with a note.
func (r *CheckRepo) Resolve(ctx context.Context, checkID, resolvedBy, note string, at time.Time) error {
	query := `UPDATE reconciliation_checks
		SET resolved = TRUE, resolved_by = $1, resolution_note = $2, resolved_at = $3
		WHERE tenant_id = $4 AND check_id = $5`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query), resolvedBy, note, at.UTC(), r.tenantID, checkID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDrift stores one schema drift record.
func (r *CheckRepo) SaveDrift(ctx context.Context, drift *contracts.SchemaDrift) error {
	query := `INSERT INTO schema_drift
		(tenant_id, drift_id, model_name, expected_columns_json, actual_columns_json,
		 drift_type, drift_details_json, resolved, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, drift.DriftID, drift.ModelName, drift.ExpectedColumns, drift.ActualColumns,
		string(drift.Drift), drift.Details, drift.Resolved, drift.DetectedAt.UTC())
	return translateErr(err)
}

// DueSchedules returns enabled schedules whose next run is at or before
// now. A schedule that has never run (NULL next_run_at) is always due.
func (r *CheckRepo) DueSchedules(ctx context.Context, now time.Time) ([]reconcile.Schedule, error) {
	query := `SELECT schedule_id, tenant_id, cron_expr, enabled, last_run_at, next_run_at
		FROM reconciliation_schedules
		WHERE tenant_id = $1 AND enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $2)
		ORDER BY schedule_id`
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), r.tenantID, now.UTC())
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []reconcile.Schedule
	for rows.Next() {
		var s reconcile.Schedule
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&s.ID, &s.TenantID, &s.CronExpr, &s.Enabled, &lastRun, &nextRun); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			t := lastRun.Time
			s.LastRunAt = &t
		}
		if nextRun.Valid {
			s.NextRunAt = nextRun.Time
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// MarkRun records a schedule execution and its next due time.
func (r *CheckRepo) MarkRun(ctx context.Context, scheduleID string, lastRun, nextRun time.Time) error {
	query := `UPDATE reconciliation_schedules SET last_run_at = $1, next_run_at = $2
		WHERE tenant_id = $3 AND schedule_id = $4`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query), lastRun.UTC(), nextRun.UTC(), r.tenantID, scheduleID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleSource lists due schedules across every tenant. The
// server-wide scheduler consumes it, so like TenantSource it carries a
// bare handle instead of a bound tenant.
type ScheduleSource struct {
	db      *sql.DB
	dialect Dialect
}

// NewScheduleSource creates a cross-tenant schedule source.
func NewScheduleSource(db *sql.DB, dialect Dialect) *ScheduleSource {
	return &ScheduleSource{db: db, dialect: dialect}
}

// DueSchedules returns every tenant's enabled schedules due at or
// before now.
func (s *ScheduleSource) DueSchedules(ctx context.Context, now time.Time) ([]reconcile.Schedule, error) {
	query := `SELECT schedule_id, tenant_id, cron_expr, enabled, last_run_at, next_run_at
		FROM reconciliation_schedules
		WHERE enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY schedule_id`
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, query), now.UTC())
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []reconcile.Schedule
	for rows.Next() {
		var sched reconcile.Schedule
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&sched.ID, &sched.TenantID, &sched.CronExpr, &sched.Enabled, &lastRun, &nextRun); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			t := lastRun.Time
			sched.LastRunAt = &t
		}
		if nextRun.Valid {
			sched.NextRunAt = nextRun.Time
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// MarkRun records a schedule execution and its next due time.
func (s *ScheduleSource) MarkRun(ctx context.Context, scheduleID string, lastRun, nextRun time.Time) error {
	query := `UPDATE reconciliation_schedules SET last_run_at = $1, next_run_at = $2
		WHERE schedule_id = $3`
	res, err := s.db.ExecContext(ctx, rebind(s.dialect, query), lastRun.UTC(), nextRun.UTC(), scheduleID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSchedule upserts a schedule for its declared tenant. Startup
// seeding from a schedule file goes through here.
func (s *ScheduleSource) SaveSchedule(ctx context.Context, sched reconcile.Schedule) error {
	if _, err := reconcile.NextRun(sched.CronExpr, time.Now()); err != nil {
		return err
	}
	query := `INSERT INTO reconciliation_schedules (tenant_id, schedule_id, cron_expr, enabled, last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (schedule_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			cron_expr = EXCLUDED.cron_expr,
			enabled = EXCLUDED.enabled`
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, query),
		sched.TenantID, sched.ID, sched.CronExpr, sched.Enabled, sched.LastRunAt, sched.NextRunAt)
	return translateErr(err)
}

// SaveSchedule upserts a reconciliation schedule after validating its
// cron expression.
func (r *CheckRepo) SaveSchedule(ctx context.Context, s reconcile.Schedule) error {
	if _, err := reconcile.NextRun(s.CronExpr, time.Now()); err != nil {
		return err
	}
	query := `INSERT INTO reconciliation_schedules (tenant_id, schedule_id, cron_expr, enabled, last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (schedule_id) DO UPDATE SET
			cron_expr = EXCLUDED.cron_expr,
			enabled = EXCLUDED.enabled`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, s.ID, s.CronExpr, s.Enabled, s.LastRunAt, s.NextRunAt)
	return translateErr(err)
}
