package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// RunRepo persists step execution records for one tenant.
type RunRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

const runColumns = `tenant_id, run_id, plan_id, step_id, model_name, status,
	started_at, finished_at, external_run_id, error_message, logs_uri, cost_usd`

// Create inserts a new run record, normally in PENDING.
func (r *RunRepo) Create(ctx context.Context, run *contracts.RunRecord) error {
	query := `INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, run.RunID, run.PlanID, run.StepID, run.ModelName, string(run.Status),
		run.StartedAt, run.FinishedAt, run.ExternalRunID, run.ErrorMessage, run.LogsURI, run.CostUSD)
	return translateErr(err)
}

// SetStatus moves a run to a new status. Terminal runs are frozen: a
// transition out of SUCCESS, FAIL or CANCELLED is rejected.
func (r *RunRepo) SetStatus(ctx context.Context, runID string, status contracts.RunStatus, errorMessage string, finishedAt *time.Time) error {
	current, err := r.Get(ctx, runID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("repository: run %s is terminal (%s)", runID, current.Status)
	}
	query := `UPDATE runs SET status = $1, error_message = $2, finished_at = $3
		WHERE tenant_id = $4 AND run_id = $5`
	_, err = r.db.ExecContext(ctx, rebind(r.dialect, query),
		string(status), errorMessage, finishedAt, r.tenantID, runID)
	return translateErr(err)
}

// SetExternalRunID records the backend's identifier once submission
// succeeds, and marks the run RUNNING.
func (r *RunRepo) SetExternalRunID(ctx context.Context, runID, externalRunID string, startedAt time.Time) error {
	query := `UPDATE runs SET external_run_id = $1, status = $2, started_at = $3
		WHERE tenant_id = $4 AND run_id = $5`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		externalRunID, string(contracts.RunRunning), startedAt, r.tenantID, runID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLogsURI records where a run's archived logs live. The run row is
// otherwise untouched.
func (r *RunRepo) SetLogsURI(ctx context.Context, runID, uri string) error {
	query := `UPDATE runs SET logs_uri = $1 WHERE tenant_id = $2 AND run_id = $3`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query), uri, r.tenantID, runID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads one run.
func (r *RunRepo) Get(ctx context.Context, runID string) (*contracts.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1 AND run_id = $2`
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, translateErr(err)
	}
	return run, nil
}

// ListByPlan returns a plan's runs ordered by model name.
func (r *RunRepo) ListByPlan(ctx context.Context, planID string) ([]contracts.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1 AND plan_id = $2 ORDER BY model_name`
	return r.list(ctx, query, r.tenantID, planID)
}

// RecentExternalRuns returns runs with an external run ID started at or
// after the cutoff. This feeds reconciliation.
func (r *RunRepo) RecentExternalRuns(ctx context.Context, tenantID string, since time.Time) ([]contracts.RunRecord, error) {
	if tenantID != r.tenantID {
		return nil, nil
	}
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE tenant_id = $1 AND external_run_id <> '' AND started_at >= $2
		ORDER BY started_at`
	return r.list(ctx, query, r.tenantID, since)
}

// Stats aggregates historical successful runs of one model for the
// planner's cost estimates.
func (r *RunRepo) Stats(ctx context.Context, modelName string) (contracts.RunStats, error) {
	elapsed := `EXTRACT(EPOCH FROM (finished_at - started_at))`
	if r.dialect == DialectSQLite {
		elapsed = `(julianday(finished_at) - julianday(started_at)) * 86400`
	}
	query := `SELECT COALESCE(AVG(` + elapsed + `), 0), COUNT(*) FROM runs
		WHERE tenant_id = $1 AND model_name = $2 AND status = $3`
	var stats contracts.RunStats
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query),
		r.tenantID, modelName, string(contracts.RunSuccess)).
		Scan(&stats.AvgRuntimeSeconds, &stats.RunCount)
	return stats, translateErr(err)
}

func (r *RunRepo) list(ctx context.Context, query string, args ...any) ([]contracts.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var runs []contracts.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*contracts.RunRecord, error) {
	var run contracts.RunRecord
	var status string
	var started, finished sql.NullTime
	err := row.Scan(&run.TenantID, &run.RunID, &run.PlanID, &run.StepID, &run.ModelName, &status,
		&started, &finished, &run.ExternalRunID, &run.ErrorMessage, &run.LogsURI, &run.CostUSD)
	if err != nil {
		return nil, err
	}
	run.Status = contracts.RunStatus(status)
	if started.Valid {
		t := started.Time
		run.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
