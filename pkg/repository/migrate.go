package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migrations is the ordered DDL for every control-plane table, written
// in the PostgreSQL dialect. Migrate rewrites the handful of type
// names SQLite treats differently; in particular the modernc driver
// only converts TEXT timestamps back to time.Time for columns declared
// DATE, DATETIME or TIMESTAMP, so TIMESTAMPTZ must not reach it.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenant_configs (
		tenant_id TEXT PRIMARY KEY,
		llm_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		llm_daily_budget_usd DOUBLE PRECISION,
		llm_monthly_budget_usd DOUBLE PRECISION,
		plan_quota_monthly BIGINT,
		ai_quota_monthly BIGINT,
		api_quota_monthly BIGINT,
		max_seats BIGINT,
		max_models BIGINT,
		deactivated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS billing_customers (
		tenant_id TEXT PRIMARY KEY,
		stripe_customer_id TEXT NOT NULL UNIQUE,
		stripe_subscription_id TEXT,
		plan_tier TEXT NOT NULL DEFAULT 'community',
		period_start TIMESTAMPTZ,
		period_end TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		tenant_id TEXT NOT NULL,
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		disabled_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		materialization TEXT NOT NULL,
		time_column TEXT NOT NULL DEFAULT '',
		unique_key TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		file_path TEXT NOT NULL DEFAULT '',
		raw_sql TEXT NOT NULL,
		clean_sql TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		referenced_tables TEXT NOT NULL DEFAULT '[]',
		dependencies TEXT NOT NULL DEFAULT '[]',
		output_columns TEXT NOT NULL DEFAULT '[]',
		contract_mode TEXT NOT NULL DEFAULT 'DISABLED',
		contract_columns TEXT NOT NULL DEFAULT '[]',
		tests TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (tenant_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		tenant_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		base_sha TEXT NOT NULL,
		target_sha TEXT NOT NULL,
		plan_json TEXT NOT NULL,
		approvals_json TEXT NOT NULL DEFAULT '[]',
		auto_approved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, plan_id)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		tenant_id TEXT NOT NULL,
		run_id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		model_name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		external_run_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		logs_uri TEXT NOT NULL DEFAULT '',
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_tenant_plan ON runs (tenant_id, plan_id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_tenant_external ON runs (tenant_id, external_run_id)`,
	`CREATE TABLE IF NOT EXISTS watermarks (
		tenant_id TEXT NOT NULL,
		model_name TEXT NOT NULL,
		partition_start TEXT NOT NULL,
		partition_end TEXT NOT NULL,
		PRIMARY KEY (tenant_id, model_name)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		tenant_id TEXT NOT NULL,
		entry_id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_log (tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_checks (
		tenant_id TEXT NOT NULL,
		check_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		model_name TEXT NOT NULL,
		expected_status TEXT NOT NULL,
		warehouse_status TEXT NOT NULL,
		discrepancy_type TEXT NOT NULL DEFAULT '',
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by TEXT NOT NULL DEFAULT '',
		resolved_at TIMESTAMPTZ,
		resolution_note TEXT NOT NULL DEFAULT '',
		checked_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schema_drift (
		tenant_id TEXT NOT NULL,
		drift_id TEXT PRIMARY KEY,
		model_name TEXT NOT NULL,
		expected_columns_json TEXT NOT NULL,
		actual_columns_json TEXT NOT NULL,
		drift_type TEXT NOT NULL,
		drift_details_json TEXT NOT NULL DEFAULT '',
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		detected_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_schedules (
		tenant_id TEXT NOT NULL,
		schedule_id TEXT PRIMARY KEY,
		cron_expr TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS metering_events (
		event_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		usage_date DATE NOT NULL,
		metadata TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metering_events_tenant_type_time
		ON metering_events(tenant_id, event_type, created_at)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		idem_key TEXT PRIMARY KEY,
		status_code BIGINT NOT NULL,
		body BYTEA,
		cached_at TIMESTAMPTZ NOT NULL
	)`,
}

// sqliteDDL rewrites a PostgreSQL DDL statement for SQLite.
func sqliteDDL(stmt string) string {
	stmt = strings.ReplaceAll(stmt, "TIMESTAMPTZ", "TIMESTAMP")
	return strings.ReplaceAll(stmt, "BYTEA", "BLOB")
}

// Migrate creates every control-plane table that does not yet exist.
// Statements are idempotent; Migrate is safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range migrations {
		if dialect == DialectSQLite {
			stmt = sqliteDDL(stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: migrate: %w", err)
		}
	}
	return nil
}
