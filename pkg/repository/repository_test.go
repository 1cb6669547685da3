package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

func newRepos(t *testing.T, dialect Dialect) (*Repositories, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repos, err := New(db, dialect, "ten-1")
	require.NoError(t, err)
	return repos, mock
}

func TestNewRequiresTenant(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = New(db, DialectPostgres, "")
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = $1 AND y = $2 AND z = $12`
	assert.Equal(t, q, rebind(DialectPostgres, q))
	assert.Equal(t, `SELECT a FROM t WHERE x = ? AND y = ? AND z = ?`,
		rebind(DialectSQLite, q))
}

func TestTranslateErr(t *testing.T) {
	assert.NoError(t, translateErr(nil))
	assert.ErrorIs(t, translateErr(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, translateErr(&pq.Error{Code: "23505", Constraint: "users_email_key"}), ErrConflict)
	assert.ErrorIs(t, translateErr(errors.New("UNIQUE constraint failed: users.email")), ErrConflict)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, translateErr(plain))
}

func TestModelUpsertBindsTenant(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO models`)).
		WithArgs("ten-1", "staging.orders", "INCREMENTAL_BY_TIME_RANGE", "TABLE",
			"event_date", "", "data-eng", `["finance"]`,
			"models/staging/orders.sql", "SELECT 1", "SELECT 1", "abc123",
			`["raw.orders"]`, `[]`, `["id"]`,
			"STRICT", `[{"name":"id","data_type":"BIGINT","nullable":false}]`, `[]`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repos.Models.Upsert(context.Background(), &contracts.ModelDefinition{
		Name:             "staging.orders",
		Kind:             contracts.KindIncrementalByTime,
		Materialization:  contracts.MaterializationTable,
		TimeColumn:       "event_date",
		Owner:            "data-eng",
		Tags:             []string{"finance"},
		FilePath:         "models/staging/orders.sql",
		RawSQL:           "SELECT 1",
		CleanSQL:         "SELECT 1",
		ContentHash:      "abc123",
		ReferencedTables: []string{"raw.orders"},
		OutputColumns:    []string{"id"},
		ContractMode:     contracts.ContractStrict,
		ContractColumns:  []contracts.ContractColumn{{Name: "id", DataType: "BIGINT"}},
		Tests:            []contracts.TestDefinition{},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelListFilters(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM models WHERE tenant_id = $1 AND kind = $2 AND LOWER(name) LIKE $3 ORDER BY name`)).
		WithArgs("ten-1", "FULL_REFRESH", "%orders%").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "name", "kind", "materialization", "time_column", "unique_key", "owner", "tags",
			"file_path", "raw_sql", "clean_sql", "content_hash", "referenced_tables", "dependencies",
			"output_columns", "contract_mode", "contract_columns", "tests",
		}).AddRow("ten-1", "staging.orders", "FULL_REFRESH", "TABLE", "", "", "", "[]",
			"", "SELECT 1", "SELECT 1", "h", "[]", "[]", "[]", "DISABLED", "[]", "[]"))

	models, err := repos.Models.List(context.Background(), ListFilter{
		Kind: contracts.KindFullRefresh, Search: "Orders",
	})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "staging.orders", models[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepoTenantIsolation(t *testing.T) {
	repos, _ := newRepos(t, DialectPostgres)

	err := repos.Plans.Save(context.Background(), "other-tenant", &contracts.Plan{PlanID: "p1"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repos.Plans.Get(context.Background(), "other-tenant", "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repos.Plans.SetApprovals(context.Background(), "other-tenant", "p1", nil, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlanSaveAndGet(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repos.Plans.WithClock(func() time.Time { return now })

	plan := &contracts.Plan{PlanID: "abc", Base: "1111", Target: "2222"}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO plans`)).
		WithArgs("ten-1", "abc", "1111", "2222", sqlmock.AnyArg(), "[]", false, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repos.Plans.Save(context.Background(), "ten-1", plan))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT plan_json, approvals_json, auto_approved FROM plans WHERE tenant_id = $1 AND plan_id = $2`)).
		WithArgs("ten-1", "abc").
		WillReturnRows(sqlmock.NewRows([]string{"plan_json", "approvals_json", "auto_approved"}).
			AddRow(`{"plan_id":"abc","base":"1111","target":"2222","steps":null,"summary":{"total_steps":0,"estimated_cost_usd":0,"models_changed":null,"models_removed":null,"cosmetic_changes_skipped":null,"contract_violations_count":0,"breaking_contract_violations":0},"approvals":[],"auto_approved":false}`,
				`[{"user_id":"u1","approved_at":"2025-06-15T12:00:00Z"}]`, true))

	got, err := repos.Plans.Get(context.Background(), "ten-1", "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.PlanID)
	// Mutable columns override the immutable body.
	assert.True(t, got.AutoApproved)
	require.Len(t, got.Approvals, 1)
	assert.Equal(t, "u1", got.Approvals[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetApprovalsMissingPlan(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE plans SET approvals_json = $1, auto_approved = $2 WHERE tenant_id = $3 AND plan_id = $4`)).
		WithArgs(`[]`, false, "ten-1", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repos.Plans.SetApprovals(context.Background(), "ten-1", "ghost", nil, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWatermarkAdvanceRejectsInvertedRange(t *testing.T) {
	repos, _ := newRepos(t, DialectPostgres)
	err := repos.Watermarks.Advance(context.Background(), "m", "2025-06-10", "2025-06-01")
	assert.Error(t, err)
}

func TestWatermarkAdvanceUpsert(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (tenant_id, model_name) DO UPDATE`)).
		WithArgs("ten-1", "staging.orders", "2025-06-01", "2025-06-10").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repos.Watermarks.Advance(context.Background(), "staging.orders", "2025-06-01", "2025-06-10")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repos.Users.Create(context.Background(), &contracts.User{
		UserID: "u1", Email: "Dup@Example.com", Role: contracts.RoleAdmin,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserEmailLowercased(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "user_id", "email", "password_hash", "role", "created_at", "disabled_at",
		}).AddRow("ten-1", "u1", "ada@example.com", "hash", "ADMIN", time.Now(), nil))

	u, err := repos.Users.GetByEmail(context.Background(), "Ada@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, contracts.RoleAdmin, u.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantTierDefaultsToCommunity(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT plan_tier FROM billing_customers WHERE tenant_id = $1`)).
		WithArgs("ten-1").
		WillReturnError(sql.ErrNoRows)

	tier, err := repos.Tenants.TenantTier(context.Background(), "ten-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.TierCommunity, tier)
}

func TestTenantConfigMissingRowIsZeroConfig(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenant_configs WHERE tenant_id = $1`)).
		WithArgs("ten-1").
		WillReturnError(sql.ErrNoRows)

	cfg, err := repos.Tenants.TenantConfig(context.Background(), "ten-1")
	require.NoError(t, err)
	assert.Equal(t, "ten-1", cfg.TenantID)
	assert.Nil(t, cfg.PlanQuotaMonthly)
	assert.False(t, cfg.LLMEnabled)
}

func TestRunSetStatusRejectsTerminalTransition(t *testing.T) {
	repos, mock := newRepos(t, DialectPostgres)
	finished := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM runs WHERE tenant_id = $1 AND run_id = $2`)).
		WithArgs("ten-1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "run_id", "plan_id", "step_id", "model_name", "status",
			"started_at", "finished_at", "external_run_id", "error_message", "logs_uri", "cost_usd",
		}).AddRow("ten-1", "r1", "p1", "s1", "m", "SUCCESS", nil, finished, "ext-1", "", "", 1.5))

	err := repos.Runs.SetStatus(context.Background(), "r1", contracts.RunFail, "late failure", &finished)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantByStripeCustomer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant_id FROM billing_customers WHERE stripe_customer_id = $1`)).
		WithArgs("cus_123").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("ten-9"))

	tenantID, err := TenantByStripeCustomer(context.Background(), db, DialectPostgres, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "ten-9", tenantID)
}

func TestBindSessionSQLiteNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	assert.NoError(t, BindSession(context.Background(), tx, DialectSQLite, "ten-1"))
}

func TestBindSessionPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT set_config('app.tenant_id', $1, true)`)).
		WithArgs("ten-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Begin()
	require.NoError(t, err)
	assert.NoError(t, BindSession(context.Background(), tx, DialectPostgres, "ten-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
