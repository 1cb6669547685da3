package quota_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/quota"
)

type staticConfigs struct {
	cfg  contracts.TenantConfig
	tier contracts.PlanTier
}

func (s staticConfigs) TenantConfig(_ context.Context, _ string) (*contracts.TenantConfig, error) {
	cfg := s.cfg
	return &cfg, nil
}

func (s staticConfigs) TenantTier(_ context.Context, _ string) (contracts.PlanTier, error) {
	return s.tier, nil
}

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }
func fixedNow() time.Time    { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

func newService(t *testing.T, configs quota.ConfigSource) (*quota.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return quota.NewService(db, configs, quota.WithClock(fixedNow)), mock
}

func expectLockedCount(mock sqlmock.Sqlmock, query string, count int64) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
	mock.ExpectCommit()
}

func TestCheckSeatQuota_CommunityFull(t *testing.T) {
	svc, mock := newService(t, staticConfigs{tier: contracts.TierCommunity})
	expectLockedCount(mock, "SELECT COUNT(*) FROM users", 1)

	d, err := svc.CheckSeatQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Seat limit reached (1/1). Upgrade your plan to add more users.", d.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSeatQuota_UnderLimit(t *testing.T) {
	svc, mock := newService(t, staticConfigs{tier: contracts.TierTeam})
	expectLockedCount(mock, "SELECT COUNT(*) FROM users", 3)

	d, err := svc.CheckSeatQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
	assert.Equal(t, int64(3), d.Current)
	assert.Equal(t, int64(10), d.Limit)
}

func TestCheckPlanQuota_StrictBoundary(t *testing.T) {
	// current == limit must deny: admission is current < limit.
	svc, mock := newService(t, staticConfigs{tier: contracts.TierCommunity})
	expectLockedCount(mock, "SELECT COUNT(*) FROM metering_events", 100)

	d, err := svc.CheckPlanQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "plan_run quota exceeded (100/100)")
}

func TestCheckPlanQuota_LastSlotAllowed(t *testing.T) {
	svc, mock := newService(t, staticConfigs{tier: contracts.TierCommunity})
	expectLockedCount(mock, "SELECT COUNT(*) FROM metering_events", 99)

	d, err := svc.CheckPlanQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckQuota_OverrideBeatsTierDefault(t *testing.T) {
	svc, mock := newService(t, staticConfigs{
		cfg:  contracts.TenantConfig{PlanQuotaMonthly: i64(2)},
		tier: contracts.TierTeam,
	})
	expectLockedCount(mock, "SELECT COUNT(*) FROM metering_events", 2)

	d, err := svc.CheckPlanQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(2), d.Limit)
}

func TestCheckQuota_EnterpriseUnlimitedSkipsUsageRead(t *testing.T) {
	svc, mock := newService(t, staticConfigs{tier: contracts.TierEnterprise})

	// No Begin expected: unlimited short-circuits before touching the DB.
	d, err := svc.CheckPlanQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(-1), d.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckQuota_ModelLimit(t *testing.T) {
	svc, mock := newService(t, staticConfigs{tier: contracts.TierCommunity})
	expectLockedCount(mock, "SELECT COUNT(*) FROM models", 5)

	d, err := svc.CheckModelQuota(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Model limit reached (5/5). Upgrade your plan to add more models.", d.Reason)
}

func TestCheckQuota_DeactivatedTenant(t *testing.T) {
	deactivated := fixedNow()
	svc, _ := newService(t, staticConfigs{
		cfg:  contracts.TenantConfig{DeactivatedAt: &deactivated},
		tier: contracts.TierEnterprise,
	})

	d, err := svc.CheckPlanQuota(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, quota.ErrTenantDeactivated)
	assert.False(t, d.Allowed)
}

func TestCheckLLMBudget_DisabledTenant(t *testing.T) {
	svc, _ := newService(t, staticConfigs{tier: contracts.TierTeam})

	d, err := svc.CheckLLMBudget(context.Background(), "tenant-1", 0.10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "LLM features are not enabled for this tenant", d.Reason)
}

func TestCheckLLMBudget_NoBudgetsConfigured(t *testing.T) {
	svc, mock := newService(t, staticConfigs{
		cfg:  contracts.TenantConfig{LLMEnabled: true},
		tier: contracts.TierTeam,
	})

	d, err := svc.CheckLLMBudget(context.Background(), "tenant-1", 0.10)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckLLMBudget_DailyExceeded(t *testing.T) {
	svc, mock := newService(t, staticConfigs{
		cfg: contracts.TenantConfig{
			LLMEnabled:        true,
			LLMDailyBudgetUSD: f64(5.00),
		},
		tier: contracts.TierTeam,
	})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(cost_usd), 0) FROM metering_events")).
		WithArgs("tenant-1", "AI_CALL", "2025-06-15").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(4.95))
	mock.ExpectCommit()

	d, err := svc.CheckLLMBudget(context.Background(), "tenant-1", 0.10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Daily LLM budget exceeded ($4.95/$5.00)", d.Reason)
}

func TestCheckLLMBudget_MonthlyExceededAfterDailyPasses(t *testing.T) {
	svc, mock := newService(t, staticConfigs{
		cfg: contracts.TenantConfig{
			LLMEnabled:          true,
			LLMDailyBudgetUSD:   f64(100.00),
			LLMMonthlyBudgetUSD: f64(50.00),
		},
		tier: contracts.TierTeam,
	})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(cost_usd), 0) FROM metering_events")).
		WithArgs("tenant-1", "AI_CALL", "2025-06-15").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(2.00))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(cost_usd), 0) FROM metering_events")).
		WithArgs("tenant-1", "AI_CALL", "2025-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(49.99))
	mock.ExpectCommit()

	d, err := svc.CheckLLMBudget(context.Background(), "tenant-1", 0.10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Monthly LLM budget exceeded ($49.99/$50.00)", d.Reason)
}

func TestLockKeyDomainSeparation(t *testing.T) {
	assert.NotEqual(t,
		quota.LockKey("ab", quota.EventType("c")),
		quota.LockKey("a", quota.EventType("bc")))
	assert.Equal(t,
		quota.LockKey("t1", quota.EventPlanRun),
		quota.LockKey("t1", quota.EventPlanRun))
}
