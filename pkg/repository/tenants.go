package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// TenantRepo persists the tenant's own configuration and billing
// linkage. It also implements the quota service's ConfigSource.
type TenantRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

const configColumns = `tenant_id, llm_enabled, llm_daily_budget_usd, llm_monthly_budget_usd,
	plan_quota_monthly, ai_quota_monthly, api_quota_monthly, max_seats, max_models, deactivated_at`

// TenantConfig returns the tenant's configuration. A tenant with no
// explicit row gets the zero config (no overrides, LLM disabled).
func (r *TenantRepo) TenantConfig(ctx context.Context, tenantID string) (*contracts.TenantConfig, error) {
	if tenantID != r.tenantID {
		return nil, ErrNotFound
	}
	query := `SELECT ` + configColumns + ` FROM tenant_configs WHERE tenant_id = $1`
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID)

	var c contracts.TenantConfig
	var daily, monthly sql.NullFloat64
	var planQ, aiQ, apiQ, seats, models sql.NullInt64
	var deactivated sql.NullTime
	err := row.Scan(&c.TenantID, &c.LLMEnabled, &daily, &monthly,
		&planQ, &aiQ, &apiQ, &seats, &models, &deactivated)
	if errors.Is(err, sql.ErrNoRows) {
		return &contracts.TenantConfig{TenantID: r.tenantID}, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	c.LLMDailyBudgetUSD = nullFloat(daily)
	c.LLMMonthlyBudgetUSD = nullFloat(monthly)
	c.PlanQuotaMonthly = nullInt(planQ)
	c.AIQuotaMonthly = nullInt(aiQ)
	c.APIQuotaMonthly = nullInt(apiQ)
	c.MaxSeats = nullInt(seats)
	c.MaxModels = nullInt(models)
	if deactivated.Valid {
		t := deactivated.Time
		c.DeactivatedAt = &t
	}
	return &c, nil
}

// SaveConfig upserts the tenant configuration row.
func (r *TenantRepo) SaveConfig(ctx context.Context, c *contracts.TenantConfig) error {
	query := `INSERT INTO tenant_configs (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id) DO UPDATE SET
			llm_enabled = EXCLUDED.llm_enabled,
			llm_daily_budget_usd = EXCLUDED.llm_daily_budget_usd,
			llm_monthly_budget_usd = EXCLUDED.llm_monthly_budget_usd,
			plan_quota_monthly = EXCLUDED.plan_quota_monthly,
			ai_quota_monthly = EXCLUDED.ai_quota_monthly,
			api_quota_monthly = EXCLUDED.api_quota_monthly,
			max_seats = EXCLUDED.max_seats,
			max_models = EXCLUDED.max_models,
			deactivated_at = EXCLUDED.deactivated_at`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, c.LLMEnabled, c.LLMDailyBudgetUSD, c.LLMMonthlyBudgetUSD,
		c.PlanQuotaMonthly, c.AIQuotaMonthly, c.APIQuotaMonthly,
		c.MaxSeats, c.MaxModels, c.DeactivatedAt)
	return translateErr(err)
}

// Deactivate soft-deletes the tenant. All admission checks fail from
// that point; the row is never removed.
func (r *TenantRepo) Deactivate(ctx context.Context, at time.Time) error {
	query := `UPDATE tenant_configs SET deactivated_at = $1 WHERE tenant_id = $2`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query), at.UTC(), r.tenantID)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TenantTier resolves the tenant's billing tier: the active Stripe
// subscription's tier, community when none exists.
func (r *TenantRepo) TenantTier(ctx context.Context, tenantID string) (contracts.PlanTier, error) {
	if tenantID != r.tenantID {
		return "", ErrNotFound
	}
	query := `SELECT plan_tier FROM billing_customers WHERE tenant_id = $1`
	var tier string
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.TierCommunity, nil
	}
	if err != nil {
		return "", translateErr(err)
	}
	return contracts.PlanTier(tier), nil
}

// BillingCustomer returns the tenant's Stripe linkage.
func (r *TenantRepo) BillingCustomer(ctx context.Context) (*contracts.BillingCustomer, error) {
	query := `SELECT tenant_id, stripe_customer_id, stripe_subscription_id, plan_tier, period_start, period_end
		FROM billing_customers WHERE tenant_id = $1`
	return scanBillingCustomer(r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID))
}

// SaveBillingCustomer upserts the Stripe linkage row.
func (r *TenantRepo) SaveBillingCustomer(ctx context.Context, c *contracts.BillingCustomer) error {
	query := `INSERT INTO billing_customers (tenant_id, stripe_customer_id, stripe_subscription_id, plan_tier, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			plan_tier = EXCLUDED.plan_tier,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, c.StripeCustomerID, c.StripeSubscriptionID,
		string(c.PlanTier), c.PeriodStart.UTC(), c.PeriodEnd.UTC())
	return translateErr(err)
}

// TenantSource resolves configuration and tier for any tenant. The
// quota service serves every tenant from one instance, so it cannot
// use a tenant-bound TenantRepo.
type TenantSource struct {
	db      *sql.DB
	dialect Dialect
}

// NewTenantSource creates a cross-tenant configuration source.
func NewTenantSource(db *sql.DB, dialect Dialect) *TenantSource {
	return &TenantSource{db: db, dialect: dialect}
}

// TenantConfig returns the named tenant's configuration.
func (s *TenantSource) TenantConfig(ctx context.Context, tenantID string) (*contracts.TenantConfig, error) {
	r := &TenantRepo{db: s.db, dialect: s.dialect, tenantID: tenantID}
	return r.TenantConfig(ctx, tenantID)
}

// TenantTier returns the named tenant's billing tier.
func (s *TenantSource) TenantTier(ctx context.Context, tenantID string) (contracts.PlanTier, error) {
	r := &TenantRepo{db: s.db, dialect: s.dialect, tenantID: tenantID}
	return r.TenantTier(ctx, tenantID)
}

// TenantByStripeCustomer resolves a tenant ID from a Stripe customer
// ID. Used by the webhook handler before any tenant-bound repository
// exists, so it is a package function over the bare handle.
func TenantByStripeCustomer(ctx context.Context, db *sql.DB, dialect Dialect, stripeCustomerID string) (string, error) {
	query := `SELECT tenant_id FROM billing_customers WHERE stripe_customer_id = $1`
	var tenantID string
	err := db.QueryRowContext(ctx, rebind(dialect, query), stripeCustomerID).Scan(&tenantID)
	if err != nil {
		return "", translateErr(err)
	}
	return tenantID, nil
}

func scanBillingCustomer(row rowScanner) (*contracts.BillingCustomer, error) {
	var c contracts.BillingCustomer
	var tier string
	var sub sql.NullString
	var start, end sql.NullTime
	err := row.Scan(&c.TenantID, &c.StripeCustomerID, &sub, &tier, &start, &end)
	if err != nil {
		return nil, translateErr(err)
	}
	c.StripeSubscriptionID = sub.String
	c.PlanTier = contracts.PlanTier(tier)
	if start.Valid {
		c.PeriodStart = start.Time
	}
	if end.Valid {
		c.PeriodEnd = end.Time
	}
	return &c, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
