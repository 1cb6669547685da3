package contracts

import "time"

// TenantConfig holds per-tenant overrides. A nil pointer field means
// "no override, fall back to the tier default". DeactivatedAt implements
// soft delete; deactivated tenants fail all admission checks.
type TenantConfig struct {
	TenantID            string     `json:"tenant_id"`
	LLMEnabled          bool       `json:"llm_enabled"`
	LLMDailyBudgetUSD   *float64   `json:"llm_daily_budget_usd,omitempty"`
	LLMMonthlyBudgetUSD *float64   `json:"llm_monthly_budget_usd,omitempty"`
	PlanQuotaMonthly    *int64     `json:"plan_quota_monthly,omitempty"`
	AIQuotaMonthly      *int64     `json:"ai_quota_monthly,omitempty"`
	APIQuotaMonthly     *int64     `json:"api_quota_monthly,omitempty"`
	MaxSeats            *int64     `json:"max_seats,omitempty"`
	MaxModels           *int64     `json:"max_models,omitempty"`
	DeactivatedAt       *time.Time `json:"deactivated_at,omitempty"`
}

// PlanTier identifies a billing tier.
type PlanTier string

const (
	TierCommunity  PlanTier = "community"
	TierTeam       PlanTier = "team"
	TierEnterprise PlanTier = "enterprise"
)

// BillingCustomer links a tenant to its Stripe subscription.
type BillingCustomer struct {
	TenantID             string    `json:"tenant_id"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	PlanTier             PlanTier  `json:"plan_tier"`
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
}

// Role is the coarse per-tenant authorization role carried in tokens.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleEditor  Role = "EDITOR"
	RoleViewer  Role = "VIEWER"
	RoleService Role = "SERVICE"
)

// User is a human account within a tenant.
type User struct {
	TenantID     string     `json:"tenant_id"`
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	DisabledAt   *time.Time `json:"disabled_at,omitempty"`
}

// AuditEntry is one immutable audit log row.
type AuditEntry struct {
	TenantID  string    `json:"tenant_id"`
	EntryID   string    `json:"entry_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
