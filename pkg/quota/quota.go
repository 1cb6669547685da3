// Package quota enforces per-tenant admission control across plan runs,
// AI calls, API requests, seats, model counts, and LLM spend budgets.
//
// Every check runs inside a transaction holding a transaction-scoped
// advisory lock keyed on (tenant, event type), so two concurrent checks
// at the boundary between N and N+1 cannot both pass. Limits resolve in
// order: explicit tenant override, tier default, unlimited.
package quota

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/tiers"
)

// ErrTenantDeactivated is returned for any check against a soft-deleted
// tenant.
var ErrTenantDeactivated = errors.New("quota: tenant is deactivated")

// EventType identifies what kind of admission is being checked.
type EventType string

const (
	EventPlanRun    EventType = "plan_run"
	EventAICall     EventType = "ai_call"
	EventAPIRequest EventType = "api_request"
	EventSeatCheck  EventType = "seat_check"
	EventModelCheck EventType = "model_check"
)

// Decision is the outcome of one admission check. Reason is empty when
// the check is allowed.
type Decision struct {
	Allowed bool
	Reason  string
	Current int64
	Limit   int64 // -1 = unlimited
}

// ConfigSource resolves tenant configuration and billing tier.
type ConfigSource interface {
	TenantConfig(ctx context.Context, tenantID string) (*contracts.TenantConfig, error)
	TenantTier(ctx context.Context, tenantID string) (contracts.PlanTier, error)
}

// Option configures a Service.
type Option func(*Service)

// WithAdvisoryLocks toggles pg_advisory_xact_lock acquisition. Disable
// it on dialects without advisory locks (SQLite); checks then rely on
// the single-writer property of the embedded database.
func WithAdvisoryLocks(enabled bool) Option {
	return func(s *Service) { s.locking = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service performs quota checks against the usage tables.
type Service struct {
	db      *sql.DB
	configs ConfigSource
	locking bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a quota service. Advisory locking is on by default.
func NewService(db *sql.DB, configs ConfigSource, opts ...Option) *Service {
	s := &Service{
		db:      db,
		configs: configs,
		locking: true,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LockKey derives the advisory lock key for (tenant, event). The NUL
// separator keeps ("ab","c") and ("a","bc") distinct.
func LockKey(tenantID string, event EventType) int64 {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + string(event)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// CheckPlanQuota admits one plan run against the monthly plan quota.
func (s *Service) CheckPlanQuota(ctx context.Context, tenantID string) (Decision, error) {
	return s.checkEvent(ctx, tenantID, EventPlanRun, contracts.MeterPlanRun)
}

// CheckAIQuota admits one AI call against the monthly AI-call quota.
// Spend budgets are checked separately by CheckLLMBudget.
func (s *Service) CheckAIQuota(ctx context.Context, tenantID string) (Decision, error) {
	return s.checkEvent(ctx, tenantID, EventAICall, contracts.MeterAICall)
}

// CheckAPIQuota admits one API request against the monthly API quota.
func (s *Service) CheckAPIQuota(ctx context.Context, tenantID string) (Decision, error) {
	return s.checkEvent(ctx, tenantID, EventAPIRequest, contracts.MeterAPIRequest)
}

// CheckSeatQuota admits creation of one more active user.
func (s *Service) CheckSeatQuota(ctx context.Context, tenantID string) (Decision, error) {
	return s.check(ctx, tenantID, EventSeatCheck, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		var n int64
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND disabled_at IS NULL`,
			tenantID).Scan(&n)
		return n, err
	}, func(current, limit int64) string {
		return fmt.Sprintf("Seat limit reached (%d/%d). Upgrade your plan to add more users.", current, limit)
	})
}

// CheckModelQuota admits registration of one more model.
func (s *Service) CheckModelQuota(ctx context.Context, tenantID string) (Decision, error) {
	return s.check(ctx, tenantID, EventModelCheck, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		var n int64
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM models WHERE tenant_id = $1`,
			tenantID).Scan(&n)
		return n, err
	}, func(current, limit int64) string {
		return fmt.Sprintf("Model limit reached (%d/%d). Upgrade your plan to add more models.", current, limit)
	})
}

// CheckLLMBudget verifies that estimatedCost fits under both the daily
// and the monthly LLM spend budgets. A tenant without LLM enabled is
// always denied; a tenant without budget overrides is unlimited.
func (s *Service) CheckLLMBudget(ctx context.Context, tenantID string, estimatedCost float64) (Decision, error) {
	cfg, err := s.configs.TenantConfig(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: resolve tenant config: %w", err)
	}
	if cfg.DeactivatedAt != nil {
		return Decision{Reason: "tenant is deactivated"}, ErrTenantDeactivated
	}
	if !cfg.LLMEnabled {
		return Decision{Reason: "LLM features are not enabled for this tenant"}, nil
	}
	if cfg.LLMDailyBudgetUSD == nil && cfg.LLMMonthlyBudgetUSD == nil {
		return Decision{Allowed: true, Limit: -1}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lock(ctx, tx, tenantID, EventAICall); err != nil {
		return Decision{}, err
	}

	now := s.now().UTC()
	today := now.Format("2006-01-02")
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")

	if cfg.LLMDailyBudgetUSD != nil {
		spent, err := s.llmSpendSince(ctx, tx, tenantID, today)
		if err != nil {
			return Decision{}, err
		}
		if spent+estimatedCost > *cfg.LLMDailyBudgetUSD {
			return Decision{
				Reason: fmt.Sprintf("Daily LLM budget exceeded ($%.2f/$%.2f)", spent, *cfg.LLMDailyBudgetUSD),
			}, tx.Commit()
		}
	}
	if cfg.LLMMonthlyBudgetUSD != nil {
		spent, err := s.llmSpendSince(ctx, tx, tenantID, monthStart)
		if err != nil {
			return Decision{}, err
		}
		if spent+estimatedCost > *cfg.LLMMonthlyBudgetUSD {
			return Decision{
				Reason: fmt.Sprintf("Monthly LLM budget exceeded ($%.2f/$%.2f)", spent, *cfg.LLMMonthlyBudgetUSD),
			}, tx.Commit()
		}
	}
	return Decision{Allowed: true}, tx.Commit()
}

func (s *Service) llmSpendSince(ctx context.Context, tx *sql.Tx, tenantID, sinceDate string) (float64, error) {
	var spent float64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM metering_events
		 WHERE tenant_id = $1 AND event_type = $2 AND usage_date >= $3`,
		tenantID, string(contracts.MeterAICall), sinceDate).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("quota: read llm spend: %w", err)
	}
	return spent, nil
}

// checkEvent is the shared path for monthly event-count quotas.
func (s *Service) checkEvent(ctx context.Context, tenantID string, event EventType, meter contracts.MeteringEventType) (Decision, error) {
	return s.check(ctx, tenantID, event, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		now := s.now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		var n int64
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM metering_events
			 WHERE tenant_id = $1 AND event_type = $2 AND created_at >= $3`,
			tenantID, string(meter), monthStart).Scan(&n)
		return n, err
	}, func(current, limit int64) string {
		return fmt.Sprintf("Monthly %s quota exceeded (%d/%d)", event, current, limit)
	})
}

func (s *Service) check(ctx context.Context, tenantID string, event EventType,
	usage func(context.Context, *sql.Tx) (int64, error),
	denial func(current, limit int64) string) (Decision, error) {

	cfg, err := s.configs.TenantConfig(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: resolve tenant config: %w", err)
	}
	if cfg.DeactivatedAt != nil {
		return Decision{Reason: "tenant is deactivated"}, ErrTenantDeactivated
	}
	tier, err := s.configs.TenantTier(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: resolve tenant tier: %w", err)
	}
	limit := resolveLimit(cfg, tier, event)
	if tiers.IsUnlimited(limit) {
		return Decision{Allowed: true, Limit: -1}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lock(ctx, tx, tenantID, event); err != nil {
		return Decision{}, err
	}

	current, err := usage(ctx, tx)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: read usage for %s: %w", event, err)
	}
	if err := tx.Commit(); err != nil {
		return Decision{}, fmt.Errorf("quota: commit: %w", err)
	}

	d := Decision{Current: current, Limit: limit}
	if current < limit {
		d.Allowed = true
		return d, nil
	}
	d.Reason = denial(current, limit)
	s.logger.Info("quota denied",
		"tenant_id", tenantID, "event_type", string(event),
		"current", current, "limit", limit)
	return d, nil
}

// lock acquires the transaction-scoped advisory lock. The lock is
// released automatically at commit or rollback.
func (s *Service) lock(ctx context.Context, tx *sql.Tx, tenantID string, event EventType) error {
	if !s.locking {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, LockKey(tenantID, event)); err != nil {
		return fmt.Errorf("quota: acquire advisory lock: %w", err)
	}
	return nil
}

// resolveLimit applies the override-then-tier-default-then-unlimited
// resolution order.
func resolveLimit(cfg *contracts.TenantConfig, tier contracts.PlanTier, event EventType) int64 {
	if v := override(cfg, event); v != nil {
		return *v
	}
	t := tiers.Get(tiers.TierID(tier))
	if t == nil {
		return -1
	}
	switch event {
	case EventPlanRun:
		return t.Limits.PlanRunsMonthly
	case EventAICall:
		return t.Limits.AICallsMonthly
	case EventAPIRequest:
		return t.Limits.APIRequestsMonthly
	case EventSeatCheck:
		return t.Limits.Seats
	case EventModelCheck:
		return t.Limits.Models
	default:
		return -1
	}
}

func override(cfg *contracts.TenantConfig, event EventType) *int64 {
	switch event {
	case EventPlanRun:
		return cfg.PlanQuotaMonthly
	case EventAICall:
		return cfg.AIQuotaMonthly
	case EventAPIRequest:
		return cfg.APIQuotaMonthly
	case EventSeatCheck:
		return cfg.MaxSeats
	case EventModelCheck:
		return cfg.MaxModels
	default:
		return nil
	}
}
