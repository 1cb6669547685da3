// Package plans manages the plan lifecycle: persistence, the approvals
// loop, auto-approval policy, and the pre-flight apply gate.
//
// A plan is written once and never deleted. Only the approvals list and
// the auto_approved flag mutate afterwards; the deterministic envelope
// (steps, summary, IDs) is immutable.
package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/quota"
)

var (
	// ErrNotFound is returned for an unknown plan within the tenant.
	ErrNotFound = errors.New("plans: plan not found")
	// ErrForbidden is returned when the actor's role cannot perform the
	// operation.
	ErrForbidden = errors.New("plans: role not permitted")
	// ErrAlreadyApproved is returned when a user approves twice.
	ErrAlreadyApproved = errors.New("plans: user already approved this plan")
	// ErrNotApproved blocks apply of a plan with no approval.
	ErrNotApproved = errors.New("plans: plan requires approval before apply")
	// ErrContractBlocked blocks apply when breaking contract violations
	// are present.
	ErrContractBlocked = errors.New("plans: breaking contract violations block apply")
	// ErrQuotaExceeded blocks apply when the tenant is over quota.
	ErrQuotaExceeded = errors.New("plans: quota exceeded")
	// ErrLicense blocks apply when the license check fails.
	ErrLicense = errors.New("plans: license check failed")
)

// Store persists plans, tenant-scoped.
type Store interface {
	Save(ctx context.Context, tenantID string, plan *contracts.Plan) error
	Get(ctx context.Context, tenantID, planID string) (*contracts.Plan, error)
	SetApprovals(ctx context.Context, tenantID, planID string, approvals []contracts.Approval, autoApproved bool) error
}

// QuotaGate is the slice of the quota service the apply gate needs.
type QuotaGate interface {
	CheckPlanQuota(ctx context.Context, tenantID string) (quota.Decision, error)
}

// LicenseGate verifies the tenant's license entitles another plan run.
type LicenseGate interface {
	AuthorizePlanRun(ctx context.Context, tenantID string) error
}

// Submitter hands an approved plan to the execution backend.
type Submitter interface {
	SubmitPlanAsJob(ctx context.Context, tenantID string, plan *contracts.Plan) (externalRunID string, err error)
}

// Meter records usage events, best-effort.
type Meter interface {
	Record(tenantID string, event contracts.MeteringEventType, quantity int64, metadata map[string]string)
}

// Service wires the lifecycle together.
type Service struct {
	store    Store
	policy   *AutoApprovePolicy // nil = auto-approval disabled
	quota    QuotaGate
	license  LicenseGate
	executor Submitter
	meter    Meter
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAutoApprovePolicy enables policy-based auto-approval.
func WithAutoApprovePolicy(p *AutoApprovePolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a plan lifecycle service.
func NewService(store Store, q QuotaGate, lic LicenseGate, exec Submitter, meter Meter, opts ...Option) *Service {
	s := &Service{
		store:    store,
		quota:    q,
		license:  lic,
		executor: exec,
		meter:    meter,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a freshly generated plan, evaluating the auto-approve
// policy first. Policy evaluation errors fail closed to manual review.
func (s *Service) Create(ctx context.Context, tenantID string, plan *contracts.Plan) error {
	if s.policy != nil {
		approved, err := s.policy.Evaluate(plan)
		if err != nil {
			s.logger.Warn("auto-approve policy evaluation failed, requiring manual approval",
				"tenant_id", tenantID, "plan_id", plan.PlanID, "error", err)
		}
		plan.AutoApproved = approved && err == nil
	}
	if err := s.store.Save(ctx, tenantID, plan); err != nil {
		return fmt.Errorf("plans: save plan %s: %w", plan.PlanID, err)
	}
	s.meter.Record(tenantID, contracts.MeterPlanRun, 1, map[string]string{"plan_id": plan.PlanID})
	s.logger.Info("plan created",
		"tenant_id", tenantID, "plan_id", plan.PlanID,
		"steps", plan.Summary.TotalSteps, "auto_approved", plan.AutoApproved)
	return nil
}

// Get retrieves a plan within the tenant.
func (s *Service) Get(ctx context.Context, tenantID, planID string) (*contracts.Plan, error) {
	plan, err := s.store.Get(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrNotFound
	}
	return plan, nil
}

// Approve records one reviewer's sign-off. Viewers and service
// accounts cannot approve; a user approves at most once.
func (s *Service) Approve(ctx context.Context, tenantID, planID string, actor contracts.User, comment string) (*contracts.Plan, error) {
	if actor.Role != contracts.RoleAdmin && actor.Role != contracts.RoleEditor {
		return nil, fmt.Errorf("%w: %s cannot approve plans", ErrForbidden, actor.Role)
	}
	plan, err := s.Get(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	for _, a := range plan.Approvals {
		if a.UserID == actor.UserID {
			return nil, ErrAlreadyApproved
		}
	}
	plan.Approvals = append(plan.Approvals, contracts.Approval{
		UserID:     actor.UserID,
		ApprovedAt: s.now().UTC().Format(time.RFC3339),
		Comment:    comment,
	})
	if err := s.store.SetApprovals(ctx, tenantID, planID, plan.Approvals, plan.AutoApproved); err != nil {
		return nil, fmt.Errorf("plans: record approval: %w", err)
	}
	s.logger.Info("plan approved",
		"tenant_id", tenantID, "plan_id", planID, "user_id", actor.UserID)
	return plan, nil
}

// Apply runs the pre-flight gate and submits the plan to the execution
// backend. Gate order: role, contract violations, approval state,
// quota, license.
func (s *Service) Apply(ctx context.Context, tenantID, planID string, actor contracts.User) (string, error) {
	if actor.Role != contracts.RoleAdmin && actor.Role != contracts.RoleEditor {
		return "", fmt.Errorf("%w: %s cannot apply plans", ErrForbidden, actor.Role)
	}
	plan, err := s.Get(ctx, tenantID, planID)
	if err != nil {
		return "", err
	}
	if plan.Summary.BreakingContractViolations > 0 {
		return "", fmt.Errorf("%w: %d breaking violation(s)", ErrContractBlocked, plan.Summary.BreakingContractViolations)
	}
	if !plan.AutoApproved && len(plan.Approvals) == 0 {
		return "", ErrNotApproved
	}

	decision, err := s.quota.CheckPlanQuota(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("plans: quota check: %w", err)
	}
	if !decision.Allowed {
		return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, decision.Reason)
	}
	if err := s.license.AuthorizePlanRun(ctx, tenantID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLicense, err)
	}

	externalRunID, err := s.executor.SubmitPlanAsJob(ctx, tenantID, plan)
	if err != nil {
		return "", fmt.Errorf("plans: submit plan %s: %w", planID, err)
	}
	s.meter.Record(tenantID, contracts.MeterPlanApply, 1, map[string]string{
		"plan_id":         planID,
		"external_run_id": externalRunID,
	})
	s.logger.Info("plan submitted",
		"tenant_id", tenantID, "plan_id", planID, "external_run_id", externalRunID)
	return externalRunID, nil
}
