package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// ErrPlanRunsExhausted is returned when the license's daily plan-run
// allowance is used up.
var ErrPlanRunsExhausted = errors.New("license: daily plan run limit reached")

// UsageSource counts a tenant's applied plan runs for one day.
type UsageSource interface {
	PlanRunsToday(ctx context.Context, tenantID string, day time.Time) (int64, error)
}

// Gate authorizes plan runs against a loaded license file. Expiry is
// re-verified on every call so a license cannot outlive its window
// inside a long-running process.
type Gate struct {
	mgr   *Manager
	lic   *contracts.LicenseFile
	usage UsageSource
	now   func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a license gate over a verified license file.
func NewGate(mgr *Manager, lic *contracts.LicenseFile, usage UsageSource, opts ...GateOption) *Gate {
	g := &Gate{mgr: mgr, lic: lic, usage: usage, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthorizePlanRun permits one more plan run under the license.
func (g *Gate) AuthorizePlanRun(ctx context.Context, tenantID string) error {
	if err := g.mgr.Verify(g.lic); err != nil {
		return err
	}
	today := g.now().UTC()
	count, err := g.usage.PlanRunsToday(ctx, tenantID, today)
	if err != nil {
		return fmt.Errorf("license: count plan runs: %w", err)
	}
	if !g.mgr.PlanRunsAllowed(g.lic, count) {
		return fmt.Errorf("%w: %d of %d used", ErrPlanRunsExhausted, count, g.lic.MaxPlanRunsPerDay)
	}
	return nil
}
