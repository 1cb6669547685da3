// Package executor abstracts the execution backend that materializes
// plan steps in the warehouse. The control plane never executes SQL
// itself; it submits work and observes status.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

var (
	// ErrPollTimeout is returned when a run does not reach a terminal
	// state inside the overall polling deadline.
	ErrPollTimeout = errors.New("executor: polling deadline exceeded")
	// ErrTooManyErrors is returned after the consecutive poll error cap
	// is hit.
	ErrTooManyErrors = errors.New("executor: too many consecutive poll errors")
	// ErrUnknownRun is returned for an external run ID the backend does
	// not recognize.
	ErrUnknownRun = errors.New("executor: unknown external run")
)

// Executor is the execution backend contract. ExecuteStep blocks until
// the run is terminal from the caller's view; SubmitPlanAsJob submits
// the whole plan as one multi-task job preserving depends_on edges.
// VerifyRun is the reconciliation probe and must hit the backend, not
// any cache.
type Executor interface {
	ExecuteStep(ctx context.Context, step *contracts.PlanStep, sql string, params map[string]string) (*contracts.RunRecord, error)
	SubmitPlanAsJob(ctx context.Context, tenantID string, plan *contracts.Plan) (externalRunID string, err error)
	PollStatus(ctx context.Context, externalRunID string) (contracts.RunStatus, error)
	Cancel(ctx context.Context, externalRunID string) error
	GetLogs(ctx context.Context, externalRunID string) (string, error)
	VerifyRun(ctx context.Context, externalRunID string) (contracts.RunStatus, error)
}

// Poller waits for a submitted run to reach a terminal state. Backoff
// between polls is exponential from InitialBackoff to MaxBackoff; the
// whole wait is bounded by Timeout and by MaxConsecutiveErrors
// transient poll failures in a row.
type Poller struct {
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	Timeout              time.Duration
	MaxConsecutiveErrors int

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// WithPollerClock overrides the time source and sleep, for tests.
func WithPollerClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// NewPoller creates a poller with the production defaults: 10s initial
// backoff doubling to a 120s cap, one hour overall, ten consecutive
// errors.
func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		InitialBackoff:       10 * time.Second,
		MaxBackoff:           120 * time.Second,
		Timeout:              3600 * time.Second,
		MaxConsecutiveErrors: 10,
		logger:               slog.Default(),
		now:                  time.Now,
		sleep:                sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitForTerminal polls until the run is terminal. A successful poll
// resets the consecutive error counter.
func (p *Poller) WaitForTerminal(ctx context.Context, exec Executor, externalRunID string) (contracts.RunStatus, error) {
	deadline := p.now().Add(p.Timeout)
	backoff := p.InitialBackoff
	consecutiveErrors := 0

	for {
		status, err := exec.PollStatus(ctx, externalRunID)
		if err != nil {
			consecutiveErrors++
			p.logger.Warn("executor: poll failed",
				"external_run_id", externalRunID, "consecutive", consecutiveErrors, "error", err)
			if consecutiveErrors >= p.MaxConsecutiveErrors {
				return "", fmt.Errorf("%w: last: %v", ErrTooManyErrors, err)
			}
		} else {
			consecutiveErrors = 0
			if status.Terminal() {
				return status, nil
			}
		}

		if p.now().Add(backoff).After(deadline) {
			return "", ErrPollTimeout
		}
		if err := p.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
