package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// Fake is an in-memory executor for tests and local development. Runs
// complete immediately with SUCCESS unless a status script says
// otherwise.
type Fake struct {
	mu      sync.Mutex
	runs    map[string][]contracts.RunStatus // remaining status script per run
	logs    map[string]string
	submits []string // plan IDs in submission order
}

// NewFake creates an empty fake executor.
func NewFake() *Fake {
	return &Fake{
		runs: make(map[string][]contracts.RunStatus),
		logs: make(map[string]string),
	}
}

// Script sets the status sequence future polls of the run will see.
// The last status is sticky.
func (f *Fake) Script(externalRunID string, statuses ...contracts.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[externalRunID] = statuses
}

// Submitted returns the plan IDs submitted so far.
func (f *Fake) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

func (f *Fake) ExecuteStep(_ context.Context, step *contracts.PlanStep, _ string, _ map[string]string) (*contracts.RunRecord, error) {
	now := time.Now().UTC()
	return &contracts.RunRecord{
		RunID:         "run-" + uuid.NewString(),
		StepID:        step.StepID,
		ModelName:     step.Model,
		Status:        contracts.RunSuccess,
		StartedAt:     &now,
		FinishedAt:    &now,
		ExternalRunID: "fake-" + uuid.NewString(),
	}, nil
}

func (f *Fake) SubmitPlanAsJob(_ context.Context, _ string, plan *contracts.Plan) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "fake-" + uuid.NewString()
	f.submits = append(f.submits, plan.PlanID)
	f.runs[id] = []contracts.RunStatus{contracts.RunSuccess}
	return id, nil
}

func (f *Fake) PollStatus(_ context.Context, externalRunID string) (contracts.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script, ok := f.runs[externalRunID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRun, externalRunID)
	}
	if len(script) == 0 {
		return contracts.RunSuccess, nil
	}
	status := script[0]
	if len(script) > 1 {
		f.runs[externalRunID] = script[1:]
	}
	return status, nil
}

func (f *Fake) Cancel(_ context.Context, externalRunID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[externalRunID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, externalRunID)
	}
	f.runs[externalRunID] = []contracts.RunStatus{contracts.RunCancelled}
	return nil
}

func (f *Fake) GetLogs(_ context.Context, externalRunID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[externalRunID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRun, externalRunID)
	}
	return f.logs[externalRunID], nil
}

func (f *Fake) VerifyRun(ctx context.Context, externalRunID string) (contracts.RunStatus, error) {
	return f.PollStatus(ctx, externalRunID)
}
