// Package reconcile compares recorded run state against the execution
// backend and classifies every divergence. It also detects schema
// drift between a model's declared output and the warehouse reality.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/artifacts"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// Classify maps (expected, actual) run status pairs to a discrepancy
// type. A matching pair returns ("", true).
func Classify(expected, actual contracts.RunStatus) (contracts.DiscrepancyType, bool) {
	if expected == actual {
		return "", true
	}
	switch {
	case expected == contracts.RunSuccess && actual == contracts.RunFail:
		return contracts.DiscrepancyPhantomSuccess, false
	case expected == contracts.RunFail && actual == contracts.RunSuccess:
		return contracts.DiscrepancyMissedSuccess, false
	case expected == contracts.RunRunning && actual == contracts.RunSuccess:
		return contracts.DiscrepancyStaleRunning, false
	case expected == contracts.RunRunning && actual == contracts.RunFail:
		return contracts.DiscrepancyStaleRunningFailed, false
	case expected == contracts.RunPending && (actual == contracts.RunSuccess || actual == contracts.RunFail):
		return contracts.DiscrepancyStalePending, false
	default:
		return contracts.DiscrepancyStatusMismatch, false
	}
}

// Verifier is the slice of the executor interface reconciliation needs.
type Verifier interface {
	VerifyRun(ctx context.Context, externalRunID string) (contracts.RunStatus, error)
}

// RunSource lists recent runs that have an external run ID to check.
type RunSource interface {
	RecentExternalRuns(ctx context.Context, tenantID string, since time.Time) ([]contracts.RunRecord, error)
}

// CheckStore persists reconciliation outcomes.
type CheckStore interface {
	SaveCheck(ctx context.Context, check *contracts.ReconciliationCheck) error
}

// LogFetcher is the slice of the executor interface log archival needs.
type LogFetcher interface {
	GetLogs(ctx context.Context, externalRunID string) (string, error)
}

// LogArchive stores fetched logs and returns their URI.
type LogArchive interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// LogSink records the archive URI on the run row.
type LogSink interface {
	SetLogsURI(ctx context.Context, runID, uri string) error
}

// Service runs one reconciliation pass per invocation.
type Service struct {
	verifier Verifier
	runs     RunSource
	checks   CheckStore
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	logFetcher LogFetcher
	logArchive LogArchive
	logSink    LogSink
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWindow sets how far back runs are examined (default 24h).
func WithWindow(d time.Duration) ServiceOption {
	return func(s *Service) { s.window = d }
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithLogArchival makes the pass archive logs of terminal runs that
// have none yet. All three collaborators must be set.
func WithLogArchival(fetcher LogFetcher, archive LogArchive, sink LogSink) ServiceOption {
	return func(s *Service) {
		s.logFetcher = fetcher
		s.logArchive = archive
		s.logSink = sink
	}
}

// NewService creates a reconciliation service.
func NewService(verifier Verifier, runs RunSource, checks CheckStore, opts ...ServiceOption) *Service {
	s := &Service{
		verifier: verifier,
		runs:     runs,
		checks:   checks,
		window:   24 * time.Hour,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile checks every recent run with an external run ID. A backend
// error for one run is logged and skipped; the pass continues.
func (s *Service) Reconcile(ctx context.Context, tenantID string) (int, error) {
	now := s.now().UTC()
	runs, err := s.runs.RecentExternalRuns(ctx, tenantID, now.Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("reconcile: list recent runs: %w", err)
	}

	mismatches := 0
	for _, run := range runs {
		if run.ExternalRunID == "" {
			continue
		}
		actual, err := s.verifier.VerifyRun(ctx, run.ExternalRunID)
		if err != nil {
			s.logger.Warn("reconciliation verify failed",
				"tenant_id", tenantID, "run_id", run.RunID,
				"external_run_id", run.ExternalRunID, "error", err)
			continue
		}
		discrepancy, matched := Classify(run.Status, actual)
		check := &contracts.ReconciliationCheck{
			TenantID:        tenantID,
			CheckID:         "chk-" + uuid.New().String(),
			RunID:           run.RunID,
			ModelName:       run.ModelName,
			ExpectedStatus:  run.Status,
			WarehouseStatus: actual,
			Discrepancy:     discrepancy,
			Resolved:        matched,
			CheckedAt:       now,
		}
		if !matched {
			mismatches++
			s.logger.Warn("reconciliation discrepancy",
				"tenant_id", tenantID, "run_id", run.RunID,
				"expected", string(run.Status), "actual", string(actual),
				"discrepancy", string(discrepancy))
		}
		if err := s.checks.SaveCheck(ctx, check); err != nil {
			return mismatches, fmt.Errorf("reconcile: save check for run %s: %w", run.RunID, err)
		}
		s.archiveLogs(ctx, tenantID, &run, actual)
	}
	return mismatches, nil
}

// archiveLogs captures a terminal run's logs once. Archival is off the
// critical path, so failures are logged and the pass continues.
func (s *Service) archiveLogs(ctx context.Context, tenantID string, run *contracts.RunRecord, actual contracts.RunStatus) {
	if s.logFetcher == nil || s.logArchive == nil || s.logSink == nil {
		return
	}
	if run.LogsURI != "" || !actual.Terminal() {
		return
	}
	logs, err := s.logFetcher.GetLogs(ctx, run.ExternalRunID)
	if err != nil {
		s.logger.Warn("run log fetch failed",
			"tenant_id", tenantID, "run_id", run.RunID, "error", err)
		return
	}
	key := artifacts.RunLogKey(tenantID, run.PlanID, run.RunID)
	uri, err := s.logArchive.Put(ctx, key, []byte(logs))
	if err != nil {
		s.logger.Warn("run log archive failed",
			"tenant_id", tenantID, "run_id", run.RunID, "error", err)
		return
	}
	if err := s.logSink.SetLogsURI(ctx, run.RunID, uri); err != nil {
		s.logger.Warn("run log uri update failed",
			"tenant_id", tenantID, "run_id", run.RunID, "uri", uri, "error", err)
	}
}

// DetectDrift compares a model's declared output columns against the
// columns actually present in the warehouse. The first difference in
// the order removed, type-changed, added determines the drift type;
// details carries all of them.
func DetectDrift(tenantID, modelName string, expected []contracts.ContractColumn, actual map[string]string, detectedAt time.Time) contracts.SchemaDrift {
	expectedTypes := make(map[string]string, len(expected))
	for _, col := range expected {
		expectedTypes[col.Name] = sqlnorm.NormalizeDataType(col.DataType)
	}

	var removed, changed, added []string
	for _, col := range expected {
		actualType, ok := actual[col.Name]
		if !ok {
			removed = append(removed, col.Name)
			continue
		}
		if sqlnorm.NormalizeDataType(actualType) != expectedTypes[col.Name] {
			changed = append(changed, col.Name)
		}
	}
	for name := range actual {
		if _, ok := expectedTypes[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(removed)
	sort.Strings(changed)
	sort.Strings(added)

	drift := contracts.DriftNone
	switch {
	case len(removed) > 0:
		drift = contracts.DriftColumnRemoved
	case len(changed) > 0:
		drift = contracts.DriftTypeChanged
	case len(added) > 0:
		drift = contracts.DriftColumnAdded
	}

	expectedJSON, _ := json.Marshal(expectedTypes)
	actualJSON, _ := json.Marshal(actual)
	details, _ := json.Marshal(map[string][]string{
		"removed": removed, "type_changed": changed, "added": added,
	})

	return contracts.SchemaDrift{
		TenantID:        tenantID,
		DriftID:         "drift-" + uuid.New().String(),
		ModelName:       modelName,
		ExpectedColumns: string(expectedJSON),
		ActualColumns:   string(actualJSON),
		Drift:           drift,
		Details:         string(details),
		Resolved:        drift == contracts.DriftNone,
		DetectedAt:      detectedAt,
	}
}
