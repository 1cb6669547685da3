package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/artifacts"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/reconcile"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		expected contracts.RunStatus
		actual   contracts.RunStatus
		want     contracts.DiscrepancyType
		matched  bool
	}{
		{contracts.RunSuccess, contracts.RunSuccess, "", true},
		{contracts.RunFail, contracts.RunFail, "", true},
		{contracts.RunSuccess, contracts.RunFail, contracts.DiscrepancyPhantomSuccess, false},
		{contracts.RunFail, contracts.RunSuccess, contracts.DiscrepancyMissedSuccess, false},
		{contracts.RunRunning, contracts.RunSuccess, contracts.DiscrepancyStaleRunning, false},
		{contracts.RunRunning, contracts.RunFail, contracts.DiscrepancyStaleRunningFailed, false},
		{contracts.RunPending, contracts.RunSuccess, contracts.DiscrepancyStalePending, false},
		{contracts.RunPending, contracts.RunFail, contracts.DiscrepancyStalePending, false},
		{contracts.RunSuccess, contracts.RunCancelled, contracts.DiscrepancyStatusMismatch, false},
		{contracts.RunCancelled, contracts.RunSuccess, contracts.DiscrepancyStatusMismatch, false},
	}
	for _, tt := range tests {
		got, matched := reconcile.Classify(tt.expected, tt.actual)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.expected, tt.actual)
		assert.Equal(t, tt.matched, matched, "%s -> %s", tt.expected, tt.actual)
	}
}

type fakeVerifier struct {
	statuses map[string]contracts.RunStatus
	err      error
}

func (f fakeVerifier) VerifyRun(_ context.Context, externalID string) (contracts.RunStatus, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.statuses[externalID], nil
}

type fakeRunSource struct{ runs []contracts.RunRecord }

func (f fakeRunSource) RecentExternalRuns(_ context.Context, _ string, _ time.Time) ([]contracts.RunRecord, error) {
	return f.runs, nil
}

type captureChecks struct{ saved []*contracts.ReconciliationCheck }

func (c *captureChecks) SaveCheck(_ context.Context, check *contracts.ReconciliationCheck) error {
	c.saved = append(c.saved, check)
	return nil
}

func TestReconcilePass(t *testing.T) {
	runs := fakeRunSource{runs: []contracts.RunRecord{
		{RunID: "r1", ModelName: "a", Status: contracts.RunSuccess, ExternalRunID: "x1"},
		{RunID: "r2", ModelName: "b", Status: contracts.RunSuccess, ExternalRunID: "x2"},
		{RunID: "r3", ModelName: "c", Status: contracts.RunRunning, ExternalRunID: "x3"},
		{RunID: "r4", ModelName: "d", Status: contracts.RunSuccess}, // no external id
	}}
	verifier := fakeVerifier{statuses: map[string]contracts.RunStatus{
		"x1": contracts.RunSuccess,
		"x2": contracts.RunFail,
		"x3": contracts.RunSuccess,
	}}
	checks := &captureChecks{}
	svc := reconcile.NewService(verifier, runs, checks)

	mismatches, err := svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, mismatches)
	require.Len(t, checks.saved, 3)

	byRun := map[string]*contracts.ReconciliationCheck{}
	for _, c := range checks.saved {
		byRun[c.RunID] = c
	}
	assert.True(t, byRun["r1"].Resolved)
	assert.Empty(t, byRun["r1"].Discrepancy)
	assert.False(t, byRun["r2"].Resolved)
	assert.Equal(t, contracts.DiscrepancyPhantomSuccess, byRun["r2"].Discrepancy)
	assert.Equal(t, contracts.DiscrepancyStaleRunning, byRun["r3"].Discrepancy)
}

func TestReconcileSkipsVerifyErrors(t *testing.T) {
	runs := fakeRunSource{runs: []contracts.RunRecord{
		{RunID: "r1", Status: contracts.RunSuccess, ExternalRunID: "x1"},
	}}
	checks := &captureChecks{}
	svc := reconcile.NewService(fakeVerifier{err: errors.New("backend down")}, runs, checks)

	mismatches, err := svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Zero(t, mismatches)
	assert.Empty(t, checks.saved)
}

type fakeLogFetcher struct{ logs map[string]string }

func (f fakeLogFetcher) GetLogs(_ context.Context, externalID string) (string, error) {
	logs, ok := f.logs[externalID]
	if !ok {
		return "", errors.New("unknown run")
	}
	return logs, nil
}

type captureSink struct{ uris map[string]string }

func (c *captureSink) SetLogsURI(_ context.Context, runID, uri string) error {
	c.uris[runID] = uri
	return nil
}

func TestReconcileArchivesTerminalRunLogs(t *testing.T) {
	runs := fakeRunSource{runs: []contracts.RunRecord{
		{RunID: "r1", PlanID: "p1", Status: contracts.RunSuccess, ExternalRunID: "x1"},
		{RunID: "r2", PlanID: "p1", Status: contracts.RunRunning, ExternalRunID: "x2"},
		{RunID: "r3", PlanID: "p1", Status: contracts.RunSuccess, ExternalRunID: "x3",
			LogsURI: "file:///already/archived.log"},
	}}
	verifier := fakeVerifier{statuses: map[string]contracts.RunStatus{
		"x1": contracts.RunSuccess,
		"x2": contracts.RunRunning, // not terminal yet
		"x3": contracts.RunSuccess,
	}}
	archive, err := artifacts.NewFileArchive(t.TempDir())
	require.NoError(t, err)
	sink := &captureSink{uris: map[string]string{}}
	svc := reconcile.NewService(verifier, runs, &captureChecks{},
		reconcile.WithLogArchival(fakeLogFetcher{logs: map[string]string{"x1": "done"}}, archive, sink))

	_, err = svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	require.Contains(t, sink.uris, "r1")
	data, err := archive.Get(context.Background(), sink.uris["r1"])
	require.NoError(t, err)
	assert.Equal(t, "done", string(data))

	// Still-running and already-archived runs are left alone.
	assert.NotContains(t, sink.uris, "r2")
	assert.NotContains(t, sink.uris, "r3")
}

func TestNextRun_Hourly(t *testing.T) {
	from := time.Date(2025, 6, 1, 10, 20, 0, 0, time.UTC)
	next, err := reconcile.NextRun("30 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC), next)

	// Past this hour's minute: roll to next hour.
	next, err = reconcile.NextRun("10 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 10, 0, 0, time.UTC), next)
}

func TestNextRun_DailyStrictlyAfter(t *testing.T) {
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := reconcile.NextRun("0 12 * * *", noon)
	require.NoError(t, err)
	assert.True(t, next.After(noon))
	assert.Equal(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRun_Weekly(t *testing.T) {
	// 2025-06-01 is a Sunday (dow 0).
	sundayNoon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := reconcile.NextRun("0 9 * * 1", sundayNoon)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), next)

	// Exactly at the weekly moment: one week later.
	mondayNine := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	next, err = reconcile.NextRun("0 9 * * 1", mondayNine)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC), next)
}

func TestNextRun_RejectsUnsupported(t *testing.T) {
	from := time.Now()
	for _, expr := range []string{
		"*/5 * * * *",  // step
		"0 12 1 * *",   // day-of-month
		"0 12 * 6 *",   // month
		"0,30 * * * *", // list
		"0-10 * * * *", // range
		"* * * * *",    // minute wildcard
		"0 * * * 1",    // hourly with dow restriction
		"60 * * * *",   // minute out of range
		"0 24 * * *",   // hour out of range
		"0 12 * * 7",   // dow out of range
		"0 12 * *",     // too few fields
		"0 12 * * * *", // too many fields
		"not a cron",
	} {
		_, err := reconcile.NextRun(expr, from)
		assert.ErrorIs(t, err, reconcile.ErrUnsupportedCron, "expr %q", expr)
	}
}

func TestDetectDrift(t *testing.T) {
	expected := []contracts.ContractColumn{
		{Name: "id", DataType: "BIGINT"},
		{Name: "amount", DataType: "DECIMAL"},
	}
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	d := reconcile.DetectDrift("t1", "m", expected,
		map[string]string{"id": "BIGINT", "amount": "DECIMAL"}, at)
	assert.Equal(t, contracts.DriftNone, d.Drift)
	assert.True(t, d.Resolved)

	d = reconcile.DetectDrift("t1", "m", expected,
		map[string]string{"id": "BIGINT"}, at)
	assert.Equal(t, contracts.DriftColumnRemoved, d.Drift)
	assert.False(t, d.Resolved)
	assert.Contains(t, d.Details, "amount")

	d = reconcile.DetectDrift("t1", "m", expected,
		map[string]string{"id": "INT", "amount": "DECIMAL"}, at)
	assert.Equal(t, contracts.DriftTypeChanged, d.Drift)

	// Alias types compare equal after normalization.
	d = reconcile.DetectDrift("t1", "m", expected,
		map[string]string{"id": "LONG", "amount": "NUMERIC(10,2)"}, at)
	assert.Equal(t, contracts.DriftNone, d.Drift)

	d = reconcile.DetectDrift("t1", "m", expected,
		map[string]string{"id": "BIGINT", "amount": "DECIMAL", "extra": "STRING"}, at)
	assert.Equal(t, contracts.DriftColumnAdded, d.Drift)
}
