package metering

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

func TestPostgresSink_Flush(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresSink(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO metering_events"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metering_events")).
		WithArgs("evt-1", "t1", "PLAN_RUN", int64(1), 0.0, "2025-06-01", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metering_events")).
		WithArgs("evt-2", "t1", "AI_CALL", int64(1), 0.05, "2025-06-01", []byte(`{"model":"gpt"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	events := []contracts.MeteringEvent{
		{EventID: "evt-1", TenantID: "t1", EventType: contracts.MeterPlanRun,
			Quantity: 1, UsageDate: "2025-06-01", Timestamp: time.Now()},
		{EventID: "evt-2", TenantID: "t1", EventType: contracts.MeterAICall,
			Quantity: 1, CostUSD: 0.05, UsageDate: "2025-06-01",
			Metadata: map[string]string{"model": "gpt"}, Timestamp: time.Now()},
	}
	require.NoError(t, sink.Flush(ctx, events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_FlushEmptyIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresSink(db)
	require.NoError(t, sink.Flush(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_MonthlyCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresSink(db)
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM metering_events")).
		WithArgs("t1", "PLAN_RUN", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := sink.MonthlyCount(context.Background(), "t1", contracts.MeterPlanRun, since)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestPostgresSink_SpendSinceNullSum(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresSink(db)

	// SUM over zero rows yields NULL; that must read as zero spend.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT SUM(cost_usd) FROM metering_events")).
		WithArgs("t1", "AI_CALL", "2025-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	total, err := sink.SpendSince(context.Background(), "t1", contracts.MeterAICall, "2025-06-01")
	require.NoError(t, err)
	assert.Zero(t, total)
}
