package metering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// PostgresSink persists metering batches to the metering_events table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a PostgreSQL-backed sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS metering_events (
	id BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	quantity BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	usage_date DATE NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metering_events_tenant_type_time
	ON metering_events(tenant_id, event_type, created_at);
`

// Init creates the metering table.
func (s *PostgresSink) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Flush inserts one drained batch in a single transaction.
func (s *PostgresSink) Flush(ctx context.Context, events []contracts.MeteringEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metering: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metering_events (event_id, tenant_id, event_type, quantity, cost_usd, usage_date, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("metering: prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, event := range events {
		var metadataJSON []byte
		if event.Metadata != nil {
			metadataJSON, err = json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("metering: marshal metadata: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			event.EventID, event.TenantID, string(event.EventType),
			event.Quantity, event.CostUSD, event.UsageDate,
			metadataJSON, event.Timestamp); err != nil {
			return fmt.Errorf("metering: insert event %s: %w", event.EventID, err)
		}
	}
	return tx.Commit()
}

// MonthlyCount returns the event count for a tenant and type since the
// given moment. The quota service uses this window for admission.
func (s *PostgresSink) MonthlyCount(ctx context.Context, tenantID string, event contracts.MeteringEventType, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM metering_events
		WHERE tenant_id = $1 AND event_type = $2 AND created_at >= $3
	`, tenantID, string(event), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("metering: count events: %w", err)
	}
	return n, nil
}

// SpendSince returns summed USD cost for a tenant and type from the
// given usage date onward.
func (s *PostgresSink) SpendSince(ctx context.Context, tenantID string, event contracts.MeteringEventType, sinceDate string) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(cost_usd) FROM metering_events
		WHERE tenant_id = $1 AND event_type = $2 AND usage_date >= $3
	`, tenantID, string(event), sinceDate).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("metering: sum spend: %w", err)
	}
	return total.Float64, nil
}
