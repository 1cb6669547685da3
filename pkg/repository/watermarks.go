package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// WatermarkRepo persists per-model incremental high-water marks.
// Watermarks only move forward, and only on successful incremental
// runs; Advance enforces both.
type WatermarkRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

// Get returns the model's watermark, or ErrNotFound when the model has
// never completed an incremental run.
func (r *WatermarkRepo) Get(ctx context.Context, modelName string) (*contracts.Watermark, error) {
	query := `SELECT tenant_id, model_name, partition_start, partition_end
		FROM watermarks WHERE tenant_id = $1 AND model_name = $2`
	var w contracts.Watermark
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID, modelName).
		Scan(&w.TenantID, &w.ModelName, &w.PartitionStart, &w.PartitionEnd)
	if err != nil {
		return nil, translateErr(err)
	}
	return &w, nil
}

// All returns every watermark for the tenant keyed by model name, the
// form the planner consumes.
func (r *WatermarkRepo) All(ctx context.Context) (map[string]contracts.Watermark, error) {
	query := `SELECT tenant_id, model_name, partition_start, partition_end
		FROM watermarks WHERE tenant_id = $1`
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), r.tenantID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]contracts.Watermark)
	for rows.Next() {
		var w contracts.Watermark
		if err := rows.Scan(&w.TenantID, &w.ModelName, &w.PartitionStart, &w.PartitionEnd); err != nil {
			return nil, err
		}
		out[w.ModelName] = w
	}
	return out, rows.Err()
}

// Advance moves the watermark forward to (start, end). Dates are
// YYYY-MM-DD strings, so lexical comparison is chronological. A call
// that would move the end backwards is a no-op: late or replayed run
// completions must not regress the high-water mark.
func (r *WatermarkRepo) Advance(ctx context.Context, modelName, start, end string) error {
	if end < start {
		return fmt.Errorf("repository: watermark end %s before start %s", end, start)
	}
	query := `INSERT INTO watermarks (tenant_id, model_name, partition_start, partition_end)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, model_name) DO UPDATE SET
			partition_start = CASE WHEN EXCLUDED.partition_end > watermarks.partition_end
				THEN EXCLUDED.partition_start ELSE watermarks.partition_start END,
			partition_end = CASE WHEN EXCLUDED.partition_end > watermarks.partition_end
				THEN EXCLUDED.partition_end ELSE watermarks.partition_end END`
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, query), r.tenantID, modelName, start, end)
	return translateErr(err)
}
