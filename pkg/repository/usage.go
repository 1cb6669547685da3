package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// MeterUsage answers usage-count queries over the metering events
// table. The license gate consumes it across tenants, so it carries a
// bare handle like TenantSource.
type MeterUsage struct {
	db      *sql.DB
	dialect Dialect
}

// NewMeterUsage creates a cross-tenant usage counter.
func NewMeterUsage(db *sql.DB, dialect Dialect) *MeterUsage {
	return &MeterUsage{db: db, dialect: dialect}
}

// PlanRunsToday counts the tenant's applied plans on the given day.
func (u *MeterUsage) PlanRunsToday(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM metering_events
		WHERE tenant_id = $1 AND event_type = $2 AND usage_date = $3`
	var count int64
	err := u.db.QueryRowContext(ctx, rebind(u.dialect, query),
		tenantID, string(contracts.MeterPlanApply), day.UTC().Format("2006-01-02")).Scan(&count)
	if err != nil {
		return 0, translateErr(err)
	}
	return count, nil
}
