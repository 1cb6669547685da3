package contracts

import "time"

// MeteringEventType is the kind of usage being metered.
type MeteringEventType string

const (
	MeterPlanRun     MeteringEventType = "PLAN_RUN"
	MeterPlanApply   MeteringEventType = "PLAN_APPLY"
	MeterAICall      MeteringEventType = "AI_CALL"
	MeterModelLoaded MeteringEventType = "MODEL_LOADED"
	MeterBackfillRun MeteringEventType = "BACKFILL_RUN"
	MeterAPIRequest  MeteringEventType = "API_REQUEST"
)

// MeteringEvent is one usage record. EventID has the form "evt-<uuid>".
// Metering is best-effort telemetry, not an audit trail.
type MeteringEvent struct {
	EventID   string            `json:"event_id"`
	TenantID  string            `json:"tenant_id"`
	EventType MeteringEventType `json:"event_type"`
	Quantity  int64             `json:"quantity"`
	CostUSD   float64           `json:"cost_usd,omitempty"`
	UsageDate string            `json:"usage_date,omitempty"` // YYYY-MM-DD
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// TokenRevocation marks one token (by jti) as revoked. Revocations are
// additive and aged out by ExpiresAt; they are never deleted early.
type TokenRevocation struct {
	JTI       string    `json:"jti"`
	Reason    string    `json:"reason,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
