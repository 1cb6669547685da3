package contracts

// LicenseFile is an Ed25519-signed entitlement document. Signature is
// base64(Ed25519(canonical_json(payload minus signature))) where the
// canonical form sorts keys and uses compact separators.
type LicenseFile struct {
	LicenseID         string   `json:"license_id"`
	TenantID          string   `json:"tenant_id"`
	Tier              PlanTier `json:"tier"`
	IssuedAt          string   `json:"issued_at"`  // RFC 3339
	ExpiresAt         string   `json:"expires_at"` // RFC 3339
	MaxModels         int64    `json:"max_models"`
	MaxPlanRunsPerDay int64    `json:"max_plan_runs_per_day"`
	AIEnabled         bool     `json:"ai_enabled"`
	Features          []string `json:"features"`
	Signature         string   `json:"signature,omitempty"`
}
