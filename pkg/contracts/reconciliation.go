package contracts

import "time"

// DiscrepancyType classifies a mismatch between recorded run state and
// what the execution backend reports.
type DiscrepancyType string

const (
	DiscrepancyPhantomSuccess     DiscrepancyType = "phantom_success"
	DiscrepancyMissedSuccess      DiscrepancyType = "missed_success"
	DiscrepancyStaleRunning       DiscrepancyType = "stale_running"
	DiscrepancyStaleRunningFailed DiscrepancyType = "stale_running_failed"
	DiscrepancyStalePending       DiscrepancyType = "stale_pending"
	DiscrepancyStatusMismatch     DiscrepancyType = "status_mismatch"
)

// ReconciliationCheck records one comparison between a RunRecord and
// the backend's view of the same execution. Matched results are stored
// resolved with an empty DiscrepancyType.
type ReconciliationCheck struct {
	TenantID        string          `json:"tenant_id"`
	CheckID         string          `json:"check_id"`
	RunID           string          `json:"run_id"`
	ModelName       string          `json:"model_name"`
	ExpectedStatus  RunStatus       `json:"expected_status"`
	WarehouseStatus RunStatus       `json:"warehouse_status"`
	Discrepancy     DiscrepancyType `json:"discrepancy_type,omitempty"`
	Resolved        bool            `json:"resolved"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNote  string          `json:"resolution_note,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// DriftType classifies schema drift between recorded and actual columns.
type DriftType string

const (
	DriftNone          DriftType = "NONE"
	DriftColumnRemoved DriftType = "COLUMN_REMOVED"
	DriftTypeChanged   DriftType = "TYPE_CHANGED"
	DriftColumnAdded   DriftType = "COLUMN_ADDED"
)

// SchemaDrift records a divergence between a model's recorded output
// columns and the columns actually present in the warehouse.
type SchemaDrift struct {
	TenantID        string    `json:"tenant_id"`
	DriftID         string    `json:"drift_id"`
	ModelName       string    `json:"model_name"`
	ExpectedColumns string    `json:"expected_columns_json"`
	ActualColumns   string    `json:"actual_columns_json"`
	Drift           DriftType `json:"drift_type"`
	Details         string    `json:"drift_details_json,omitempty"`
	Resolved        bool      `json:"resolved"`
	DetectedAt      time.Time `json:"detected_at"`
}
