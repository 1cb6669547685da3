package contracts

import "time"

// RunStatus is the lifecycle state of one step execution.
// Terminal states are SUCCESS, FAIL and CANCELLED.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSuccess   RunStatus = "SUCCESS"
	RunFail      RunStatus = "FAIL"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFail || s == RunCancelled
}

// RunRecord is the recorded outcome of a plan step execution.
// ExternalRunID is the execution backend's identifier and is the join
// key for reconciliation.
type RunRecord struct {
	TenantID      string     `json:"tenant_id"`
	RunID         string     `json:"run_id"`
	PlanID        string     `json:"plan_id"`
	StepID        string     `json:"step_id"`
	ModelName     string     `json:"model_name"`
	Status        RunStatus  `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ExternalRunID string     `json:"external_run_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	LogsURI       string     `json:"logs_uri,omitempty"`
	CostUSD       float64    `json:"cost_usd"`
}
