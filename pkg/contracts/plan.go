package contracts

// RunType is the execution mode the planner chose for one step.
type RunType string

const (
	RunFullRefresh RunType = "FULL_REFRESH"
	RunIncremental RunType = "INCREMENTAL"
)

// DateRange is an inclusive date window in YYYY-MM-DD form.
// Plans carry calendar dates only, never wall-clock timestamps.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ViolationType classifies a schema contract violation.
type ViolationType string

const (
	ViolationColumnRemoved     ViolationType = "COLUMN_REMOVED"
	ViolationTypeChanged       ViolationType = "TYPE_CHANGED"
	ViolationNullableTightened ViolationType = "NULLABLE_TIGHTENED"
	ViolationColumnAdded       ViolationType = "COLUMN_ADDED"
)

// ViolationSeverity ranks a contract violation.
type ViolationSeverity string

const (
	ViolationBreaking ViolationSeverity = "BREAKING"
	ViolationWarning  ViolationSeverity = "WARNING"
	ViolationInfo     ViolationSeverity = "INFO"
)

// ContractViolation is one divergence between a model's declared
// contract and its actual output columns.
type ContractViolation struct {
	ModelName  string            `json:"model_name"`
	ColumnName string            `json:"column_name"`
	Type       ViolationType     `json:"violation_type"`
	Severity   ViolationSeverity `json:"severity"`
	Detail     string            `json:"detail,omitempty"`
}

// PlanStep is one model's run within a plan. StepID is the SHA-256 of
// model_name, base and target separated by NUL bytes.
type PlanStep struct {
	StepID                  string              `json:"step_id"`
	Model                   string              `json:"model"`
	RunType                 RunType             `json:"run_type"`
	InputRange              *DateRange          `json:"input_range"`
	Reason                  string              `json:"reason"`
	DependsOn               []string            `json:"depends_on"`
	ParallelGroup           int                 `json:"parallel_group"`
	EstimatedComputeSeconds float64             `json:"estimated_compute_seconds"`
	EstimatedCostUSD        float64             `json:"estimated_cost_usd"`
	ContractViolations      []ContractViolation `json:"contract_violations"`
	DiffDetail              string              `json:"diff_detail"`
}

// PlanSummary aggregates a plan for reviewers and gates.
type PlanSummary struct {
	TotalSteps                 int      `json:"total_steps"`
	EstimatedCostUSD           float64  `json:"estimated_cost_usd"`
	ModelsChanged              []string `json:"models_changed"`
	ModelsRemoved              []string `json:"models_removed"`
	CosmeticChangesSkipped     []string `json:"cosmetic_changes_skipped"`
	ContractViolationsCount    int      `json:"contract_violations_count"`
	BreakingContractViolations int      `json:"breaking_contract_violations"`
}

// Approval is one reviewer's sign-off on a plan.
type Approval struct {
	UserID     string `json:"user_id"`
	ApprovedAt string `json:"approved_at"` // RFC 3339; lives outside the deterministic envelope
	Comment    string `json:"comment,omitempty"`
}

// Plan is the deterministic execution envelope. Everything except the
// approvals list and AutoApproved is immutable after creation, and the
// serialized form contains no wall-clock timestamps: the plan is
// reproducible from (models, diff, dag, watermarks, stats, base,
// target, as_of_date) alone.
type Plan struct {
	PlanID       string      `json:"plan_id"`
	Base         string      `json:"base"`
	Target       string      `json:"target"`
	Steps        []PlanStep  `json:"steps"`
	Summary      PlanSummary `json:"summary"`
	Approvals    []Approval  `json:"approvals"`
	AutoApproved bool        `json:"auto_approved"`
}

// DiffResult is the structural diff between two model snapshots.
// All lists are sorted alphabetically.
type DiffResult struct {
	AddedModels     []string `json:"added_models"`
	RemovedModels   []string `json:"removed_models"`
	ModifiedModels  []string `json:"modified_models"`
	CosmeticSkipped []string `json:"cosmetic_changes_skipped"`
}
