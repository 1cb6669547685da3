// Package contracts defines the persisted entities shared across the
// IronLayer control plane. Every entity carries a TenantID and is only
// ever read or written through a tenant-bound repository.
package contracts

// ModelKind describes how a model is rebuilt when its inputs change.
type ModelKind string

const (
	KindFullRefresh       ModelKind = "FULL_REFRESH"
	KindIncrementalByTime ModelKind = "INCREMENTAL_BY_TIME_RANGE"
	KindMergeByKey        ModelKind = "MERGE_BY_KEY"
	KindAppendOnly        ModelKind = "APPEND_ONLY"
)

// Materialization describes the physical form a model takes in the warehouse.
type Materialization string

const (
	MaterializationTable           Materialization = "TABLE"
	MaterializationView            Materialization = "VIEW"
	MaterializationInsertOverwrite Materialization = "INSERT_OVERWRITE"
	MaterializationMerge           Materialization = "MERGE"
)

// ContractMode controls how schema contract violations are enforced.
type ContractMode string

const (
	ContractDisabled ContractMode = "DISABLED"
	ContractWarn     ContractMode = "WARN"
	ContractStrict   ContractMode = "STRICT"
)

// ContractColumn is one declared column of a model's schema contract.
type ContractColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// TestType identifies a declarative data test.
type TestType string

const (
	TestNotNull        TestType = "NOT_NULL"
	TestUnique         TestType = "UNIQUE"
	TestAcceptedValues TestType = "ACCEPTED_VALUES"
	TestRowCountMin    TestType = "ROW_COUNT_MIN"
)

// TestSeverity controls whether a failing test vetoes plan apply.
type TestSeverity string

const (
	SeverityBlock TestSeverity = "BLOCK"
	SeverityWarn  TestSeverity = "WARN"
)

// TestDefinition is a declarative data quality test attached to a model.
type TestDefinition struct {
	Type     TestType     `json:"type"`
	Column   string       `json:"column,omitempty"`
	Values   []string     `json:"values,omitempty"`
	MinCount int64        `json:"min_count,omitempty"`
	Severity TestSeverity `json:"severity"`
}

// ModelDefinition is the canonical record for one SQL model.
// Name is unique within a tenant; ContentHash is the SHA-256 of the
// normalized body SQL and is the basis for structural diffing.
type ModelDefinition struct {
	TenantID         string           `json:"tenant_id"`
	Name             string           `json:"name"`
	Kind             ModelKind        `json:"kind"`
	Materialization  Materialization  `json:"materialization"`
	TimeColumn       string           `json:"time_column,omitempty"`
	UniqueKey        string           `json:"unique_key,omitempty"`
	Owner            string           `json:"owner,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	FilePath         string           `json:"file_path"`
	RawSQL           string           `json:"raw_sql"`
	CleanSQL         string           `json:"clean_sql"`
	ContentHash      string           `json:"content_hash"`
	ReferencedTables []string         `json:"referenced_tables,omitempty"`
	Dependencies     []string         `json:"dependencies,omitempty"`
	OutputColumns    []string         `json:"output_columns,omitempty"`
	ContractMode     ContractMode     `json:"contract_mode"`
	ContractColumns  []ContractColumn `json:"contract_columns,omitempty"`
	Tests            []TestDefinition `json:"tests,omitempty"`
}

// Watermark records the date window through which an incremental model
// has been materialized. Advanced only on successful incremental runs.
type Watermark struct {
	TenantID       string `json:"tenant_id"`
	ModelName      string `json:"model_name"`
	PartitionStart string `json:"partition_start"` // YYYY-MM-DD
	PartitionEnd   string `json:"partition_end"`   // YYYY-MM-DD
}

// RunStats summarizes historical executions of one model, used by the
// planner for cost estimation.
type RunStats struct {
	AvgRuntimeSeconds float64 `json:"avg_runtime_seconds"`
	RunCount          int64   `json:"run_count"`
}
