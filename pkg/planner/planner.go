// Package planner turns (model set, structural diff, dependency graph,
// watermarks, historical stats, as-of date) into a byte-deterministic
// execution plan.
//
// Determinism contract: identical inputs yield byte-identical canonical
// JSON, plan IDs are content-addressed over (base, target, step IDs),
// and no wall-clock time is ever consulted.
package planner

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/canonicalize"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/dag"
)

var (
	// ErrMissingAsOfDate is returned when no as-of date is supplied.
	// There is no wall-clock fallback: defaulting to "today" would make
	// plan generation non-reproducible.
	ErrMissingAsOfDate = errors.New("planner: as_of_date is required")
	// ErrInvalidRevision is returned for a malformed git SHA.
	ErrInvalidRevision = errors.New("planner: invalid git revision")
)

var revisionPattern = regexp.MustCompile(`^[0-9a-fA-F]{4,40}$`)

// DateFormat is the calendar date layout used throughout plans.
const DateFormat = "2006-01-02"

// Config tunes plan generation.
type Config struct {
	DefaultLookbackDays  int
	CostPerComputeSecond float64
	// DefaultComputeSeconds is assumed for models with no run history.
	DefaultComputeSeconds float64
}

// DefaultConfig returns the standard planner configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLookbackDays:   30,
		CostPerComputeSecond:  0.0007,
		DefaultComputeSeconds: 300,
	}
}

// Inputs is the complete, closed set of facts a plan is derived from.
type Inputs struct {
	Models     map[string]*contracts.ModelDefinition
	Diff       contracts.DiffResult
	Graph      *dag.Graph
	Watermarks map[string]contracts.Watermark
	RunStats   map[string]contracts.RunStats
	// Violations carries pre-computed contract violations per model.
	Violations map[string][]contracts.ContractViolation
	Base       string
	Target     string
	AsOfDate   string // YYYY-MM-DD
}

// StepID derives a step identifier from (model, base, target). The NUL
// separators make the derivation unambiguous.
func StepID(model, base, target string) string {
	return canonicalize.HashParts(model, base, target)
}

// PlanID derives the plan identifier from base, target and the ordered
// step IDs.
func PlanID(base, target string, stepIDs []string) string {
	return canonicalize.HashParts(base, target, strings.Join(stepIDs, ""))
}

// Generate produces the deterministic plan for the given inputs.
func Generate(in Inputs, cfg Config) (*contracts.Plan, error) {
	if in.AsOfDate == "" {
		return nil, ErrMissingAsOfDate
	}
	asOf, err := time.Parse(DateFormat, in.AsOfDate)
	if err != nil {
		return nil, fmt.Errorf("planner: bad as_of_date %q: %w", in.AsOfDate, err)
	}
	if !revisionPattern.MatchString(in.Base) {
		return nil, fmt.Errorf("%w: base %q", ErrInvalidRevision, in.Base)
	}
	if !revisionPattern.MatchString(in.Target) {
		return nil, fmt.Errorf("%w: target %q", ErrInvalidRevision, in.Target)
	}
	if cfg.DefaultLookbackDays <= 0 {
		cfg.DefaultLookbackDays = 30
	}
	if cfg.CostPerComputeSecond <= 0 {
		cfg.CostPerComputeSecond = 0.0007
	}
	if cfg.DefaultComputeSeconds <= 0 {
		cfg.DefaultComputeSeconds = 300
	}

	// 1. Affected set: changed roots plus everything downstream.
	roots := append(append([]string{}, in.Diff.ModifiedModels...), in.Diff.AddedModels...)
	affected := in.Graph.TransitiveDownstream(roots)

	changedSet := make(map[string]bool)
	for _, name := range roots {
		changedSet[name] = true
	}
	addedSet := make(map[string]bool)
	for _, name := range in.Diff.AddedModels {
		addedSet[name] = true
	}

	inPlan := make(map[string]bool, len(affected))
	for _, name := range affected {
		if _, known := in.Models[name]; known {
			inPlan[name] = true
		}
	}

	// 3. Topological layering over the in-plan set.
	layers := in.Graph.Layer(inPlan)

	steps := make([]contracts.PlanStep, 0, len(inPlan))
	for name := range inPlan {
		model := in.Models[name]

		step := contracts.PlanStep{
			StepID:             StepID(name, in.Base, in.Target),
			Model:              name,
			ParallelGroup:      layers[name],
			DependsOn:          []string{},
			ContractViolations: []contracts.ContractViolation{},
		}

		// 2. Run type classification.
		step.RunType, step.InputRange = classify(model, addedSet[name], in.Watermarks, asOf, cfg)
		step.Reason, step.DiffDetail = describe(name, addedSet[name], changedSet[name])

		// 4. Cost estimates.
		step.EstimatedComputeSeconds = cfg.DefaultComputeSeconds
		if stats, ok := in.RunStats[name]; ok && stats.AvgRuntimeSeconds > 0 {
			step.EstimatedComputeSeconds = stats.AvgRuntimeSeconds
		}
		step.EstimatedCostUSD = step.EstimatedComputeSeconds * cfg.CostPerComputeSecond

		for _, parent := range in.Graph.Upstream(name) {
			if inPlan[parent] {
				step.DependsOn = append(step.DependsOn, StepID(parent, in.Base, in.Target))
			}
		}
		sort.Strings(step.DependsOn)

		if v, ok := in.Violations[name]; ok && len(v) > 0 {
			step.ContractViolations = v
		}

		steps = append(steps, step)
	}

	// 6. Final ordering: alphabetical by model, step ID breaking ties.
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Model != steps[j].Model {
			return steps[i].Model < steps[j].Model
		}
		return steps[i].StepID < steps[j].StepID
	})

	// 7. Plan ID over the ordered step IDs.
	stepIDs := make([]string, len(steps))
	totalCost := 0.0
	totalViolations := 0
	breaking := 0
	for i, s := range steps {
		stepIDs[i] = s.StepID
		totalCost += s.EstimatedCostUSD
		totalViolations += len(s.ContractViolations)
		for _, v := range s.ContractViolations {
			if v.Severity == contracts.ViolationBreaking {
				breaking++
			}
		}
	}

	modelsChanged := append([]string{}, roots...)
	sort.Strings(modelsChanged)

	plan := &contracts.Plan{
		PlanID: PlanID(in.Base, in.Target, stepIDs),
		Base:   in.Base,
		Target: in.Target,
		Steps:  steps,
		Summary: contracts.PlanSummary{
			TotalSteps:                 len(steps),
			EstimatedCostUSD:           totalCost,
			ModelsChanged:              modelsChanged,
			ModelsRemoved:              append([]string{}, in.Diff.RemovedModels...),
			CosmeticChangesSkipped:     append([]string{}, in.Diff.CosmeticSkipped...),
			ContractViolationsCount:    totalViolations,
			BreakingContractViolations: breaking,
		},
		Approvals: []contracts.Approval{},
	}
	if plan.Summary.ModelsRemoved == nil {
		plan.Summary.ModelsRemoved = []string{}
	}
	if plan.Summary.CosmeticChangesSkipped == nil {
		plan.Summary.CosmeticChangesSkipped = []string{}
	}
	if plan.Summary.ModelsChanged == nil {
		plan.Summary.ModelsChanged = []string{}
	}
	return plan, nil
}

// classify determines the run type and input range for one model.
// Newly added models are always fully refreshed. An incremental model
// without a time column silently degrades to FULL_REFRESH, matching
// the loader's permissive stance.
func classify(model *contracts.ModelDefinition, added bool, watermarks map[string]contracts.Watermark, asOf time.Time, cfg Config) (contracts.RunType, *contracts.DateRange) {
	if added {
		return contracts.RunFullRefresh, nil
	}

	incremental := model.Kind == contracts.KindAppendOnly ||
		(model.Kind == contracts.KindIncrementalByTime && model.TimeColumn != "")
	if !incremental {
		return contracts.RunFullRefresh, nil
	}

	start := asOf.AddDate(0, 0, -cfg.DefaultLookbackDays).Format(DateFormat)
	if wm, ok := watermarks[model.Name]; ok && wm.PartitionEnd != "" {
		start = wm.PartitionEnd
	}
	return contracts.RunIncremental, &contracts.DateRange{
		Start: start,
		End:   asOf.Format(DateFormat),
	}
}

func describe(name string, added, changed bool) (reason, detail string) {
	switch {
	case added:
		return fmt.Sprintf("model %s is new", name), "added"
	case changed:
		return fmt.Sprintf("model %s content changed", name), "content hash changed"
	default:
		return fmt.Sprintf("model %s is downstream of a changed model", name), "upstream change"
	}
}
