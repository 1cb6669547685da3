package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/planner"
)

const (
	baseSHA   = "aaaa1111"
	targetSHA = "bbbb2222"
)

func chainModels() map[string]*contracts.ModelDefinition {
	return map[string]*contracts.ModelDefinition{
		"raw.events": {
			Name: "raw.events",
			Kind: contracts.KindFullRefresh,
		},
		"staging.events_clean": {
			Name:         "staging.events_clean",
			Kind:         contracts.KindFullRefresh,
			Dependencies: []string{"raw.events"},
		},
		"analytics.daily_summary": {
			Name:         "analytics.daily_summary",
			Kind:         contracts.KindFullRefresh,
			Dependencies: []string{"staging.events_clean"},
		},
	}
}

func chainInputs(t *testing.T) planner.Inputs {
	t.Helper()
	models := chainModels()
	g, err := dag.Build(models)
	require.NoError(t, err)
	return planner.Inputs{
		Models:   models,
		Diff:     contracts.DiffResult{ModifiedModels: []string{"raw.events"}},
		Graph:    g,
		Base:     baseSHA,
		Target:   targetSHA,
		AsOfDate: "2025-01-15",
	}
}

// Three-model chain with one modified root: all three run, ordered
// alphabetically, with topological parallel groups.
func TestGenerateChainScenario(t *testing.T) {
	plan, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "analytics.daily_summary", plan.Steps[0].Model)
	assert.Equal(t, "raw.events", plan.Steps[1].Model)
	assert.Equal(t, "staging.events_clean", plan.Steps[2].Model)

	assert.Equal(t, 2, plan.Steps[0].ParallelGroup)
	assert.Equal(t, 0, plan.Steps[1].ParallelGroup)
	assert.Equal(t, 1, plan.Steps[2].ParallelGroup)

	for _, s := range plan.Steps {
		assert.Equal(t, contracts.RunFullRefresh, s.RunType)
		assert.Nil(t, s.InputRange)
	}

	// depends_on carries upstream step IDs.
	cleanID := planner.StepID("staging.events_clean", baseSHA, targetSHA)
	assert.Equal(t, []string{cleanID}, plan.Steps[0].DependsOn)
	assert.Empty(t, plan.Steps[1].DependsOn)
}

func TestGenerateIncrementalWatermarkScenario(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"m": {
			Name:       "m",
			Kind:       contracts.KindIncrementalByTime,
			TimeColumn: "ts",
		},
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	plan, err := planner.Generate(planner.Inputs{
		Models: models,
		Diff:   contracts.DiffResult{ModifiedModels: []string{"m"}},
		Graph:  g,
		Watermarks: map[string]contracts.Watermark{
			"m": {ModelName: "m", PartitionStart: "2025-05-01", PartitionEnd: "2025-05-15"},
		},
		Base:     baseSHA,
		Target:   targetSHA,
		AsOfDate: "2025-06-01",
	}, planner.DefaultConfig())
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Equal(t, contracts.RunIncremental, step.RunType)
	require.NotNil(t, step.InputRange)
	assert.Equal(t, "2025-05-15", step.InputRange.Start)
	assert.Equal(t, "2025-06-01", step.InputRange.End)
}

func TestGenerateIncrementalLookbackWithoutWatermark(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"m": {Name: "m", Kind: contracts.KindIncrementalByTime, TimeColumn: "ts"},
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	plan, err := planner.Generate(planner.Inputs{
		Models:   models,
		Diff:     contracts.DiffResult{ModifiedModels: []string{"m"}},
		Graph:    g,
		Base:     baseSHA,
		Target:   targetSHA,
		AsOfDate: "2025-06-30",
	}, planner.DefaultConfig())
	require.NoError(t, err)

	require.NotNil(t, plan.Steps[0].InputRange)
	assert.Equal(t, "2025-05-31", plan.Steps[0].InputRange.Start)
	assert.Equal(t, "2025-06-30", plan.Steps[0].InputRange.End)
}

func TestGenerateAddedModelAlwaysFullRefresh(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"m": {Name: "m", Kind: contracts.KindIncrementalByTime, TimeColumn: "ts"},
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	plan, err := planner.Generate(planner.Inputs{
		Models:   models,
		Diff:     contracts.DiffResult{AddedModels: []string{"m"}},
		Graph:    g,
		Base:     baseSHA,
		Target:   targetSHA,
		AsOfDate: "2025-01-01",
	}, planner.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, contracts.RunFullRefresh, plan.Steps[0].RunType)
	assert.Nil(t, plan.Steps[0].InputRange)
}

func TestGenerateIncrementalWithoutTimeColumnDegrades(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"m": {Name: "m", Kind: contracts.KindIncrementalByTime},
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	plan, err := planner.Generate(planner.Inputs{
		Models:   models,
		Diff:     contracts.DiffResult{ModifiedModels: []string{"m"}},
		Graph:    g,
		Base:     baseSHA,
		Target:   targetSHA,
		AsOfDate: "2025-01-01",
	}, planner.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, contracts.RunFullRefresh, plan.Steps[0].RunType)
}

func TestGenerateRequiresAsOfDate(t *testing.T) {
	in := chainInputs(t)
	in.AsOfDate = ""
	_, err := planner.Generate(in, planner.DefaultConfig())
	assert.ErrorIs(t, err, planner.ErrMissingAsOfDate)
}

func TestGenerateRejectsBadRevisions(t *testing.T) {
	in := chainInputs(t)
	in.Base = "not-a-sha!"
	_, err := planner.Generate(in, planner.DefaultConfig())
	assert.ErrorIs(t, err, planner.ErrInvalidRevision)

	in = chainInputs(t)
	in.Target = "abc" // too short
	_, err = planner.Generate(in, planner.DefaultConfig())
	assert.ErrorIs(t, err, planner.ErrInvalidRevision)
}

func TestGeneratePlanIDStableAcrossRuns(t *testing.T) {
	first, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)
	second, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, first.PlanID, second.PlanID)
	assert.Len(t, first.PlanID, 64)
}

func TestGenerateCostEstimates(t *testing.T) {
	in := chainInputs(t)
	in.RunStats = map[string]contracts.RunStats{
		"raw.events": {AvgRuntimeSeconds: 120, RunCount: 10},
	}
	plan, err := planner.Generate(in, planner.DefaultConfig())
	require.NoError(t, err)

	byModel := map[string]contracts.PlanStep{}
	for _, s := range plan.Steps {
		byModel[s.Model] = s
	}
	assert.InDelta(t, 120, byModel["raw.events"].EstimatedComputeSeconds, 1e-9)
	assert.InDelta(t, 120*0.0007, byModel["raw.events"].EstimatedCostUSD, 1e-9)
	// No history: default 300 seconds.
	assert.InDelta(t, 300, byModel["staging.events_clean"].EstimatedComputeSeconds, 1e-9)
	assert.InDelta(t, plan.Summary.EstimatedCostUSD,
		byModel["raw.events"].EstimatedCostUSD+2*300*0.0007, 1e-9)
}

func TestGenerateRemovedModelsNoStepsButSummarized(t *testing.T) {
	in := chainInputs(t)
	in.Diff.RemovedModels = []string{"legacy.gone"}
	plan, err := planner.Generate(in, planner.DefaultConfig())
	require.NoError(t, err)

	for _, s := range plan.Steps {
		assert.NotEqual(t, "legacy.gone", s.Model)
	}
	assert.Equal(t, []string{"legacy.gone"}, plan.Summary.ModelsRemoved)
}

func TestStepIDDomainSeparation(t *testing.T) {
	assert.NotEqual(t, planner.StepID("ab", "", "x"), planner.StepID("a", "b", "x"))
}
