package planner_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/planner"
)

func TestSerializeByteIdentical(t *testing.T) {
	first, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)
	second, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	a, err := planner.Serialize(first)
	require.NoError(t, err)
	b, err := planner.Serialize(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSerializeFixedPoint(t *testing.T) {
	plan, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	first, err := planner.Serialize(plan)
	require.NoError(t, err)

	reparsed, err := planner.Deserialize(first)
	require.NoError(t, err)

	second, err := planner.Serialize(reparsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestSerializeTopLevelKeyOrder(t *testing.T) {
	plan, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	data, err := planner.Serialize(plan)
	require.NoError(t, err)

	// Sorted top-level keys per the wire format.
	var ordered map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &ordered))
	for _, key := range []string{"approvals", "auto_approved", "base", "plan_id", "steps", "summary", "target"} {
		assert.Contains(t, ordered, key)
	}
	// "approvals" must come first lexicographically in the raw bytes.
	assert.Equal(t, byte('{'), data[0])
	assert.Contains(t, string(data[:15]), `"approvals"`)
}

func TestSerializeNoTimestampKeys(t *testing.T) {
	plan, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	data, err := planner.Serialize(plan)
	require.NoError(t, err)

	var tree any
	require.NoError(t, json.Unmarshal(data, &tree))
	assertNoForbiddenKeys(t, tree)
}

func assertNoForbiddenKeys(t *testing.T, node any) {
	t.Helper()
	forbidden := map[string]bool{"created_at": true, "generated_at": true, "timestamp": true, "updated_at": true}
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			assert.False(t, forbidden[k], "forbidden key %q in plan JSON", k)
			assertNoForbiddenKeys(t, child)
		}
	case []any:
		for _, child := range v {
			assertNoForbiddenKeys(t, child)
		}
	}
}

func TestSerializeStepKeys(t *testing.T) {
	plan, err := planner.Generate(chainInputs(t), planner.DefaultConfig())
	require.NoError(t, err)

	data, err := planner.Serialize(plan)
	require.NoError(t, err)

	var parsed struct {
		Steps []map[string]json.RawMessage `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.NotEmpty(t, parsed.Steps)

	want := []string{
		"contract_violations", "depends_on", "diff_detail",
		"estimated_compute_seconds", "estimated_cost_usd", "input_range",
		"model", "parallel_group", "reason", "run_type", "step_id",
	}
	for _, key := range want {
		assert.Contains(t, parsed.Steps[0], key)
	}
}
