package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ironlayer/ironlayer/pkg/diff"
)

func TestComputeClassification(t *testing.T) {
	base := map[string]string{"a": "h1", "b": "h2", "c": "h3"}
	target := map[string]string{"b": "h2", "c": "h3x", "d": "h4"}

	result := diff.Compute(base, target, nil, nil)

	assert.Equal(t, []string{"d"}, result.AddedModels)
	assert.Equal(t, []string{"a"}, result.RemovedModels)
	assert.Equal(t, []string{"c"}, result.ModifiedModels)
	assert.Empty(t, result.CosmeticSkipped)
}

func TestComputeSortsAlphabetically(t *testing.T) {
	base := map[string]string{}
	target := map[string]string{"z": "1", "a": "2", "m": "3"}

	result := diff.Compute(base, target, nil, nil)
	assert.Equal(t, []string{"a", "m", "z"}, result.AddedModels)
}

func TestComputeCosmeticSkip(t *testing.T) {
	base := map[string]string{"m": "h1"}
	target := map[string]string{"m": "h2"}

	baseSQL := func(string) (string, bool) { return "SELECT  id FROM t -- old comment", true }
	targetSQL := func(string) (string, bool) { return "SELECT id\nFROM t", true }

	result := diff.Compute(base, target, baseSQL, targetSQL)
	assert.Empty(t, result.ModifiedModels)
	assert.Equal(t, []string{"m"}, result.CosmeticSkipped)
}

func TestComputeNoLookupTreatsAsModified(t *testing.T) {
	base := map[string]string{"m": "h1"}
	target := map[string]string{"m": "h2"}

	result := diff.Compute(base, target, nil, nil)
	assert.Equal(t, []string{"m"}, result.ModifiedModels)
	assert.Empty(t, result.CosmeticSkipped)
}

func TestComputeIdenticalSnapshots(t *testing.T) {
	versions := map[string]string{"a": "h1", "b": "h2"}
	result := diff.Compute(versions, versions, nil, nil)
	assert.Empty(t, result.AddedModels)
	assert.Empty(t, result.RemovedModels)
	assert.Empty(t, result.ModifiedModels)
}
