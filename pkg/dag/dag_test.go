package dag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/dag"
)

func model(name string, deps ...string) *contracts.ModelDefinition {
	return &contracts.ModelDefinition{Name: name, Dependencies: deps}
}

func TestBuildEdgesAndExternals(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"raw.events": {Name: "raw.events", ReferencedTables: []string{"source.kafka_events"}},
		"staging.clean": {
			Name:             "staging.clean",
			ReferencedTables: []string{"raw.events"},
		},
		"analytics.daily": {
			Name:         "analytics.daily",
			Dependencies: []string{"staging.clean"},
		},
	}

	g, err := dag.Build(models)
	require.NoError(t, err)

	assert.Equal(t, []string{"staging.clean"}, g.Downstream("raw.events"))
	assert.Equal(t, []string{"staging.clean"}, g.Upstream("analytics.daily"))
	assert.Equal(t, []string{"source.kafka_events"}, g.Externals())
}

func TestBuildCycleFailsLoudly(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"a": model("a", "c"),
		"b": model("b", "a"),
		"c": model("c", "b"),
	}
	_, err := dag.Build(models)
	var cerr *dag.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, cerr.Members, 3)
}

func TestTransitiveDownstream(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"a": model("a"),
		"b": model("b", "a"),
		"c": model("c", "b"),
		"d": model("d"),
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.TransitiveDownstream([]string{"a"}))
	assert.Equal(t, []string{"d"}, g.TransitiveDownstream([]string{"d"}))
}

func TestTransitiveDownstreamDiamond(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"a": model("a"),
		"b": model("b", "a"),
		"c": model("c", "a"),
		"d": model("d", "b", "c"),
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	// d reachable through both arms appears exactly once.
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.TransitiveDownstream([]string{"a"}))
}

func TestLayerAssignment(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"a": model("a"),
		"b": model("b", "a"),
		"c": model("c", "a"),
		"d": model("d", "b", "c"),
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	inSet := map[string]bool{"a": true, "b": true, "c": true, "d": true}
	layers := g.Layer(inSet)
	assert.Equal(t, 0, layers["a"])
	assert.Equal(t, 1, layers["b"])
	assert.Equal(t, 1, layers["c"])
	assert.Equal(t, 2, layers["d"])
}

func TestLayerIgnoresOutOfSetParents(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"a": model("a"),
		"b": model("b", "a"),
	}
	g, err := dag.Build(models)
	require.NoError(t, err)

	layers := g.Layer(map[string]bool{"b": true})
	assert.Equal(t, 0, layers["b"])
}

func TestSelfReferenceIgnored(t *testing.T) {
	models := map[string]*contracts.ModelDefinition{
		"a": {Name: "a", ReferencedTables: []string{"a"}},
	}
	g, err := dag.Build(models)
	require.NoError(t, err)
	assert.Empty(t, g.Upstream("a"))
}
