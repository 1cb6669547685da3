package canonicalize_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/canonicalize"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := canonicalize.JCS(map[string]any{"b": 1, "a": 2, "c": []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":["x"]}`, string(out))
}

func TestJCSFixedPoint(t *testing.T) {
	in := map[string]any{
		"steps":   []any{map[string]any{"model": "b"}, map[string]any{"model": "a"}},
		"base":    "abc123",
		"summary": map[string]any{"total_steps": 2, "cost": 1.5},
	}

	first, err := canonicalize.JCS(in)
	require.NoError(t, err)

	var reparsed any
	require.NoError(t, json.Unmarshal(first, &reparsed))

	second, err := canonicalize.JCS(reparsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := canonicalize.JCS(map[string]string{"sql": "SELECT a <> b & c"})
	require.NoError(t, err)
	assert.Equal(t, `{"sql":"SELECT a <> b & c"}`, string(out))
}

func TestHashPartsDomainSeparation(t *testing.T) {
	// NUL separation means the concatenation is unambiguous.
	assert.NotEqual(t, canonicalize.HashParts("ab", ""), canonicalize.HashParts("a", "b"))
	assert.Equal(t, canonicalize.HashParts("a", "b"), canonicalize.HashParts("a", "b"))
}

func TestCanonicalHashStable(t *testing.T) {
	v := map[string]any{"x": 1, "y": "z"}
	h1, err := canonicalize.CanonicalHash(v)
	require.NoError(t, err)
	h2, err := canonicalize.CanonicalHash(map[string]any{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
