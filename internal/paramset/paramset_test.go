package paramset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringifyIsOrderIndependent(t *testing.T) {
	a, err := Stringify(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Stringify(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStringifyParseRoundTrip(t *testing.T) {
	in := map[string]any{"x": "y", "n": float64(3)}
	s, err := Stringify(in)
	require.NoError(t, err)
	out, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestOffloadTokenRoundTrip(t *testing.T) {
	tok := OffloadToken(42)
	id, ok := IsOffloadToken(tok)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestIsOffloadTokenRejectsOrdinaryInput(t *testing.T) {
	_, ok := IsOffloadToken(`{"a":1}`)
	assert.False(t, ok)
}

func TestContentHashIsStable(t *testing.T) {
	assert.Equal(t, ContentHash("hello"), ContentHash("hello"))
	assert.NotEqual(t, ContentHash("hello"), ContentHash("world"))
}

func TestSubstituteTemplate(t *testing.T) {
	out, err := SubstituteTemplate("chr#chrom#:#start#-#end#", map[string]any{
		"chrom": "1", "start": 100, "end": 200,
	})
	require.NoError(t, err)
	assert.Equal(t, "chr1:100-200", out)
}

func TestSubstituteTemplateUnknownParam(t *testing.T) {
	_, err := SubstituteTemplate("#missing#", map[string]any{})
	assert.Error(t, err)
}

func TestSubstituteTemplateUnterminated(t *testing.T) {
	_, err := SubstituteTemplate("chr#chrom", map[string]any{"chrom": "1"})
	assert.Error(t, err)
}

func TestMergeOverridesBase(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	override := map[string]any{"b": 3, "c": 4}
	out := Merge(base, override)
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, out)
	// base must not be mutated
	assert.Equal(t, 2, base["b"])
}
