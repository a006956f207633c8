package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{
		"zeta":  1,
		"alpha": 2,
		"mid":   3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(out))
}

func TestMarshal_NestedDeterministic(t *testing.T) {
	a := map[string]any{
		"doc":    "X",
		"amount": 100.00,
		"lines":  []any{map[string]any{"b": 1, "a": 2}},
	}
	b := map[string]any{
		"lines":  []any{map[string]any{"a": 2, "b": 1}},
		"amount": 100.0,
		"doc":    "X",
	}

	outA, err := Marshal(a)
	require.NoError(t, err)
	outB, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(outA), string(outB))
}

func TestMarshal_WholeFloatsEmitAsIntegers(t *testing.T) {
	out, err := Marshal(map[string]any{"amount": 100.00})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":100}`, string(out))
}

func TestMarshal_RejectsNonFinite(t *testing.T) {
	_, err := Marshal(map[string]any{"x": math.NaN()})
	assert.Error(t, err)

	_, err = Marshal(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]any{"q": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c>d"}`, string(out))
}

func TestMarshal_NFCNormalization(t *testing.T) {
	// "é" precomposed (U+00E9) vs decomposed (e + U+0301) must serialize
	// identically.
	precomposed, err := Marshal(map[string]any{"name": "café"})
	require.NoError(t, err)
	decomposed, err := Marshal(map[string]any{"name": "café"})
	require.NoError(t, err)
	assert.Equal(t, string(precomposed), string(decomposed))
}

func TestNormalize_RawJSON(t *testing.T) {
	out, err := Normalize([]byte(`{ "b": 2,
		"a": 1 }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestNormalize_RejectsTrailingData(t *testing.T) {
	_, err := Normalize([]byte(`{"a":1}junk`))
	assert.Error(t, err)

	_, err = Normalize([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)

	// Trailing whitespace is not data.
	out, err := Normalize([]byte(`{"a":1}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(out))
}

func TestNormalize_PreservesLargeIntegers(t *testing.T) {
	// Integers beyond float64 precision must round-trip exactly.
	out, err := Normalize([]byte(`{"id": 9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(out))
}

func TestActionFingerprint_Stable(t *testing.T) {
	_, fp1, err := ActionFingerprint(map[string]any{"amount": 100.00, "doc": "X"})
	require.NoError(t, err)
	_, fp2, err := ActionFingerprint(map[string]any{"doc": "X", "amount": 100.0})
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestActionFingerprint_DifferentArgsDiffer(t *testing.T) {
	_, fp1, err := ActionFingerprint(map[string]any{"amount": 100, "doc": "X"})
	require.NoError(t, err)
	_, fp2, err := ActionFingerprint(map[string]any{"amount": 200, "doc": "X"})
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)
}

func TestActionFingerprintRaw_MatchesMapForm(t *testing.T) {
	_, fromMap, err := ActionFingerprint(map[string]any{"amount": 100, "doc": "X"})
	require.NoError(t, err)
	_, fromRaw, err := ActionFingerprintRaw([]byte(`{"doc":"X","amount":100}`))
	require.NoError(t, err)
	assert.Equal(t, fromMap, fromRaw)
}
