package canonjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysByCodePoint(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "B": 3}

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"B":3,"a":2,"b":1}`, string(out))
}

func TestMarshal_ArraysPreserveOrder(t *testing.T) {
	out, err := Marshal([]any{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, `[3,1,2]`, string(out))
}

func TestMarshal_MinimalNumberForm(t *testing.T) {
	out, err := Marshal(map[string]any{"n": 1.0, "m": 500})
	require.NoError(t, err)
	assert.Equal(t, `{"m":500,"n":1}`, string(out))
}

func TestMarshal_RejectsUnsafeIntegers(t *testing.T) {
	_, err := Marshal(map[string]any{"n": int64(1) << 60})
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestMarshal_StableUnderRoundTrip(t *testing.T) {
	type payload struct {
		Iss       string `json:"iss"`
		Aud       string `json:"aud"`
		Amount    int64  `json:"amountCents"`
		Currency  string `json:"currency"`
		Arbitrary []int  `json:"arbitrary"`
	}
	p := payload{Iss: "svc", Aud: "prov", Amount: 500, Currency: "USD", Arbitrary: []int{1, 2, 3}}

	first, err := Marshal(p)
	require.NoError(t, err)

	var roundTripped any
	require.NoError(t, json.Unmarshal(first, &roundTripped))

	second, err := Marshal(roundTripped)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestHash_IsDeterministic(t *testing.T) {
	v := map[string]any{"x": 1, "y": "z"}

	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestMarshal_EscapesControlCharactersMinimally(t *testing.T) {
	out, err := Marshal("a\nb\tc\x01d<e>")
	require.NoError(t, err)
	assert.Equal(t, "\"a\\nb\\tc\\u0001d<e>\"", string(out))
}
