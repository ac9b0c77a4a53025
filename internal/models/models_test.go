package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantity_JSON(t *testing.T) {
	var got struct {
		Known   Quantity `json:"known"`
		Zero    Quantity `json:"zero"`
		Unknown Quantity `json:"unknown"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"known": -3, "zero": 0, "unknown": null}`), &got))

	n, ok := got.Known.Int()
	assert.True(t, ok)
	assert.Equal(t, -3, n)
	assert.True(t, got.Zero.Known())
	assert.False(t, got.Unknown.Known())
	assert.Equal(t, "unknown", got.Unknown.String())

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"known": -3, "zero": 0, "unknown": null}`, string(out))
}

func TestQuantity_RejectsNonInteger(t *testing.T) {
	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`"5"`), &q))
}

func TestAvailability(t *testing.T) {
	yes, no := true, false
	assert.Equal(t, Available, AvailabilityFromBool(&yes))
	assert.Equal(t, Unavailable, AvailabilityFromBool(&no))
	assert.Equal(t, AvailabilityUnknown, AvailabilityFromBool(nil))

	for _, a := range []Availability{Available, Unavailable, AvailabilityUnknown} {
		text, err := a.MarshalText()
		require.NoError(t, err)

		var back Availability
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, a, back, string(text))
	}
}

func TestQuantitySource_SchemaTyped(t *testing.T) {
	assert.True(t, SourceProductJSON.SchemaTyped())
	assert.True(t, SourceWidget.SchemaTyped())
	assert.False(t, SourceEmbeddedScript.SchemaTyped())
	assert.False(t, QuantitySource("page_html").SchemaTyped())
}
