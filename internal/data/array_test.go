package data

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesShape(t *testing.T) {
	spec := powerSpec()

	_, err := New(spec, []float64{1, 2, 3})
	assert.Error(t, err)

	da, err := New(spec, []float64{10, 20, 30, 40})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, da.Values())
}

func TestAt(t *testing.T) {
	da := MustNew(powerSpec(), []float64{10, 20, 30, 40})
	assert.Equal(t, 10.0, da.At(0, 0))
	assert.Equal(t, 40.0, da.At(3, 0))
}

func TestScalar(t *testing.T) {
	scalar := MustNew(Spec{
		Name:   "level",
		Dims:   []string{"value"},
		Coords: map[string][]string{"value": {"value"}},
	}, []float64{500})
	v, err := scalar.Scalar()
	require.NoError(t, err)
	assert.Equal(t, 500.0, v)

	_, err = MustNew(powerSpec(), make([]float64, 4)).Scalar()
	assert.Error(t, err)
}

func TestUpdateReplacesWholesale(t *testing.T) {
	da := MustNew(powerSpec(), []float64{10, 20, 30, 40})
	require.NoError(t, da.Update([]float64{1, 2, 3, 4}))
	assert.Equal(t, []float64{1, 2, 3, 4}, da.Values())
	assert.Error(t, da.Update([]float64{1}))
}

func TestEqualIsNaNAware(t *testing.T) {
	a := MustNew(powerSpec(), []float64{10, math.NaN(), 30, 40})
	b := MustNew(powerSpec(), []float64{10, math.NaN(), 30, 40})
	c := MustNew(powerSpec(), []float64{10, 20, 30, 40})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestJSONRoundTrip(t *testing.T) {
	original := MustNew(powerSpec(), []float64{10, math.NaN(), 30, 40})

	body, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded DataArray
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.True(t, original.Equal(decoded))
}

func TestJSONRoundTripIsCanonical(t *testing.T) {
	da := MustNew(powerSpec(), []float64{10, 20, 30, 40})
	first, err := json.Marshal(da)
	require.NoError(t, err)
	second, err := json.Marshal(da)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFilled(t *testing.T) {
	da := Filled(powerSpec(), 7)
	assert.Equal(t, []float64{7, 7, 7, 7}, da.Values())
}
