package units

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_Basic(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		from  Unit
		to    Unit
		want  float64
	}{
		{"lb to oz", 1, Pound, Ounce, 16},
		{"kg to oz", 1, Kilogram, Ounce, 35.27396194958},
		{"gal to fl oz", 1, Gallon, FluidOunce, 128},
		{"qt to cup", 1, Quart, Cup, 4},
		{"l to fl oz", 1, Liter, FluidOunce, 33.8140227018},
		{"tbsp to tsp", 1, Tablespoon, Teaspoon, 3},
		{"dozen to each", 2, Dozen, Each, 24},
		{"same unit", 7.5, Gram, Gram, 7.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.value, tt.from, tt.to)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	values := []float64{0.001, 1, 3.5, 109, 12345.678}
	for _, dim := range []Dimension{Mass, Volume, Count} {
		var members []Unit
		for _, u := range Known() {
			if d, _ := DimensionOf(u); d == dim {
				members = append(members, u)
			}
		}
		for _, a := range members {
			for _, b := range members {
				for _, v := range values {
					there, err := Convert(v, a, b)
					require.NoError(t, err)
					back, err := Convert(there, b, a)
					require.NoError(t, err)
					assert.LessOrEqual(t, math.Abs(back-v)/v, 1e-9, "%v %s->%s->%s", v, a, b, a)
				}
			}
		}
	}
}

func TestConvert_CrossDimension(t *testing.T) {
	pairs := [][2]Unit{
		{Ounce, FluidOunce},
		{Gallon, Pound},
		{Each, Gram},
		{Cup, Dozen},
	}
	for _, p := range pairs {
		_, err := Convert(1, p[0], p[1])
		require.Error(t, err)
		var ue *UnsupportedUnitError
		assert.True(t, errors.As(err, &ue), "%s -> %s", p[0], p[1])
	}
}

func TestConvert_UnknownUnit(t *testing.T) {
	_, err := Convert(1, Unit("bushel"), Ounce)
	var ue *UnsupportedUnitError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, err.Error(), "bushel")

	_, err = Convert(1, Unit("bushel"), Unit("bushel"))
	require.ErrorAs(t, err, &ue)
}

func TestParse_Aliases(t *testing.T) {
	tests := map[string]Unit{
		"LB":          Pound,
		"lbs":         Pound,
		"#":           Pound,
		"Ounces":      Ounce,
		"FL OZ":       FluidOunce,
		"fl. oz.":     FluidOunce,
		"Gallon":      Gallon,
		"L":           Liter,
		"ml":          Milliliter,
		"CT":          Each,
		"ea":          Each,
		"Doz":         Dozen,
		" tbsp ":      Tablespoon,
		"fluid ounce": FluidOunce,
	}
	for in, want := range tests {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParse_Unknown(t *testing.T) {
	_, err := Parse("bunch")
	var ue *UnsupportedUnitError
	require.ErrorAs(t, err, &ue)
}

func TestToBase(t *testing.T) {
	v, dim, err := ToBase(5, Pound)
	require.NoError(t, err)
	assert.Equal(t, Mass, dim)
	assert.InDelta(t, 80, v, 1e-9)

	v, dim, err = ToBase(1, Gallon)
	require.NoError(t, err)
	assert.Equal(t, Volume, dim)
	assert.InDelta(t, 128, v, 1e-9)

	v, dim, err = ToBase(1, Dozen)
	require.NoError(t, err)
	assert.Equal(t, Count, dim)
	assert.InDelta(t, 12, v, 1e-9)
}

func TestBase(t *testing.T) {
	assert.Equal(t, Ounce, Base(Mass))
	assert.Equal(t, FluidOunce, Base(Volume))
	assert.Equal(t, Each, Base(Count))
}
