package tables

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormaliseSortsBandsAndFlagsOverlaps(t *testing.T) {
	snap, err := DecodeYAML([]byte(sampleYAML))
	require.NoError(t, err)

	out, warnings := Normalise(snap)
	require.Equal(t, "DE", out.Countries[0].Code)
	require.True(t, out.Countries[0].EU)
	require.False(t, out.Countries[1].EU)

	de := out.ShippingZones[0]
	require.Equal(t, "DHL Päckchen", de.Methods[0].Title, "bands ordered by lower bound")
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], `country DE is in zones "Germany" and "Europe"`)
}

func TestNormaliseFlagsOverlappingBands(t *testing.T) {
	snap := Snapshot{ShippingZones: []ShippingZone{{
		Name:      "EU",
		Countries: []string{"fr"},
		Methods: []WeightBand{
			{Min: decimal.Zero, Max: decimal.NewFromInt(5), Title: "small"},
			{Min: decimal.NewFromInt(4), Max: decimal.NewFromInt(3), Title: "broken"},
		},
	}}}
	out, warnings := Normalise(snap)
	require.Equal(t, "FR", out.ShippingZones[0].Countries[0])
	require.Len(t, warnings, 2)
}

func TestWeightBandHalfOpen(t *testing.T) {
	b := WeightBand{Min: decimal.Zero, Max: decimal.NewFromInt(5)}
	require.True(t, b.Contains(decimal.Zero))
	require.True(t, b.Contains(decimal.RequireFromString("4.999")))
	require.False(t, b.Contains(decimal.NewFromInt(5)))

	open := WeightBand{Min: decimal.NewFromInt(5)}
	require.True(t, open.Contains(decimal.NewFromInt(500)))
}

func TestIsEU(t *testing.T) {
	require.True(t, IsEU("de"))
	require.True(t, IsEU("EL"))
	require.False(t, IsEU("CH"))
	require.False(t, IsEU("GB"))
}
