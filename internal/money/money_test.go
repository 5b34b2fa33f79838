package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestScaleFollowsCurrencyMinorUnit(t *testing.T) {
	require.EqualValues(t, 2, Scale("eur"))
	require.EqualValues(t, 0, Scale("JPY"))
	require.EqualValues(t, 2, Scale("not-a-code"))
	require.EqualValues(t, 2, Scale(""))
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	require.Equal(t, "84.03", Round(decimal.RequireFromString("84.0336"), "EUR").StringFixed(2))
	require.Equal(t, "0.13", Round(decimal.RequireFromString("0.125"), "EUR").StringFixed(2))
}

func TestParseBlankIsZero(t *testing.T) {
	v, err := Parse("  ")
	require.NoError(t, err)
	require.True(t, v.IsZero())

	_, err = Parse("abc")
	require.Error(t, err)
}
