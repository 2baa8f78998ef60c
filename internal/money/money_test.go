package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a, err := Parse("12.5", "150000")
	require.NoError(t, err)
	require.True(t, a.USD.Equal(decimal.RequireFromString("12.50")))
	require.Equal(t, int64(150000), a.LBP)

	empty, err := Parse("", " ")
	require.NoError(t, err)
	require.True(t, empty.IsZero())
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string][2]string{
		"non numeric usd":  {"abc", "0"},
		"fractional lbp":   {"1", "1.5"},
		"three usd places": {"1.005", "0"},
		"non numeric lbp":  {"1", "lots"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(in[0], in[1])
			require.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestArithmeticAvoidsFloatDrift(t *testing.T) {
	sum := Zero()
	for i := 0; i < 10; i++ {
		sum = sum.Add(MustParse("0.10", 15000))
	}
	require.True(t, sum.Equal(MustParse("1.00", 150000)), sum.String())
	require.True(t, sum.Sub(sum).IsZero())
}

func TestSignSplits(t *testing.T) {
	a := New(decimal.RequireFromString("-3.25"), 4000)
	require.True(t, a.AnyNegative())
	require.True(t, a.Positive().Equal(MustParse("0", 4000)))
	require.True(t, a.Negative().Equal(MustParse("-3.25", 0)))
	require.True(t, a.Neg().Equal(MustParse("3.25", -4000)))
	require.Equal(t, "-3.25 USD / 4000 LBP", a.String())
}

func TestFromCents(t *testing.T) {
	require.True(t, FromCents(1050, 7).Equal(MustParse("10.50", 7)))
}
