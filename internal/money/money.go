// Package money models the two-currency amounts the cashbox tracks: US dollars as
// a 2-place fixed-point decimal and Lebanese pounds as whole integer units.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// USDPlaces is the number of fractional digits kept for USD amounts.
const USDPlaces = 2

// ErrInvalid reports a malformed or out-of-precision amount.
var ErrInvalid = errors.New("invalid amount")

// Amount is a signed pair of USD and LBP values. The zero value is a valid zero amount.
type Amount struct {
	USD decimal.Decimal `json:"usd"`
	LBP int64           `json:"lbp"`
}

// Zero returns an empty amount.
func Zero() Amount { return Amount{USD: decimal.Zero} }

// New builds an amount from a USD decimal and LBP integer.
func New(usd decimal.Decimal, lbp int64) Amount { return Amount{USD: usd, LBP: lbp} }

// FromCents builds an amount from USD cents and LBP units.
func FromCents(cents, lbp int64) Amount {
	return Amount{USD: decimal.New(cents, -USDPlaces), LBP: lbp}
}

// MustParse is Parse for literals in tests and fixtures; it panics on bad input.
func MustParse(usd string, lbp int64) Amount {
	a, err := Parse(usd, strconv.FormatInt(lbp, 10))
	if err != nil {
		panic(err)
	}
	return a
}

// Parse converts raw textual input into an Amount. Empty strings are read as zero.
// USD may carry at most two fractional digits and LBP must be an integer.
func Parse(usd, lbp string) (Amount, error) {
	out := Zero()
	if s := strings.TrimSpace(usd); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Amount{}, fmt.Errorf("%w: usd %q", ErrInvalid, usd)
		}
		out.USD = d
	}
	if s := strings.TrimSpace(lbp); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Amount{}, fmt.Errorf("%w: lbp %q", ErrInvalid, lbp)
		}
		out.LBP = v
	}
	if err := out.CheckPrecision(); err != nil {
		return Amount{}, err
	}
	return out, nil
}

// CheckPrecision rejects USD values with more than two fractional digits.
func (a Amount) CheckPrecision() error {
	if !a.USD.Equal(a.USD.Round(USDPlaces)) {
		return fmt.Errorf("%w: usd %s has more than %d decimal places", ErrInvalid, a.USD.String(), USDPlaces)
	}
	return nil
}

func (a Amount) Add(b Amount) Amount { return Amount{USD: a.USD.Add(b.USD), LBP: a.LBP + b.LBP} }
func (a Amount) Sub(b Amount) Amount { return Amount{USD: a.USD.Sub(b.USD), LBP: a.LBP - b.LBP} }
func (a Amount) Neg() Amount         { return Amount{USD: a.USD.Neg(), LBP: -a.LBP} }

// IsZero reports whether both currencies are zero.
func (a Amount) IsZero() bool { return a.USD.IsZero() && a.LBP == 0 }

// AnyNegative reports whether either currency is below zero.
func (a Amount) AnyNegative() bool { return a.USD.IsNegative() || a.LBP < 0 }

// Equal compares both currencies by value.
func (a Amount) Equal(b Amount) bool { return a.USD.Equal(b.USD) && a.LBP == b.LBP }

// Positive keeps the positive part of each currency and zeroes the rest.
func (a Amount) Positive() Amount {
	out := Zero()
	if a.USD.IsPositive() {
		out.USD = a.USD
	}
	if a.LBP > 0 {
		out.LBP = a.LBP
	}
	return out
}

// Negative keeps the negative part of each currency and zeroes the rest.
func (a Amount) Negative() Amount {
	out := Zero()
	if a.USD.IsNegative() {
		out.USD = a.USD
	}
	if a.LBP < 0 {
		out.LBP = a.LBP
	}
	return out
}

// String renders the amount as "12.50 USD / 150000 LBP".
func (a Amount) String() string {
	return fmt.Sprintf("%s USD / %d LBP", a.USD.StringFixed(USDPlaces), a.LBP)
}
