// Package money provides a fixed-point scalar for cash and share quantities.
//
// Trading balances must never be represented as float64: repeated
// increments/decrements accumulate rounding error that silently violates
// the engine's non-negativity invariants. Scalar wraps shopspring/decimal
// instead, rounded to a fixed number of decimal places on every operation
// that could introduce more precision than the ledger allows.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places retained by Scalar (cents for cash,
// 1e-8 share fractions for holdings). Both cash and shares use the same
// underlying type; callers pass the places they need to Parse, Round, Mul
// and DivFloor.
const (
	CashPlaces  = 2
	SharePlaces = 8
)

// Scalar is a fixed-point monetary or share quantity.
type Scalar struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Scalar{d: decimal.Zero}

// NewFromCents builds a Scalar directly from an integer cent count.
func NewFromCents(cents int64) Scalar {
	return Scalar{d: decimal.New(cents, -2)}
}

// NewFromFloat builds a Scalar from a float64, rounded to places.
// Only meant for test fixtures and parsing external (wire-protocol) input.
func NewFromFloat(f float64, places int32) Scalar {
	return Scalar{d: decimal.NewFromFloat(f).Round(places)}
}

// Parse parses a decimal string (e.g. a quote oracle price field).
func Parse(s string, places int32) (Scalar, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Scalar{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Scalar{d: d.Round(places)}, nil
}

func (s Scalar) Add(o Scalar) Scalar    { return Scalar{d: s.d.Add(o.d)} }
func (s Scalar) Sub(o Scalar) Scalar    { return Scalar{d: s.d.Sub(o.d)} }
func (s Scalar) Neg() Scalar            { return Scalar{d: s.d.Neg()} }
func (s Scalar) Cmp(o Scalar) int       { return s.d.Cmp(o.d) }
func (s Scalar) IsZero() bool           { return s.d.IsZero() }
func (s Scalar) IsNegative() bool       { return s.d.IsNegative() }
func (s Scalar) IsPositive() bool       { return s.d.IsPositive() }
func (s Scalar) GreaterThan(o Scalar) bool    { return s.d.GreaterThan(o.d) }
func (s Scalar) GreaterOrEqual(o Scalar) bool { return s.d.GreaterThanOrEqual(o.d) }
func (s Scalar) LessThan(o Scalar) bool       { return s.d.LessThan(o.d) }
func (s Scalar) LessOrEqual(o Scalar) bool    { return s.d.LessThanOrEqual(o.d) }

// Float64 exposes the value for presentation/metrics only; never feed it
// back into ledger arithmetic.
func (s Scalar) Float64() float64 { return s.d.InexactFloat64() }

func (s Scalar) String() string { return s.d.StringFixed(CashPlaces) }

// Round rounds to the given number of places, rounding halves away from
// zero (decimal.Round). Share counts are floored by DivFloor, not here.
func (s Scalar) Round(places int32) Scalar {
	return Scalar{d: s.d.Round(places)}
}

// DivFloor computes floor(s / divisor) as a whole unit count — fractional
// shares don't exist, so the quotient is floored to an integer before
// places is applied to the result's representation. Used for
// sharesToBuy = floor(amountDollars / price) and the triggered-buy share
// computation; the floor remainder is not refunded at BUY time (it is at
// trigger-fire time, since the full reserved cash is available then).
func (s Scalar) DivFloor(divisor Scalar, places int32) Scalar {
	if divisor.IsZero() {
		return Zero
	}
	whole := s.d.Div(divisor.d).Floor()
	return Scalar{d: whole.Truncate(places)}
}

// Mul multiplies two scalars, rounding to places.
func (s Scalar) Mul(o Scalar, places int32) Scalar {
	return Scalar{d: s.d.Mul(o.d).Round(places)}
}

// Scan implements sql.Scanner so Scalar can be read directly from a DB
// column stored as TEXT (decimal string).
func (s *Scalar) Scan(value any) error {
	if value == nil {
		s.d = decimal.Zero
		return nil
	}
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		s.d = d
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		s.d = d
		return nil
	case float64:
		s.d = decimal.NewFromFloat(v)
		return nil
	case int64:
		s.d = decimal.NewFromInt(v)
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", value)
	}
}

// Value implements driver.Valuer, persisting as a decimal string.
func (s Scalar) Value() (driver.Value, error) {
	return s.d.String(), nil
}
