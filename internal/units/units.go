// Package units defines fixed-decimal amounts held by the ledgers.
package units

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fhayvy/Nexcredis/internal/sentinel"
)

// Amount is an unsigned quantity in base units. No floats.
type Amount uint64

const (
	// TokenDecimals is the precision of the reward token.
	TokenDecimals = 6
	// NativeDecimals is the precision of the native currency.
	NativeDecimals = 9
)

func (a Amount) IsZero() bool { return a == 0 }

// Add returns a+b or ErrInvalidAmount on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if uint64(a) > math.MaxUint64-uint64(b) {
		return 0, fmt.Errorf("%w: overflow adding %d to %d", sentinel.ErrInvalidAmount, b, a)
	}
	return a + b, nil
}

// Whole returns n whole units at the given precision.
func Whole(n uint64, decimals int) Amount {
	return Amount(n * pow10(decimals))
}

// Parse converts a human readable decimal ("0.01", "10") to base units.
func Parse(s string, decimals int) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", sentinel.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal", sentinel.ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("%w: %q is negative", sentinel.ErrInvalidAmount, s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", sentinel.ErrInvalidAmount, s, decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows", sentinel.ErrInvalidAmount, s)
	}
	return Amount(bi.Uint64()), nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string, decimals int) Amount {
	a, err := Parse(s, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// Format renders base units as a decimal string without trailing zeros.
func Format(a Amount, decimals int) string {
	return toDecimal(uint64(a)).Shift(-int32(decimals)).String()
}

// MulDivFloor computes floor(x*y*z / den) without intermediate overflow.
func MulDivFloor(x, y, z, den uint64) (Amount, error) {
	if den == 0 {
		return 0, fmt.Errorf("%w: division by zero", sentinel.ErrInvalidAmount)
	}
	num := toDecimal(x).Mul(toDecimal(y)).Mul(toDecimal(z))
	q, _ := num.QuoRem(toDecimal(den), 0)
	bi := q.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: result overflows", sentinel.ErrInvalidAmount)
	}
	return Amount(bi.Uint64()), nil
}

func toDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func pow10(n int) uint64 {
	p := uint64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
