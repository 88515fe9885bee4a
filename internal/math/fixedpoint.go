package math

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// All ledger amounts are unsigned 18-decimal fixed-point values.
const Decimals = 18

const (
	// MaxDecayMinutes caps the decay exponent at 1000 years.
	MaxDecayMinutes uint64 = 525_600_000
	SecondsPerMinute int64 = 60
)

var (
	// DecimalPrecision is 1e18, the fixed-point unit.
	DecimalPrecision = uint256.NewInt(1_000_000_000_000_000_000)

	// NICRPrecision scales nominal ratios so small debts keep resolution.
	NICRPrecision = uint256.NewInt(0).Mul(uint256.NewInt(100), DecimalPrecision)

	halfPrecision = uint256.NewInt(500_000_000_000_000_000)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundHalfUp
)

// Dec returns n whole units (n * 1e18).
func Dec(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), DecimalPrecision)
}

// DecFrac returns num/den whole units, e.g. DecFrac(11, 10) = 1.1e18.
func DecFrac(num, den uint64) *uint256.Int {
	return MulDiv(uint256.NewInt(num), DecimalPrecision, uint256.NewInt(den))
}

// Parse reads a base-10 integer already expressed in 18-decimal units.
func Parse(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Max256 returns 2^256-1, the ratio reported for zero-debt positions.
func Max256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// MaxAmount returns 2^128, the largest amount a command may carry. Sums and
// products of bounded amounts stay well inside 256 bits.
func MaxAmount() *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), 128)
}

// Add returns a+b. Overflow is a broken invariant, never a user error.
func Add(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		panic(fmt.Sprintf("FATAL: uint256 add overflow: %s + %s", a.Dec(), b.Dec()))
	}
	return z
}

// Sub returns a-b and panics on underflow.
func Sub(a, b *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		panic(fmt.Sprintf("FATAL: uint256 sub underflow: %s - %s", a.Dec(), b.Dec()))
	}
	return z
}

// CheckedSub returns a-b, or false when b > a.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, bool) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, false
	}
	return z, true
}

// CheckedAdd returns a+b, or false on overflow.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, bool) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, false
	}
	return z, true
}

// Mul returns a*b and panics on overflow.
func Mul(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		panic(fmt.Sprintf("FATAL: uint256 mul overflow: %s * %s", a.Dec(), b.Dec()))
	}
	return z
}

// Div returns a/b rounded down. Division by zero panics.
func Div(a, b *uint256.Int) *uint256.Int {
	if b.IsZero() {
		panic("FATAL: uint256 division by zero")
	}
	return new(uint256.Int).Div(a, b)
}

// MulDiv computes a*b/d with a 512-bit intermediate, rounding down.
func MulDiv(a, b, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		panic("FATAL: uint256 muldiv by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		panic(fmt.Sprintf("FATAL: uint256 muldiv overflow: %s * %s / %s", a.Dec(), b.Dec(), d.Dec()))
	}
	return z
}

// MulDivRounding computes a*b/d with the given rounding mode.
func MulDivRounding(a, b, d *uint256.Int, mode RoundingMode) *uint256.Int {
	if mode == RoundDown {
		return MulDiv(a, b, d)
	}
	prod := Mul(a, b)
	half := new(uint256.Int).Rsh(d, 1)
	return Div(Add(prod, half), d)
}

// DecMul multiplies two 18-decimal values, rounding half up.
func DecMul(x, y *uint256.Int) *uint256.Int {
	prod := Mul(x, y)
	return Div(Add(prod, halfPrecision), DecimalPrecision)
}

// DecPow raises an 18-decimal base to an integer power by squaring.
// The exponent is capped at MaxDecayMinutes; base must not exceed 1e18
// for the intermediate products to stay in range.
func DecPow(base *uint256.Int, minutes uint64) *uint256.Int {
	if minutes > MaxDecayMinutes {
		minutes = MaxDecayMinutes
	}
	if minutes == 0 {
		return DecimalPrecision.Clone()
	}

	y := DecimalPrecision.Clone()
	x := base.Clone()
	n := minutes

	for n > 1 {
		if n%2 == 0 {
			x = DecMul(x, x)
			n /= 2
		} else {
			y = DecMul(x, y)
			x = DecMul(x, x)
			n = (n - 1) / 2
		}
	}

	return DecMul(x, y)
}

// ComputeCR returns coll*price/debt, or the max value when debt is zero.
func ComputeCR(coll, debt, price *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return Max256()
	}
	return MulDiv(coll, price, debt)
}

// CheckedComputeCR is ComputeCR for values that came from a caller: it
// reports false instead of panicking when the ratio does not fit.
func CheckedComputeCR(coll, debt, price *uint256.Int) (*uint256.Int, bool) {
	if debt.IsZero() {
		return Max256(), true
	}
	z, overflow := new(uint256.Int).MulDivOverflow(coll, price, debt)
	if overflow {
		return nil, false
	}
	return z, true
}

// ComputeNominalCR returns coll*1e20/debt. It ignores price, so the
// ordering of positions only moves when a position is touched.
func ComputeNominalCR(coll, debt *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return Max256()
	}
	return MulDiv(coll, NICRPrecision, debt)
}

// Min returns the smaller value. Neither argument is modified.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Max returns the larger value.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// OrZero returns v, or zero when v is nil.
func OrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// FormatDec renders an 18-decimal value as "int.frac" with trailing zeros trimmed.
func FormatDec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	intPart := new(uint256.Int).Div(v, DecimalPrecision)
	frac := new(uint256.Int).Mod(v, DecimalPrecision)
	if frac.IsZero() {
		return intPart.Dec()
	}
	fs := frac.Dec()
	fs = strings.Repeat("0", Decimals-len(fs)) + fs
	return intPart.Dec() + "." + strings.TrimRight(fs, "0")
}

// ParseDecimal reads a human decimal such as "1.1" or "200" into 18-decimal
// units. More than 18 fractional digits is an error.
func ParseDecimal(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("parse decimal: empty string")
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && fracPart == "" {
		return nil, fmt.Errorf("parse decimal %q: missing fraction digits", s)
	}
	if len(fracPart) > Decimals {
		return nil, fmt.Errorf("parse decimal %q: more than %d fraction digits", s, Decimals)
	}
	if intPart == "" {
		intPart = "0"
	}
	digits := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", Decimals-len(fracPart)), "0")
	if digits == "" {
		digits = "0"
	}
	whole, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return whole, nil
}

// ToFloat converts to a float64 in whole units. Only for metrics and logs.
func ToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v.ToBig())
	f.Quo(f, new(big.Float).SetInt(DecimalPrecision.ToBig()))
	out, _ := f.Float64()
	return out
}
