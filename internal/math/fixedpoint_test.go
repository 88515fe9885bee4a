package math_test

import (
	fpmath "TroveLedger/internal/math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: basic arithmetic
// ============================================================================

func TestDec(t *testing.T) {
	assert.Equal(t, "2000000000000000000", fpmath.Dec(2).Dec())
	assert.Equal(t, "1100000000000000000", fpmath.DecFrac(11, 10).Dec())
}

func TestSub_UnderflowPanics(t *testing.T) {
	assert.Panics(t, func() {
		fpmath.Sub(fpmath.Dec(1), fpmath.Dec(2))
	})
}

func TestCheckedSub(t *testing.T) {
	v, ok := fpmath.CheckedSub(fpmath.Dec(5), fpmath.Dec(2))
	require.True(t, ok)
	assert.True(t, v.Eq(fpmath.Dec(3)))

	_, ok = fpmath.CheckedSub(fpmath.Dec(2), fpmath.Dec(5))
	assert.False(t, ok)
}

func TestCheckedAdd_Overflow(t *testing.T) {
	v, ok := fpmath.CheckedAdd(fpmath.Dec(5), fpmath.Dec(2))
	require.True(t, ok)
	assert.True(t, v.Eq(fpmath.Dec(7)))

	_, ok = fpmath.CheckedAdd(fpmath.Max256(), fpmath.Dec(20))
	assert.False(t, ok)
}

func TestMaxAmount(t *testing.T) {
	assert.Equal(t, 129, fpmath.MaxAmount().BitLen())
	// Sums of bounded amounts never wrap.
	_, ok := fpmath.CheckedAdd(fpmath.MaxAmount(), fpmath.MaxAmount())
	assert.True(t, ok)
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// (2^200 * 2^50) / 2^60 would overflow a 256-bit product without the wide path
	a := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	b := new(uint256.Int).Lsh(uint256.NewInt(1), 50)
	d := new(uint256.Int).Lsh(uint256.NewInt(1), 60)

	got := fpmath.MulDiv(a, b, d)
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 190)
	assert.True(t, got.Eq(want))
}

func TestMulDiv_ZeroDenominatorPanics(t *testing.T) {
	assert.Panics(t, func() {
		fpmath.MulDiv(fpmath.Dec(1), fpmath.Dec(1), fpmath.Zero())
	})
}

func TestMulDivRounding_HalfUp(t *testing.T) {
	got := fpmath.MulDivRounding(uint256.NewInt(5), uint256.NewInt(1), uint256.NewInt(2), fpmath.RoundHalfUp)
	assert.Equal(t, uint64(3), got.Uint64())

	got = fpmath.MulDivRounding(uint256.NewInt(5), uint256.NewInt(1), uint256.NewInt(2), fpmath.RoundDown)
	assert.Equal(t, uint64(2), got.Uint64())
}

// ============================================================================
// Test: DecPow
// ============================================================================

func TestDecPow_ZeroExponentIsOne(t *testing.T) {
	got := fpmath.DecPow(fpmath.DecFrac(1, 2), 0)
	assert.True(t, got.Eq(fpmath.DecimalPrecision))
}

func TestDecPow_Halving(t *testing.T) {
	half := fpmath.DecFrac(1, 2)
	assert.True(t, fpmath.DecPow(half, 1).Eq(half))
	assert.True(t, fpmath.DecPow(half, 2).Eq(fpmath.DecFrac(1, 4)))
	assert.True(t, fpmath.DecPow(half, 3).Eq(fpmath.DecFrac(1, 8)))
}

func TestDecPow_MinuteDecayHalfLife(t *testing.T) {
	// The default decay factor halves the base in roughly 12 hours.
	factor := fpmath.MustParse("999037758833783000")
	got := fpmath.DecPow(factor, 720)

	lower := fpmath.MustParse("499000000000000000")
	upper := fpmath.MustParse("501000000000000000")
	assert.True(t, got.Gt(lower), "got %s", got.Dec())
	assert.True(t, got.Lt(upper), "got %s", got.Dec())
}

func TestDecPow_ExponentCapped(t *testing.T) {
	factor := fpmath.MustParse("999037758833783000")
	capped := fpmath.DecPow(factor, fpmath.MaxDecayMinutes)
	beyond := fpmath.DecPow(factor, fpmath.MaxDecayMinutes*4)
	assert.True(t, capped.Eq(beyond))
}

// ============================================================================
// Test: collateral ratios
// ============================================================================

func TestComputeCR(t *testing.T) {
	// 2 coll at price 200 backing 100 debt = 400%
	cr := fpmath.ComputeCR(fpmath.Dec(2), fpmath.Dec(100), fpmath.Dec(200))
	assert.True(t, cr.Eq(fpmath.Dec(4)))
}

func TestComputeCR_ZeroDebtIsMax(t *testing.T) {
	cr := fpmath.ComputeCR(fpmath.Dec(1), fpmath.Zero(), fpmath.Dec(200))
	assert.True(t, cr.Eq(fpmath.Max256()))
}

func TestCheckedComputeCR(t *testing.T) {
	cr, ok := fpmath.CheckedComputeCR(fpmath.Dec(2), fpmath.Dec(100), fpmath.Dec(200))
	require.True(t, ok)
	assert.True(t, cr.Eq(fpmath.Dec(4)))

	cr, ok = fpmath.CheckedComputeCR(fpmath.Dec(1), fpmath.Zero(), fpmath.Dec(200))
	require.True(t, ok)
	assert.True(t, cr.Eq(fpmath.Max256()))

	// Max256 collateral at price 200 over 1 wei of debt does not fit.
	_, ok = fpmath.CheckedComputeCR(fpmath.Max256(), uint256.NewInt(1), fpmath.Dec(200))
	assert.False(t, ok)
}

func TestComputeNominalCR(t *testing.T) {
	nicr := fpmath.ComputeNominalCR(fpmath.Dec(1), fpmath.Dec(100))
	// 1 * 1e20 / 100 = 1e18
	assert.True(t, nicr.Eq(fpmath.DecimalPrecision))
}

func TestFormatDec(t *testing.T) {
	assert.Equal(t, "1.5", fpmath.FormatDec(fpmath.DecFrac(3, 2)))
	assert.Equal(t, "200", fpmath.FormatDec(fpmath.Dec(200)))
	assert.Equal(t, "0.000000000000000001", fpmath.FormatDec(uint256.NewInt(1)))
}

// ============================================================================
// Test: decimal parsing
// ============================================================================

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want *uint256.Int
	}{
		{"200", fpmath.Dec(200)},
		{"1.1", fpmath.DecFrac(11, 10)},
		{"0.005", fpmath.DecFrac(5, 1000)},
		{".5", fpmath.DecFrac(1, 2)},
		{" 0.999037758833783 ", fpmath.MustParse("999037758833783000")},
		{"0.000000000000000001", uint256.NewInt(1)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := fpmath.ParseDecimal(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Eq(tt.want), "got %s", got.Dec())
		})
	}
}

func TestParseDecimal_Rejects(t *testing.T) {
	for _, in := range []string{"", "1.", "-1", "1.2.3", "abc", "0.0000000000000000001"} {
		_, err := fpmath.ParseDecimal(in)
		assert.Error(t, err, in)
	}
}

func TestToFloat(t *testing.T) {
	assert.InDelta(t, 1.5, fpmath.ToFloat(fpmath.DecFrac(3, 2)), 1e-12)
	assert.Equal(t, 0.0, fpmath.ToFloat(nil))
}
