package state_test

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedemptionHarness opens three positions with alice the riskiest. Carol
// holds 3000 stablecoin to redeem with.
func newRedemptionHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, zeroFeeParams())
	h.open(t, alice, d(20), d(2000), d(200))
	h.open(t, bob, d(30), d(2000), d(200))
	h.open(t, carol, d(50), d(3000), d(200))
	require.Equal(t, alice, h.pl.Sorted().Last())
	return h
}

func (h *harness) redeem(redeemer common.Address, amount, price *uint256.Int) (*state.RedemptionResult, error) {
	return h.pl.RedeemCollateral(state.RedemptionRequest{
		Redeemer:  redeemer,
		Amount:    amount,
		MaxFee:    maxFee,
		Timestamp: h.now,
	}, price)
}

// ============================================================================
// Test: redemption walk
// ============================================================================

func TestRedeemCollateral_ClosesRiskiestPosition(t *testing.T) {
	h := newRedemptionHarness(t)

	res, err := h.redeem(carol, d(2000), d(200))
	require.NoError(t, err)

	require.Len(t, res.Redeemed, 1)
	assert.Equal(t, alice, res.Redeemed[0].Owner)
	assert.True(t, res.Redeemed[0].Closed)
	assert.True(t, res.TotalDebtRedeemed.Eq(d(2000)))
	assert.True(t, res.TotalCollDrawn.Eq(d(10)))

	wantRate := uint256.NewInt(131578947368421052)
	assert.True(t, res.BaseRate.Eq(wantRate), "base rate %s", res.BaseRate.Dec())
	assert.True(t, h.pl.BaseRate().Rate().Eq(wantRate))
	wantFee := fpmath.MulDiv(wantRate, d(10), fpmath.DecimalPrecision)
	assert.True(t, res.Fee.Eq(wantFee))
	assert.True(t, res.CollToRedeemer.Eq(fpmath.Sub(d(10), wantFee)))

	assert.Equal(t, state.StatusClosedByRedemption, h.pl.PositionStatus(alice))
	assert.True(t, h.pl.SurplusPool().Claimable(alice).Eq(d(10)))
	assert.True(t, h.walletColl(carol).Eq(res.CollToRedeemer))
	assert.True(t, h.stable.BalanceOf(carol).Eq(d(1000)))
	assert.True(t, h.stable.BalanceOf(ledger.GasPoolAddress).Eq(d(400)))
	_, feeColl := h.fees.Totals()
	assert.True(t, feeColl.Eq(wantFee))
	h.checkInvariants(t)
}

func TestRedeemCollateral_PartialEndsTheWalk(t *testing.T) {
	h := newRedemptionHarness(t)
	_, err := h.redeem(carol, d(2000), d(200))
	require.NoError(t, err)

	res, err := h.redeem(carol, d(100), d(200))
	require.NoError(t, err)

	require.Len(t, res.Redeemed, 1)
	assert.Equal(t, bob, res.Redeemed[0].Owner)
	assert.False(t, res.Redeemed[0].Closed)
	p := h.position(t, bob)
	assert.True(t, p.Debt.Eq(d(2100)))
	assert.True(t, p.Coll.Eq(df(295, 10)))
	assert.True(t, p.Stake.Eq(df(295, 10)))

	_, err = h.redeem(carol, d(500), d(200))
	assert.ErrorIs(t, err, state.ErrNothingToRedeem, "would leave bob below the minimum net debt")

	h.checkInvariants(t)
}

func TestRedeemCollateral_SkipsPositionsBelowMCR(t *testing.T) {
	h := newRedemptionHarness(t)
	price := d(115)

	res, err := h.redeem(carol, d(200), price)
	require.NoError(t, err)

	require.Len(t, res.Redeemed, 1)
	assert.Equal(t, bob, res.Redeemed[0].Owner)
	assert.True(t, res.TotalCollDrawn.Eq(fpmath.MulDiv(d(200), fpmath.DecimalPrecision, price)))
	assert.True(t, h.position(t, alice).Debt.Eq(d(2200)))
	assert.True(t, h.position(t, bob).Debt.Eq(d(2000)))
	h.checkInvariants(t)
}

func TestRedeemCollateral_HonorsFirstHint(t *testing.T) {
	h := newRedemptionHarness(t)

	res, err := h.pl.RedeemCollateral(state.RedemptionRequest{
		Redeemer:  carol,
		Amount:    d(200),
		FirstHint: bob,
		MaxFee:    maxFee,
		Timestamp: h.now,
	}, d(115))
	require.NoError(t, err)

	assert.Equal(t, bob, res.Redeemed[0].Owner)
}

func TestRedeemCollateral_MaxIterations(t *testing.T) {
	h := newRedemptionHarness(t)
	require.NoError(t, h.stable.Transfer(bob, carol, d(1000)))

	res, err := h.pl.RedeemCollateral(state.RedemptionRequest{
		Redeemer:      carol,
		Amount:        d(2100),
		MaxIterations: 1,
		MaxFee:        maxFee,
		Timestamp:     h.now,
	}, d(200))
	require.NoError(t, err)

	require.Len(t, res.Redeemed, 1)
	assert.True(t, res.TotalDebtRedeemed.Eq(d(2000)))
	assert.True(t, h.stable.BalanceOf(carol).Eq(d(2000)))
	h.checkInvariants(t)
}

// ============================================================================
// Test: preconditions
// ============================================================================

func TestRedeemCollateral_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		req     state.RedemptionRequest
		price   *uint256.Int
		wantErr error
	}{
		{
			name:    "tcr below mcr",
			req:     state.RedemptionRequest{Redeemer: carol, Amount: d(100), MaxFee: maxFee},
			price:   d(80),
			wantErr: state.ErrTCRBelowMCR,
		},
		{
			name:    "max fee below floor",
			req:     state.RedemptionRequest{Redeemer: carol, Amount: d(100), MaxFee: df(1, 1000)},
			price:   d(200),
			wantErr: state.ErrInvalidMaxFee,
		},
		{
			name:    "max fee above 100%",
			req:     state.RedemptionRequest{Redeemer: carol, Amount: d(100), MaxFee: d(2)},
			price:   d(200),
			wantErr: state.ErrInvalidMaxFee,
		},
		{
			name:    "zero amount",
			req:     state.RedemptionRequest{Redeemer: carol, Amount: fpmath.Zero(), MaxFee: maxFee},
			price:   d(200),
			wantErr: state.ErrZeroAmount,
		},
		{
			name:    "insufficient balance",
			req:     state.RedemptionRequest{Redeemer: alice, Amount: d(5000), MaxFee: maxFee},
			price:   d(200),
			wantErr: state.ErrInsufficientStable,
		},
		{
			name:    "fee above max",
			req:     state.RedemptionRequest{Redeemer: carol, Amount: d(2000), MaxFee: df(5, 1000)},
			price:   d(200),
			wantErr: state.ErrFeeExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRedemptionHarness(t)
			before := h.pl.Export()
			tt.req.Timestamp = h.now

			_, err := h.pl.RedeemCollateral(tt.req, tt.price)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, h.pl.Export())
			h.checkInvariants(t)
		})
	}
}
