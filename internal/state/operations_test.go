package state_test

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: open
// ============================================================================

func TestOpenPosition_Success(t *testing.T) {
	h := newHarness(t, state.DefaultSystemParams())
	price := d(200)

	res := h.open(t, alice, d(20), d(2000), price)

	assert.True(t, res.Fee.Eq(d(10)), "0.5%% floor fee, got %s", res.Fee.Dec())
	assert.True(t, res.CompositeDebt.Eq(d(2210)))
	assert.True(t, res.Stake.Eq(d(20)))

	p := h.position(t, alice)
	assert.Equal(t, state.StatusActive, p.Status)
	assert.True(t, p.Coll.Eq(d(20)))
	assert.True(t, p.Debt.Eq(d(2210)))

	assert.True(t, h.stable.BalanceOf(alice).Eq(d(2000)))
	assert.True(t, h.stable.BalanceOf(ledger.GasPoolAddress).Eq(d(200)))
	assert.True(t, h.stable.BalanceOf(ledger.FeePoolAddress).Eq(d(10)))
	feeStable, _ := h.fees.Totals()
	assert.True(t, feeStable.Eq(d(10)))

	assert.True(t, h.pl.ActivePool().CollateralBalance().Eq(d(20)))
	assert.True(t, h.pl.ActivePool().DebtBalance().Eq(d(2210)))
	assert.Equal(t, alice, h.pl.Sorted().First())
	h.checkInvariants(t)
}

func TestOpenPosition_Preconditions(t *testing.T) {
	price := d(200)

	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		req     state.OpenRequest
		wantErr error
	}{
		{
			name:    "zero owner",
			req:     state.OpenRequest{Coll: d(20), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrReservedAddress,
		},
		{
			name:    "pool address",
			req:     state.OpenRequest{Owner: ledger.GasPoolAddress, Coll: d(20), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrReservedAddress,
		},
		{
			name:    "max fee below floor",
			req:     state.OpenRequest{Owner: alice, Coll: d(20), DebtRequest: d(2000), MaxFee: df(1, 1000)},
			wantErr: state.ErrInvalidMaxFee,
		},
		{
			name:    "zero collateral",
			req:     state.OpenRequest{Owner: alice, Coll: fpmath.Zero(), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrZeroCollateral,
		},
		{
			name:    "collateral above max amount",
			req:     state.OpenRequest{Owner: alice, Coll: fpmath.Max256(), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrAmountTooLarge,
		},
		{
			name:    "debt above max amount",
			req:     state.OpenRequest{Owner: alice, Coll: d(20), DebtRequest: fpmath.Max256(), MaxFee: maxFee},
			wantErr: state.ErrAmountTooLarge,
		},
		{
			name:    "net debt below minimum",
			req:     state.OpenRequest{Owner: alice, Coll: d(20), DebtRequest: d(1000), MaxFee: maxFee},
			wantErr: state.ErrNetDebtBelowMin,
		},
		{
			name:    "icr below mcr",
			req:     state.OpenRequest{Owner: alice, Coll: d(10), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrICRBelowMCR,
		},
		{
			name:    "already active",
			setup:   func(t *testing.T, h *harness) { h.open(t, alice, d(20), d(2000), price) },
			req:     state.OpenRequest{Owner: alice, Coll: d(20), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrPositionActive,
		},
		{
			name:    "tcr would drop below ccr",
			setup:   func(t *testing.T, h *harness) { h.open(t, alice, d(20), d(2000), price) },
			req:     state.OpenRequest{Owner: bob, Coll: d(13), DebtRequest: d(2000), MaxFee: maxFee},
			wantErr: state.ErrTCRBelowCCR,
		},
		{
			name:    "fee above max",
			setup:   func(t *testing.T, h *harness) { h.pl.BaseRate().Restore(df(3, 100), t0) },
			req:     state.OpenRequest{Owner: alice, Coll: d(20), DebtRequest: d(2000), MaxFee: df(1, 100)},
			wantErr: state.ErrFeeExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, state.DefaultSystemParams())
			if tt.setup != nil {
				tt.setup(t, h)
			}
			before := h.pl.ActivePositionCount()
			tt.req.Timestamp = h.now

			_, err := h.ops.OpenPosition(tt.req, price)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, h.pl.ActivePositionCount())
			h.checkInvariants(t)
		})
	}
}

func TestOpenPosition_RatioOverflowIsAnError(t *testing.T) {
	h := newHarness(t, state.DefaultSystemParams())
	h.open(t, alice, d(20), d(2000), d(200))
	before := h.pl.Export()

	// Both amounts are in range but coll*price does not fit in 256 bits.
	_, err := h.tryOpen(bob, fpmath.MaxAmount(), d(2000), fpmath.Max256())

	assert.ErrorIs(t, err, state.ErrAmountTooLarge)
	assert.Equal(t, before, h.pl.Export())
	h.checkInvariants(t)
}

func TestOpenPosition_ListFull(t *testing.T) {
	h := newLimitedHarness(t, state.DefaultSystemParams(), 1)

	h.open(t, alice, d(20), d(2000), d(200))
	_, err := h.tryOpen(bob, d(20), d(2000), d(200))

	assert.ErrorIs(t, err, state.ErrListFull)
	h.checkInvariants(t)
}

func TestOpenPosition_ReopenAfterClose(t *testing.T) {
	h := newHarness(t, state.DefaultSystemParams())
	price := d(200)
	h.open(t, alice, d(20), d(2000), price)
	h.open(t, bob, d(30), d(2000), price)
	require.NoError(t, h.stable.Transfer(bob, alice, d(10)))

	res, err := h.ops.ClosePosition(alice, price)
	require.NoError(t, err)
	assert.True(t, res.DebtRepaid.Eq(d(2010)))
	assert.True(t, res.CollReturned.Eq(d(20)))
	assert.Equal(t, state.StatusClosedByOwner, h.pl.PositionStatus(alice))

	h.open(t, alice, d(20), d(2000), price)
	assert.Equal(t, state.StatusActive, h.pl.PositionStatus(alice))
	assert.Equal(t, 2, h.pl.ActivePositionCount())
	h.checkInvariants(t)
}

// ============================================================================
// Test: adjust
// ============================================================================

func newAdjustHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, state.DefaultSystemParams())
	h.open(t, alice, d(20), d(2000), d(200))
	res := h.open(t, bob, d(100), d(5000), d(200))
	require.True(t, res.CompositeDebt.Eq(d(5225)))
	return h
}

func TestAdjustPosition_Collateral(t *testing.T) {
	h := newAdjustHarness(t)
	price := d(200)

	res, err := h.ops.AddColl(alice, d(5), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.True(t, res.Coll.Eq(d(25)))
	assert.True(t, res.Stake.Eq(d(25)))
	assert.True(t, h.pl.TotalStakes().Eq(d(125)))

	_, err = h.ops.WithdrawColl(alice, d(13), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrICRBelowMCR)

	_, err = h.ops.WithdrawColl(alice, d(26), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrWithdrawExceedsColl)

	res, err = h.ops.WithdrawColl(alice, d(2), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.True(t, res.Coll.Eq(d(23)))
	assert.True(t, h.walletColl(alice).Eq(d(2)))
	assert.True(t, h.pl.ActivePool().CollateralBalance().Eq(d(123)))

	h.checkInvariants(t)
}

func TestAdjustPosition_Debt(t *testing.T) {
	h := newAdjustHarness(t)
	price := d(200)
	_, err := h.ops.AddColl(alice, d(3), state.Hints{}, price, h.now)
	require.NoError(t, err)

	res, err := h.ops.WithdrawDebt(alice, maxFee, d(1000), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.True(t, res.Fee.Eq(d(5)))
	assert.True(t, res.Debt.Eq(d(3215)))
	assert.True(t, h.stable.BalanceOf(alice).Eq(d(3000)))

	res, err = h.ops.RepayDebt(alice, d(100), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.True(t, res.Debt.Eq(d(3115)))
	assert.True(t, h.stable.BalanceOf(alice).Eq(d(2900)))

	_, err = h.ops.RepayDebt(alice, d(1200), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrNetDebtBelowMin)

	_, err = h.ops.RepayDebt(alice, d(3000), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrRepayExceedsDebt)

	require.NoError(t, h.stable.Transfer(alice, carol, d(2850)))
	_, err = h.ops.RepayDebt(alice, d(100), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrInsufficientStable)

	h.checkInvariants(t)
}

func TestAdjustPosition_Preconditions(t *testing.T) {
	h := newAdjustHarness(t)
	price := d(200)

	tests := []struct {
		name    string
		req     state.AdjustRequest
		wantErr error
	}{
		{
			name:    "add and withdraw",
			req:     state.AdjustRequest{Owner: alice, CollDeposit: d(1), CollWithdrawal: d(1)},
			wantErr: state.ErrBothCollAddAndWithdraw,
		},
		{
			name:    "nothing to do",
			req:     state.AdjustRequest{Owner: alice},
			wantErr: state.ErrZeroAdjustment,
		},
		{
			name:    "zero debt increase",
			req:     state.AdjustRequest{Owner: alice, IsDebtIncrease: true, MaxFee: maxFee},
			wantErr: state.ErrZeroDebtChange,
		},
		{
			name:    "missing max fee",
			req:     state.AdjustRequest{Owner: alice, DebtChange: d(100), IsDebtIncrease: true},
			wantErr: state.ErrInvalidMaxFee,
		},
		{
			name:    "deposit above max amount",
			req:     state.AdjustRequest{Owner: alice, CollDeposit: fpmath.Max256()},
			wantErr: state.ErrAmountTooLarge,
		},
		{
			name:    "debt increase above max amount",
			req:     state.AdjustRequest{Owner: alice, DebtChange: fpmath.Max256(), IsDebtIncrease: true, MaxFee: maxFee},
			wantErr: state.ErrAmountTooLarge,
		},
		{
			name:    "unknown owner",
			req:     state.AdjustRequest{Owner: carol, CollDeposit: d(1)},
			wantErr: state.ErrPositionNotActive,
		},
		{
			name:    "tcr would drop below ccr",
			req:     state.AdjustRequest{Owner: bob, DebtChange: d(9000), IsDebtIncrease: true, MaxFee: maxFee},
			wantErr: state.ErrTCRBelowCCR,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.pl.Export()
			tt.req.Timestamp = h.now

			_, err := h.ops.AdjustPosition(tt.req, price)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, h.pl.Export())
		})
	}
	h.checkInvariants(t)
}

func TestAdjustPosition_FoldsPendingRewards(t *testing.T) {
	h := newHarness(t, smallDebtParams())
	h.open(t, alice, d(2), d(90), d(200))
	h.open(t, carol, d(2), d(90), d(200))
	h.open(t, bob, df(55, 100), d(90), d(200))
	_, err := h.pl.Liquidate(bob, d(190), liquidator)
	require.NoError(t, err)
	require.True(t, h.pl.HasPendingRewards(alice))

	res, err := h.ops.AddColl(alice, d(1), state.Hints{}, d(190), h.now)
	require.NoError(t, err)

	assert.False(t, h.pl.HasPendingRewards(alice))
	assert.True(t, res.Debt.Eq(d(150)))
	assert.True(t, res.Coll.Eq(fpmath.Add(d(3), df(273625, 1_000_000))))
	h.checkInvariants(t)
}

// ============================================================================
// Test: recovery mode
// ============================================================================

func newRecoveryHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, state.DefaultSystemParams())
	h.open(t, alice, d(20), d(2000), d(200))
	h.open(t, bob, d(30), d(2000), d(200))
	require.True(t, h.pl.CheckRecoveryMode(d(120)))
	return h
}

func TestRecoveryMode_AdjustRules(t *testing.T) {
	h := newRecoveryHarness(t)
	price := d(120)

	_, err := h.ops.WithdrawColl(bob, d(1), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrCollWithdrawalInRecovery)

	_, err = h.ops.WithdrawDebt(bob, fpmath.Zero(), d(100), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrICRDecreased)

	_, err = h.ops.WithdrawDebt(alice, maxFee, d(10), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrICRBelowCCR)

	_, err = h.ops.WithdrawDebt(bob, d(2), d(10), state.Hints{}, price, h.now)
	assert.ErrorIs(t, err, state.ErrMaxFeeAbove100)

	res, err := h.ops.AddColl(alice, d(5), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.True(t, res.Coll.Eq(d(25)))

	res, err = h.ops.RepayDebt(bob, d(100), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.True(t, res.Debt.Eq(d(2110)))

	h.checkInvariants(t)
}

func TestRecoveryMode_OpenRequiresCCRAndChargesNoFee(t *testing.T) {
	h := newRecoveryHarness(t)
	price := d(120)

	_, err := h.tryOpen(carol, d(20), d(1800), price)
	assert.ErrorIs(t, err, state.ErrICRBelowCCR)

	_, err = h.ops.OpenPosition(state.OpenRequest{Owner: dave, Coll: d(30), DebtRequest: d(1800), MaxFee: d(2), Timestamp: h.now}, price)
	assert.ErrorIs(t, err, state.ErrMaxFeeAbove100)

	res := h.open(t, carol, d(30), d(1800), price)
	assert.True(t, res.Fee.IsZero())
	assert.True(t, res.CompositeDebt.Eq(d(2000)))

	h.checkInvariants(t)
}

func TestRecoveryMode_CloseRefused(t *testing.T) {
	h := newRecoveryHarness(t)
	require.NoError(t, h.stable.Transfer(alice, bob, d(100)))

	_, err := h.ops.ClosePosition(bob, d(120))

	assert.ErrorIs(t, err, state.ErrCloseInRecovery)
	assert.True(t, h.pl.IsActive(bob))
}

// ============================================================================
// Test: close
// ============================================================================

func TestClosePosition(t *testing.T) {
	h := newHarness(t, state.DefaultSystemParams())
	price := d(200)
	h.open(t, alice, d(20), d(2000), price)
	h.open(t, bob, d(30), d(2000), price)

	_, err := h.ops.ClosePosition(alice, price)
	assert.ErrorIs(t, err, state.ErrInsufficientStable)

	require.NoError(t, h.stable.Transfer(bob, alice, d(10)))
	res, err := h.ops.ClosePosition(alice, price)
	require.NoError(t, err)

	assert.True(t, res.DebtRepaid.Eq(d(2010)))
	assert.True(t, h.walletColl(alice).Eq(d(20)))
	assert.True(t, h.stable.BalanceOf(alice).IsZero())
	assert.True(t, h.stable.BalanceOf(ledger.GasPoolAddress).Eq(d(200)))
	assert.Nil(t, h.pl.GetPosition(carol))
	p := h.position(t, alice)
	assert.True(t, p.Coll.IsZero())
	assert.True(t, p.Stake.IsZero())
	assert.Equal(t, []common.Address{bob}, h.pl.Owners())

	_, err = h.ops.ClosePosition(bob, price)
	assert.ErrorIs(t, err, state.ErrOnlyOnePosition)

	_, err = h.ops.ClosePosition(alice, price)
	assert.ErrorIs(t, err, state.ErrPositionNotActive)

	h.checkInvariants(t)
}

func TestClosePosition_SwapsOwnerIndex(t *testing.T) {
	h := newHarness(t, state.DefaultSystemParams())
	price := d(200)
	h.open(t, alice, d(20), d(2000), price)
	h.open(t, bob, d(30), d(2000), price)
	h.open(t, carol, d(40), d(2000), price)
	require.NoError(t, h.stable.Transfer(bob, alice, d(10)))

	_, err := h.ops.ClosePosition(alice, price)
	require.NoError(t, err)

	assert.Equal(t, []common.Address{carol, bob}, h.pl.Owners())
	assert.Equal(t, uint64(0), h.position(t, carol).ArrayIndex)
	assert.Equal(t, uint64(1), h.position(t, bob).ArrayIndex)
	h.checkInvariants(t)
}
