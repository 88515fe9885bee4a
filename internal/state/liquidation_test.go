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

// newRedistributionHarness opens two healthy positions and bob, who drops
// below MCR once the price falls from 200 to 190. Nothing is deposited in
// the stability pool.
func newRedistributionHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, smallDebtParams())
	h.open(t, alice, d(2), d(90), d(200))
	h.open(t, carol, d(2), d(90), d(200))
	h.open(t, bob, df(55, 100), d(90), d(200))
	return h
}

// newRecoveryLiquidationHarness leaves the system in Recovery Mode at
// prices around 100 with 5000 in the stability pool.
func newRecoveryLiquidationHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, zeroFeeParams())
	h.open(t, alice, d(30), d(2000), d(200))
	h.open(t, bob, d(25), d(2000), d(200))
	h.open(t, whale, d(70), d(5000), d(200))
	_, err := h.pl.StabilityPool().Provide(whale, d(5000))
	require.NoError(t, err)
	return h
}

// ============================================================================
// Test: normal mode
// ============================================================================

func TestLiquidate_RedistributesWithoutDeposits(t *testing.T) {
	h := newRedistributionHarness(t)
	price := d(190)

	res, err := h.pl.Liquidate(bob, price, liquidator)
	require.NoError(t, err)

	require.Len(t, res.Liquidated, 1)
	rec := res.Liquidated[0]
	assert.Equal(t, state.LiquidationModeNormal, rec.Mode)
	assert.True(t, rec.Values.CollGasCompensation.Eq(df(275, 100_000)))
	assert.True(t, rec.Values.DebtToRedistribute.Eq(d(100)))
	assert.True(t, rec.Values.CollToRedistribute.Eq(df(54725, 100_000)))
	assert.True(t, rec.Values.DebtToOffset.IsZero())

	assert.Equal(t, state.StatusClosedByLiquidation, h.pl.PositionStatus(bob))
	rewards := h.pl.RewardState()
	assert.True(t, rewards.LColl.Eq(df(1368125, 10_000_000)), "L_coll %s", rewards.LColl.Dec())
	assert.True(t, rewards.LDebt.Eq(d(25)))
	assert.True(t, rewards.TotalStakesSnapshot.Eq(d(4)))
	assert.True(t, rewards.TotalCollSnapshot.Eq(df(454725, 100_000)))

	assert.True(t, h.pl.GetPendingCollReward(alice).Eq(df(273625, 1_000_000)))
	assert.True(t, h.pl.GetPendingDebtReward(alice).Eq(d(50)))
	debt, coll, _, _ := h.pl.GetEntireDebtAndColl(alice)
	assert.True(t, debt.Eq(d(150)))
	assert.True(t, coll.Eq(df(2273625, 1_000_000)))

	assert.True(t, h.pl.DefaultPool().DebtBalance().Eq(d(100)))
	assert.True(t, h.stable.BalanceOf(liquidator).Eq(d(10)))
	assert.True(t, h.walletColl(liquidator).Eq(df(275, 100_000)))
	h.checkInvariants(t)
}

func TestLiquidate_ApplyPendingRewardsIsIdempotent(t *testing.T) {
	h := newRedistributionHarness(t)
	_, err := h.pl.Liquidate(bob, d(190), liquidator)
	require.NoError(t, err)

	h.pl.ApplyPendingRewards(alice)
	first := h.position(t, alice)
	h.pl.ApplyPendingRewards(alice)
	second := h.position(t, alice)

	assert.Equal(t, first, second)
	assert.True(t, first.Debt.Eq(d(150)))
	assert.True(t, h.pl.DefaultPool().DebtBalance().Eq(d(50)))
	h.checkInvariants(t)
}

func TestLiquidate_TouchBetweenRedistributions(t *testing.T) {
	h := newRedistributionHarness(t)
	h.open(t, dave, df(55, 100), d(90), d(200))
	price := d(190)

	_, err := h.pl.Liquidate(bob, price, liquidator)
	require.NoError(t, err)
	first := h.pl.RewardState()
	assert.Equal(t, "120274725274725274", first.LColl.Dec())
	assert.Equal(t, "21978021978021978021", first.LDebt.Dec())

	// Adding collateral folds the first redistribution into alice and
	// re-snapshots her at the current L values.
	res, err := h.ops.AddColl(alice, d(1), state.Hints{}, price, h.now)
	require.NoError(t, err)
	assert.Equal(t, "3240549450549450548", res.Coll.Dec())
	assert.Equal(t, "143956043956043956042", res.Debt.Dec())
	assert.Equal(t, "2892638187257835105", res.Stake.Dec())
	p := h.position(t, alice)
	assert.True(t, p.Snapshot.Coll.Eq(first.LColl))
	assert.True(t, p.Snapshot.Debt.Eq(first.LDebt))
	assert.False(t, h.pl.HasPendingRewards(alice))

	_, err = h.pl.Liquidate(dave, price, liquidator)
	require.NoError(t, err)
	second := h.pl.RewardState()
	assert.True(t, second.LColl.Gt(first.LColl))
	assert.True(t, second.LDebt.Gt(first.LDebt))
	assert.Equal(t, "245579380951747538", second.LColl.Dec())
	assert.Equal(t, "44887525562372188148", second.LDebt.Dec())

	// alice only collects the second redistribution, on her new stake.
	assert.Equal(t, "362461032052548878", h.pl.GetPendingCollReward(alice).Dec())
	assert.Equal(t, "66268904919211667657", h.pl.GetPendingDebtReward(alice).Dec())
	deltaDebt := fpmath.Sub(second.LDebt, first.LDebt)
	assert.True(t, h.pl.GetPendingDebtReward(alice).Eq(fpmath.MulDiv(res.Stake, deltaDebt, fpmath.DecimalPrecision)))

	// carol was never touched and collects both.
	assert.Equal(t, "491158761903495076", h.pl.GetPendingCollReward(carol).Dec())
	assert.Equal(t, "89775051124744376296", h.pl.GetPendingDebtReward(carol).Dec())

	h.checkInvariants(t)
}

func TestLiquidate_NewStakeUsesSnapshotRatio(t *testing.T) {
	h := newRedistributionHarness(t)
	_, err := h.pl.Liquidate(bob, d(190), liquidator)
	require.NoError(t, err)

	res := h.open(t, dave, d(4), d(90), d(190))

	want := d(4)
	want.Mul(want, d(4)).Div(want, df(454725, 100_000))
	assert.True(t, res.Stake.Eq(want), "stake %s, want %s", res.Stake.Dec(), want.Dec())
	assert.True(t, h.pl.GetPendingCollReward(dave).IsZero())
	h.checkInvariants(t)
}

func TestLiquidate_Refusals(t *testing.T) {
	h := newRedistributionHarness(t)

	_, err := h.pl.Liquidate(alice, d(190), liquidator)
	assert.ErrorIs(t, err, state.ErrNothingToLiquidate)

	_, err = h.pl.Liquidate(dave, d(190), liquidator)
	assert.ErrorIs(t, err, state.ErrPositionNotActive)

	_, err = h.pl.LiquidateBatch(nil, d(190), liquidator)
	assert.ErrorIs(t, err, state.ErrNothingToLiquidate)

	_, err = h.pl.LiquidatePositions(10, d(200), liquidator)
	assert.ErrorIs(t, err, state.ErrNothingToLiquidate)

	h.checkInvariants(t)
}

func TestLiquidate_LastPositionIsNeverLiquidated(t *testing.T) {
	h := newHarness(t, smallDebtParams())
	h.open(t, bob, d(1), d(90), d(200))

	_, err := h.pl.Liquidate(bob, d(50), liquidator)

	assert.ErrorIs(t, err, state.ErrOnlyOnePosition)
	assert.True(t, h.pl.IsActive(bob))
}

func TestLiquidatePositions_WalksFromTheBottom(t *testing.T) {
	h := newRedistributionHarness(t)
	h.open(t, erin, df(56, 100), d(90), d(200))

	res, err := h.pl.LiquidatePositions(10, d(190), liquidator)
	require.NoError(t, err)

	require.Len(t, res.Liquidated, 2)
	assert.Equal(t, bob, res.Liquidated[0].Owner)
	assert.Equal(t, erin, res.Liquidated[1].Owner)
	assert.True(t, res.Totals.DebtToRedistribute.Eq(d(200)))
	assert.True(t, res.Totals.GasCompensation.Eq(d(20)))
	assert.True(t, h.pl.RewardState().LDebt.Eq(d(50)))
	assert.ElementsMatch(t, []common.Address{alice, carol}, h.pl.Owners())
	h.checkInvariants(t)
}

func TestLiquidatePositions_RespectsCount(t *testing.T) {
	h := newRedistributionHarness(t)
	h.open(t, erin, df(56, 100), d(90), d(200))

	res, err := h.pl.LiquidatePositions(1, d(190), liquidator)
	require.NoError(t, err)

	require.Len(t, res.Liquidated, 1)
	assert.Equal(t, bob, res.Liquidated[0].Owner)
	assert.True(t, h.pl.IsActive(erin))
	h.checkInvariants(t)
}

// ============================================================================
// Test: recovery mode
// ============================================================================

func TestLiquidate_RecoveryModeCapsHealthyPosition(t *testing.T) {
	h := newRecoveryLiquidationHarness(t)
	price := d(100)
	require.True(t, h.pl.CheckRecoveryMode(price))

	_, err := h.pl.Liquidate(alice, price, liquidator)
	assert.ErrorIs(t, err, state.ErrNothingToLiquidate, "ICR above TCR is safe")

	res, err := h.pl.Liquidate(bob, price, liquidator)
	require.NoError(t, err)

	assert.True(t, res.RecoveryModeAtStart)
	rec := res.Liquidated[0]
	assert.Equal(t, state.LiquidationModeRecoveryCapped, rec.Mode)
	assert.True(t, rec.Values.DebtToOffset.Eq(d(2200)))
	assert.True(t, rec.Values.CollGasCompensation.Eq(df(121, 1000)))
	assert.True(t, rec.Values.CollToSendToSP.Eq(df(24079, 1000)))
	assert.True(t, rec.Values.CollSurplus.Eq(df(8, 10)))
	assert.True(t, rec.Values.DebtToRedistribute.IsZero())

	sp := h.pl.StabilityPool()
	assert.True(t, sp.GetTotalDeposits().Eq(d(2800)))
	assert.True(t, sp.GetCollateral().Eq(df(24079, 1000)))
	assert.True(t, h.pl.SurplusPool().Claimable(bob).Eq(df(8, 10)))

	claimed, err := h.ops.ClaimCollateral(bob)
	require.NoError(t, err)
	assert.True(t, claimed.Eq(df(8, 10)))
	assert.True(t, h.walletColl(bob).Eq(df(8, 10)))

	_, err = h.ops.ClaimCollateral(bob)
	assert.Error(t, err)
	h.checkInvariants(t)
}

func TestLiquidate_RecoveryModeRedistributesBelow100(t *testing.T) {
	h := newRecoveryLiquidationHarness(t)

	res, err := h.pl.Liquidate(bob, d(85), liquidator)
	require.NoError(t, err)

	assert.Equal(t, state.LiquidationModeRecoveryRedistribute, res.Liquidated[0].Mode)
	assert.True(t, res.Totals.DebtToOffset.IsZero())
	assert.True(t, h.pl.StabilityPool().GetTotalDeposits().Eq(d(5000)))
	assert.True(t, h.pl.RewardState().LDebt.Eq(d(22)))
	h.checkInvariants(t)
}

func TestLiquidateBatch_RecoveryModeSkipsWhatItCannotTake(t *testing.T) {
	h := newRecoveryLiquidationHarness(t)

	res, err := h.pl.LiquidateBatch([]common.Address{alice, bob, carol, whale}, d(90), liquidator)
	require.NoError(t, err)

	require.Len(t, res.Liquidated, 1)
	assert.Equal(t, bob, res.Liquidated[0].Owner)
	assert.Equal(t, state.LiquidationModeRecoveryOffset, res.Liquidated[0].Mode)
	assert.True(t, res.Totals.DebtToOffset.Eq(d(2200)))
	assert.True(t, res.Totals.CollToSendToSP.Eq(df(24875, 1000)))
	assert.True(t, h.pl.IsActive(alice))
	assert.True(t, h.pl.IsActive(whale))
	assert.True(t, h.stable.BalanceOf(liquidator).Eq(d(200)))
	assert.True(t, h.stable.BalanceOf(ledger.GasPoolAddress).Eq(d(400)))
	h.checkInvariants(t)
}

func TestCappedCollateral(t *testing.T) {
	got := state.CappedCollateral(d(2200), d(100), df(110, 100))

	assert.True(t, got.Eq(df(242, 10)))
}

func TestLiquidationMode_String(t *testing.T) {
	assert.Equal(t, "normal", state.LiquidationModeNormal.String())
	assert.Equal(t, "recovery_capped", state.LiquidationModeRecoveryCapped.String())
	assert.Equal(t, "unknown", state.LiquidationMode(99).String())
}
