package pool_test

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/pool"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0x1000000000000000000000000000000000000001")

func newPools() (*ledger.Recorder, *pool.Pool, *pool.Pool, *pool.SurplusPool) {
	rec := ledger.NewRecorder(ledger.NewBalanceTracker())
	return rec, pool.NewActivePool(rec), pool.NewDefaultPool(rec), pool.NewSurplusPool(rec)
}

// ============================================================================
// Test: Pool
// ============================================================================

func TestPool_ReceiveAndSendCollateral(t *testing.T) {
	rec, active, def, _ := newPools()

	active.ReceiveCollateral(fpmath.Dec(10))
	active.SendCollateral(def.Address(), fpmath.Dec(3))
	active.SendCollateral(owner, fpmath.Dec(2))

	assert.True(t, active.CollateralBalance().Eq(fpmath.Dec(5)))
	assert.True(t, def.CollateralBalance().Eq(fpmath.Dec(3)))
	assert.True(t, rec.Tracker().GetWalletBalance(owner, ledger.AssetCollateral).Eq(fpmath.Dec(2)))

	batch := rec.Commit()
	require.Len(t, batch.Journals, 3)
	assert.Equal(t, ledger.JournalTypeCollateralTransfer, batch.Journals[1].JournalType)
	assert.Equal(t, ledger.JournalTypeCollateralWithdrawal, batch.Journals[2].JournalType)
}

func TestPool_SendMoreThanHeldPanics(t *testing.T) {
	_, active, _, _ := newPools()
	active.ReceiveCollateral(fpmath.Dec(1))
	assert.Panics(t, func() { active.SendCollateral(owner, fpmath.Dec(2)) })
}

func TestPool_DebtMovements(t *testing.T) {
	rec, active, def, _ := newPools()

	active.IncreaseDebt(fpmath.Dec(2000))
	active.MoveDebtTo(def, fpmath.Dec(500))
	active.DecreaseDebt(fpmath.Dec(100))

	assert.True(t, active.DebtBalance().Eq(fpmath.Dec(1400)))
	assert.True(t, def.DebtBalance().Eq(fpmath.Dec(500)))
	assert.Panics(t, func() { def.DecreaseDebt(fpmath.Dec(501)) })

	require.NoError(t, ledger.NewInvariantValidator(rec.Tracker()).ValidateGlobalBalance())
}

// ============================================================================
// Test: SurplusPool
// ============================================================================

func TestSurplusPool_AccountAndClaim(t *testing.T) {
	rec, active, _, surplus := newPools()

	active.ReceiveCollateral(fpmath.Dec(4))
	active.SendCollateral(surplus.Address(), fpmath.Dec(1))
	surplus.AccountSurplus(owner, fpmath.Dec(1))

	assert.True(t, surplus.Claimable(owner).Eq(fpmath.Dec(1)))

	got, err := surplus.Claim(owner)
	require.NoError(t, err)
	assert.True(t, got.Eq(fpmath.Dec(1)))
	assert.True(t, surplus.CollateralBalance().IsZero())
	assert.True(t, rec.Tracker().GetWalletBalance(owner, ledger.AssetCollateral).Eq(fpmath.Dec(1)))

	_, err = surplus.Claim(owner)
	assert.ErrorIs(t, err, pool.ErrNoCollateralToClaim)
}

func TestSurplusPool_ClaimWithoutCollateralPanics(t *testing.T) {
	_, _, _, surplus := newPools()
	assert.Panics(t, func() { surplus.AccountSurplus(owner, fpmath.Dec(1)) })
}

// ============================================================================
// Test: FeeCollector
// ============================================================================

func TestFeeCollector_Totals(t *testing.T) {
	rec, _, _, _ := newPools()
	fc := pool.NewFeeCollector(rec)

	fc.ReceiveFee(fpmath.Dec(5))
	fc.ReceiveFee(fpmath.Dec(7))
	fc.ReceiveCollateralFee(fpmath.DecFrac(1, 2))

	stable, coll := fc.Totals()
	assert.True(t, stable.Eq(fpmath.Dec(12)))
	assert.True(t, coll.Eq(fpmath.DecFrac(1, 2)))
}
