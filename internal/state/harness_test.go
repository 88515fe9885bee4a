package state_test

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/pool"
	"TroveLedger/internal/state"
	"TroveLedger/internal/token"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob        = common.HexToAddress("0x1000000000000000000000000000000000000002")
	carol      = common.HexToAddress("0x1000000000000000000000000000000000000003")
	dave       = common.HexToAddress("0x1000000000000000000000000000000000000004")
	erin       = common.HexToAddress("0x1000000000000000000000000000000000000005")
	whale      = common.HexToAddress("0x1000000000000000000000000000000000000010")
	whale2     = common.HexToAddress("0x1000000000000000000000000000000000000011")
	liquidator = common.HexToAddress("0x2000000000000000000000000000000000000001")
)

const t0 int64 = 1_700_000_000

var (
	d      = fpmath.Dec
	df     = fpmath.DecFrac
	maxFee = fpmath.Dec(1)
)

type harness struct {
	rec    *ledger.Recorder
	stable *token.Stablecoin
	fees   *pool.FeeCollector
	pl     *state.PositionLedger
	ops    *state.PositionOperations
	now    int64
}

func newHarness(t *testing.T, params *state.SystemParams) *harness {
	t.Helper()
	return newLimitedHarness(t, params, 0)
}

func newLimitedHarness(t *testing.T, params *state.SystemParams, maxPositions uint64) *harness {
	t.Helper()
	rec := ledger.NewRecorder(ledger.NewBalanceTracker())
	stable := token.NewStablecoin(rec)
	fees := pool.NewFeeCollector(rec)
	sys, err := state.NewSystemState(params)
	require.NoError(t, err)
	pl := state.NewPositionLedger(sys, rec, stable, fees, maxPositions)
	return &harness{
		rec:    rec,
		stable: stable,
		fees:   fees,
		pl:     pl,
		ops:    state.NewPositionOperations(pl),
		now:    t0,
	}
}

// zeroFeeParams drops the borrowing-fee floor so debts come out round.
func zeroFeeParams() *state.SystemParams {
	p := state.DefaultSystemParams()
	p.BorrowingFeeFloor = fpmath.Zero()
	return p
}

// smallDebtParams additionally shrinks the reserve and minimum debt so
// positions can be a few collateral units.
func smallDebtParams() *state.SystemParams {
	p := zeroFeeParams()
	p.GasCompensation = d(10)
	p.MinNetDebt = d(50)
	return p
}

func (h *harness) open(t *testing.T, owner common.Address, coll, debt, price *uint256.Int) *state.OpenResult {
	t.Helper()
	res, err := h.tryOpen(owner, coll, debt, price)
	require.NoError(t, err)
	return res
}

func (h *harness) tryOpen(owner common.Address, coll, debt, price *uint256.Int) (*state.OpenResult, error) {
	return h.ops.OpenPosition(state.OpenRequest{
		Owner:       owner,
		Coll:        coll,
		DebtRequest: debt,
		MaxFee:      maxFee,
		Timestamp:   h.now,
	}, price)
}

func (h *harness) position(t *testing.T, owner common.Address) *state.Position {
	t.Helper()
	p := h.pl.GetPosition(owner)
	require.NotNil(t, p)
	return p
}

func (h *harness) walletColl(owner common.Address) *uint256.Int {
	return h.rec.Tracker().GetWalletBalance(owner, ledger.AssetCollateral)
}

// checkInvariants asserts the properties that must hold after every
// operation, successful or not.
func (h *harness) checkInvariants(t *testing.T) {
	t.Helper()

	v := ledger.NewInvariantValidator(h.rec.Tracker())
	require.NoError(t, v.ValidateGlobalBalance())
	require.NoError(t, v.ValidateHoldingsNonNegative())

	sys := h.pl.System()
	minDebt := fpmath.Add(sys.MinNetDebt(), sys.GasCompensation())
	stakes := new(uint256.Int)
	for _, owner := range h.pl.Owners() {
		p := h.pl.GetPosition(owner)
		require.Equal(t, state.StatusActive, p.Status)
		assert.False(t, p.Coll.IsZero(), "active position %s has zero collateral", owner.Hex())
		assert.False(t, p.Debt.Lt(minDebt), "active position %s below minimum debt", owner.Hex())
		stakes = fpmath.Add(stakes, p.Stake)
	}
	assert.True(t, stakes.Eq(h.pl.TotalStakes()), "total stakes %s != sum %s", h.pl.TotalStakes().Dec(), stakes.Dec())

	assert.True(t, h.pl.GetEntireSystemDebt().Eq(h.stable.TotalSupply()),
		"system debt %s != stablecoin supply %s", h.pl.GetEntireSystemDebt().Dec(), h.stable.TotalSupply().Dec())

	sorted := h.pl.Sorted().Owners()
	require.Len(t, sorted, h.pl.ActivePositionCount())
	for i := 1; i < len(sorted); i++ {
		prev := h.pl.GetNominalICR(sorted[i-1])
		cur := h.pl.GetNominalICR(sorted[i])
		assert.False(t, prev.Lt(cur), "index out of order at %d", i)
	}
}

func assertApprox(t *testing.T, want, got *uint256.Int, tolerance uint64) {
	t.Helper()
	diff := new(uint256.Int)
	if want.Gt(got) {
		diff.Sub(want, got)
	} else {
		diff.Sub(got, want)
	}
	assert.False(t, diff.Gt(uint256.NewInt(tolerance)), "want %s, got %s", want.Dec(), got.Dec())
}
