package pool

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FeeCollector is the in-process fee recipient. Borrowing fees arrive as
// stablecoin minted to FeePoolAddress, redemption fees as collateral sent
// there; the collector keeps the cumulative totals a staking module would
// distribute.
type FeeCollector struct {
	rec             *ledger.Recorder
	totalStableFees *uint256.Int
	totalCollFees   *uint256.Int
}

func NewFeeCollector(rec *ledger.Recorder) *FeeCollector {
	return &FeeCollector{
		rec:             rec,
		totalStableFees: new(uint256.Int),
		totalCollFees:   new(uint256.Int),
	}
}

func (f *FeeCollector) Address() common.Address {
	return ledger.FeePoolAddress
}

func (f *FeeCollector) ReceiveFee(amount *uint256.Int) {
	f.totalStableFees = fpmath.Add(f.totalStableFees, amount)
}

func (f *FeeCollector) ReceiveCollateralFee(amount *uint256.Int) {
	f.totalCollFees = fpmath.Add(f.totalCollFees, amount)
}

// Totals returns the cumulative stablecoin and collateral fees received.
func (f *FeeCollector) Totals() (stable, coll *uint256.Int) {
	return f.totalStableFees.Clone(), f.totalCollFees.Clone()
}

// Balances returns what the fee pool currently holds in the ledger.
func (f *FeeCollector) Balances() (stable, coll *uint256.Int) {
	t := f.rec.Tracker()
	return t.Holding(ledger.NewSystemAccountKey(ledger.SubTypeFeePool, ledger.AssetStable)),
		t.Holding(ledger.NewSystemAccountKey(ledger.SubTypeFeePool, ledger.AssetCollateral))
}

func (f *FeeCollector) Restore(stable, coll *uint256.Int) {
	f.totalStableFees = fpmath.OrZero(stable).Clone()
	f.totalCollFees = fpmath.OrZero(coll).Clone()
}
