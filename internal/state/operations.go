package state

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Hints are the caller's guess of a position's neighbours in the index
// after the operation.
type Hints struct {
	Upper common.Address
	Lower common.Address
}

type OpenRequest struct {
	Owner       common.Address
	Coll        *uint256.Int
	DebtRequest *uint256.Int // stablecoin the owner receives
	MaxFee      *uint256.Int
	Hints       Hints
	Timestamp   int64
}

type OpenResult struct {
	Fee           *uint256.Int `json:"fee"`
	CompositeDebt *uint256.Int `json:"composite_debt"`
	Stake         *uint256.Int `json:"stake"`
	ICR           *uint256.Int `json:"icr"`
}

// AdjustRequest changes collateral and debt in one step. At most one of
// CollDeposit and CollWithdrawal may be non-zero.
type AdjustRequest struct {
	Owner          common.Address
	CollDeposit    *uint256.Int
	CollWithdrawal *uint256.Int
	DebtChange     *uint256.Int
	IsDebtIncrease bool
	MaxFee         *uint256.Int
	Hints          Hints
	Timestamp      int64
}

type AdjustResult struct {
	Fee   *uint256.Int `json:"fee"`
	Coll  *uint256.Int `json:"coll"`
	Debt  *uint256.Int `json:"debt"`
	Stake *uint256.Int `json:"stake"`
	ICR   *uint256.Int `json:"icr"`
}

type CloseResult struct {
	DebtRepaid   *uint256.Int `json:"debt_repaid"`
	CollReturned *uint256.Int `json:"coll_returned"`
}

// PositionOperations is the only public path that changes a position's
// balances. Every call validates against pending-inclusive values first
// and mutates only once every check has passed.
type PositionOperations struct {
	pl *PositionLedger
}

func NewPositionOperations(pl *PositionLedger) *PositionOperations {
	return &PositionOperations{pl: pl}
}

func (po *PositionOperations) Ledger() *PositionLedger {
	return po.pl
}

// checkAmounts rejects caller amounts above fpmath.MaxAmount. Nil entries
// stand for zero.
func checkAmounts(amounts ...*uint256.Int) error {
	limit := fpmath.MaxAmount()
	for _, a := range amounts {
		if a != nil && a.Gt(limit) {
			return fmt.Errorf("%w: %s", ErrAmountTooLarge, a.Dec())
		}
	}
	return nil
}

func (po *PositionOperations) validateMaxFee(maxFee *uint256.Int, recovery bool) error {
	if maxFee == nil {
		return ErrInvalidMaxFee
	}
	if recovery {
		if maxFee.Gt(fpmath.DecimalPrecision) {
			return ErrMaxFeeAbove100
		}
		return nil
	}
	if maxFee.Lt(po.pl.system.BorrowingFeeFloor()) || maxFee.Gt(fpmath.DecimalPrecision) {
		return ErrInvalidMaxFee
	}
	return nil
}

// borrowingFee prices a debt increase without touching the base rate.
func (po *PositionOperations) borrowingFee(amount, maxFee *uint256.Int, now int64) (*uint256.Int, error) {
	fee := po.pl.baseRate.BorrowingFee(amount, now)
	if err := checkFeeAccepted(fee, amount, maxFee); err != nil {
		return nil, err
	}
	return fee, nil
}

// chargeBorrowingFee decays the base rate and mints the fee to the fee
// recipient.
func (po *PositionOperations) chargeBorrowingFee(fee *uint256.Int, now int64) {
	po.pl.baseRate.DecayFromBorrowing(now)
	if fee.IsZero() {
		return
	}
	po.pl.stable.Mint(po.pl.fees.Address(), fee)
	po.pl.fees.ReceiveFee(fee)
}

// ============================================================================
// Open
// ============================================================================

func (po *PositionOperations) OpenPosition(req OpenRequest, price *uint256.Int) (*OpenResult, error) {
	pl := po.pl
	if req.Owner == (common.Address{}) || ledger.IsSystemAddress(req.Owner) {
		return nil, ErrReservedAddress
	}
	if err := checkAmounts(req.Coll, req.DebtRequest); err != nil {
		return nil, err
	}

	recovery := pl.CheckRecoveryMode(price)
	if err := po.validateMaxFee(req.MaxFee, recovery); err != nil {
		return nil, err
	}
	if pl.IsActive(req.Owner) {
		return nil, fmt.Errorf("%w: %s", ErrPositionActive, req.Owner.Hex())
	}
	if req.Coll == nil || req.Coll.IsZero() {
		return nil, ErrZeroCollateral
	}
	debtRequest := fpmath.OrZero(req.DebtRequest)

	fee := new(uint256.Int)
	if !recovery {
		var err error
		if fee, err = po.borrowingFee(debtRequest, req.MaxFee, req.Timestamp); err != nil {
			return nil, err
		}
	}
	netDebt, ok := fpmath.CheckedAdd(debtRequest, fee)
	if !ok {
		return nil, ErrAmountTooLarge
	}
	if netDebt.Lt(pl.system.MinNetDebt()) {
		return nil, fmt.Errorf("%w: %s", ErrNetDebtBelowMin, fpmath.FormatDec(netDebt))
	}
	compositeDebt := pl.system.GetCompositeDebt(netDebt)

	icr, err := checkedCR(req.Coll, compositeDebt, price)
	if err != nil {
		return nil, err
	}
	if recovery {
		if icr.Lt(pl.system.CCR()) {
			return nil, ErrICRBelowCCR
		}
	} else {
		if icr.Lt(pl.system.MCR()) {
			return nil, ErrICRBelowMCR
		}
		newTCR, err := pl.GetNewTCRFromPositionChange(req.Coll, true, compositeDebt, true, price)
		if err != nil {
			return nil, err
		}
		if newTCR.Lt(pl.system.CCR()) {
			return nil, ErrTCRBelowCCR
		}
	}
	if pl.sorted.IsFull() {
		return nil, ErrListFull
	}

	// Commit.
	if !recovery {
		po.chargeBorrowingFee(fee, req.Timestamp)
	}
	pl.activate(req.Owner, req.Coll, compositeDebt, req.Hints.Upper, req.Hints.Lower)

	pl.active.ReceiveCollateral(req.Coll)
	pl.active.IncreaseDebt(compositeDebt)
	pl.stable.Mint(req.Owner, debtRequest)
	pl.stable.Mint(ledger.GasPoolAddress, pl.system.GasCompensation())

	return &OpenResult{
		Fee:           fee,
		CompositeDebt: compositeDebt,
		Stake:         pl.positions[req.Owner].Stake.Clone(),
		ICR:           icr,
	}, nil
}

// ============================================================================
// Adjust
// ============================================================================

type adjustPlan struct {
	owner          common.Address
	collChange     *uint256.Int
	isCollIncrease bool
	debtChange     *uint256.Int // requested, excluding the fee
	netDebtChange  *uint256.Int
	isDebtIncrease bool
	fee            *uint256.Int
	recovery       bool
	newColl        *uint256.Int
	newDebt        *uint256.Int
	newICR         *uint256.Int
	hints          Hints
	timestamp      int64
}

func (po *PositionOperations) validateAdjust(req AdjustRequest, price *uint256.Int) (*adjustPlan, error) {
	pl := po.pl
	collDeposit := fpmath.OrZero(req.CollDeposit)
	collWithdrawal := fpmath.OrZero(req.CollWithdrawal)
	debtChange := fpmath.OrZero(req.DebtChange)
	if err := checkAmounts(collDeposit, collWithdrawal, debtChange); err != nil {
		return nil, err
	}

	recovery := pl.CheckRecoveryMode(price)
	if req.IsDebtIncrease {
		if err := po.validateMaxFee(req.MaxFee, recovery); err != nil {
			return nil, err
		}
		if debtChange.IsZero() {
			return nil, ErrZeroDebtChange
		}
	}
	if !collDeposit.IsZero() && !collWithdrawal.IsZero() {
		return nil, ErrBothCollAddAndWithdraw
	}
	if collDeposit.IsZero() && collWithdrawal.IsZero() && debtChange.IsZero() {
		return nil, ErrZeroAdjustment
	}
	if _, err := pl.activePosition(req.Owner); err != nil {
		return nil, err
	}

	plan := &adjustPlan{
		owner:          req.Owner,
		collChange:     collDeposit,
		isCollIncrease: true,
		debtChange:     debtChange,
		netDebtChange:  debtChange,
		isDebtIncrease: req.IsDebtIncrease,
		fee:            new(uint256.Int),
		recovery:       recovery,
		hints:          req.Hints,
		timestamp:      req.Timestamp,
	}
	if !collWithdrawal.IsZero() {
		plan.collChange = collWithdrawal
		plan.isCollIncrease = false
	}

	if req.IsDebtIncrease && !recovery {
		fee, err := po.borrowingFee(debtChange, req.MaxFee, req.Timestamp)
		if err != nil {
			return nil, err
		}
		plan.fee = fee
		netDebtChange, ok := fpmath.CheckedAdd(debtChange, fee)
		if !ok {
			return nil, ErrAmountTooLarge
		}
		plan.netDebtChange = netDebtChange
	}

	debt, coll, _, _ := pl.GetEntireDebtAndColl(req.Owner)
	if collWithdrawal.Gt(coll) {
		return nil, ErrWithdrawExceedsColl
	}
	gasComp := pl.system.GasCompensation()
	if !req.IsDebtIncrease && !debtChange.IsZero() {
		if debtChange.Gt(fpmath.Sub(debt, gasComp)) {
			return nil, ErrRepayExceedsDebt
		}
	}

	oldICR := fpmath.ComputeCR(coll, debt, price)
	newICR, err := pl.GetNewICRFromPositionChange(coll, debt, plan.collChange, plan.isCollIncrease, plan.netDebtChange, plan.isDebtIncrease, price)
	if err != nil {
		return nil, err
	}
	plan.newICR = newICR

	if recovery {
		if !collWithdrawal.IsZero() {
			return nil, ErrCollWithdrawalInRecovery
		}
		if req.IsDebtIncrease {
			if plan.newICR.Lt(pl.system.CCR()) {
				return nil, ErrICRBelowCCR
			}
			if plan.newICR.Lt(oldICR) {
				return nil, ErrICRDecreased
			}
		}
	} else {
		if plan.newICR.Lt(pl.system.MCR()) {
			return nil, ErrICRBelowMCR
		}
		newTCR, err := pl.GetNewTCRFromPositionChange(plan.collChange, plan.isCollIncrease, plan.netDebtChange, plan.isDebtIncrease, price)
		if err != nil {
			return nil, err
		}
		if newTCR.Lt(pl.system.CCR()) {
			return nil, ErrTCRBelowCCR
		}
	}

	if !req.IsDebtIncrease && !debtChange.IsZero() {
		if pl.system.GetNetDebt(debt).Lt(fpmath.Add(pl.system.MinNetDebt(), debtChange)) {
			return nil, ErrNetDebtBelowMin
		}
		if bal := pl.stable.BalanceOf(req.Owner); bal.Lt(debtChange) {
			return nil, fmt.Errorf("%w: %s holds %s, repay %s", ErrInsufficientStable, req.Owner.Hex(), bal.Dec(), debtChange.Dec())
		}
	}

	plan.newColl = applyChange(coll, plan.collChange, plan.isCollIncrease)
	plan.newDebt = applyChange(debt, plan.netDebtChange, plan.isDebtIncrease)
	if plan.newColl.IsZero() {
		return nil, ErrZeroCollateral
	}
	return plan, nil
}

// commitAdjust applies a validated plan. When collFromStability is set the
// added collateral already sits in the active pool, moved there from the
// stability pool.
func (po *PositionOperations) commitAdjust(plan *adjustPlan, collFromStability bool) *AdjustResult {
	pl := po.pl
	pl.ApplyPendingRewards(plan.owner)
	p := pl.mustActive(plan.owner)

	if plan.isDebtIncrease && !plan.recovery {
		po.chargeBorrowingFee(plan.fee, plan.timestamp)
	}

	p.Coll = applyChange(p.Coll, plan.collChange, plan.isCollIncrease)
	p.Debt = applyChange(p.Debt, plan.netDebtChange, plan.isDebtIncrease)
	if !p.Coll.Eq(plan.newColl) || !p.Debt.Eq(plan.newDebt) {
		panic(fmt.Sprintf("FATAL: adjustment plan for %s out of date", plan.owner.Hex()))
	}
	p.Version++
	stake := pl.UpdateStakeAndTotalStakes(plan.owner)
	pl.reindex(plan.owner, plan.hints.Upper, plan.hints.Lower)

	switch {
	case plan.isCollIncrease && !collFromStability:
		pl.active.ReceiveCollateral(plan.collChange)
	case !plan.isCollIncrease:
		pl.active.SendCollateral(plan.owner, plan.collChange)
	}

	if plan.isDebtIncrease {
		pl.active.IncreaseDebt(plan.netDebtChange)
		pl.stable.Mint(plan.owner, plan.debtChange)
	} else if !plan.debtChange.IsZero() {
		if err := pl.stable.Burn(plan.owner, plan.debtChange); err != nil {
			panic(fmt.Sprintf("FATAL: burn repayment: %v", err))
		}
		pl.active.DecreaseDebt(plan.debtChange)
	}

	return &AdjustResult{
		Fee:   plan.fee,
		Coll:  p.Coll.Clone(),
		Debt:  p.Debt.Clone(),
		Stake: stake,
		ICR:   plan.newICR,
	}
}

func (po *PositionOperations) AdjustPosition(req AdjustRequest, price *uint256.Int) (*AdjustResult, error) {
	plan, err := po.validateAdjust(req, price)
	if err != nil {
		return nil, err
	}
	return po.commitAdjust(plan, false), nil
}

func (po *PositionOperations) AddColl(owner common.Address, amount *uint256.Int, hints Hints, price *uint256.Int, now int64) (*AdjustResult, error) {
	return po.AdjustPosition(AdjustRequest{Owner: owner, CollDeposit: amount, Hints: hints, Timestamp: now}, price)
}

func (po *PositionOperations) WithdrawColl(owner common.Address, amount *uint256.Int, hints Hints, price *uint256.Int, now int64) (*AdjustResult, error) {
	return po.AdjustPosition(AdjustRequest{Owner: owner, CollWithdrawal: amount, Hints: hints, Timestamp: now}, price)
}

func (po *PositionOperations) WithdrawDebt(owner common.Address, maxFee, amount *uint256.Int, hints Hints, price *uint256.Int, now int64) (*AdjustResult, error) {
	return po.AdjustPosition(AdjustRequest{Owner: owner, DebtChange: amount, IsDebtIncrease: true, MaxFee: maxFee, Hints: hints, Timestamp: now}, price)
}

func (po *PositionOperations) RepayDebt(owner common.Address, amount *uint256.Int, hints Hints, price *uint256.Int, now int64) (*AdjustResult, error) {
	return po.AdjustPosition(AdjustRequest{Owner: owner, DebtChange: amount, Hints: hints, Timestamp: now}, price)
}

// ============================================================================
// Close
// ============================================================================

func (po *PositionOperations) ClosePosition(owner common.Address, price *uint256.Int) (*CloseResult, error) {
	pl := po.pl
	if _, err := pl.activePosition(owner); err != nil {
		return nil, err
	}
	if len(pl.owners) <= 1 {
		return nil, ErrOnlyOnePosition
	}
	if pl.CheckRecoveryMode(price) {
		return nil, ErrCloseInRecovery
	}

	debt, coll, _, _ := pl.GetEntireDebtAndColl(owner)
	netDebt := pl.system.GetNetDebt(debt)
	if bal := pl.stable.BalanceOf(owner); bal.Lt(netDebt) {
		return nil, fmt.Errorf("%w: %s holds %s, owes %s", ErrInsufficientStable, owner.Hex(), bal.Dec(), netDebt.Dec())
	}
	newTCR, err := pl.GetNewTCRFromPositionChange(coll, false, debt, false, price)
	if err != nil {
		return nil, err
	}
	if newTCR.Lt(pl.system.CCR()) {
		return nil, ErrTCRBelowCCR
	}

	// Commit.
	pl.ApplyPendingRewards(owner)
	p := pl.mustActive(owner)
	pl.removeStake(p)
	pl.closePosition(p, StatusClosedByOwner)

	if err := pl.stable.Burn(owner, netDebt); err != nil {
		panic(fmt.Sprintf("FATAL: burn close repayment: %v", err))
	}
	if err := pl.stable.Burn(ledger.GasPoolAddress, pl.system.GasCompensation()); err != nil {
		panic(fmt.Sprintf("FATAL: burn gas reserve: %v", err))
	}
	pl.active.DecreaseDebt(debt)
	pl.active.SendCollateral(owner, coll)

	return &CloseResult{DebtRepaid: netDebt, CollReturned: coll}, nil
}

// ClaimCollateral pays out collateral left in the surplus pool after a
// capped liquidation or a full redemption.
func (po *PositionOperations) ClaimCollateral(owner common.Address) (*uint256.Int, error) {
	return po.pl.surplus.Claim(owner)
}

// ============================================================================
// Stability pool
// ============================================================================

// WithdrawGainToPosition moves the depositor's collateral gain into their
// own position as added collateral. The deposit is re-snapshotted at its
// compounded value.
func (po *PositionOperations) WithdrawGainToPosition(depositor common.Address, hints Hints, price *uint256.Int, now int64) (*AdjustResult, error) {
	pl := po.pl
	sp := pl.stability
	if sp.initialDeposit(depositor).IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoDeposit, depositor.Hex())
	}
	if !pl.IsActive(depositor) {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotActive, depositor.Hex())
	}
	gain := sp.GetDepositorCollateralGain(depositor)
	if gain.IsZero() {
		return nil, ErrNoCollateralGain
	}

	plan, err := po.validateAdjust(AdjustRequest{Owner: depositor, CollDeposit: gain, Hints: hints, Timestamp: now}, price)
	if err != nil {
		return nil, err
	}

	moved := sp.moveGainToActivePool(depositor)
	if !moved.Eq(gain) {
		panic(fmt.Sprintf("FATAL: stability gain for %s changed during the call", depositor.Hex()))
	}
	return po.commitAdjust(plan, true), nil
}
