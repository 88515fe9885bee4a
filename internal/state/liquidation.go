package state

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LiquidationMode names the rule a position was liquidated under.
type LiquidationMode uint8

const (
	LiquidationModeNormal LiquidationMode = iota
	LiquidationModeRecoveryRedistribute
	LiquidationModeRecoveryOffset
	LiquidationModeRecoveryCapped
)

func (m LiquidationMode) String() string {
	switch m {
	case LiquidationModeNormal:
		return "normal"
	case LiquidationModeRecoveryRedistribute:
		return "recovery_redistribute"
	case LiquidationModeRecoveryOffset:
		return "recovery_offset"
	case LiquidationModeRecoveryCapped:
		return "recovery_capped"
	default:
		return "unknown"
	}
}

// LiquidationValues splits one liquidated position, or a batch total,
// into where its debt and collateral go.
type LiquidationValues struct {
	EntireDebt          *uint256.Int `json:"entire_debt"`
	EntireColl          *uint256.Int `json:"entire_coll"`
	CollGasCompensation *uint256.Int `json:"coll_gas_compensation"`
	GasCompensation     *uint256.Int `json:"gas_compensation"`
	DebtToOffset        *uint256.Int `json:"debt_to_offset"`
	CollToSendToSP      *uint256.Int `json:"coll_to_send_to_sp"`
	DebtToRedistribute  *uint256.Int `json:"debt_to_redistribute"`
	CollToRedistribute  *uint256.Int `json:"coll_to_redistribute"`
	CollSurplus         *uint256.Int `json:"coll_surplus"`
}

func zeroLiquidationValues() LiquidationValues {
	return LiquidationValues{
		EntireDebt:          new(uint256.Int),
		EntireColl:          new(uint256.Int),
		CollGasCompensation: new(uint256.Int),
		GasCompensation:     new(uint256.Int),
		DebtToOffset:        new(uint256.Int),
		CollToSendToSP:      new(uint256.Int),
		DebtToRedistribute:  new(uint256.Int),
		CollToRedistribute:  new(uint256.Int),
		CollSurplus:         new(uint256.Int),
	}
}

func (v LiquidationValues) add(o LiquidationValues) LiquidationValues {
	return LiquidationValues{
		EntireDebt:          fpmath.Add(v.EntireDebt, o.EntireDebt),
		EntireColl:          fpmath.Add(v.EntireColl, o.EntireColl),
		CollGasCompensation: fpmath.Add(v.CollGasCompensation, o.CollGasCompensation),
		GasCompensation:     fpmath.Add(v.GasCompensation, o.GasCompensation),
		DebtToOffset:        fpmath.Add(v.DebtToOffset, o.DebtToOffset),
		CollToSendToSP:      fpmath.Add(v.CollToSendToSP, o.CollToSendToSP),
		DebtToRedistribute:  fpmath.Add(v.DebtToRedistribute, o.DebtToRedistribute),
		CollToRedistribute:  fpmath.Add(v.CollToRedistribute, o.CollToRedistribute),
		CollSurplus:         fpmath.Add(v.CollSurplus, o.CollSurplus),
	}
}

// LiquidationRecord is one liquidated position.
type LiquidationRecord struct {
	Owner  common.Address    `json:"owner"`
	Mode   LiquidationMode   `json:"mode"`
	ICR    *uint256.Int      `json:"icr"`
	Values LiquidationValues `json:"values"`
}

// LiquidationResult is the outcome of a liquidation call.
type LiquidationResult struct {
	RecoveryModeAtStart bool                `json:"recovery_mode_at_start"`
	Liquidated          []LiquidationRecord `json:"liquidated"`
	Totals              LiquidationValues   `json:"totals"`
}

// ============================================================================
// Planning
// ============================================================================

type planOutcome uint8

const (
	planLiquidated planOutcome = iota
	planSkipped
	// planStop: this and every riskier-ordered candidate after it is out of
	// reach. Sequential walks stop; explicit batches move on.
	planStop
)

// liquidationPlan runs the qualification rules without mutating anything.
// Pending rewards do not change during a liquidation call, so every
// candidate's ICR can be read up front.
type liquidationPlan struct {
	pl    *PositionLedger
	price *uint256.Int
	mcr   *uint256.Int

	recoveryAtStart bool
	backToNormal    bool
	remainingSP     *uint256.Int
	systemColl      *uint256.Int
	systemDebt      *uint256.Int
	activeLeft      int

	seen   map[common.Address]bool
	result *LiquidationResult
}

func (pl *PositionLedger) newLiquidationPlan(price *uint256.Int) *liquidationPlan {
	recovery := pl.CheckRecoveryMode(price)
	return &liquidationPlan{
		pl:              pl,
		price:           price,
		mcr:             pl.system.MCR(),
		recoveryAtStart: recovery,
		remainingSP:     pl.stability.GetTotalDeposits(),
		systemColl:      pl.GetEntireSystemColl(),
		systemDebt:      pl.GetEntireSystemDebt(),
		activeLeft:      len(pl.owners),
		seen:            make(map[common.Address]bool),
		result: &LiquidationResult{
			RecoveryModeAtStart: recovery,
			Totals:              zeroLiquidationValues(),
		},
	}
}

func (lp *liquidationPlan) consider(owner common.Address) planOutcome {
	if lp.seen[owner] || !lp.pl.IsActive(owner) {
		return planSkipped
	}
	if lp.activeLeft <= 1 {
		return planStop
	}

	icr := lp.pl.GetCurrentICR(owner, lp.price)

	if !lp.recoveryAtStart || lp.backToNormal {
		if !icr.Lt(lp.mcr) {
			return planStop
		}
		vals := lp.normalModeValues(owner)
		lp.accept(owner, LiquidationModeNormal, icr, vals)
		return planLiquidated
	}

	if !icr.Lt(lp.mcr) && lp.remainingSP.IsZero() {
		return planStop
	}
	tcr := fpmath.ComputeCR(lp.systemColl, lp.systemDebt, lp.price)
	mode, vals, ok := lp.recoveryModeValues(owner, icr, tcr)
	if !ok {
		return planSkipped
	}
	lp.accept(owner, mode, icr, vals)

	lp.systemDebt = fpmath.Sub(lp.systemDebt, vals.DebtToOffset)
	lp.systemColl = fpmath.Sub(lp.systemColl,
		fpmath.Add(fpmath.Add(vals.CollToSendToSP, vals.CollGasCompensation), vals.CollSurplus))
	lp.backToNormal = !lp.pl.checkPotentialRecoveryMode(lp.systemColl, lp.systemDebt, lp.price)
	return planLiquidated
}

func (lp *liquidationPlan) accept(owner common.Address, mode LiquidationMode, icr *uint256.Int, vals LiquidationValues) {
	lp.seen[owner] = true
	lp.activeLeft--
	lp.remainingSP = fpmath.Sub(lp.remainingSP, vals.DebtToOffset)
	lp.result.Liquidated = append(lp.result.Liquidated, LiquidationRecord{Owner: owner, Mode: mode, ICR: icr, Values: vals})
	lp.result.Totals = lp.result.Totals.add(vals)
}

func (lp *liquidationPlan) baseValues(owner common.Address) LiquidationValues {
	debt, coll, _, _ := lp.pl.GetEntireDebtAndColl(owner)
	v := zeroLiquidationValues()
	v.EntireDebt = debt
	v.EntireColl = coll
	v.CollGasCompensation = lp.pl.system.CollGasCompensation(coll)
	v.GasCompensation = lp.pl.system.GasCompensation()
	return v
}

// normalModeValues offsets what the stability pool can absorb and
// redistributes the rest.
func (lp *liquidationPlan) normalModeValues(owner common.Address) LiquidationValues {
	v := lp.baseValues(owner)
	collToLiquidate := fpmath.Sub(v.EntireColl, v.CollGasCompensation)
	offsetAndRedistribution(&v, v.EntireDebt, collToLiquidate, lp.remainingSP)
	return v
}

func offsetAndRedistribution(v *LiquidationValues, debt, coll, spDeposits *uint256.Int) {
	if spDeposits.IsZero() {
		v.DebtToRedistribute = debt.Clone()
		v.CollToRedistribute = coll.Clone()
		return
	}
	v.DebtToOffset = fpmath.Min(debt, spDeposits)
	v.CollToSendToSP = fpmath.MulDiv(coll, v.DebtToOffset, debt)
	v.DebtToRedistribute = fpmath.Sub(debt, v.DebtToOffset)
	v.CollToRedistribute = fpmath.Sub(coll, v.CollToSendToSP)
}

// recoveryModeValues applies the Recovery Mode decision table. ok is false
// when the position cannot be liquidated right now.
func (lp *liquidationPlan) recoveryModeValues(owner common.Address, icr, tcr *uint256.Int) (LiquidationMode, LiquidationValues, bool) {
	v := lp.baseValues(owner)
	collToLiquidate := fpmath.Sub(v.EntireColl, v.CollGasCompensation)

	switch {
	case !icr.Gt(fpmath.DecimalPrecision):
		v.DebtToRedistribute = v.EntireDebt.Clone()
		v.CollToRedistribute = collToLiquidate
		return LiquidationModeRecoveryRedistribute, v, true

	case icr.Lt(lp.mcr):
		offsetAndRedistribution(&v, v.EntireDebt, collToLiquidate, lp.remainingSP)
		return LiquidationModeRecoveryOffset, v, true

	case icr.Lt(tcr) && !v.EntireDebt.Gt(lp.remainingSP):
		if lp.remainingSP.IsZero() {
			panic("FATAL: capped offset with an empty stability pool")
		}
		return LiquidationModeRecoveryCapped, lp.cappedOffsetValues(v), true
	}

	return 0, LiquidationValues{}, false
}

// cappedOffsetValues seizes only the collateral worth debt at MCR. The
// stability pool absorbs the whole debt and the remainder is left for the
// owner to claim.
func (lp *liquidationPlan) cappedOffsetValues(v LiquidationValues) LiquidationValues {
	collToOffset := CappedCollateral(v.EntireDebt, lp.price, lp.mcr)

	v.CollGasCompensation = lp.pl.system.CollGasCompensation(collToOffset)
	v.DebtToOffset = v.EntireDebt.Clone()
	v.CollToSendToSP = fpmath.Sub(collToOffset, v.CollGasCompensation)
	v.DebtToRedistribute = new(uint256.Int)
	v.CollToRedistribute = new(uint256.Int)
	v.CollSurplus = fpmath.Sub(v.EntireColl, collToOffset)
	return v
}

// CappedCollateral is the collateral a Recovery Mode capped liquidation
// seizes: debt*MCR/price, rounded down.
func CappedCollateral(debt, price, mcr *uint256.Int) *uint256.Int {
	return fpmath.MulDiv(debt, mcr, price)
}

// ============================================================================
// Entry points
// ============================================================================

// Liquidate liquidates a single position.
func (pl *PositionLedger) Liquidate(owner common.Address, price *uint256.Int, liquidator common.Address) (*LiquidationResult, error) {
	if _, err := pl.activePosition(owner); err != nil {
		return nil, err
	}
	if len(pl.owners) <= 1 {
		return nil, ErrOnlyOnePosition
	}
	plan := pl.newLiquidationPlan(price)
	if plan.consider(owner) != planLiquidated {
		return nil, fmt.Errorf("%w: %s", ErrNothingToLiquidate, owner.Hex())
	}
	pl.commitLiquidation(plan.result, liquidator)
	return plan.result, nil
}

// LiquidateBatch liquidates each listed owner that still qualifies, in
// list order. Owners that are closed or healthy are skipped.
func (pl *PositionLedger) LiquidateBatch(owners []common.Address, price *uint256.Int, liquidator common.Address) (*LiquidationResult, error) {
	if len(owners) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrNothingToLiquidate)
	}
	plan := pl.newLiquidationPlan(price)
	for _, owner := range owners {
		plan.consider(owner)
	}
	if len(plan.result.Liquidated) == 0 {
		return nil, ErrNothingToLiquidate
	}
	pl.commitLiquidation(plan.result, liquidator)
	return plan.result, nil
}

// LiquidatePositions walks up to n positions from the lowest NICR and
// liquidates them until one no longer qualifies. The highest position is
// never reached.
func (pl *PositionLedger) LiquidatePositions(n int, price *uint256.Int, liquidator common.Address) (*LiquidationResult, error) {
	plan := pl.newLiquidationPlan(price)
	first := pl.sorted.First()
	owner := pl.sorted.Last()

	for i := 0; i < n && owner != (common.Address{}) && owner != first; i++ {
		prev := pl.sorted.Prev(owner)
		if plan.consider(owner) == planStop {
			break
		}
		owner = prev
	}

	if len(plan.result.Liquidated) == 0 {
		return nil, ErrNothingToLiquidate
	}
	pl.commitLiquidation(plan.result, liquidator)
	return plan.result, nil
}

// ============================================================================
// Commit
// ============================================================================

func (pl *PositionLedger) commitLiquidation(res *LiquidationResult, liquidator common.Address) {
	for _, r := range res.Liquidated {
		p := pl.mustActive(r.Owner)
		pl.ApplyPendingRewards(r.Owner)
		if !p.Debt.Eq(r.Values.EntireDebt) || !p.Coll.Eq(r.Values.EntireColl) {
			panic(fmt.Sprintf("FATAL: liquidation plan for %s out of date", r.Owner.Hex()))
		}
		pl.removeStake(p)
		pl.closePosition(p, StatusClosedByLiquidation)
	}

	t := res.Totals
	pl.stability.Offset(t.DebtToOffset, t.CollToSendToSP)
	pl.redistribute(t.DebtToRedistribute, t.CollToRedistribute)

	if !t.CollSurplus.IsZero() {
		pl.active.SendCollateral(pl.surplus.Address(), t.CollSurplus)
		for _, r := range res.Liquidated {
			pl.surplus.AccountSurplus(r.Owner, r.Values.CollSurplus)
		}
	}

	pl.updateSystemSnapshots(t.CollGasCompensation)

	if err := pl.stable.Transfer(ledger.GasPoolAddress, liquidator, t.GasCompensation); err != nil {
		panic(fmt.Sprintf("FATAL: pay gas compensation: %v", err))
	}
	pl.active.SendCollateral(liquidator, t.CollGasCompensation)
}
