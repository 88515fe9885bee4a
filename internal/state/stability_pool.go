package state

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/pool"
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ScaleFactor is the step by which P is re-scaled once it would fall below
// it, keeping precision across long runs of near-total depletions.
var ScaleFactor = uint256.NewInt(1_000_000_000)

// DepositSnapshot pins a deposit to the pool's running product and sum.
type DepositSnapshot struct {
	P     *uint256.Int `json:"p"`
	S     *uint256.Int `json:"s"`
	Scale uint64       `json:"scale"`
	Epoch uint64       `json:"epoch"`
}

// Deposit is one depositor's stake in the stability pool.
type Deposit struct {
	Depositor common.Address  `json:"depositor"`
	Initial   *uint256.Int    `json:"initial"`
	Snapshot  DepositSnapshot `json:"snapshot"`
}

func (d *Deposit) Clone() *Deposit {
	c := *d
	c.Initial = d.Initial.Clone()
	c.Snapshot.P = d.Snapshot.P.Clone()
	c.Snapshot.S = d.Snapshot.S.Clone()
	return &c
}

// StabilityPool absorbs liquidated debt with depositors' stablecoin and
// pays them the seized collateral. Losses and gains are tracked with a
// running product P and per-(epoch, scale) sums S, so every depositor's
// position is an O(1) function of their snapshot.
type StabilityPool struct {
	pl    *PositionLedger
	vault *pool.Pool

	totalDeposits *uint256.Int
	deposits      map[common.Address]*Deposit

	p            *uint256.Int
	currentScale uint64
	currentEpoch uint64
	sums         map[uint64]map[uint64]*uint256.Int

	lastCollError     *uint256.Int
	lastDebtLossError *uint256.Int
}

func newStabilityPool(pl *PositionLedger) *StabilityPool {
	return &StabilityPool{
		pl:                pl,
		vault:             pool.NewStabilityVault(pl.rec),
		totalDeposits:     new(uint256.Int),
		deposits:          make(map[common.Address]*Deposit),
		p:                 fpmath.DecimalPrecision.Clone(),
		sums:              make(map[uint64]map[uint64]*uint256.Int),
		lastCollError:     new(uint256.Int),
		lastDebtLossError: new(uint256.Int),
	}
}

func (sp *StabilityPool) Address() common.Address {
	return ledger.StabilityPoolAddress
}

func (sp *StabilityPool) GetTotalDeposits() *uint256.Int {
	return sp.totalDeposits.Clone()
}

// GetCollateral is the collateral held for depositors.
func (sp *StabilityPool) GetCollateral() *uint256.Int {
	return sp.vault.CollateralBalance()
}

func (sp *StabilityPool) P() *uint256.Int      { return sp.p.Clone() }
func (sp *StabilityPool) CurrentScale() uint64 { return sp.currentScale }
func (sp *StabilityPool) CurrentEpoch() uint64 { return sp.currentEpoch }

func (sp *StabilityPool) sum(epoch, scale uint64) *uint256.Int {
	if byScale, ok := sp.sums[epoch]; ok {
		if s, ok := byScale[scale]; ok {
			return s.Clone()
		}
	}
	return new(uint256.Int)
}

func (sp *StabilityPool) setSum(epoch, scale uint64, v *uint256.Int) {
	byScale, ok := sp.sums[epoch]
	if !ok {
		byScale = make(map[uint64]*uint256.Int)
		sp.sums[epoch] = byScale
	}
	byScale[scale] = v
}

// GetDeposit returns a copy of the depositor's record, or nil.
func (sp *StabilityPool) GetDeposit(depositor common.Address) *Deposit {
	if d, ok := sp.deposits[depositor]; ok {
		return d.Clone()
	}
	return nil
}

func (sp *StabilityPool) initialDeposit(depositor common.Address) *uint256.Int {
	if d, ok := sp.deposits[depositor]; ok {
		return d.Initial.Clone()
	}
	return new(uint256.Int)
}

// ============================================================================
// Depositor views
// ============================================================================

// GetCompoundedDeposit is the depositor's stablecoin left after every
// offset since the snapshot. A deposit from an earlier epoch, or more than
// one scale change ago, is fully depleted.
func (sp *StabilityPool) GetCompoundedDeposit(depositor common.Address) *uint256.Int {
	d, ok := sp.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return new(uint256.Int)
	}
	return sp.compoundedFromSnapshot(d.Initial, d.Snapshot)
}

func (sp *StabilityPool) compoundedFromSnapshot(initial *uint256.Int, snap DepositSnapshot) *uint256.Int {
	if snap.Epoch < sp.currentEpoch {
		return new(uint256.Int)
	}

	var compounded *uint256.Int
	switch sp.currentScale - snap.Scale {
	case 0:
		compounded = fpmath.MulDiv(initial, sp.p, snap.P)
	case 1:
		compounded = fpmath.Div(fpmath.MulDiv(initial, sp.p, snap.P), ScaleFactor)
	default:
		return new(uint256.Int)
	}

	// Below a billionth of the initial deposit the value is rounding noise.
	if compounded.Lt(fpmath.Div(initial, ScaleFactor)) {
		return new(uint256.Int)
	}
	return compounded
}

// GetDepositorCollateralGain is the collateral earned since the snapshot.
// Gains that straddle one scale change are read from the next scale's sum.
func (sp *StabilityPool) GetDepositorCollateralGain(depositor common.Address) *uint256.Int {
	d, ok := sp.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return new(uint256.Int)
	}
	snap := d.Snapshot

	first := fpmath.Sub(sp.sum(snap.Epoch, snap.Scale), snap.S)
	second := fpmath.Div(sp.sum(snap.Epoch, snap.Scale+1), ScaleFactor)

	gain := fpmath.MulDiv(d.Initial, fpmath.Add(first, second), snap.P)
	return fpmath.Div(gain, fpmath.DecimalPrecision)
}

// ============================================================================
// Deposits and withdrawals
// ============================================================================

// Provide adds amount to the depositor's compounded deposit. The pending
// collateral gain is paid out in the same step. It returns the gain paid.
func (sp *StabilityPool) Provide(depositor common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if bal := sp.pl.stable.BalanceOf(depositor); bal.Lt(amount) {
		return nil, fmt.Errorf("%w: %s holds %s, deposit %s", ErrInsufficientStable, depositor.Hex(), bal.Dec(), amount.Dec())
	}

	gain := sp.GetDepositorCollateralGain(depositor)
	compounded := sp.GetCompoundedDeposit(depositor)

	if err := sp.pl.stable.Transfer(depositor, sp.Address(), amount); err != nil {
		panic(fmt.Sprintf("FATAL: stability deposit transfer: %v", err))
	}
	sp.totalDeposits = fpmath.Add(sp.totalDeposits, amount)

	sp.updateDepositAndSnapshot(depositor, fpmath.Add(compounded, amount))
	sp.vault.SendCollateral(depositor, gain)
	return gain, nil
}

// Withdraw pays out up to amount of the compounded deposit plus the whole
// collateral gain. amount zero only claims the gain. Any non-zero
// withdrawal is refused while the lowest position is below MCR, so
// depositors cannot dodge a pending liquidation.
func (sp *StabilityPool) Withdraw(depositor common.Address, amount, price *uint256.Int) (withdrawn, gain *uint256.Int, err error) {
	if sp.initialDeposit(depositor).IsZero() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoDeposit, depositor.Hex())
	}
	if !amount.IsZero() && sp.pl.lowestICRBelowMCR(price) {
		return nil, nil, ErrUnderCollateralizedExist
	}

	gain = sp.GetDepositorCollateralGain(depositor)
	compounded := sp.GetCompoundedDeposit(depositor)
	withdrawn = fpmath.Min(amount, compounded)

	if !withdrawn.IsZero() {
		if err := sp.pl.stable.Transfer(sp.Address(), depositor, withdrawn); err != nil {
			panic(fmt.Sprintf("FATAL: stability withdrawal transfer: %v", err))
		}
		sp.totalDeposits = fpmath.Sub(sp.totalDeposits, withdrawn)
	}

	sp.updateDepositAndSnapshot(depositor, fpmath.Sub(compounded, withdrawn))
	sp.vault.SendCollateral(depositor, gain)
	return withdrawn, gain, nil
}

// moveGainToActivePool re-snapshots the deposit at its compounded value and
// sends the gain to the active pool, where the caller books it as the
// depositor's added collateral.
func (sp *StabilityPool) moveGainToActivePool(depositor common.Address) *uint256.Int {
	gain := sp.GetDepositorCollateralGain(depositor)
	compounded := sp.GetCompoundedDeposit(depositor)
	sp.updateDepositAndSnapshot(depositor, compounded)
	sp.vault.SendCollateral(sp.pl.active.Address(), gain)
	return gain
}

func (sp *StabilityPool) updateDepositAndSnapshot(depositor common.Address, value *uint256.Int) {
	if value.IsZero() {
		delete(sp.deposits, depositor)
		return
	}
	sp.deposits[depositor] = &Deposit{
		Depositor: depositor,
		Initial:   value.Clone(),
		Snapshot: DepositSnapshot{
			P:     sp.p.Clone(),
			S:     sp.sum(sp.currentEpoch, sp.currentScale),
			Scale: sp.currentScale,
			Epoch: sp.currentEpoch,
		},
	}
}

// ============================================================================
// Offset
// ============================================================================

// Offset cancels debt against the pool's deposits and hands the pool coll
// in exchange. debt must not exceed the total deposits.
func (sp *StabilityPool) Offset(debt, coll *uint256.Int) {
	total := sp.totalDeposits
	if total.IsZero() || debt.IsZero() {
		return
	}
	if debt.Gt(total) {
		panic(fmt.Sprintf("FATAL: offset %s exceeds deposits %s", debt.Dec(), total.Dec()))
	}

	collGainPerUnit, lossPerUnit := sp.computeRewardsPerUnitStaked(coll, debt, total)
	sp.updateRewardSumAndProduct(collGainPerUnit, lossPerUnit)

	sp.pl.active.DecreaseDebt(debt)
	sp.totalDeposits = fpmath.Sub(sp.totalDeposits, debt)
	if err := sp.pl.stable.Burn(sp.Address(), debt); err != nil {
		panic(fmt.Sprintf("FATAL: burn offset debt: %v", err))
	}
	sp.pl.active.SendCollateral(sp.Address(), coll)
}

// computeRewardsPerUnitStaked rounds the loss up and the gain down, each
// with error feedback, so the pool never pays out more than it holds.
func (sp *StabilityPool) computeRewardsPerUnitStaked(coll, debt, total *uint256.Int) (collGainPerUnit, lossPerUnit *uint256.Int) {
	collNumerator := fpmath.Add(fpmath.Mul(coll, fpmath.DecimalPrecision), sp.lastCollError)

	if debt.Eq(total) {
		lossPerUnit = fpmath.DecimalPrecision.Clone()
		sp.lastDebtLossError = new(uint256.Int)
	} else {
		lossNumerator := fpmath.Sub(fpmath.Mul(debt, fpmath.DecimalPrecision), sp.lastDebtLossError)
		lossPerUnit = fpmath.Add(fpmath.Div(lossNumerator, total), uint256.NewInt(1))
		sp.lastDebtLossError = fpmath.Sub(fpmath.Mul(lossPerUnit, total), lossNumerator)
	}

	collGainPerUnit = fpmath.Div(collNumerator, total)
	sp.lastCollError = fpmath.Sub(collNumerator, fpmath.Mul(collGainPerUnit, total))
	return collGainPerUnit, lossPerUnit
}

func (sp *StabilityPool) updateRewardSumAndProduct(collGainPerUnit, lossPerUnit *uint256.Int) {
	if lossPerUnit.Gt(fpmath.DecimalPrecision) {
		panic("FATAL: stability loss per unit above 100%")
	}
	newProductFactor := fpmath.Sub(fpmath.DecimalPrecision, lossPerUnit)

	marginalGain := fpmath.Mul(collGainPerUnit, sp.p)
	sp.setSum(sp.currentEpoch, sp.currentScale, fpmath.Add(sp.sum(sp.currentEpoch, sp.currentScale), marginalGain))

	var newP *uint256.Int
	switch {
	case newProductFactor.IsZero():
		sp.currentEpoch++
		sp.currentScale = 0
		newP = fpmath.DecimalPrecision.Clone()
	case fpmath.MulDiv(sp.p, newProductFactor, fpmath.DecimalPrecision).Lt(ScaleFactor):
		newP = fpmath.MulDiv(fpmath.Mul(sp.p, newProductFactor), ScaleFactor, fpmath.DecimalPrecision)
		sp.currentScale++
	default:
		newP = fpmath.MulDiv(sp.p, newProductFactor, fpmath.DecimalPrecision)
	}

	if newP.IsZero() {
		panic("FATAL: stability product P reached zero")
	}
	sp.p = newP
}

// ============================================================================
// Snapshot
// ============================================================================

// SumEntry is one S[epoch][scale] cell.
type SumEntry struct {
	Epoch uint64       `json:"epoch"`
	Scale uint64       `json:"scale"`
	S     *uint256.Int `json:"s"`
}

// StabilityState is the pool's full persisted state.
type StabilityState struct {
	TotalDeposits     *uint256.Int `json:"total_deposits"`
	P                 *uint256.Int `json:"p"`
	CurrentScale      uint64       `json:"current_scale"`
	CurrentEpoch      uint64       `json:"current_epoch"`
	Sums              []SumEntry   `json:"sums"`
	Deposits          []*Deposit   `json:"deposits"`
	LastCollError     *uint256.Int `json:"last_coll_error"`
	LastDebtLossError *uint256.Int `json:"last_debt_loss_error"`
}

func (sp *StabilityPool) exportState() StabilityState {
	st := StabilityState{
		TotalDeposits:     sp.totalDeposits.Clone(),
		P:                 sp.p.Clone(),
		CurrentScale:      sp.currentScale,
		CurrentEpoch:      sp.currentEpoch,
		LastCollError:     sp.lastCollError.Clone(),
		LastDebtLossError: sp.lastDebtLossError.Clone(),
	}
	for epoch, byScale := range sp.sums {
		for scale, s := range byScale {
			st.Sums = append(st.Sums, SumEntry{Epoch: epoch, Scale: scale, S: s.Clone()})
		}
	}
	sort.Slice(st.Sums, func(i, j int) bool {
		if st.Sums[i].Epoch != st.Sums[j].Epoch {
			return st.Sums[i].Epoch < st.Sums[j].Epoch
		}
		return st.Sums[i].Scale < st.Sums[j].Scale
	})
	for _, d := range sp.deposits {
		st.Deposits = append(st.Deposits, d.Clone())
	}
	sort.Slice(st.Deposits, func(i, j int) bool {
		return bytes.Compare(st.Deposits[i].Depositor.Bytes(), st.Deposits[j].Depositor.Bytes()) < 0
	})
	return st
}

func (sp *StabilityPool) restoreState(st StabilityState) {
	sp.totalDeposits = fpmath.OrZero(st.TotalDeposits).Clone()
	sp.p = fpmath.DecimalPrecision.Clone()
	if st.P != nil {
		sp.p = st.P.Clone()
	}
	sp.currentScale = st.CurrentScale
	sp.currentEpoch = st.CurrentEpoch
	sp.lastCollError = fpmath.OrZero(st.LastCollError).Clone()
	sp.lastDebtLossError = fpmath.OrZero(st.LastDebtLossError).Clone()

	sp.sums = make(map[uint64]map[uint64]*uint256.Int)
	for _, e := range st.Sums {
		sp.setSum(e.Epoch, e.Scale, e.S.Clone())
	}
	sp.deposits = make(map[common.Address]*Deposit, len(st.Deposits))
	for _, d := range st.Deposits {
		sp.deposits[d.Depositor] = d.Clone()
	}
}
