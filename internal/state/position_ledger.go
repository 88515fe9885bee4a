package state

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/pool"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionLedger owns every position, the stake and reward accumulators,
// the sorted index and the pools. Redistribution is lazy: a liquidation
// only bumps L_coll and L_debt, and each position folds its share in the
// next time it is touched.
type PositionLedger struct {
	system *SystemState
	rec    *ledger.Recorder
	stable StablecoinLedger
	fees   FeeRecipient

	active  *pool.Pool
	def     *pool.Pool
	surplus *pool.SurplusPool

	positions map[common.Address]*Position
	owners    []common.Address
	sorted    *SortedPositions
	stability *StabilityPool
	baseRate  *BaseRate

	totalStakes         *uint256.Int
	totalStakesSnapshot *uint256.Int
	totalCollSnapshot   *uint256.Int

	lColl         *uint256.Int
	lDebt         *uint256.Int
	lastCollError *uint256.Int
	lastDebtError *uint256.Int
}

// NewPositionLedger wires a ledger over rec. maxPositions of zero leaves the
// sorted index unbounded.
func NewPositionLedger(system *SystemState, rec *ledger.Recorder, stable StablecoinLedger, fees FeeRecipient, maxPositions uint64) *PositionLedger {
	pl := &PositionLedger{
		system:              system,
		rec:                 rec,
		stable:              stable,
		fees:                fees,
		active:              pool.NewActivePool(rec),
		def:                 pool.NewDefaultPool(rec),
		surplus:             pool.NewSurplusPool(rec),
		positions:           make(map[common.Address]*Position),
		baseRate:            NewBaseRate(system),
		totalStakes:         new(uint256.Int),
		totalStakesSnapshot: new(uint256.Int),
		totalCollSnapshot:   new(uint256.Int),
		lColl:               new(uint256.Int),
		lDebt:               new(uint256.Int),
		lastCollError:       new(uint256.Int),
		lastDebtError:       new(uint256.Int),
	}
	pl.sorted = NewSortedPositions(pl, maxPositions)
	pl.stability = newStabilityPool(pl)
	return pl
}

func (pl *PositionLedger) System() *SystemState          { return pl.system }
func (pl *PositionLedger) Sorted() *SortedPositions      { return pl.sorted }
func (pl *PositionLedger) StabilityPool() *StabilityPool { return pl.stability }
func (pl *PositionLedger) BaseRate() *BaseRate           { return pl.baseRate }
func (pl *PositionLedger) ActivePool() *pool.Pool        { return pl.active }
func (pl *PositionLedger) DefaultPool() *pool.Pool       { return pl.def }
func (pl *PositionLedger) SurplusPool() *pool.SurplusPool {
	return pl.surplus
}

// GetPosition returns a copy of the owner's position, or nil if the owner
// never opened one.
func (pl *PositionLedger) GetPosition(owner common.Address) *Position {
	if p, ok := pl.positions[owner]; ok {
		return p.Clone()
	}
	return nil
}

func (pl *PositionLedger) PositionStatus(owner common.Address) Status {
	if p, ok := pl.positions[owner]; ok {
		return p.Status
	}
	return StatusNonExistent
}

func (pl *PositionLedger) IsActive(owner common.Address) bool {
	return pl.PositionStatus(owner) == StatusActive
}

// ActivePositionCount is the length of the owners array.
func (pl *PositionLedger) ActivePositionCount() int {
	return len(pl.owners)
}

// Owners returns the active owners in array order.
func (pl *PositionLedger) Owners() []common.Address {
	out := make([]common.Address, len(pl.owners))
	copy(out, pl.owners)
	return out
}

func (pl *PositionLedger) activePosition(owner common.Address) (*Position, error) {
	p, ok := pl.positions[owner]
	if !ok || p.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotActive, owner.Hex())
	}
	return p, nil
}

func (pl *PositionLedger) mustActive(owner common.Address) *Position {
	p, err := pl.activePosition(owner)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}
	return p
}

// ============================================================================
// Pending rewards
// ============================================================================

func pendingReward(stake, l, snapshot *uint256.Int) *uint256.Int {
	diff := fpmath.Sub(l, snapshot)
	if diff.IsZero() || stake.IsZero() {
		return new(uint256.Int)
	}
	return fpmath.MulDiv(stake, diff, fpmath.DecimalPrecision)
}

func (pl *PositionLedger) GetPendingCollReward(owner common.Address) *uint256.Int {
	p, ok := pl.positions[owner]
	if !ok || p.Status != StatusActive {
		return new(uint256.Int)
	}
	return pendingReward(p.Stake, pl.lColl, p.Snapshot.Coll)
}

func (pl *PositionLedger) GetPendingDebtReward(owner common.Address) *uint256.Int {
	p, ok := pl.positions[owner]
	if !ok || p.Status != StatusActive {
		return new(uint256.Int)
	}
	return pendingReward(p.Stake, pl.lDebt, p.Snapshot.Debt)
}

func (pl *PositionLedger) HasPendingRewards(owner common.Address) bool {
	return !pl.GetPendingCollReward(owner).IsZero() || !pl.GetPendingDebtReward(owner).IsZero()
}

// GetEntireDebtAndColl returns the position's balances with pending
// rewards folded in, plus the pending parts on their own.
func (pl *PositionLedger) GetEntireDebtAndColl(owner common.Address) (debt, coll, pendingDebt, pendingColl *uint256.Int) {
	p, ok := pl.positions[owner]
	if !ok {
		return new(uint256.Int), new(uint256.Int), new(uint256.Int), new(uint256.Int)
	}
	pendingDebt = pl.GetPendingDebtReward(owner)
	pendingColl = pl.GetPendingCollReward(owner)
	debt = fpmath.Add(p.Debt, pendingDebt)
	coll = fpmath.Add(p.Coll, pendingColl)
	return debt, coll, pendingDebt, pendingColl
}

// GetNominalICR is coll*1e20/debt with pending rewards included.
func (pl *PositionLedger) GetNominalICR(owner common.Address) *uint256.Int {
	debt, coll, _, _ := pl.GetEntireDebtAndColl(owner)
	return fpmath.ComputeNominalCR(coll, debt)
}

// GetCurrentICR is coll*price/debt with pending rewards included.
func (pl *PositionLedger) GetCurrentICR(owner common.Address, price *uint256.Int) *uint256.Int {
	debt, coll, _, _ := pl.GetEntireDebtAndColl(owner)
	return fpmath.ComputeCR(coll, debt, price)
}

// ApplyPendingRewards folds the owner's share of past redistributions into
// the position and moves the backing from the default pool to the active
// pool. A second call is a no-op.
func (pl *PositionLedger) ApplyPendingRewards(owner common.Address) {
	p := pl.mustActive(owner)
	if p.Snapshot.Coll.Eq(pl.lColl) && p.Snapshot.Debt.Eq(pl.lDebt) {
		return
	}

	pendingColl := pendingReward(p.Stake, pl.lColl, p.Snapshot.Coll)
	pendingDebt := pendingReward(p.Stake, pl.lDebt, p.Snapshot.Debt)

	p.Coll = fpmath.Add(p.Coll, pendingColl)
	p.Debt = fpmath.Add(p.Debt, pendingDebt)
	pl.updateRewardSnapshots(p)

	pl.def.MoveDebtTo(pl.active, pendingDebt)
	pl.def.SendCollateral(pl.active.Address(), pendingColl)
	p.Version++
}

func (pl *PositionLedger) updateRewardSnapshots(p *Position) {
	p.Snapshot = RewardSnapshot{Coll: pl.lColl.Clone(), Debt: pl.lDebt.Clone()}
}

// ============================================================================
// Stakes
// ============================================================================

// UpdateStakeAndTotalStakes recomputes the owner's stake from its current
// collateral and returns it.
func (pl *PositionLedger) UpdateStakeAndTotalStakes(owner common.Address) *uint256.Int {
	p := pl.mustActive(owner)
	newStake := pl.computeNewStake(p.Coll)
	pl.totalStakes = fpmath.Add(fpmath.Sub(pl.totalStakes, p.Stake), newStake)
	p.Stake = newStake
	return newStake.Clone()
}

// computeNewStake scales coll by the stake/collateral ratio at the last
// liquidation, so positions opened after a redistribution do not earn a
// share of rewards already handed out.
func (pl *PositionLedger) computeNewStake(coll *uint256.Int) *uint256.Int {
	if pl.totalCollSnapshot.IsZero() {
		return coll.Clone()
	}
	if pl.totalStakesSnapshot.IsZero() {
		panic("FATAL: total stakes snapshot is zero with collateral snapshot set")
	}
	return fpmath.MulDiv(coll, pl.totalStakesSnapshot, pl.totalCollSnapshot)
}

func (pl *PositionLedger) removeStake(p *Position) {
	pl.totalStakes = fpmath.Sub(pl.totalStakes, p.Stake)
	p.Stake = new(uint256.Int)
}

func (pl *PositionLedger) TotalStakes() *uint256.Int {
	return pl.totalStakes.Clone()
}

// ============================================================================
// Lifecycle
// ============================================================================

// activate moves owner into Active with the given balances, a fresh reward
// snapshot and a stake, appends it to the owners array and indexes it.
func (pl *PositionLedger) activate(owner common.Address, coll, debt *uint256.Int, upperHint, lowerHint common.Address) {
	p, ok := pl.positions[owner]
	if !ok {
		p = newPosition(owner)
		pl.positions[owner] = p
	}
	if !p.Status.CanTransitionTo(StatusActive) || p.Status == StatusActive {
		panic(fmt.Sprintf("FATAL: cannot open position %s from %s", owner.Hex(), p.Status))
	}

	p.Status = StatusActive
	p.Coll = coll.Clone()
	p.Debt = debt.Clone()
	p.Stake = new(uint256.Int)
	pl.updateRewardSnapshots(p)
	pl.UpdateStakeAndTotalStakes(owner)

	p.ArrayIndex = uint64(len(pl.owners))
	pl.owners = append(pl.owners, owner)

	if err := pl.sorted.Insert(owner, fpmath.ComputeNominalCR(p.Coll, p.Debt), upperHint, lowerHint); err != nil {
		panic(fmt.Sprintf("FATAL: index position %s: %v", owner.Hex(), err))
	}
	p.Version++
}

// reindex moves an active position to the slot for its current NICR.
func (pl *PositionLedger) reindex(owner common.Address, upperHint, lowerHint common.Address) {
	if err := pl.sorted.ReInsert(owner, pl.GetNominalICR(owner), upperHint, lowerHint); err != nil {
		panic(fmt.Sprintf("FATAL: re-index position %s: %v", owner.Hex(), err))
	}
}

// closePosition zeroes an active position and drops it from the owners
// array and the index. The stake must already have been removed.
func (pl *PositionLedger) closePosition(p *Position, status Status) {
	if status == StatusActive || !p.Status.CanTransitionTo(status) {
		panic(fmt.Sprintf("FATAL: invalid close of %s: %s -> %s", p.Owner.Hex(), p.Status, status))
	}
	if len(pl.owners) <= 1 || pl.sorted.Size() <= 1 {
		panic(fmt.Sprintf("FATAL: closing %s would empty the system", p.Owner.Hex()))
	}
	if !p.Stake.IsZero() {
		panic(fmt.Sprintf("FATAL: closing %s with a live stake", p.Owner.Hex()))
	}

	p.Status = status
	p.Coll = new(uint256.Int)
	p.Debt = new(uint256.Int)
	p.Snapshot = RewardSnapshot{Coll: new(uint256.Int), Debt: new(uint256.Int)}

	pl.removeOwner(p)
	if err := pl.sorted.Remove(p.Owner); err != nil {
		panic(fmt.Sprintf("FATAL: unindex position %s: %v", p.Owner.Hex(), err))
	}
	p.Version++
}

// removeOwner swaps the last owner into p's slot.
func (pl *PositionLedger) removeOwner(p *Position) {
	idx := p.ArrayIndex
	last := len(pl.owners) - 1
	if idx > uint64(last) || pl.owners[idx] != p.Owner {
		panic(fmt.Sprintf("FATAL: owners array out of sync for %s", p.Owner.Hex()))
	}
	moved := pl.owners[last]
	pl.owners[idx] = moved
	pl.positions[moved].ArrayIndex = idx
	pl.owners = pl.owners[:last]
	p.ArrayIndex = 0
}

// ============================================================================
// Redistribution
// ============================================================================

// redistribute spreads debt and coll over every remaining stake by raising
// L_debt and L_coll. The division remainder is carried into the next call.
func (pl *PositionLedger) redistribute(debt, coll *uint256.Int) {
	if debt.IsZero() {
		return
	}
	if pl.totalStakes.IsZero() {
		panic("FATAL: redistribution with zero total stakes")
	}

	collNumerator := fpmath.Add(fpmath.Mul(coll, fpmath.DecimalPrecision), pl.lastCollError)
	debtNumerator := fpmath.Add(fpmath.Mul(debt, fpmath.DecimalPrecision), pl.lastDebtError)

	collPerUnit := fpmath.Div(collNumerator, pl.totalStakes)
	debtPerUnit := fpmath.Div(debtNumerator, pl.totalStakes)

	pl.lastCollError = fpmath.Sub(collNumerator, fpmath.Mul(collPerUnit, pl.totalStakes))
	pl.lastDebtError = fpmath.Sub(debtNumerator, fpmath.Mul(debtPerUnit, pl.totalStakes))

	pl.lColl = fpmath.Add(pl.lColl, collPerUnit)
	pl.lDebt = fpmath.Add(pl.lDebt, debtPerUnit)

	pl.active.MoveDebtTo(pl.def, debt)
	pl.active.SendCollateral(pl.def.Address(), coll)
}

// updateSystemSnapshots records the stake/collateral ratio used for new
// stakes. collRemainder is collateral still in the active pool that is
// about to leave as gas compensation.
func (pl *PositionLedger) updateSystemSnapshots(collRemainder *uint256.Int) {
	pl.totalStakesSnapshot = pl.totalStakes.Clone()
	activeColl := pl.active.CollateralBalance()
	pl.totalCollSnapshot = fpmath.Add(fpmath.Sub(activeColl, collRemainder), pl.def.CollateralBalance())
}

// RewardState is the accumulator set read by queries and snapshots.
type RewardState struct {
	TotalStakes         *uint256.Int `json:"total_stakes"`
	TotalStakesSnapshot *uint256.Int `json:"total_stakes_snapshot"`
	TotalCollSnapshot   *uint256.Int `json:"total_coll_snapshot"`
	LColl               *uint256.Int `json:"l_coll"`
	LDebt               *uint256.Int `json:"l_debt"`
	LastCollError       *uint256.Int `json:"last_coll_error"`
	LastDebtError       *uint256.Int `json:"last_debt_error"`
}

func (pl *PositionLedger) RewardState() RewardState {
	return RewardState{
		TotalStakes:         pl.totalStakes.Clone(),
		TotalStakesSnapshot: pl.totalStakesSnapshot.Clone(),
		TotalCollSnapshot:   pl.totalCollSnapshot.Clone(),
		LColl:               pl.lColl.Clone(),
		LDebt:               pl.lDebt.Clone(),
		LastCollError:       pl.lastCollError.Clone(),
		LastDebtError:       pl.lastDebtError.Clone(),
	}
}

// ============================================================================
// System ratios
// ============================================================================

func (pl *PositionLedger) GetEntireSystemColl() *uint256.Int {
	return fpmath.Add(pl.active.CollateralBalance(), pl.def.CollateralBalance())
}

func (pl *PositionLedger) GetEntireSystemDebt() *uint256.Int {
	return fpmath.Add(pl.active.DebtBalance(), pl.def.DebtBalance())
}

// GetTCR is the collateral ratio of the whole system.
func (pl *PositionLedger) GetTCR(price *uint256.Int) *uint256.Int {
	return fpmath.ComputeCR(pl.GetEntireSystemColl(), pl.GetEntireSystemDebt(), price)
}

// CheckRecoveryMode reports TCR < CCR.
func (pl *PositionLedger) CheckRecoveryMode(price *uint256.Int) bool {
	return pl.GetTCR(price).Lt(pl.system.CCR())
}

func (pl *PositionLedger) checkPotentialRecoveryMode(coll, debt, price *uint256.Int) bool {
	return fpmath.ComputeCR(coll, debt, price).Lt(pl.system.CCR())
}

// applyChange returns value ± change. A decrease larger than the value is a
// caller bug: validation rejects it before any ratio is computed.
func applyChange(value, change *uint256.Int, increase bool) *uint256.Int {
	if increase {
		return fpmath.Add(value, change)
	}
	return fpmath.Sub(value, change)
}

// applyCheckedChange is applyChange for caller-supplied increases: it
// returns ErrAmountTooLarge instead of panicking when the sum wraps.
func applyCheckedChange(value, change *uint256.Int, increase bool) (*uint256.Int, error) {
	if !increase {
		return fpmath.Sub(value, change), nil
	}
	z, ok := fpmath.CheckedAdd(value, change)
	if !ok {
		return nil, ErrAmountTooLarge
	}
	return z, nil
}

func checkedCR(coll, debt, price *uint256.Int) (*uint256.Int, error) {
	cr, ok := fpmath.CheckedComputeCR(coll, debt, price)
	if !ok {
		return nil, ErrAmountTooLarge
	}
	return cr, nil
}

// GetNewICRFromPositionChange is the ICR a position would have after the
// change, at the given price.
func (pl *PositionLedger) GetNewICRFromPositionChange(coll, debt, collChange *uint256.Int, isCollIncrease bool, debtChange *uint256.Int, isDebtIncrease bool, price *uint256.Int) (*uint256.Int, error) {
	newColl, err := applyCheckedChange(coll, collChange, isCollIncrease)
	if err != nil {
		return nil, err
	}
	newDebt, err := applyCheckedChange(debt, debtChange, isDebtIncrease)
	if err != nil {
		return nil, err
	}
	return checkedCR(newColl, newDebt, price)
}

// GetNewTCRFromPositionChange is the TCR after a single position's change.
func (pl *PositionLedger) GetNewTCRFromPositionChange(collChange *uint256.Int, isCollIncrease bool, debtChange *uint256.Int, isDebtIncrease bool, price *uint256.Int) (*uint256.Int, error) {
	totalColl, err := applyCheckedChange(pl.GetEntireSystemColl(), collChange, isCollIncrease)
	if err != nil {
		return nil, err
	}
	totalDebt, err := applyCheckedChange(pl.GetEntireSystemDebt(), debtChange, isDebtIncrease)
	if err != nil {
		return nil, err
	}
	return checkedCR(totalColl, totalDebt, price)
}

// lowestICRBelowMCR reports whether the position at the bottom of the index
// is under-collateralized.
func (pl *PositionLedger) lowestICRBelowMCR(price *uint256.Int) bool {
	last := pl.sorted.Last()
	if last == (common.Address{}) {
		return false
	}
	return pl.GetCurrentICR(last, price).Lt(pl.system.MCR())
}
