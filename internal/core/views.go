package core

import (
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/state"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EntireDebtAndColl is a position with its pending redistribution rewards
// folded in.
type EntireDebtAndColl struct {
	Debt        *uint256.Int `json:"debt"`
	Coll        *uint256.Int `json:"coll"`
	PendingDebt *uint256.Int `json:"pending_debt"`
	PendingColl *uint256.Int `json:"pending_coll"`
}

// PoolBalances is the ledger-wide view of every pool.
type PoolBalances struct {
	ActiveColl        *uint256.Int `json:"active_coll"`
	ActiveDebt        *uint256.Int `json:"active_debt"`
	DefaultColl       *uint256.Int `json:"default_coll"`
	DefaultDebt       *uint256.Int `json:"default_debt"`
	StabilityDeposits *uint256.Int `json:"stability_deposits"`
	StabilityColl     *uint256.Int `json:"stability_coll"`
	SurplusColl       *uint256.Int `json:"surplus_coll"`
	GasPoolStable     *uint256.Int `json:"gas_pool_stable"`
	FeeStable         *uint256.Int `json:"fee_stable"`
	FeeColl           *uint256.Int `json:"fee_coll"`
	StableSupply      *uint256.Int `json:"stable_supply"`
	TotalStakes       *uint256.Int `json:"total_stakes"`
	ActivePositions   int          `json:"active_positions"`
}

// DepositView is a depositor's stability pool position.
type DepositView struct {
	Initial    *uint256.Int `json:"initial"`
	Compounded *uint256.Int `json:"compounded"`
	CollGain   *uint256.Int `json:"coll_gain"`
	Epoch      uint64       `json:"epoch"`
	Scale      uint64       `json:"scale"`
}

// FeeRates are the fee rates in force at a given time.
type FeeRates struct {
	BaseRate       *uint256.Int `json:"base_rate"`
	BorrowingRate  *uint256.Int `json:"borrowing_rate"`
	RedemptionRate *uint256.Int `json:"redemption_rate"`
	LastFeeOpTime  int64        `json:"last_fee_op_time"`
}

func (e *Engine) price() (*uint256.Int, error) {
	p, err := e.oracle.GetPrice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return p, nil
}

// GetPosition returns a copy of the owner's position, closed or not, or nil.
func (e *Engine) GetPosition(owner common.Address) *state.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.GetPosition(owner)
}

func (e *Engine) GetEntireDebtAndColl(owner common.Address) (*EntireDebtAndColl, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.positions.IsActive(owner) {
		return nil, state.ErrPositionNotActive
	}
	debt, coll, pendingDebt, pendingColl := e.positions.GetEntireDebtAndColl(owner)
	return &EntireDebtAndColl{Debt: debt, Coll: coll, PendingDebt: pendingDebt, PendingColl: pendingColl}, nil
}

// GetCurrentICR evaluates an active position at the oracle price.
func (e *Engine) GetCurrentICR(owner common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.positions.IsActive(owner) {
		return nil, state.ErrPositionNotActive
	}
	price, err := e.price()
	if err != nil {
		return nil, err
	}
	return e.positions.GetCurrentICR(owner, price), nil
}

func (e *Engine) GetTCR() (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, err := e.price()
	if err != nil {
		return nil, err
	}
	return e.positions.GetTCR(price), nil
}

func (e *Engine) CheckRecoveryMode() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, err := e.price()
	if err != nil {
		return false, err
	}
	return e.positions.CheckRecoveryMode(price), nil
}

func (e *Engine) PoolBalances() *PoolBalances {
	e.mu.Lock()
	defer e.mu.Unlock()

	pl := e.positions
	sp := pl.StabilityPool()
	feeStable, feeColl := e.fees.Balances()
	return &PoolBalances{
		ActiveColl:        pl.ActivePool().CollateralBalance(),
		ActiveDebt:        pl.ActivePool().DebtBalance(),
		DefaultColl:       pl.DefaultPool().CollateralBalance(),
		DefaultDebt:       pl.DefaultPool().DebtBalance(),
		StabilityDeposits: sp.GetTotalDeposits(),
		StabilityColl:     sp.GetCollateral(),
		SurplusColl:       pl.SurplusPool().CollateralBalance(),
		GasPoolStable:     e.stable.BalanceOf(ledger.GasPoolAddress),
		FeeStable:         feeStable,
		FeeColl:           feeColl,
		StableSupply:      e.stable.TotalSupply(),
		TotalStakes:       pl.TotalStakes(),
		ActivePositions:   pl.ActivePositionCount(),
	}
}

// Deposit returns the depositor's stability pool position.
func (e *Engine) Deposit(depositor common.Address) (*DepositView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sp := e.positions.StabilityPool()
	d := sp.GetDeposit(depositor)
	if d == nil {
		return nil, state.ErrNoDeposit
	}
	return &DepositView{
		Initial:    d.Initial,
		Compounded: sp.GetCompoundedDeposit(depositor),
		CollGain:   sp.GetDepositorCollateralGain(depositor),
		Epoch:      d.Snapshot.Epoch,
		Scale:      d.Snapshot.Scale,
	}, nil
}

func (e *Engine) SurplusClaimable(owner common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.SurplusPool().Claimable(owner)
}

// Wallet returns the stablecoin and collateral the ledger has paid out to
// addr.
func (e *Engine) Wallet(addr common.Address) (stable, coll *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stable.BalanceOf(addr), e.tracker.GetWalletBalance(addr, ledger.AssetCollateral)
}

// FeeRates returns the rates a fee operation at now would pay.
func (e *Engine) FeeRates(now int64) *FeeRates {
	e.mu.Lock()
	defer e.mu.Unlock()
	br := e.positions.BaseRate()
	return &FeeRates{
		BaseRate:       br.Rate(),
		BorrowingRate:  br.BorrowingRate(now),
		RedemptionRate: br.RedemptionRate(now),
		LastFeeOpTime:  br.LastFeeOperationTime(),
	}
}

// SortedOwners returns up to limit owners from the lowest NICR upwards,
// the order redemptions and batch liquidations walk. limit <= 0 returns all.
func (e *Engine) SortedOwners(limit int) []common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	sorted := e.positions.Sorted()
	out := make([]common.Address, 0)
	for id := sorted.Last(); id != (common.Address{}); id = sorted.Prev(id) {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, id)
	}
	return out
}

func (e *Engine) Params() *state.SystemParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.System().Params()
}

// StateHash returns the chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.Head()
}

// Sequence returns the last applied sequence, zero before the first command.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence - 1
}
