package state

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RedemptionRequest swaps stablecoin for collateral at face value against
// the riskiest healthy positions.
type RedemptionRequest struct {
	Redeemer      common.Address
	Amount        *uint256.Int
	FirstHint     common.Address
	UpperHint     common.Address
	LowerHint     common.Address
	MaxIterations int // zero means unbounded
	MaxFee        *uint256.Int
	Timestamp     int64
}

// RedemptionRecord is what one position gave up.
type RedemptionRecord struct {
	Owner        common.Address `json:"owner"`
	DebtRedeemed *uint256.Int   `json:"debt_redeemed"`
	CollDrawn    *uint256.Int   `json:"coll_drawn"`
	Closed       bool           `json:"closed"`

	newDebt *uint256.Int
	newColl *uint256.Int
}

type RedemptionResult struct {
	Redeemed          []RedemptionRecord `json:"redeemed"`
	TotalDebtRedeemed *uint256.Int       `json:"total_debt_redeemed"`
	TotalCollDrawn    *uint256.Int       `json:"total_coll_drawn"`
	Fee               *uint256.Int       `json:"fee"`
	CollToRedeemer    *uint256.Int       `json:"coll_to_redeemer"`
	BaseRate          *uint256.Int       `json:"base_rate"`
}

// isValidFirstRedemptionHint accepts a hint that is the riskiest position
// still at or above MCR.
func (pl *PositionLedger) isValidFirstRedemptionHint(hint common.Address, price *uint256.Int) bool {
	if hint == (common.Address{}) || !pl.sorted.Contains(hint) {
		return false
	}
	mcr := pl.system.MCR()
	if pl.GetCurrentICR(hint, price).Lt(mcr) {
		return false
	}
	next := pl.sorted.Next(hint)
	return next == (common.Address{}) || pl.GetCurrentICR(next, price).Lt(mcr)
}

func (pl *PositionLedger) firstRedemptionCandidate(hint common.Address, price *uint256.Int) common.Address {
	if pl.isValidFirstRedemptionHint(hint, price) {
		return hint
	}
	mcr := pl.system.MCR()
	owner := pl.sorted.Last()
	for owner != (common.Address{}) && pl.GetCurrentICR(owner, price).Lt(mcr) {
		owner = pl.sorted.Prev(owner)
	}
	return owner
}

// RedeemCollateral plans the whole redemption read-only, prices it, and
// only then applies it. The redeemer receives the drawn collateral minus
// the redemption fee.
func (pl *PositionLedger) RedeemCollateral(req RedemptionRequest, price *uint256.Int) (*RedemptionResult, error) {
	one := fpmath.DecimalPrecision
	if req.MaxFee == nil || req.MaxFee.Lt(pl.system.RedemptionFeeFloor()) || req.MaxFee.Gt(one) {
		return nil, ErrInvalidMaxFee
	}
	if pl.GetTCR(price).Lt(pl.system.MCR()) {
		return nil, ErrTCRBelowMCR
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if bal := pl.stable.BalanceOf(req.Redeemer); bal.Lt(req.Amount) {
		return nil, fmt.Errorf("%w: %s holds %s, redeem %s", ErrInsufficientStable, req.Redeemer.Hex(), bal.Dec(), req.Amount.Dec())
	}

	res, err := pl.planRedemption(req, price)
	if err != nil {
		return nil, err
	}

	totalDebt := pl.GetEntireSystemDebt()
	newRate := pl.baseRate.BumpedForRedemption(res.TotalCollDrawn, price, totalDebt, req.Timestamp)
	res.BaseRate = newRate
	res.Fee = fpmath.MulDiv(pl.baseRate.redemptionRate(newRate), res.TotalCollDrawn, one)
	if !res.Fee.Lt(res.TotalCollDrawn) {
		return nil, ErrRedemptionFeeEatsAll
	}
	if err := checkFeeAccepted(res.Fee, res.TotalCollDrawn, req.MaxFee); err != nil {
		return nil, err
	}
	res.CollToRedeemer = fpmath.Sub(res.TotalCollDrawn, res.Fee)

	pl.commitRedemption(req, res)
	return res, nil
}

func (pl *PositionLedger) planRedemption(req RedemptionRequest, price *uint256.Int) (*RedemptionResult, error) {
	gasComp := pl.system.GasCompensation()
	minNetDebt := pl.system.MinNetDebt()

	res := &RedemptionResult{
		TotalDebtRedeemed: new(uint256.Int),
		TotalCollDrawn:    new(uint256.Int),
	}
	remaining := req.Amount.Clone()
	activeLeft := len(pl.owners)
	iterations := req.MaxIterations

	owner := pl.firstRedemptionCandidate(req.FirstHint, price)
	for owner != (common.Address{}) && !remaining.IsZero() {
		if req.MaxIterations > 0 {
			if iterations == 0 {
				break
			}
			iterations--
		}

		debt, coll, _, _ := pl.GetEntireDebtAndColl(owner)
		lot := fpmath.Min(remaining, fpmath.Sub(debt, gasComp))
		collLot := fpmath.MulDiv(lot, fpmath.DecimalPrecision, price)
		newDebt := fpmath.Sub(debt, lot)
		newColl := fpmath.Sub(coll, collLot)

		rec := RedemptionRecord{Owner: owner, DebtRedeemed: lot, CollDrawn: collLot, newDebt: newDebt, newColl: newColl}
		if newDebt.Eq(gasComp) {
			if activeLeft <= 1 {
				return nil, ErrOnlyOnePosition
			}
			activeLeft--
			rec.Closed = true
		} else if pl.system.GetNetDebt(newDebt).Lt(minNetDebt) {
			break
		}

		res.Redeemed = append(res.Redeemed, rec)
		res.TotalDebtRedeemed = fpmath.Add(res.TotalDebtRedeemed, lot)
		res.TotalCollDrawn = fpmath.Add(res.TotalCollDrawn, collLot)
		remaining = fpmath.Sub(remaining, lot)

		if !rec.Closed {
			// A partial redemption is always the last step of the walk.
			break
		}
		owner = pl.sorted.Prev(owner)
	}

	if res.TotalCollDrawn.IsZero() {
		return nil, ErrNothingToRedeem
	}
	return res, nil
}

func (pl *PositionLedger) commitRedemption(req RedemptionRequest, res *RedemptionResult) {
	gasComp := pl.system.GasCompensation()

	for _, r := range res.Redeemed {
		p := pl.mustActive(r.Owner)
		pl.ApplyPendingRewards(r.Owner)

		if r.Closed {
			pl.removeStake(p)
			pl.closePosition(p, StatusClosedByRedemption)
			if err := pl.stable.Burn(ledger.GasPoolAddress, gasComp); err != nil {
				panic(fmt.Sprintf("FATAL: burn gas reserve of %s: %v", r.Owner.Hex(), err))
			}
			pl.active.DecreaseDebt(gasComp)
			pl.active.SendCollateral(pl.surplus.Address(), r.newColl)
			pl.surplus.AccountSurplus(r.Owner, r.newColl)
			continue
		}

		p.Debt = r.newDebt.Clone()
		p.Coll = r.newColl.Clone()
		p.Version++
		pl.reindex(r.Owner, req.UpperHint, req.LowerHint)
		pl.UpdateStakeAndTotalStakes(r.Owner)
	}

	pl.baseRate.setFromRedemption(res.BaseRate, req.Timestamp)

	pl.active.SendCollateral(pl.fees.Address(), res.Fee)
	pl.fees.ReceiveCollateralFee(res.Fee)

	if err := pl.stable.Burn(req.Redeemer, res.TotalDebtRedeemed); err != nil {
		panic(fmt.Sprintf("FATAL: burn redeemed stablecoin: %v", err))
	}
	pl.active.DecreaseDebt(res.TotalDebtRedeemed)
	pl.active.SendCollateral(req.Redeemer, res.CollToRedeemer)
}
