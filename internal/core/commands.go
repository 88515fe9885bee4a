package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/state"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ClaimResult is the collateral paid out by ClaimCollateral.
type ClaimResult struct {
	Amount *uint256.Int `json:"amount"`
}

// StabilityResult describes a deposit or withdrawal.
type StabilityResult struct {
	Deposited *uint256.Int `json:"deposited"`
	Withdrawn *uint256.Int `json:"withdrawn"`
	CollGain  *uint256.Int `json:"coll_gain"` // collateral gain paid out to the wallet
	Deposit   *uint256.Int `json:"deposit"`   // compounded deposit afterwards
}

func processAs[T any](e *Engine, evt event.Event) (T, error) {
	var zero T
	r, err := e.Process(evt)
	if err != nil {
		return zero, err
	}
	res, ok := r.Result.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T", evt.EventType(), r.Result)
	}
	return res, nil
}

func (e *Engine) OpenPosition(cmd *event.OpenPosition) (*state.OpenResult, error) {
	return processAs[*state.OpenResult](e, cmd)
}

func (e *Engine) AdjustPosition(cmd *event.AdjustPosition) (*state.AdjustResult, error) {
	return processAs[*state.AdjustResult](e, cmd)
}

// AddColl, WithdrawColl, WithdrawDebt and RepayDebt are single-purpose
// AdjustPosition commands and are logged as such.

func (e *Engine) AddColl(meta event.Meta, owner common.Address, amount *uint256.Int, hints state.Hints) (*state.AdjustResult, error) {
	return e.AdjustPosition(&event.AdjustPosition{
		Meta:        meta,
		Owner:       owner,
		CollDeposit: amount,
		UpperHint:   hints.Upper,
		LowerHint:   hints.Lower,
	})
}

func (e *Engine) WithdrawColl(meta event.Meta, owner common.Address, amount *uint256.Int, hints state.Hints) (*state.AdjustResult, error) {
	return e.AdjustPosition(&event.AdjustPosition{
		Meta:           meta,
		Owner:          owner,
		CollWithdrawal: amount,
		UpperHint:      hints.Upper,
		LowerHint:      hints.Lower,
	})
}

func (e *Engine) WithdrawDebt(meta event.Meta, owner common.Address, maxFee, amount *uint256.Int, hints state.Hints) (*state.AdjustResult, error) {
	return e.AdjustPosition(&event.AdjustPosition{
		Meta:           meta,
		Owner:          owner,
		DebtChange:     amount,
		IsDebtIncrease: true,
		MaxFee:         maxFee,
		UpperHint:      hints.Upper,
		LowerHint:      hints.Lower,
	})
}

func (e *Engine) RepayDebt(meta event.Meta, owner common.Address, amount *uint256.Int, hints state.Hints) (*state.AdjustResult, error) {
	return e.AdjustPosition(&event.AdjustPosition{
		Meta:       meta,
		Owner:      owner,
		DebtChange: amount,
		UpperHint:  hints.Upper,
		LowerHint:  hints.Lower,
	})
}

func (e *Engine) ClosePosition(cmd *event.ClosePosition) (*state.CloseResult, error) {
	return processAs[*state.CloseResult](e, cmd)
}

func (e *Engine) ClaimCollateral(cmd *event.ClaimCollateral) (*ClaimResult, error) {
	return processAs[*ClaimResult](e, cmd)
}

func (e *Engine) Liquidate(cmd *event.Liquidate) (*state.LiquidationResult, error) {
	return processAs[*state.LiquidationResult](e, cmd)
}

func (e *Engine) LiquidateBatch(cmd *event.LiquidateBatch) (*state.LiquidationResult, error) {
	return processAs[*state.LiquidationResult](e, cmd)
}

func (e *Engine) LiquidatePositions(cmd *event.LiquidatePositions) (*state.LiquidationResult, error) {
	return processAs[*state.LiquidationResult](e, cmd)
}

func (e *Engine) RedeemCollateral(cmd *event.RedeemCollateral) (*state.RedemptionResult, error) {
	return processAs[*state.RedemptionResult](e, cmd)
}

func (e *Engine) ProvideToStabilityPool(cmd *event.ProvideToStabilityPool) (*StabilityResult, error) {
	return processAs[*StabilityResult](e, cmd)
}

func (e *Engine) WithdrawFromStabilityPool(cmd *event.WithdrawFromStabilityPool) (*StabilityResult, error) {
	return processAs[*StabilityResult](e, cmd)
}

func (e *Engine) WithdrawGainToPosition(cmd *event.WithdrawGainToPosition) (*state.AdjustResult, error) {
	return processAs[*state.AdjustResult](e, cmd)
}

func (e *Engine) UpdateSystemParams(cmd *event.UpdateSystemParams) (*state.SystemParams, error) {
	return processAs[*state.SystemParams](e, cmd)
}
