package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type ProvideToStabilityPool struct {
	Meta
	Depositor common.Address `json:"depositor" validate:"required"`
	Amount    *uint256.Int   `json:"amount" validate:"required,amount"`
}

func (p *ProvideToStabilityPool) EventType() EventType {
	return EventTypeProvideToStabilityPool
}

// WithdrawFromStabilityPool withdraws up to Amount of the compounded deposit
// and pays out the collateral gain. A zero Amount only claims the gain.
type WithdrawFromStabilityPool struct {
	Meta
	Depositor common.Address `json:"depositor" validate:"required"`
	Amount    *uint256.Int   `json:"amount" validate:"required,amount"`
}

func (w *WithdrawFromStabilityPool) EventType() EventType {
	return EventTypeWithdrawFromStabilityPool
}

// WithdrawGainToPosition moves the depositor's collateral gain into their
// own position.
type WithdrawGainToPosition struct {
	Meta
	Depositor common.Address `json:"depositor" validate:"required"`
	UpperHint common.Address `json:"upper_hint"`
	LowerHint common.Address `json:"lower_hint"`
}

func (w *WithdrawGainToPosition) EventType() EventType {
	return EventTypeWithdrawGainToPosition
}
