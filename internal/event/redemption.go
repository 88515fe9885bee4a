package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RedeemCollateral swaps Amount of stablecoin for collateral at face value.
type RedeemCollateral struct {
	Meta
	Redeemer      common.Address `json:"redeemer" validate:"required"`
	Amount        *uint256.Int   `json:"amount" validate:"required,amount"`
	FirstHint     common.Address `json:"first_hint"`
	UpperHint     common.Address `json:"upper_hint"`
	LowerHint     common.Address `json:"lower_hint"`
	MaxIterations int            `json:"max_iterations" validate:"gte=0"`
	MaxFee        *uint256.Int   `json:"max_fee" validate:"required,amount"`
}

func (r *RedeemCollateral) EventType() EventType {
	return EventTypeRedeemCollateral
}
