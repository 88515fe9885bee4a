package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OpenPosition locks Coll and mints DebtRequest to Owner.
type OpenPosition struct {
	Meta
	Owner       common.Address `json:"owner" validate:"required"`
	Coll        *uint256.Int   `json:"coll" validate:"required,amount"`
	DebtRequest *uint256.Int   `json:"debt_request" validate:"required,amount"`
	MaxFee      *uint256.Int   `json:"max_fee" validate:"required,amount"`
	UpperHint   common.Address `json:"upper_hint"`
	LowerHint   common.Address `json:"lower_hint"`
}

func (o *OpenPosition) EventType() EventType {
	return EventTypeOpenPosition
}

// AdjustPosition changes collateral and debt in one step. Nil amounts are
// treated as zero.
type AdjustPosition struct {
	Meta
	Owner          common.Address `json:"owner" validate:"required"`
	CollDeposit    *uint256.Int   `json:"coll_deposit,omitempty" validate:"omitempty,amount"`
	CollWithdrawal *uint256.Int   `json:"coll_withdrawal,omitempty" validate:"omitempty,amount"`
	DebtChange     *uint256.Int   `json:"debt_change,omitempty" validate:"omitempty,amount"`
	IsDebtIncrease bool           `json:"is_debt_increase"`
	MaxFee         *uint256.Int   `json:"max_fee,omitempty" validate:"omitempty,amount"`
	UpperHint      common.Address `json:"upper_hint"`
	LowerHint      common.Address `json:"lower_hint"`
}

func (a *AdjustPosition) EventType() EventType {
	return EventTypeAdjustPosition
}

type ClosePosition struct {
	Meta
	Owner common.Address `json:"owner" validate:"required"`
}

func (c *ClosePosition) EventType() EventType {
	return EventTypeClosePosition
}

// ClaimCollateral pays out what a liquidation or redemption left over for
// Owner.
type ClaimCollateral struct {
	Meta
	Owner common.Address `json:"owner" validate:"required"`
}

func (c *ClaimCollateral) EventType() EventType {
	return EventTypeClaimCollateral
}
