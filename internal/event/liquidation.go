package event

import "github.com/ethereum/go-ethereum/common"

// Liquidate liquidates a single position.
type Liquidate struct {
	Meta
	Owner      common.Address `json:"owner" validate:"required"`
	Liquidator common.Address `json:"liquidator" validate:"required"`
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

// LiquidateBatch liquidates the listed positions that qualify and skips the
// rest.
type LiquidateBatch struct {
	Meta
	Owners     []common.Address `json:"owners" validate:"required,min=1"`
	Liquidator common.Address   `json:"liquidator" validate:"required"`
}

func (l *LiquidateBatch) EventType() EventType {
	return EventTypeLiquidateBatch
}

// LiquidatePositions walks up to Count positions from the lowest ICR.
type LiquidatePositions struct {
	Meta
	Count      int            `json:"count" validate:"gt=0"`
	Liquidator common.Address `json:"liquidator" validate:"required"`
}

func (l *LiquidatePositions) EventType() EventType {
	return EventTypeLiquidatePositions
}
