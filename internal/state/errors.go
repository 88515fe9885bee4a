package state

import "errors"

// Precondition violations
var (
	ErrPositionNotActive        = errors.New("position does not exist or is closed")
	ErrPositionActive           = errors.New("position is already active")
	ErrZeroCollateral           = errors.New("collateral amount must be greater than zero")
	ErrZeroAmount               = errors.New("amount must be greater than zero")
	ErrAmountTooLarge           = errors.New("amount exceeds the supported maximum")
	ErrZeroDebtChange           = errors.New("debt increase requires a non-zero debt change")
	ErrZeroAdjustment           = errors.New("there must be either a collateral change or a debt change")
	ErrBothCollAddAndWithdraw   = errors.New("cannot withdraw and add collateral in one call")
	ErrInvalidMaxFee            = errors.New("max fee percentage must be between the fee floor and 100%")
	ErrMaxFeeAbove100           = errors.New("max fee percentage must be less than or equal to 100%")
	ErrFeeExceeded              = errors.New("fee exceeded provided maximum")
	ErrNetDebtBelowMin          = errors.New("net debt must be at least the minimum net debt")
	ErrRepayExceedsDebt         = errors.New("amount repaid must not be larger than the position's debt")
	ErrWithdrawExceedsColl      = errors.New("collateral withdrawal exceeds the position's collateral")
	ErrInsufficientStable       = errors.New("stablecoin balance does not cover the amount")
	ErrNoDeposit                = errors.New("depositor has no stability deposit")
	ErrNoCollateralGain         = errors.New("depositor has no collateral gain")
	ErrUnderCollateralizedExist = errors.New("cannot withdraw while there are positions with ICR < MCR")
	ErrNothingToLiquidate       = errors.New("nothing to liquidate")
	ErrNothingToRedeem          = errors.New("unable to redeem any amount")
	ErrRedemptionFeeEatsAll     = errors.New("fee would eat up all returned collateral")
	ErrInvalidParams            = errors.New("invalid system parameters")
)

// Invariant violations
var (
	ErrICRBelowMCR              = errors.New("operation would leave position ICR below MCR")
	ErrICRBelowCCR              = errors.New("operation must leave position ICR >= CCR in recovery mode")
	ErrTCRBelowCCR              = errors.New("operation would leave TCR below CCR")
	ErrTCRBelowMCR              = errors.New("cannot redeem when TCR < MCR")
	ErrICRDecreased             = errors.New("cannot decrease position ICR in recovery mode")
	ErrCollWithdrawalInRecovery = errors.New("collateral withdrawal not permitted in recovery mode")
	ErrCloseInRecovery          = errors.New("operation not permitted during recovery mode")
)

// System guards
var (
	ErrOnlyOnePosition = errors.New("only one position in the system")
	ErrReservedAddress = errors.New("owner address is zero or reserved for a system pool")
)
