package core

import (
	"TroveLedger/internal/pool"
	"TroveLedger/internal/state"
	"errors"
)

var (
	ErrDuplicateRequest   = errors.New("request already processed")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrDedupUnavailable   = errors.New("idempotency store unavailable")
	ErrReplayDivergence   = errors.New("replay produced a different state hash")
	ErrReplayOutOfOrder   = errors.New("replay sequence does not follow the engine")
	ErrEngineNotFresh     = errors.New("snapshot can only be restored into a fresh engine")
	ErrSnapshotInvariants = errors.New("restored snapshot violates ledger invariants")
)

// ErrorClass groups engine errors for status mapping and metrics.
type ErrorClass uint8

const (
	ClassInternal ErrorClass = iota
	ClassInvalidArgument
	ClassNotFound
	ClassPrecondition
	ClassInvariant
	ClassGuard
	ClassDuplicate
	ClassUnavailable
	ClassResourceExhausted
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInvalidArgument:
		return "invalid_argument"
	case ClassNotFound:
		return "not_found"
	case ClassPrecondition:
		return "precondition"
	case ClassInvariant:
		return "invariant"
	case ClassGuard:
		return "guard"
	case ClassDuplicate:
		return "duplicate"
	case ClassUnavailable:
		return "unavailable"
	case ClassResourceExhausted:
		return "resource_exhausted"
	default:
		return "internal"
	}
}

var errorClasses = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassDuplicate, []error{ErrDuplicateRequest}},
	{ClassUnavailable, []error{ErrPriceUnavailable, ErrDedupUnavailable}},
	{ClassInvalidArgument, []error{
		ErrInvalidCommand,
		state.ErrZeroCollateral,
		state.ErrZeroAmount,
		state.ErrAmountTooLarge,
		state.ErrZeroDebtChange,
		state.ErrZeroAdjustment,
		state.ErrBothCollAddAndWithdraw,
		state.ErrInvalidMaxFee,
		state.ErrMaxFeeAbove100,
		state.ErrInvalidParams,
		state.ErrReservedAddress,
	}},
	{ClassNotFound, []error{
		state.ErrPositionNotActive,
		state.ErrNoDeposit,
		pool.ErrNoCollateralToClaim,
	}},
	{ClassPrecondition, []error{
		state.ErrPositionActive,
		state.ErrFeeExceeded,
		state.ErrNetDebtBelowMin,
		state.ErrRepayExceedsDebt,
		state.ErrWithdrawExceedsColl,
		state.ErrInsufficientStable,
		state.ErrNoCollateralGain,
		state.ErrUnderCollateralizedExist,
		state.ErrNothingToLiquidate,
		state.ErrNothingToRedeem,
		state.ErrRedemptionFeeEatsAll,
	}},
	{ClassInvariant, []error{
		state.ErrICRBelowMCR,
		state.ErrICRBelowCCR,
		state.ErrTCRBelowCCR,
		state.ErrTCRBelowMCR,
		state.ErrICRDecreased,
		state.ErrCollWithdrawalInRecovery,
		state.ErrCloseInRecovery,
	}},
	{ClassGuard, []error{state.ErrOnlyOnePosition}},
	{ClassResourceExhausted, []error{state.ErrListFull}},
}

// Classify maps an error returned by the engine to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassInternal
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassInternal
}
