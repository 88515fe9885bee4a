package state

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// BaseRate is the fee-driving rate shared by borrowing and redemption.
// It decays per elapsed minute towards zero and is only written by
// fee-charging operations; nothing decays it in the background.
type BaseRate struct {
	system        *SystemState
	rate          *uint256.Int
	lastFeeOpTime int64
}

func NewBaseRate(system *SystemState) *BaseRate {
	return &BaseRate{system: system, rate: new(uint256.Int)}
}

func (b *BaseRate) Rate() *uint256.Int {
	return b.rate.Clone()
}

func (b *BaseRate) LastFeeOperationTime() int64 {
	return b.lastFeeOpTime
}

// MinutesPassed is the number of whole minutes since the last fee
// operation. Clock skew backwards counts as zero.
func (b *BaseRate) MinutesPassed(now int64) uint64 {
	if now <= b.lastFeeOpTime {
		return 0
	}
	return uint64((now - b.lastFeeOpTime) / fpmath.SecondsPerMinute)
}

// Decayed returns the rate as of now without writing it.
func (b *BaseRate) Decayed(now int64) *uint256.Int {
	if b.rate.IsZero() {
		return new(uint256.Int)
	}
	factor := fpmath.DecPow(b.system.MinuteDecayFactor(), b.MinutesPassed(now))
	return fpmath.MulDiv(b.rate, factor, fpmath.DecimalPrecision)
}

// BorrowingRate is the decayed rate clamped to [floor, max borrowing fee].
func (b *BaseRate) BorrowingRate(now int64) *uint256.Int {
	rate := fpmath.Max(b.Decayed(now), b.system.BorrowingFeeFloor())
	return fpmath.Min(rate, b.system.MaxBorrowingFee())
}

func (b *BaseRate) BorrowingFee(amount *uint256.Int, now int64) *uint256.Int {
	return fpmath.MulDiv(b.BorrowingRate(now), amount, fpmath.DecimalPrecision)
}

// redemptionRate is max(floor, rate) capped at 100%. The rate passed in is
// the one already bumped by the redemption being priced.
func (b *BaseRate) redemptionRate(rate *uint256.Int) *uint256.Int {
	r := fpmath.Max(rate, b.system.RedemptionFeeFloor())
	return fpmath.Min(r, fpmath.DecimalPrecision)
}

// RedemptionRate prices a redemption made now with no bump.
func (b *BaseRate) RedemptionRate(now int64) *uint256.Int {
	return b.redemptionRate(b.Decayed(now))
}

// BumpedForRedemption computes the rate a redemption drawing collDrawn
// would set: decayed + collDrawn*price/totalDebt/BETA, capped at 100%.
func (b *BaseRate) BumpedForRedemption(collDrawn, price, totalDebt *uint256.Int, now int64) *uint256.Int {
	redeemedFraction := fpmath.MulDiv(collDrawn, price, totalDebt)
	inc := fpmath.Div(redeemedFraction, uint256.NewInt(b.system.Beta()))
	next := fpmath.Add(b.Decayed(now), inc)
	return fpmath.Min(next, fpmath.DecimalPrecision)
}

// DecayFromBorrowing writes the decayed rate back. The timestamp only
// advances once a full minute has passed, so frequent borrowers cannot
// hold the rate still.
func (b *BaseRate) DecayFromBorrowing(now int64) {
	b.rate = b.Decayed(now)
	if b.rate.Gt(fpmath.DecimalPrecision) {
		panic("FATAL: decayed base rate above 100%")
	}
	b.updateLastFeeOpTime(now)
}

// setFromRedemption installs a rate computed by BumpedForRedemption.
func (b *BaseRate) setFromRedemption(rate *uint256.Int, now int64) {
	if rate.IsZero() {
		panic("FATAL: redemption left base rate at zero")
	}
	b.rate = rate.Clone()
	b.updateLastFeeOpTime(now)
}

func (b *BaseRate) updateLastFeeOpTime(now int64) {
	if now-b.lastFeeOpTime >= fpmath.SecondsPerMinute {
		b.lastFeeOpTime = now
	}
}

// Restore installs persisted state.
func (b *BaseRate) Restore(rate *uint256.Int, lastFeeOpTime int64) {
	b.rate = fpmath.OrZero(rate).Clone()
	b.lastFeeOpTime = lastFeeOpTime
}

// checkFeeAccepted fails when fee is a larger share of amount than the
// caller agreed to pay.
func checkFeeAccepted(fee, amount, maxFee *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	pct := fpmath.MulDiv(fee, fpmath.DecimalPrecision, amount)
	if pct.Gt(maxFee) {
		return fmt.Errorf("%w: fee rate %s above max %s", ErrFeeExceeded, fpmath.FormatDec(pct), fpmath.FormatDec(maxFee))
	}
	return nil
}
