package state

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// SystemParams holds the protocol constants. All ratios and rates are
// 18-decimal fractions (1e18 = 100%).
type SystemParams struct {
	MCR                *uint256.Int `json:"mcr"`
	CCR                *uint256.Int `json:"ccr"`
	GasCompensation    *uint256.Int `json:"gas_compensation"`
	MinNetDebt         *uint256.Int `json:"min_net_debt"`
	PercentDivisor     uint64       `json:"percent_divisor"`
	BorrowingFeeFloor  *uint256.Int `json:"borrowing_fee_floor"`
	MaxBorrowingFee    *uint256.Int `json:"max_borrowing_fee"`
	RedemptionFeeFloor *uint256.Int `json:"redemption_fee_floor"`
	MinuteDecayFactor  *uint256.Int `json:"minute_decay_factor"`
	Beta               uint64       `json:"beta"`
	Version            int64        `json:"version"`
}

// DefaultSystemParams returns the launch configuration.
func DefaultSystemParams() *SystemParams {
	return &SystemParams{
		MCR:                fpmath.DecFrac(110, 100),
		CCR:                fpmath.DecFrac(150, 100),
		GasCompensation:    fpmath.Dec(200),
		MinNetDebt:         fpmath.Dec(1800),
		PercentDivisor:     200,
		BorrowingFeeFloor:  fpmath.DecFrac(5, 1000),
		MaxBorrowingFee:    fpmath.DecFrac(5, 100),
		RedemptionFeeFloor: fpmath.DecFrac(5, 1000),
		MinuteDecayFactor:  fpmath.MustParse("999037758833783000"),
		Beta:               2,
	}
}

func (p *SystemParams) Clone() *SystemParams {
	c := *p
	c.MCR = p.MCR.Clone()
	c.CCR = p.CCR.Clone()
	c.GasCompensation = p.GasCompensation.Clone()
	c.MinNetDebt = p.MinNetDebt.Clone()
	c.BorrowingFeeFloor = p.BorrowingFeeFloor.Clone()
	c.MaxBorrowingFee = p.MaxBorrowingFee.Clone()
	c.RedemptionFeeFloor = p.RedemptionFeeFloor.Clone()
	c.MinuteDecayFactor = p.MinuteDecayFactor.Clone()
	return &c
}

// ValidateSystemParams checks that parameters are within valid ranges:
// 100% < MCR < CCR, fee floor <= fee ceiling <= 100%, decay factor < 1,
// divisor and beta > 0.
func ValidateSystemParams(p *SystemParams) error {
	one := fpmath.DecimalPrecision
	for name, v := range map[string]*uint256.Int{
		"mcr":                  p.MCR,
		"ccr":                  p.CCR,
		"gas_compensation":     p.GasCompensation,
		"min_net_debt":         p.MinNetDebt,
		"borrowing_fee_floor":  p.BorrowingFeeFloor,
		"max_borrowing_fee":    p.MaxBorrowingFee,
		"redemption_fee_floor": p.RedemptionFeeFloor,
		"minute_decay_factor":  p.MinuteDecayFactor,
	} {
		if v == nil {
			return fmt.Errorf("%s is required", name)
		}
	}
	if !p.MCR.Gt(one) {
		return fmt.Errorf("mcr must be > 100%%, got %s", fpmath.FormatDec(p.MCR))
	}
	if !p.CCR.Gt(p.MCR) {
		return fmt.Errorf("ccr (%s) must be > mcr (%s)", fpmath.FormatDec(p.CCR), fpmath.FormatDec(p.MCR))
	}
	if p.MinNetDebt.IsZero() {
		return fmt.Errorf("min_net_debt must be > 0")
	}
	if p.BorrowingFeeFloor.Gt(p.MaxBorrowingFee) {
		return fmt.Errorf("borrowing_fee_floor (%s) must be <= max_borrowing_fee (%s)",
			fpmath.FormatDec(p.BorrowingFeeFloor), fpmath.FormatDec(p.MaxBorrowingFee))
	}
	if p.MaxBorrowingFee.Gt(one) {
		return fmt.Errorf("max_borrowing_fee must be <= 100%%")
	}
	if p.RedemptionFeeFloor.Gt(one) {
		return fmt.Errorf("redemption_fee_floor must be <= 100%%")
	}
	if p.MinuteDecayFactor.IsZero() || !p.MinuteDecayFactor.Lt(one) {
		return fmt.Errorf("minute_decay_factor must be in (0, 1), got %s", fpmath.FormatDec(p.MinuteDecayFactor))
	}
	if p.PercentDivisor == 0 {
		return fmt.Errorf("percent_divisor must be > 0")
	}
	if p.Beta == 0 {
		return fmt.Errorf("beta must be > 0")
	}
	return nil
}

// SystemState is the read-only view of the current parameters handed to
// every component at construction.
type SystemState struct {
	params *SystemParams
}

func NewSystemState(params *SystemParams) (*SystemState, error) {
	if err := ValidateSystemParams(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return &SystemState{params: params.Clone()}, nil
}

func (s *SystemState) MCR() *uint256.Int                { return s.params.MCR.Clone() }
func (s *SystemState) CCR() *uint256.Int                { return s.params.CCR.Clone() }
func (s *SystemState) GasCompensation() *uint256.Int    { return s.params.GasCompensation.Clone() }
func (s *SystemState) MinNetDebt() *uint256.Int         { return s.params.MinNetDebt.Clone() }
func (s *SystemState) PercentDivisor() uint64           { return s.params.PercentDivisor }
func (s *SystemState) BorrowingFeeFloor() *uint256.Int  { return s.params.BorrowingFeeFloor.Clone() }
func (s *SystemState) MaxBorrowingFee() *uint256.Int    { return s.params.MaxBorrowingFee.Clone() }
func (s *SystemState) RedemptionFeeFloor() *uint256.Int { return s.params.RedemptionFeeFloor.Clone() }
func (s *SystemState) MinuteDecayFactor() *uint256.Int  { return s.params.MinuteDecayFactor.Clone() }
func (s *SystemState) Beta() uint64                     { return s.params.Beta }

// Params returns a copy of the full parameter set.
func (s *SystemState) Params() *SystemParams {
	return s.params.Clone()
}

// UpdateParams validates and installs a new parameter set, bumping the version.
func (s *SystemState) UpdateParams(params *SystemParams) error {
	if err := ValidateSystemParams(params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	next := params.Clone()
	next.Version = s.params.Version + 1
	s.params = next
	return nil
}

// Restore installs a parameter set from a snapshot, keeping its version.
func (s *SystemState) Restore(params *SystemParams) error {
	if err := ValidateSystemParams(params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	s.params = params.Clone()
	return nil
}

// GetCompositeDebt adds the gas-compensation reserve to a net debt.
func (s *SystemState) GetCompositeDebt(debt *uint256.Int) *uint256.Int {
	return fpmath.Add(debt, s.params.GasCompensation)
}

// GetNetDebt removes the gas-compensation reserve from a composite debt.
func (s *SystemState) GetNetDebt(debt *uint256.Int) *uint256.Int {
	return fpmath.Sub(debt, s.params.GasCompensation)
}

// CollGasCompensation is the slice of a liquidated position's collateral
// paid to the liquidator.
func (s *SystemState) CollGasCompensation(coll *uint256.Int) *uint256.Int {
	return fpmath.Div(coll, uint256.NewInt(s.params.PercentDivisor))
}
