package projection

import (
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"context"
	"fmt"
)

// LiquidationRow is one liquidated position in projections.liquidation_history.
// Amounts are decimal strings of 18-decimal fixed-point values.
type LiquidationRow struct {
	Sequence          int64
	Owner             string
	Mode              string
	ICR               string
	EntireDebt        string
	EntireColl        string
	DebtOffset        string
	CollToSP          string
	DebtRedistributed string
	CollRedistributed string
	CollSurplus       string
	GasCompensation   string
	CollGasComp       string
	Timestamp         int64
}

func NewLiquidationRow(sequence, timestamp int64, rec state.LiquidationRecord) LiquidationRow {
	v := rec.Values
	return LiquidationRow{
		Sequence:          sequence,
		Owner:             rec.Owner.Hex(),
		Mode:              rec.Mode.String(),
		ICR:               fpmath.OrZero(rec.ICR).Dec(),
		EntireDebt:        fpmath.OrZero(v.EntireDebt).Dec(),
		EntireColl:        fpmath.OrZero(v.EntireColl).Dec(),
		DebtOffset:        fpmath.OrZero(v.DebtToOffset).Dec(),
		CollToSP:          fpmath.OrZero(v.CollToSendToSP).Dec(),
		DebtRedistributed: fpmath.OrZero(v.DebtToRedistribute).Dec(),
		CollRedistributed: fpmath.OrZero(v.CollToRedistribute).Dec(),
		CollSurplus:       fpmath.OrZero(v.CollSurplus).Dec(),
		GasCompensation:   fpmath.OrZero(v.GasCompensation).Dec(),
		CollGasComp:       fpmath.OrZero(v.CollGasCompensation).Dec(),
		Timestamp:         timestamp,
	}
}

// insertLiquidations appends history rows. A replayed output hits the
// (sequence, owner) key and is skipped.
func insertLiquidations(ctx context.Context, tx execer, rows []LiquidationRow) error {
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history (
				sequence, owner, mode, icr, entire_debt, entire_coll,
				debt_offset, coll_to_sp, debt_redistributed, coll_redistributed,
				coll_surplus, gas_compensation, coll_gas_comp, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (sequence, owner) DO NOTHING
		`, r.Sequence, r.Owner, r.Mode, r.ICR, r.EntireDebt, r.EntireColl,
			r.DebtOffset, r.CollToSP, r.DebtRedistributed, r.CollRedistributed,
			r.CollSurplus, r.GasCompensation, r.CollGasComp, r.Timestamp,
		); err != nil {
			return fmt.Errorf("insert liquidation %s@%d: %w", r.Owner, r.Sequence, err)
		}
	}
	return nil
}
