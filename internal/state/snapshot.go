package state

import (
	fpmath "TroveLedger/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerState is everything the position ledger holds outside the
// double-entry balances. Slices are in a fixed order so two exports of the
// same state encode identically.
type LedgerState struct {
	Params        *SystemParams                   `json:"params"`
	Positions     []*Position                     `json:"positions"`
	Owners        []common.Address                `json:"owners"`
	Sorted        []common.Address                `json:"sorted"`
	Rewards       RewardState                     `json:"rewards"`
	BaseRate      *uint256.Int                    `json:"base_rate"`
	LastFeeOpTime int64                           `json:"last_fee_op_time"`
	Stability     StabilityState                  `json:"stability"`
	SurplusClaims map[common.Address]*uint256.Int `json:"surplus_claims"`
}

// Export copies the ledger state.
func (pl *PositionLedger) Export() *LedgerState {
	st := &LedgerState{
		Params:        pl.system.Params(),
		Owners:        pl.Owners(),
		Sorted:        pl.sorted.Owners(),
		Rewards:       pl.RewardState(),
		BaseRate:      pl.baseRate.Rate(),
		LastFeeOpTime: pl.baseRate.LastFeeOperationTime(),
		Stability:     pl.stability.exportState(),
		SurplusClaims: pl.surplus.Claims(),
	}
	for _, p := range pl.positions {
		st.Positions = append(st.Positions, p.Clone())
	}
	sort.Slice(st.Positions, func(i, j int) bool {
		return bytes.Compare(st.Positions[i].Owner.Bytes(), st.Positions[j].Owner.Bytes()) < 0
	})
	return st
}

// Restore replaces the ledger state. Pool balances live in the balance
// tracker and are restored there.
func (pl *PositionLedger) Restore(st *LedgerState) error {
	if err := pl.system.Restore(st.Params); err != nil {
		return err
	}

	positions := make(map[common.Address]*Position, len(st.Positions))
	for _, p := range st.Positions {
		positions[p.Owner] = p.Clone()
	}
	for i, owner := range st.Owners {
		p, ok := positions[owner]
		if !ok || p.Status != StatusActive {
			return fmt.Errorf("restore: owner %s is not an active position", owner.Hex())
		}
		if p.ArrayIndex != uint64(i) {
			return fmt.Errorf("restore: owner %s at index %d, recorded %d", owner.Hex(), i, p.ArrayIndex)
		}
	}
	if len(st.Sorted) != len(st.Owners) {
		return fmt.Errorf("restore: index holds %d owners, array %d", len(st.Sorted), len(st.Owners))
	}

	pl.positions = positions
	pl.owners = append([]common.Address(nil), st.Owners...)
	pl.sorted.Restore(st.Sorted)

	r := st.Rewards
	pl.totalStakes = fpmath.OrZero(r.TotalStakes).Clone()
	pl.totalStakesSnapshot = fpmath.OrZero(r.TotalStakesSnapshot).Clone()
	pl.totalCollSnapshot = fpmath.OrZero(r.TotalCollSnapshot).Clone()
	pl.lColl = fpmath.OrZero(r.LColl).Clone()
	pl.lDebt = fpmath.OrZero(r.LDebt).Clone()
	pl.lastCollError = fpmath.OrZero(r.LastCollError).Clone()
	pl.lastDebtError = fpmath.OrZero(r.LastDebtError).Clone()

	pl.baseRate.Restore(st.BaseRate, st.LastFeeOpTime)
	pl.stability.restoreState(st.Stability)
	pl.surplus.RestoreClaims(st.SurplusClaims)
	return nil
}
