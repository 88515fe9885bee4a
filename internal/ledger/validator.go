package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies every entry of a batch is a well-formed transfer
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	assets := make([]AssetID, 0, len(totals))
	for assetID := range totals {
		assets = append(assets, assetID)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	for _, assetID := range assets {
		if totals[assetID].Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, totals[assetID].String())
		}
	}

	return nil
}

// ValidateHoldingsNonNegative verifies that only external boundary accounts
// carry negative balances.
func (v *InvariantValidator) ValidateHoldingsNonNegative() error {
	for key := range v.tracker.balances {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}
