package core

import (
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/state"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceEntry is one double-entry account in a snapshot.
type BalanceEntry struct {
	Scope   ledger.AccountScope   `json:"scope"`
	Entity  common.Address        `json:"entity"`
	SubType ledger.AccountSubType `json:"sub_type"`
	Asset   ledger.AssetID        `json:"asset"`
	Balance *big.Int              `json:"balance"`
}

func (b BalanceEntry) key() ledger.AccountKey {
	return ledger.AccountKey{Scope: b.Scope, EntityID: b.Entity, SubType: b.SubType, AssetID: b.Asset}
}

// SnapshotState is the complete engine state at a sequence. Encoding it
// twice yields identical bytes.
type SnapshotState struct {
	Sequence   int64              `json:"sequence"` // last applied sequence
	StateHash  common.Hash        `json:"state_hash"`
	Balances   []BalanceEntry     `json:"balances"`
	Ledger     *state.LedgerState `json:"ledger"`
	FeeStable  *uint256.Int       `json:"fee_stable"` // cumulative fees received
	FeeColl    *uint256.Int       `json:"fee_coll"`
	RequestIDs []string           `json:"request_ids"`
}

// CreateSnapshotState captures the current state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := e.tracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, bal := range balances {
		if bal.Sign() == 0 {
			continue
		}
		entries = append(entries, BalanceEntry{
			Scope:   key.Scope,
			Entity:  key.EntityID,
			SubType: key.SubType,
			Asset:   key.AssetID,
			Balance: bal,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key().AccountPath() < entries[j].key().AccountPath()
	})

	feeStable, feeColl := e.fees.Totals()
	return &SnapshotState{
		Sequence:   e.sequence - 1,
		StateHash:  common.Hash(e.chain.Head()),
		Balances:   entries,
		Ledger:     e.positions.Export(),
		FeeStable:  feeStable,
		FeeColl:    feeColl,
		RequestIDs: e.dedup.Keys(),
	}
}

// RestoreFromSnapshot loads a snapshot into a fresh engine. The restored
// state must pass the full invariant check.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sequence != 1 {
		return ErrEngineNotFresh
	}
	if snap.Ledger == nil {
		return fmt.Errorf("restore: snapshot at %d has no ledger state", snap.Sequence)
	}

	for _, b := range snap.Balances {
		if b.Balance == nil {
			return fmt.Errorf("restore: nil balance for %s", b.key().AccountPath())
		}
		e.tracker.SetBalance(b.key(), b.Balance)
	}
	if err := e.positions.Restore(snap.Ledger); err != nil {
		return err
	}
	e.fees.Restore(snap.FeeStable, snap.FeeColl)
	if err := e.checkAllInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotInvariants, err)
	}

	e.chain.Reset(snap.StateHash)
	e.sequence = snap.Sequence + 1
	e.dedup.Warm(snap.RequestIDs)
	return nil
}

// WarmLRU loads recent request ids into the dedup cache, oldest first.
func (e *Engine) WarmLRU(requestIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dedup.Warm(requestIDs)
}
