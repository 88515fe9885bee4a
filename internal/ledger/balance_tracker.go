package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances. Balances are signed:
// external boundary accounts go negative as value enters the system.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) slot(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amount := j.Amount.ToBig()
	debit := bt.slot(j.DebitAccount)
	debit.Add(debit, amount)
	credit := bt.slot(j.CreditAccount)
	credit.Sub(credit, amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the signed balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Holding returns the balance of a non-external account as an unsigned value.
// A negative holding means a pool or wallet was overdrawn, which no
// validated command can produce.
func (bt *BalanceTracker) Holding(key AccountKey) *uint256.Int {
	b := bt.GetBalance(key)
	if b.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: account %s is overdrawn: %s", key.AccountPath(), b.String()))
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		panic(fmt.Sprintf("FATAL: account %s exceeds 256 bits", key.AccountPath()))
	}
	return v
}

// GetWalletBalance returns what the ledger has paid out to, or holds for, owner
func (bt *BalanceTracker) GetWalletBalance(owner common.Address, assetID AssetID) *uint256.Int {
	return bt.Holding(HolderKey(owner, assetID))
}

// SetBalance overwrites a balance. Only used when restoring from a snapshot.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.AssetID]
		if !ok {
			t = new(big.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance.String())
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
