package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollateralDeposit JournalType = iota
	JournalTypeCollateralWithdrawal
	JournalTypeCollateralTransfer
	JournalTypeDebtIncrease
	JournalTypeDebtDecrease
	JournalTypeDebtTransfer
	JournalTypeStableMint
	JournalTypeStableBurn
	JournalTypeStableTransfer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralDeposit:
		return "collateral_deposit"
	case JournalTypeCollateralWithdrawal:
		return "collateral_withdrawal"
	case JournalTypeCollateralTransfer:
		return "collateral_transfer"
	case JournalTypeDebtIncrease:
		return "debt_increase"
	case JournalTypeDebtDecrease:
		return "debt_decrease"
	case JournalTypeDebtTransfer:
		return "debt_transfer"
	case JournalTypeStableMint:
		return "stable_mint"
	case JournalTypeStableBurn:
		return "stable_burn"
	case JournalTypeStableTransfer:
		return "stable_transfer"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Unique identifier
	BatchID       uuid.UUID    // Groups the entries of one command
	EventRef      string       // Request ID of the source command
	Sequence      int64        // Global command sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	AssetID       AssetID      // Asset being transferred
	Amount        *uint256.Int // 18-decimal amount, always positive
	JournalType   JournalType  // Entry type
	Timestamp     int64        // Command timestamp (unix seconds)
}

// Batch represents the balanced set of journal entries produced by one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Every entry moves a single
// positive amount between two accounts of the same asset, so each entry is
// balanced by construction.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
