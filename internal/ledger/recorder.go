package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Recorder posts journal entries for the command being processed. Entries
// are applied to the tracker as they are posted, so pool balances read later
// in the same command already reflect them; the entries are also collected
// into one batch per command for persistence and projection.
type Recorder struct {
	tracker *BalanceTracker
	batch   *Batch
}

func NewRecorder(tracker *BalanceTracker) *Recorder {
	return &Recorder{tracker: tracker}
}

func (r *Recorder) Tracker() *BalanceTracker {
	return r.tracker
}

// Begin opens the batch for a command. Entries posted before Begin land in
// an anonymous batch.
func (r *Recorder) Begin(eventRef string, sequence, timestamp int64) {
	r.batch = &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 8),
	}
}

// Post moves amount from credit to debit. Zero amounts are skipped.
func (r *Recorder) Post(debit, credit AccountKey, amount *uint256.Int, jt JournalType) {
	if amount == nil || amount.IsZero() {
		return
	}
	if debit.AssetID != credit.AssetID {
		panic(fmt.Sprintf("FATAL: journal mixes assets: %s / %s", debit.AccountPath(), credit.AccountPath()))
	}
	if r.batch == nil {
		r.Begin("", 0, 0)
	}

	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       r.batch.BatchID,
		EventRef:      r.batch.EventRef,
		Sequence:      r.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Timestamp:     r.batch.Timestamp,
	}

	r.tracker.ApplyJournal(j)
	r.batch.Journals = append(r.batch.Journals, j)
}

// Commit closes the current batch and returns it.
func (r *Recorder) Commit() *Batch {
	b := r.batch
	r.batch = nil
	if b == nil {
		b = &Batch{BatchID: uuid.New()}
	}
	return b
}
