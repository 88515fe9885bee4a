package persistence

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals with multi-row INSERTs. Writes
// are idempotent on the primary keys so a retried batch is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence  int64
	RequestID string
	EventType string
	Timestamp int64
	Price     sql.NullString // NUMERIC(78,0), null for commands that read no price
	Payload   []byte // JSON; sent as text so Postgres accepts it as JSONB
	Result    []byte
	StateHash []byte
	PrevHash  []byte
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string // NUMERIC(78,0)
	JournalType   int32
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewEventRow flattens an envelope for storage.
func NewEventRow(env *event.EventEnvelope) EventRow {
	row := EventRow{
		Sequence:  env.Sequence,
		RequestID: env.IdempotencyKey,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
		Result:    env.Result,
		StateHash: append([]byte(nil), env.StateHash[:]...),
		PrevHash:  append([]byte(nil), env.PrevHash[:]...),
	}
	if env.Price != nil {
		row.Price = sql.NullString{String: env.Price.Dec(), Valid: true}
	}
	if len(row.Result) == 0 {
		row.Result = []byte("null")
	}
	return row
}

// Envelope rebuilds the envelope the row was written from, for replay.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	eventType, err := event.ParseEventType(r.EventType)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", r.Sequence, err)
	}
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.RequestID,
		EventType:      eventType,
		Timestamp:      r.Timestamp,
		Payload:        r.Payload,
		Result:         r.Result,
	}
	if r.Price.Valid {
		price, err := fpmath.Parse(r.Price.String)
		if err != nil {
			return nil, fmt.Errorf("event %d: price %q: %w", r.Sequence, r.Price.String, err)
		}
		env.Price = price
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: hashes must be 32 bytes", r.Sequence)
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// NewJournalRows flattens the journals of one applied command.
func NewJournalRows(out core.CoreOutput) []JournalRow {
	if out.Batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount.Dec(),
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// WriteEventBatch writes a batch of events to event_log.events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO event_log.events
		(sequence, request_id, event_type, timestamp, price, payload, result, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.RequestID, e.EventType, e.Timestamp, e.Price,
			string(e.Payload), string(e.Result), e.StateHash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)"
func placeholders(base, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", base+k)
	}
	sb.WriteByte(')')
	return sb.String()
}
