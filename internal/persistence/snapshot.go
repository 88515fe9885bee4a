package persistence

import (
	"TroveLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotFormatVersion tags the JSON layout of core.SnapshotState
const SnapshotFormatVersion = 1

// SnapshotStore keeps engine snapshots and reads the event log back for
// recovery.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size. A snapshot
// for an existing sequence replaces it.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash.Bytes(), SnapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var (
		data    []byte
		version int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != SnapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot usable for recovery. Snapshots are written
// unverified and marked once the event log has caught up to them.
func (s *SnapshotStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (s *SnapshotStore) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, request_id, event_type, timestamp, price,
		       payload, result, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.RequestID, &e.EventType, &e.Timestamp, &e.Price,
			&e.Payload, &e.Result, &e.StateHash, &e.PrevHash,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastPricedEvent returns the newest logged command that was evaluated at
// a price, or nil when there is none.
func (s *SnapshotStore) LastPricedEvent(ctx context.Context) (*EventRow, error) {
	var e EventRow
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, request_id, event_type, timestamp, price,
		       payload, result, state_hash, prev_hash
		FROM event_log.events
		WHERE price IS NOT NULL
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(
		&e.Sequence, &e.RequestID, &e.EventType, &e.Timestamp, &e.Price,
		&e.Payload, &e.Result, &e.StateHash, &e.PrevHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetLatestSequence returns the highest sequence in the event log.
func (s *SnapshotStore) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
