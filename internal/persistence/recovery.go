package persistence

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotLoader returns the newest verified snapshot, or nil.
type SnapshotLoader interface {
	LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error)
}

// EventLoader pages through the event log in sequence order.
type EventLoader interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
}

// RecoveryResult describes how the engine was brought up to date.
type RecoveryResult struct {
	SnapshotSequence int64 // zero on a cold start
	Replayed         int64
	Sequence         int64
}

type RecoveryOptions struct {
	BatchSize int
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// Recover restores the newest snapshot into a fresh engine, then replays
// every later command from the log. Replay re-verifies each recorded state
// hash, so a log that does not reproduce is an error, never skipped.
func Recover(ctx context.Context, engine *core.Engine, snaps SnapshotLoader, events EventLoader, opts RecoveryOptions) (*RecoveryResult, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	res := &RecoveryResult{}

	snap, err := snaps.LoadLatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			return nil, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		res.SnapshotSequence = snap.Sequence
		opts.Logger.Info().
			Int64("sequence", snap.Sequence).
			Int("request_ids", len(snap.RequestIDs)).
			Msg("snapshot restored")
	} else {
		opts.Logger.Info().Msg("no snapshot found, replaying from genesis")
	}

	from := res.SnapshotSequence + 1
	for {
		rows, err := events.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return nil, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return nil, err
			}
			if err := engine.Replay(env); err != nil {
				return nil, err
			}
			res.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	res.Sequence = engine.Sequence()
	if opts.Metrics != nil {
		opts.Metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	opts.Logger.Info().
		Int64("replayed", res.Replayed).
		Int64("sequence", res.Sequence).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return res, nil
}
