package persistence

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotSource is the engine as seen by the snapshotter
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
	Sequence() int64
}

// SnapshotSink stores snapshots
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// Snapshotter takes a snapshot every Interval commands. A snapshot is only
// marked verified once the persistence worker has committed its sequence,
// so recovery never starts from a state the log cannot continue.
type Snapshotter struct {
	source     SnapshotSource
	sink       SnapshotSink
	interval   int64
	checkEvery time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger

	persisted atomic.Int64

	mu        sync.Mutex // guards lastTaken and pending
	lastTaken int64
	pending   []int64 // saved, not yet verified
}

func NewSnapshotter(source SnapshotSource, sink SnapshotSink, interval int64, checkEvery time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 100_000
	}
	if checkEvery <= 0 {
		checkEvery = 10 * time.Second
	}
	return &Snapshotter{
		source:     source,
		sink:       sink,
		interval:   interval,
		checkEvery: checkEvery,
		metrics:    metrics,
		logger:     logger,
		lastTaken:  source.Sequence(),
	}
}

// MarkPersisted records the persistence watermark. Wire it to the
// persistence worker's flush hook.
func (s *Snapshotter) MarkPersisted(sequence int64) {
	for {
		cur := s.persisted.Load()
		if sequence <= cur || s.persisted.CompareAndSwap(cur, sequence) {
			return
		}
	}
}

func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick verifies caught-up snapshots and takes a new one when due.
func (s *Snapshotter) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifyPending(ctx)
	if s.source.Sequence()-s.lastTaken < s.interval {
		return
	}
	if _, err := s.take(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("periodic snapshot failed")
	}
}

// Take snapshots the engine now. The snapshot is verified immediately when
// persistence has already caught up.
func (s *Snapshotter) Take(ctx context.Context) (*core.SnapshotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take(ctx)
}

func (s *Snapshotter) take(ctx context.Context) (*core.SnapshotState, error) {
	start := time.Now()
	snap := s.source.CreateSnapshotState()

	size, err := s.sink.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	s.lastTaken = snap.Sequence
	s.pending = append(s.pending, snap.Sequence)
	s.verifyPending(ctx)

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("size_bytes", size).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return snap, nil
}

func (s *Snapshotter) verifyPending(ctx context.Context) {
	persisted := s.persisted.Load()
	kept := s.pending[:0]
	for _, seq := range s.pending {
		if seq > persisted {
			kept = append(kept, seq)
			continue
		}
		if err := s.sink.MarkVerified(ctx, seq); err != nil {
			s.logger.Warn().Err(err).Int64("sequence", seq).Msg("mark snapshot verified failed")
			kept = append(kept, seq)
		}
	}
	s.pending = kept
}

// Pending returns the saved snapshots still waiting for persistence.
func (s *Snapshotter) Pending() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.pending...)
}
