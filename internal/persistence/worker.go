package persistence

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends to it with a blocking send, so a slow database stalls
// the engine instead of losing commands.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// onFlush, when set, is called with the last sequence of every
	// committed batch.
	onFlush func(lastSequence int64)
}

type WorkerOption func(*PersistenceWorker)

func WithFlushHook(fn func(lastSequence int64)) WorkerOption {
	return func(pw *PersistenceWorker) { pw.onFlush = fn }
}

func WithLogger(logger zerolog.Logger) WorkerOption {
	return func(pw *PersistenceWorker) { pw.logger = logger }
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	opts ...WorkerOption,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	pw := &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(pw)
	}
	return pw
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. It returns when ctx is cancelled or the input
// channel is closed, after flushing what it holds.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*4)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(eventBatch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, eventBatch, journalBatch); err != nil {
			pw.logger.Error().Err(err).Int("events", len(eventBatch)).Msg("batch flush failed")
		}
		eventBatch = eventBatch[:0]
		journalBatch = journalBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}

			eventBatch = append(eventBatch, NewEventRow(output.Envelope))
			journalBatch = append(journalBatch, NewJournalRows(output)...)

			if len(eventBatch) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. A cancelled worker makes one last attempt so the
// batch is not lost on shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), events, journals)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.recordError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.recordError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	last := events[len(events)-1].Sequence
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}
	if pw.onFlush != nil {
		pw.onFlush(last)
	}
	return nil
}

func (pw *PersistenceWorker) recordError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
