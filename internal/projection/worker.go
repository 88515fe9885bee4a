package projection

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WatermarkName is the projections.watermark row this worker advances.
const WatermarkName = "main"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ProjectionWorker updates the read-side tables from engine outputs.
// The engine sends to it without blocking and drops when the channel is
// full, so a gap here is expected under load; the tables can be rebuilt
// from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastSequence returns the last sequence this worker applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			u := NewUpdate(output)
			if pw.lastSeq > 0 && u.Sequence > pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", u.Sequence).
					Msg("projection gap, rebuild from event log to repair")
			}

			if err := pw.Apply(ctx, u); err != nil {
				// Eventually consistent; the next output or a rebuild catches up.
				pw.logger.Warn().Err(err).Int64("seq", u.Sequence).Msg("projection update failed")
				continue
			}
			if u.Sequence > pw.lastSeq {
				pw.lastSeq = u.Sequence
			}
		}
	}
}

// Apply writes one update in a single transaction. Rows already at or past
// the update's sequence are left alone, so applying an update twice is a
// no-op.
func (pw *ProjectionWorker) Apply(ctx context.Context, u Update) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertBalances(ctx, tx, u); err != nil {
		return fmt.Errorf("balance projection: %w", err)
	}
	pw.observe("balances", start)

	start = time.Now()
	if err := upsertPositions(ctx, tx, u); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}
	pw.observe("positions", start)

	start = time.Now()
	if err := insertLiquidations(ctx, tx, u.Liquidations); err != nil {
		return fmt.Errorf("liquidation projection: %w", err)
	}
	pw.observe("liquidation_history", start)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE
			SET last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, WatermarkName, u.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionWatermark.Set(float64(u.Sequence))
	}
	return nil
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

func upsertBalances(ctx context.Context, tx execer, u Update) error {
	for _, b := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_path) DO UPDATE
				SET balance = projections.balances.balance + EXCLUDED.balance,
				    last_sequence = EXCLUDED.last_sequence,
				    updated_at = NOW()
				WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
		`, b.AccountPath, int16(b.AssetID), b.Delta.String(), u.Sequence); err != nil {
			return fmt.Errorf("%s: %w", b.AccountPath, err)
		}
	}
	return nil
}

func upsertPositions(ctx context.Context, tx execer, u Update) error {
	for _, p := range u.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (
				owner, coll, debt, stake, status, array_index, version, last_sequence, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (owner) DO UPDATE
				SET coll = EXCLUDED.coll,
				    debt = EXCLUDED.debt,
				    stake = EXCLUDED.stake,
				    status = EXCLUDED.status,
				    array_index = EXCLUDED.array_index,
				    version = EXCLUDED.version,
				    last_sequence = EXCLUDED.last_sequence,
				    updated_at = NOW()
				WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
		`, p.Owner, p.Coll, p.Debt, p.Stake, p.Status, int64(p.ArrayIndex), p.Version, u.Sequence); err != nil {
			return fmt.Errorf("%s: %w", p.Owner, err)
		}
	}
	return nil
}

// RebuildProjections rebuilds the balance table from event_log.journal and
// resets the watermark to the last journalled sequence. Positions and
// liquidation history are left in place: they carry no running totals and
// are refreshed by the next output that touches them.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence, updated_at)
		SELECT account_path, MIN(asset_id), SUM(delta), MAX(sequence), NOW()
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence
			FROM event_log.journal
		) entries
		GROUP BY account_path
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.journal`).Scan(&last); err != nil {
		return fmt.Errorf("journal watermark: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, WatermarkName, last.Int64); err != nil {
		return fmt.Errorf("watermark reset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int64("watermark", last.Int64).Msg("projection rebuild complete")
	return nil
}
