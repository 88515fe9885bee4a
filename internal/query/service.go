package query

import (
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNotFound = errors.New("query: not found")

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// QueryService provides read-only access to the projection tables and the
// event log. Projections trail the engine, so every response carries
// as_of_sequence: the projection watermark at read time.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
	now     func() time.Time
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics, now: time.Now}
}

// GetPosition returns the projected position for owner, closed or not.
func (qs *QueryService) GetPosition(ctx context.Context, owner common.Address) (resp *PositionResponse, err error) {
	defer qs.observe("GetPosition", qs.now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := PositionResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, coll, debt, stake, status, array_index, version, last_sequence
		FROM projections.positions
		WHERE owner = $1
	`, owner.Hex()).Scan(
		&p.Owner, &p.Coll, &p.Debt, &p.Stake, &p.Status, &p.ArrayIndex, &p.Version, &p.LastSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, owner.Hex())
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPositions pages through positions with the given status (all when
// empty), ordered by owner. Pass the last owner of the previous page as
// afterOwner.
func (qs *QueryService) ListPositions(
	ctx context.Context,
	status string,
	limit int,
	afterOwner *common.Address,
) (out []PositionResponse, err error) {
	defer qs.observe("ListPositions", qs.now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	q := newSelect(`
		SELECT owner, coll, debt, stake, status, array_index, version, last_sequence
		FROM projections.positions
	`)
	if status != "" {
		q.where("status = ?", status)
	}
	if afterOwner != nil {
		q.where("owner > ?", afterOwner.Hex())
	}
	q.tail(" ORDER BY owner LIMIT ?", clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p := PositionResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&p.Owner, &p.Coll, &p.Debt, &p.Stake, &p.Status, &p.ArrayIndex, &p.Version, &p.LastSequence,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLiquidationHistory returns liquidations newest first, optionally for
// one owner. beforeSequence is the cursor from the previous page.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	owner *common.Address,
	limit int,
	beforeSequence *int64,
) (out []LiquidationResponse, err error) {
	defer qs.observe("GetLiquidationHistory", qs.now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	q := newSelect(`
		SELECT sequence, owner, mode, icr, entire_debt, entire_coll, debt_offset, coll_to_sp,
		       debt_redistributed, coll_redistributed, coll_surplus, gas_compensation,
		       coll_gas_comp, timestamp
		FROM projections.liquidation_history
	`)
	if owner != nil {
		q.where("owner = ?", owner.Hex())
	}
	if beforeSequence != nil {
		q.where("sequence < ?", *beforeSequence)
	}
	q.tail(" ORDER BY sequence DESC, owner LIMIT ?", clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r := LiquidationResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&r.Sequence, &r.Owner, &r.Mode, &r.ICR, &r.EntireDebt, &r.EntireColl, &r.DebtOffset,
			&r.CollToSP, &r.DebtRedistributed, &r.CollRedistributed, &r.CollSurplus,
			&r.GasCompensation, &r.CollGasComp, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching any of the owner's
// accounts, newest first. It reads the event log directly, so it is never
// behind the persisted head.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner common.Address,
	limit int,
	beforeSequence *int64,
) (out []JournalHistoryEntry, err error) {
	defer qs.observe("GetJournalHistory", qs.now(), &err)

	prefix := fmt.Sprintf("user:%s:%%", owner.Hex())

	q := newSelect(`
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
	`)
	q.where("(debit_account LIKE ? OR credit_account LIKE ?)", prefix, prefix)
	if beforeSequence != nil {
		q.where("sequence < ?", *beforeSequence)
	}
	q.tail(" ORDER BY sequence DESC, journal_id LIMIT ?", clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		var journalType int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(journalType).String()
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks that every stored prev_hash links to the previous
// event's state_hash and that the balance projection nets to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("VerifyIntegrity", qs.now(), &err)

	report = &IntegrityReport{}
	if report.AsOfSequence, err = qs.getWatermark(ctx); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
		ORDER BY asset_id
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) observe(method string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(method).Inc()
	qs.metrics.QueryDuration.WithLabelValues(method).Observe(qs.now().Sub(start).Seconds())
	if *err != nil {
		code := "internal"
		if errors.Is(*err, ErrNotFound) {
			code = "not_found"
		}
		qs.metrics.QueryErrors.WithLabelValues(method, code).Inc()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// selectBuilder numbers "?" placeholders as $1, $2, ... in the order
// conditions are added.
type selectBuilder struct {
	sb    strings.Builder
	conds int
	args  []any
}

func newSelect(base string) *selectBuilder {
	q := &selectBuilder{}
	q.sb.WriteString(strings.TrimRight(base, " \n\t"))
	return q
}

func (q *selectBuilder) where(cond string, args ...any) {
	if q.conds == 0 {
		q.sb.WriteString(" WHERE ")
	} else {
		q.sb.WriteString(" AND ")
	}
	q.conds++
	q.write(cond, args)
}

func (q *selectBuilder) tail(clause string, args ...any) {
	q.write(clause, args)
}

func (q *selectBuilder) write(fragment string, args []any) {
	for _, r := range fragment {
		if r == '?' {
			q.args = append(q.args, args[0])
			args = args[1:]
			fmt.Fprintf(&q.sb, "$%d", len(q.args))
			continue
		}
		q.sb.WriteRune(r)
	}
}

func (q *selectBuilder) String() string {
	return q.sb.String()
}
