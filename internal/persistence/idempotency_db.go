package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the durable tier of request deduplication:
// a request id is a duplicate once its command is in the event log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the request id exists in the event log
func (pic *PostgresIdempotencyChecker) IsDuplicate(requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.events WHERE request_id = $1 LIMIT 1`,
		requestID,
	).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentRequestIDs returns up to limit request ids from the tail of the
// log, oldest first, for warming the in-memory cache on a cold start.
func (pic *PostgresIdempotencyChecker) RecentRequestIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT request_id FROM (
			SELECT sequence, request_id FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) tail
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
