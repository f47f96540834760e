package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolportal/libs/db"
	otelx "github.com/md-rashed-zaman/schoolportal/libs/otel"
)

// Repository is the PostgreSQL outbox. Events are inserted inside the
// caller's account transaction and relayed in id order.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Parent, tc.State)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", evt.EventType, err)
	}
	return nil
}

// Relay locks up to limit unpublished rows, hands them to send and marks
// them published in the same transaction. Rows locked by another relay are
// skipped. When send fails the rows stay pending and their attempt counter
// is bumped.
func (r *Repository) Relay(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.FetchUnpublished(ctx, tx, limit)
	if err != nil || len(records) == 0 {
		return 0, err
	}
	ids := make([]int64, len(records))
	for i, rcd := range records {
		ids[i] = rcd.ID
	}

	if sendErr := send(ctx, records); sendErr != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = ANY($1)
		`, ids, sendErr.Error()); err != nil {
			return 0, fmt.Errorf("%w (recording failure: %v)", sendErr, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("%w (recording failure: %v)", sendErr, err)
		}
		return 0, sendErr
	}

	if err := r.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
		       COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Record])
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now(), last_error = NULL WHERE id = ANY($1)`, ids)
	return err
}
