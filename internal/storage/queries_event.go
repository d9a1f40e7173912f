package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pasanaco/internal/core"
)

const eventColumns = `id, event_type, pasanaco_id, payment_id, loan_id, round, actor_id, occurred_at, published_at`

const appendEvent = `INSERT INTO settlement_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) AppendEvent(ctx context.Context, e core.SettlementEvent) error {
	_, err := q.db.ExecContext(ctx, appendEvent,
		e.ID, string(e.Type), e.PasanacoID, e.PaymentID, e.LoanID, e.Round, e.ActorID,
		formatTime(e.OccurredAt), nullTime(e.PublishedAt))
	if err != nil {
		return fmt.Errorf("insert settlement event: %w", translateError(err))
	}
	return nil
}

func (q *Queries) ListEvents(ctx context.Context, pasanacoID string, limit int) ([]core.SettlementEvent, error) {
	return q.listEvents(ctx, `SELECT `+eventColumns+` FROM settlement_events
WHERE pasanaco_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`, pasanacoID, limit)
}

func (q *Queries) ListUnpublishedEvents(ctx context.Context, limit int) ([]core.SettlementEvent, error) {
	return q.listEvents(ctx, `SELECT `+eventColumns+` FROM settlement_events
WHERE published_at IS NULL ORDER BY occurred_at, id LIMIT ?`, limit)
}

func (q *Queries) MarkEventPublished(ctx context.Context, id string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE settlement_events SET published_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark event %s published: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("mark event %s published: %w", id, err)
	}
	return nil
}

func (q *Queries) listEvents(ctx context.Context, query string, args ...interface{}) ([]core.SettlementEvent, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settlement events: %w", err)
	}
	defer rows.Close()

	var out []core.SettlementEvent
	for rows.Next() {
		var (
			e           core.SettlementEvent
			eventType   string
			occurredAt  string
			publishedAt sql.NullString
		)
		if err := rows.Scan(&e.ID, &eventType, &e.PasanacoID, &e.PaymentID, &e.LoanID, &e.Round, &e.ActorID,
			&occurredAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan settlement event: %w", err)
		}
		e.Type = core.EventType(eventType)
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if e.PublishedAt, err = parseNullTime(publishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
