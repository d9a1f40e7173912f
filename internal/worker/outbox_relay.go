package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pasanaco/internal/core"
)

// EventOutbox is the slice of the store the relay needs.
type EventOutbox interface {
	ListUnpublishedEvents(ctx context.Context, limit int) ([]core.SettlementEvent, error)
	MarkEventPublished(ctx context.Context, id string, at time.Time) error
}

type EventPublisher interface {
	PublishSettlementEvent(ctx context.Context, e core.SettlementEvent) error
}

// OutboxRelay republishes settlement events that were committed but never
// delivered, e.g. because the broker was down when the request finished.
type OutboxRelay struct {
	outbox    EventOutbox
	publisher EventPublisher
	batchSize int
	now       func() time.Time
}

func NewOutboxRelay(outbox EventOutbox, publisher EventPublisher, batchSize int) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPending publishes one batch of unpublished events in commit order.
// It stops at the first publish failure so ordering is preserved; the rest of
// the batch is retried on the next tick. It returns how many were relayed.
func (w *OutboxRelay) ProcessPending(ctx context.Context) (int, error) {
	events, err := w.outbox.ListUnpublishedEvents(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Relaying unpublished settlement events", "count", len(events))

	relayed := 0
	for _, e := range events {
		if err := w.publisher.PublishSettlementEvent(ctx, e); err != nil {
			return relayed, fmt.Errorf("publish event %s: %w", e.ID, err)
		}
		if err := w.outbox.MarkEventPublished(ctx, e.ID, w.now()); err != nil {
			// Published but not marked: the event will be sent again and
			// consumers dedupe on the message id.
			slog.ErrorContext(ctx, "Failed to mark event published", "event_id", e.ID, "error", err)
			continue
		}
		relayed++
	}
	return relayed, nil
}

// StartupCheck drains the backlog left by downtime before periodic relaying
// starts.
func (w *OutboxRelay) StartupCheck(ctx context.Context) error {
	total := 0
	for {
		n, err := w.ProcessPending(ctx)
		total += n
		if err != nil {
			slog.ErrorContext(ctx, "Startup relay stopped", "relayed", total, "error", err)
			return err
		}
		if n < w.batchSize {
			break
		}
	}
	if total == 0 {
		slog.InfoContext(ctx, "No unpublished settlement events found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup relay completed", "relayed", total)
	return nil
}

// Run relays pending events every interval until ctx is done.
func (w *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic relay failed", "error", err)
			}
		}
	}
}
