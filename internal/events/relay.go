package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"ticketing/models"
	"ticketing/monitoring"
)

type Outbox interface {
	Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, ids ...string) error
}

// Relay publishes outbox entries in the order they were written.
// Delivery is at least once: an entry is marked only after the bus accepted it.
type Relay struct {
	outbox    Outbox
	publisher message.Publisher
	interval  time.Duration
	batchSize int
	wake      chan struct{}
}

func NewRelay(outbox Outbox, publisher message.Publisher, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		wake:      make(chan struct{}, 1),
	}
}

// Wake asks for a flush without waiting for the next tick. Never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("Outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Outbox flush failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush publishes pending entries until the outbox is drained or a publish
// fails. On failure the remaining entries wait for the next flush so later
// versions never overtake earlier ones.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { monitoring.TrackFlush(time.Since(start)) }()

	published := 0
	for {
		pending, err := r.outbox.Pending(ctx, r.batchSize)
		if err != nil {
			return published, fmt.Errorf("load pending events: %w", err)
		}
		if len(pending) == 0 {
			return published, nil
		}

		done := make([]string, 0, len(pending))
		var publishErr error
		for _, evt := range pending {
			msg := ToMessage(evt)
			msg.SetContext(ctx)

			publishErr = r.publisher.Publish(evt.Topic.String(), msg)
			monitoring.TrackPublish(evt.Topic.String(), publishErr)
			if publishErr != nil {
				publishErr = fmt.Errorf("publish %s %s v%d: %w", evt.Topic, evt.EntityID, evt.Version, publishErr)
				break
			}
			done = append(done, evt.ID)
		}

		if err := r.outbox.MarkPublished(ctx, done...); err != nil {
			return published, fmt.Errorf("mark events published: %w", err)
		}
		published += len(done)

		if publishErr != nil {
			return published, publishErr
		}
		if len(pending) < r.batchSize {
			return published, nil
		}
	}
}
