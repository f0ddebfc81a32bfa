package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/monitoring"
)

type TicketReplica interface {
	ApplyTicketEvent(ctx context.Context, evt models.TicketEvent) (models.ApplyDecision, error)
}

type OrderProjection interface {
	ApplyOrderEvent(ctx context.Context, evt models.OrderEvent) (models.ApplyDecision, error)
}

type OrderCompleter interface {
	Complete(ctx context.Context, orderID, paymentRef string) (models.Order, error)
}

type ExpirationScheduler interface {
	Schedule(ctx context.Context, orderID string, at time.Time) error
}

type OrderNotifier interface {
	NotifyOrder(ctx context.Context, evt models.OrderEvent) error
}

// decode reports false for payloads that can never be processed. Those are
// acknowledged and logged instead of being retried forever.
func decode[T any](msg *message.Message, dst *T) bool {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		slog.Error("Dropping undecodable message",
			"message_uuid", msg.UUID,
			"topic", msg.Metadata.Get(MetadataTopic),
			"error", err,
		)
		return false
	}
	return true
}

func settle(handler string, msg *message.Message, decision models.ApplyDecision, err error) error {
	if err != nil {
		return err
	}

	monitoring.TrackConsumed(handler, decision.String())

	switch decision {
	case models.DecisionGap:
		slog.Info("Event arrived early, waiting for redelivery",
			"handler", handler,
			"entity_id", msg.Metadata.Get(MetadataEntityID),
			"version", msg.Metadata.Get(MetadataVersion),
		)
		return fmt.Errorf("%s: %w", handler, status.ErrVersionGap)
	case models.DecisionStale:
		slog.Debug("Discarding stale event", "handler", handler, "message_uuid", msg.UUID)
	}
	return nil
}

// TicketReplicaHandler keeps the orders service copy of tickets current.
func TicketReplicaHandler(name string, replica TicketReplica) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var evt models.TicketEvent
		if !decode(msg, &evt) {
			return nil
		}

		decision, err := replica.ApplyTicketEvent(msg.Context(), evt)
		return settle(name, msg, decision, err)
	}
}

// OrderProjectionHandler keeps the tickets service view of orders current.
// Applying may change the ticket, so wake lets the relay announce it promptly.
func OrderProjectionHandler(name string, projection OrderProjection, wake func()) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var evt models.OrderEvent
		if !decode(msg, &evt) {
			return nil
		}

		decision, err := projection.ApplyOrderEvent(msg.Context(), evt)
		if err == nil && decision == models.DecisionApply && wake != nil {
			wake()
		}
		return settle(name, msg, decision, err)
	}
}

// PaymentHandler completes the order a payment was made for.
func PaymentHandler(orders OrderCompleter) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var evt models.PaymentCreatedEvent
		if !decode(msg, &evt) {
			return nil
		}

		_, err := orders.Complete(msg.Context(), evt.OrderID, evt.PaymentRef)
		switch {
		case errors.Is(err, status.ErrOrderCancelled):
			slog.Warn("Payment received for cancelled order", "order_id", evt.OrderID, "payment_ref", evt.PaymentRef)
			return nil
		case errors.Is(err, status.ErrOrderNotFound):
			slog.Warn("Payment received for unknown order", "order_id", evt.OrderID, "payment_ref", evt.PaymentRef)
			return nil
		}
		return err
	}
}

// ExpirationHandler schedules the expiry of every new order.
func ExpirationHandler(scheduler ExpirationScheduler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var evt models.OrderEvent
		if !decode(msg, &evt) {
			return nil
		}

		return scheduler.Schedule(msg.Context(), evt.ID, evt.ExpiresAt)
	}
}

// NotificationHandler forwards order changes to the buyer. Failures are logged, not retried.
func NotificationHandler(notifier OrderNotifier) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var evt models.OrderEvent
		if !decode(msg, &evt) {
			return nil
		}

		if err := notifier.NotifyOrder(msg.Context(), evt); err != nil {
			slog.Warn("Failed to notify user", "order_id", evt.ID, "user_id", evt.UserID, "error", err)
		}
		return nil
	}
}
