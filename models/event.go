package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Topic string

const (
	TopicTicketCreated  Topic = "ticket:created"
	TopicTicketUpdated  Topic = "ticket:updated"
	TopicOrderCreated   Topic = "order:created"
	TopicOrderUpdated   Topic = "order:updated"
	TopicOrderCompleted Topic = "order:completed"
	TopicOrderCancelled Topic = "order:cancelled"
	TopicPaymentCreated Topic = "payment:created"
)

func (t Topic) String() string {
	return string(t)
}

// OrderTopics are all topics carrying an OrderEvent.
var OrderTopics = []Topic{
	TopicOrderCreated,
	TopicOrderUpdated,
	TopicOrderCompleted,
	TopicOrderCancelled,
}

// TopicForStatus returns the topic announcing an order entering status.
func TopicForStatus(status OrderStatus) Topic {
	switch status {
	case OrderStatusCreated:
		return TopicOrderCreated
	case OrderStatusComplete:
		return TopicOrderCompleted
	case OrderStatusCancelled:
		return TopicOrderCancelled
	default:
		return TopicOrderUpdated
	}
}

type Aggregate string

const (
	AggregateTicket Aggregate = "ticket"
	AggregateOrder  Aggregate = "order"
)

type TicketEvent struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Price   decimal.Decimal `json:"price"`
	UserID  string          `json:"user_id"`
	OrderID string          `json:"order_id,omitempty"`
	Version int64           `json:"version"`
}

type OrderTicket struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
}

type OrderEvent struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	UserID    string      `json:"user_id"`
	ExpiresAt time.Time   `json:"expires_at"`
	Ticket    OrderTicket `json:"ticket"`
	PaymentID string      `json:"payment_id,omitempty"`
	Version   int64       `json:"version"`
}

// PaymentCreatedEvent is published by the payments service once a charge succeeds.
type PaymentCreatedEvent struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

// OutboxEvent is one entry of the append-only per-entity event log.
type OutboxEvent struct {
	ID        string          `json:"id"`
	Aggregate Aggregate       `json:"aggregate"`
	EntityID  string          `json:"entity_id"`
	Topic     Topic           `json:"topic"`
	Version   int64           `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Published bool            `json:"published"`
}

func NewOutboxEvent(id string, aggregate Aggregate, entityID string, topic Topic, version int64, body any) (OutboxEvent, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	return OutboxEvent{
		ID:        id,
		Aggregate: aggregate,
		EntityID:  entityID,
		Topic:     topic,
		Version:   version,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ApplyDecision is the outcome of comparing an incoming event version with the local copy.
type ApplyDecision int

const (
	DecisionApply ApplyDecision = iota
	DecisionStale
	DecisionGap
)

func (d ApplyDecision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionStale:
		return "stale"
	case DecisionGap:
		return "gap"
	}
	return "unknown"
}

// DecideVersion accepts only the next version of an entity. A missing local copy
// accepts version 0 only.
func DecideVersion(local int64, exists bool, incoming int64) ApplyDecision {
	if !exists {
		if incoming == 0 {
			return DecisionApply
		}
		return DecisionGap
	}

	switch {
	case incoming <= local:
		return DecisionStale
	case incoming == local+1:
		return DecisionApply
	default:
		return DecisionGap
	}
}
