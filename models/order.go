package models

import (
	"time"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusAwaitingPayment OrderStatus = "awaiting:payment"
	OrderStatusComplete        OrderStatus = "complete"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// DefaultExpirationWindow is how long an unpaid order holds its ticket.
const DefaultExpirationWindow = 15 * time.Minute

var OrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusAwaitingPayment,
	OrderStatusComplete,
	OrderStatusCancelled,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusAwaitingPayment, OrderStatusComplete, OrderStatusCancelled},
	OrderStatusAwaitingPayment: {OrderStatusComplete, OrderStatusCancelled},
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCancelled
}

// Reserves reports whether an order in this status holds its ticket.
func (s OrderStatus) Reserves() bool {
	return s == OrderStatusCreated || s == OrderStatusAwaitingPayment || s == OrderStatusComplete
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Status    OrderStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
	TicketID  string      `json:"ticket_id"`
	PaymentID string      `json:"payment_id,omitempty"`
	Version   int64       `json:"version"`
	Ticket    *Ticket     `json:"ticket,omitempty"`
}

// Event builds the order payload published on every transition.
func (o Order) Event() OrderEvent {
	evt := OrderEvent{
		ID:        o.ID,
		Status:    o.Status,
		UserID:    o.UserID,
		ExpiresAt: o.ExpiresAt.UTC(),
		Ticket:    OrderTicket{ID: o.TicketID},
		PaymentID: o.PaymentID,
		Version:   o.Version,
	}
	if o.Ticket != nil {
		evt.Ticket.Price = o.Ticket.Price
	}
	return evt
}
