package models

import (
	"github.com/shopspring/decimal"
)

func init() {
	// prices go over the wire as JSON numbers, not strings
	decimal.MarshalJSONWithoutQuotes = true
}

type Ticket struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Price   decimal.Decimal `json:"price"`
	UserID  string          `json:"user_id"`
	OrderID string          `json:"order_id,omitempty"` // set while an order holds the ticket
	Version int64           `json:"version"`
}

// Reserved reports whether the ticket is held by an active order.
func (t Ticket) Reserved() bool {
	return t.OrderID != ""
}

func (t Ticket) Event() TicketEvent {
	return TicketEvent{
		ID:      t.ID,
		Title:   t.Title,
		Price:   t.Price,
		UserID:  t.UserID,
		OrderID: t.OrderID,
		Version: t.Version,
	}
}
