package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/monitoring"
	"ticketing/utils"
)

// maxTransitionAttempts bounds how often a transition re-reads the order after losing a race.
const maxTransitionAttempts = 3

type OrderRepository interface {
	FindTicket(ctx context.Context, id string) (models.Ticket, error)
	IsReserved(ctx context.Context, ticketID string) (bool, error)
	Create(ctx context.Context, order models.Order) (models.Order, error)
	Get(ctx context.Context, id string) (models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	Transition(ctx context.Context, order models.Order, next models.OrderStatus, paymentID string) (models.Order, error)
}

// OrderService is the only writer of order status.
type OrderService struct {
	orders OrderRepository
	window time.Duration
	wake   func()

	now   func() time.Time
	newID func() string
}

// NewOrderService creates the service. wake is called after every committed write so
// the outbox relay can publish without waiting for its next poll; it may be nil.
func NewOrderService(orders OrderRepository, window time.Duration, wake func()) *OrderService {
	if window <= 0 {
		window = models.DefaultExpirationWindow
	}
	if wake == nil {
		wake = func() {}
	}

	return &OrderService{
		orders: orders,
		window: window,
		wake:   wake,
		now:    time.Now,
		newID:  utils.NewRecordID,
	}
}

// Create reserves ticketID for userID. The order holds the ticket until it
// completes or the expiration window passes.
func (s *OrderService) Create(ctx context.Context, ticketID, userID string) (models.Order, error) {
	ticket, err := s.orders.FindTicket(ctx, ticketID)
	if err != nil {
		return models.Order{}, err
	}

	reserved, err := s.orders.IsReserved(ctx, ticketID)
	if err != nil {
		return models.Order{}, err
	}
	if reserved {
		monitoring.TrackReservationConflict()
		return models.Order{}, status.ErrTicketReserved
	}

	order := models.Order{
		ID:        s.newID(),
		UserID:    userID,
		Status:    models.OrderStatusCreated,
		ExpiresAt: s.now().Add(s.window).UTC(),
		TicketID:  ticket.ID,
		Ticket:    &ticket,
	}

	created, err := s.orders.Create(ctx, order)
	if err != nil {
		if errors.Is(err, status.ErrTicketReserved) {
			monitoring.TrackReservationConflict()
		}
		return models.Order{}, err
	}

	slog.Info("Order created", "order_id", created.ID, "ticket_id", ticketID, "user_id", userID, "expires_at", created.ExpiresAt)
	monitoring.TrackOrderTransition(created.Status.String())
	s.wake()

	return created, nil
}

// Get returns the order if userID owns it.
func (s *OrderService) Get(ctx context.Context, orderID, userID string) (models.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.UserID != userID {
		return models.Order{}, status.ErrUnauthorized
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, userID string) ([]models.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// AwaitPayment marks the start of checkout.
func (s *OrderService) AwaitPayment(ctx context.Context, orderID, userID string) (models.Order, error) {
	if _, err := s.Get(ctx, orderID, userID); err != nil {
		return models.Order{}, err
	}

	return s.transition(ctx, orderID, "", func(order models.Order) (models.OrderStatus, error) {
		switch order.Status {
		case models.OrderStatusAwaitingPayment:
			return "", nil
		case models.OrderStatusCreated:
			return models.OrderStatusAwaitingPayment, nil
		case models.OrderStatusCancelled:
			return "", status.ErrOrderCancelled
		default:
			return "", status.ErrInvalidTransition
		}
	})
}

// Complete records a successful payment. Completing a complete order is a no-op.
func (s *OrderService) Complete(ctx context.Context, orderID, paymentRef string) (models.Order, error) {
	return s.transition(ctx, orderID, paymentRef, func(order models.Order) (models.OrderStatus, error) {
		switch order.Status {
		case models.OrderStatusCancelled:
			return "", status.ErrOrderCancelled
		case models.OrderStatusComplete:
			return "", nil
		default:
			return models.OrderStatusComplete, nil
		}
	})
}

// Cancel releases the ticket. Complete and cancelled orders are left as they are.
func (s *OrderService) Cancel(ctx context.Context, orderID string) (models.Order, error) {
	return s.transition(ctx, orderID, "", func(order models.Order) (models.OrderStatus, error) {
		if order.Status.Terminal() {
			return "", nil
		}
		return models.OrderStatusCancelled, nil
	})
}

func (s *OrderService) CancelByUser(ctx context.Context, orderID, userID string) (models.Order, error) {
	if _, err := s.Get(ctx, orderID, userID); err != nil {
		return models.Order{}, err
	}
	return s.Cancel(ctx, orderID)
}

// transition re-reads the order, asks plan for the next status and writes it
// conditionally. An empty next status means nothing to do.
func (s *OrderService) transition(ctx context.Context, orderID, paymentID string, plan func(models.Order) (models.OrderStatus, error)) (models.Order, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return models.Order{}, err
		}

		next, err := plan(order)
		if err != nil {
			return models.Order{}, err
		}
		if next == "" {
			return order, nil
		}
		if !order.Status.CanTransitionTo(next) {
			return models.Order{}, status.ErrInvalidTransition
		}

		updated, err := s.orders.Transition(ctx, order, next, paymentID)
		if errors.Is(err, status.ErrVersionConflict) {
			slog.Info("Order changed concurrently, retrying", "order_id", orderID, "attempt", attempt, "next", next)
			continue
		}
		if err != nil {
			return models.Order{}, err
		}

		slog.Info("Order status changed", "order_id", orderID, "from", order.Status, "to", next, "version", updated.Version)
		monitoring.TrackOrderTransition(next.String())
		s.wake()

		return updated, nil
	}

	return models.Order{}, status.ErrVersionConflict
}
