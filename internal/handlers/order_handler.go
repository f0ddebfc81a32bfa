package handlers

import (
	"context"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticketing/models"
)

type OrderService interface {
	Create(ctx context.Context, ticketID, userID string) (models.Order, error)
	Get(ctx context.Context, orderID, userID string) (models.Order, error)
	List(ctx context.Context, userID string) ([]models.Order, error)
	AwaitPayment(ctx context.Context, orderID, userID string) (models.Order, error)
	CancelByUser(ctx context.Context, orderID, userID string) (models.Order, error)
}

type OrderHandler struct {
	orders OrderService
}

func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	TicketID string `json:"ticket_id"`
	// accepted for clients that send camelCase
	TicketIDCamel string `json:"ticketId"`
}

func (r *createOrderRequest) ticketID() string {
	if r.TicketID != "" {
		return r.TicketID
	}
	return r.TicketIDCamel
}

// CreateOrder - Reserve a ticket
func (h *OrderHandler) CreateOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req createOrderRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticketID := req.ticketID()
	if err := validation.Validate(ticketID, validation.Required); err != nil {
		return apiError(validation.Errors{"ticket_id": err})
	}

	order, err := h.orders.Create(e.Request.Context(), ticketID, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusCreated, order)
}

// ListOrders - Orders of the current user
func (h *OrderHandler) ListOrders(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orders, err := h.orders.List(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	order, err := h.orders.Get(e.Request.Context(), e.Request.PathValue("id"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, order)
}

// Checkout - Start payment for an order
func (h *OrderHandler) Checkout(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	order, err := h.orders.AwaitPayment(e.Request.Context(), e.Request.PathValue("id"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, order)
}

// CancelOrder - Release the reservation
func (h *OrderHandler) CancelOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	if _, err := h.orders.CancelByUser(e.Request.Context(), e.Request.PathValue("id"), e.Auth.Id); err != nil {
		return apiError(err)
	}

	return e.NoContent(http.StatusNoContent)
}
