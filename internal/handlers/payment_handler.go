package handlers

import (
	"context"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticketing/models"
)

type PaymentSimulator interface {
	SimulatePayment(ctx context.Context, orderID, userID string) (models.PaymentCreatedEvent, error)
}

type PaymentHandler struct {
	payments PaymentSimulator
}

func NewPaymentHandler(payments PaymentSimulator) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// SimulatePayment - Pretend the provider charged the order. Development only.
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		OrderID      string `json:"order_id"`
		OrderIDCamel string `json:"orderId"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	orderID := req.OrderID
	if orderID == "" {
		orderID = req.OrderIDCamel
	}
	if err := validation.Validate(orderID, validation.Required); err != nil {
		return apiError(validation.Errors{"order_id": err})
	}

	payment, err := h.payments.SimulatePayment(e.Request.Context(), orderID, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusAccepted, payment)
}
