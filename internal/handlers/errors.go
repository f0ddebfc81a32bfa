package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"

	"ticketing/internal/status"
)

// apiError maps service errors to the responses clients see.
func apiError(err error) error {
	var fieldErrs validation.Errors

	switch {
	case errors.As(err, &fieldErrs):
		return apis.NewBadRequestError("Invalid request", fieldErrs)
	case errors.Is(err, status.ErrTicketReserved):
		return apis.NewBadRequestError("Ticket is already reserved", nil)
	case errors.Is(err, status.ErrTicketLocked):
		return apis.NewBadRequestError("Cannot edit a reserved ticket", nil)
	case errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError("Ticket not found", nil)
	case errors.Is(err, status.ErrOrderNotFound):
		return apis.NewNotFoundError("Order not found", nil)
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("", nil)
	case errors.Is(err, status.ErrUnauthorized):
		return apis.NewUnauthorizedError("Not authorized", nil)
	case errors.Is(err, status.ErrOrderCancelled):
		return router.NewApiError(http.StatusConflict, "Order is cancelled", nil)
	case errors.Is(err, status.ErrInvalidTransition):
		return router.NewApiError(http.StatusConflict, "Order cannot change to the requested status", nil)
	case errors.Is(err, status.ErrVersionConflict):
		return router.NewApiError(http.StatusConflict, "Resource was modified concurrently, reload and retry", nil)
	}

	slog.Error("Request failed", "error", err)
	return apis.NewInternalServerError("Something went wrong while processing your request", nil)
}
