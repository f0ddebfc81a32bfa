package handlers

import (
	"context"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticketing/internal/services"
	"ticketing/models"
)

type TicketService interface {
	Create(ctx context.Context, userID string, in services.TicketInput) (models.Ticket, error)
	Get(ctx context.Context, id string) (models.Ticket, error)
	ListAvailable(ctx context.Context) ([]models.Ticket, error)
	Update(ctx context.Context, userID, id string, in services.TicketInput) (models.Ticket, error)
}

// ticketResponse carries the derived reservation flag next to the ticket fields.
type ticketResponse struct {
	models.Ticket
	Reserved bool `json:"reserved"`
}

func newTicketResponse(ticket models.Ticket) ticketResponse {
	return ticketResponse{Ticket: ticket, Reserved: ticket.Reserved()}
}

type TicketHandler struct {
	tickets TicketService
}

func NewTicketHandler(tickets TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// CreateTicket - List a ticket for sale
func (h *TicketHandler) CreateTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.TicketInput
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.tickets.Create(e.Request.Context(), e.Auth.Id, req)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusCreated, newTicketResponse(ticket))
}

// ListTickets - Tickets still available for purchase
func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	tickets, err := h.tickets.ListAvailable(e.Request.Context())
	if err != nil {
		return apiError(err)
	}

	res := make([]ticketResponse, 0, len(tickets))
	for _, ticket := range tickets {
		res = append(res, newTicketResponse(ticket))
	}
	return e.JSON(http.StatusOK, res)
}

func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	ticket, err := h.tickets.Get(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, newTicketResponse(ticket))
}

func (h *TicketHandler) UpdateTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.TicketInput
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.tickets.Update(e.Request.Context(), e.Auth.Id, e.Request.PathValue("id"), req)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, newTicketResponse(ticket))
}
