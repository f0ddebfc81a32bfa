package services

import (
	"context"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/utils"
)

type TicketRepository interface {
	Create(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	Get(ctx context.Context, id string) (models.Ticket, error)
	ListAvailable(ctx context.Context) ([]models.Ticket, error)
	Update(ctx context.Context, ticket models.Ticket, expectedVersion int64) (models.Ticket, error)
}

type TicketInput struct {
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	// Version is the version the client last saw. Optional.
	Version *int64 `json:"version,omitempty"`
}

var errPriceNotPositive = validation.NewError("validation_price_positive", "must be greater than 0")

func (in TicketInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Price, validation.By(func(value any) error {
			price, _ := value.(decimal.Decimal)
			if !price.IsPositive() {
				return errPriceNotPositive
			}
			return nil
		})),
	)
}

type TicketService struct {
	tickets TicketRepository
	wake    func()
	newID   func() string
}

func NewTicketService(tickets TicketRepository, wake func()) *TicketService {
	if wake == nil {
		wake = func() {}
	}
	return &TicketService{tickets: tickets, wake: wake, newID: utils.NewRecordID}
}

func (s *TicketService) Create(ctx context.Context, userID string, in TicketInput) (models.Ticket, error) {
	if err := in.Validate(); err != nil {
		return models.Ticket{}, err
	}

	ticket, err := s.tickets.Create(ctx, models.Ticket{
		ID:     s.newID(),
		Title:  in.Title,
		Price:  in.Price,
		UserID: userID,
	})
	if err != nil {
		return models.Ticket{}, err
	}

	slog.Info("Ticket created", "ticket_id", ticket.ID, "user_id", userID)
	s.wake()
	return ticket, nil
}

func (s *TicketService) Get(ctx context.Context, id string) (models.Ticket, error) {
	return s.tickets.Get(ctx, id)
}

func (s *TicketService) ListAvailable(ctx context.Context) ([]models.Ticket, error) {
	return s.tickets.ListAvailable(ctx)
}

// Update changes title and price. Only the owner may edit, and never while the ticket is reserved.
func (s *TicketService) Update(ctx context.Context, userID, id string, in TicketInput) (models.Ticket, error) {
	if err := in.Validate(); err != nil {
		return models.Ticket{}, err
	}

	current, err := s.tickets.Get(ctx, id)
	if err != nil {
		return models.Ticket{}, err
	}
	if current.UserID != userID {
		return models.Ticket{}, status.ErrUnauthorized
	}
	if current.Reserved() {
		return models.Ticket{}, status.ErrTicketLocked
	}

	expected := current.Version
	if in.Version != nil && *in.Version != expected {
		return models.Ticket{}, status.ErrVersionConflict
	}

	current.Title = in.Title
	current.Price = in.Price

	updated, err := s.tickets.Update(ctx, current, expected)
	if err != nil {
		return models.Ticket{}, err
	}

	slog.Info("Ticket updated", "ticket_id", id, "version", updated.Version)
	s.wake()
	return updated, nil
}
