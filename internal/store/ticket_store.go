package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"ticketing/internal/schema"
	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/utils"
)

// TicketStore is the tickets service view of the database: tickets plus the
// projection of orders that reference them.
type TicketStore struct {
	app core.App
}

func NewTicketStore(app core.App) *TicketStore {
	return &TicketStore{app: app}
}

// Create inserts a version 0 ticket together with its ticket:created event.
func (s *TicketStore) Create(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	ticket.Version = 0
	ticket.OrderID = ""

	err := s.app.RunInTransaction(func(txApp core.App) error {
		collection, err := txApp.FindCachedCollectionByNameOrId(schema.CollectionTickets)
		if err != nil {
			return err
		}

		record := core.NewRecord(collection)
		record.Set("id", ticket.ID)
		record.Set("title", ticket.Title)
		record.Set("price", ticket.Price.InexactFloat64())
		record.Set("user_id", ticket.UserID)
		record.Set("order_id", "")
		record.Set("version", 0)

		if err := txApp.SaveNoValidateWithContext(ctx, record); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}

		return appendTicketEvent(ctx, txApp, models.TopicTicketCreated, ticket)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *TicketStore) Get(ctx context.Context, id string) (models.Ticket, error) {
	record, err := s.app.FindRecordById(schema.CollectionTickets, id)
	if err != nil {
		if isNotFound(err) {
			return models.Ticket{}, status.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticketFromRecord(record), nil
}

// ListAvailable returns tickets no active order holds, newest first.
func (s *TicketStore) ListAvailable(ctx context.Context) ([]models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(
		schema.CollectionTickets,
		"order_id = ''",
		"-created",
		-1,
		0,
	)
	if err != nil {
		return nil, err
	}

	tickets := make([]models.Ticket, 0, len(records))
	for _, r := range records {
		tickets = append(tickets, ticketFromRecord(r))
	}
	return tickets, nil
}

// Update writes title and price if the stored ticket is still at expectedVersion and unreserved.
func (s *TicketStore) Update(ctx context.Context, ticket models.Ticket, expectedVersion int64) (models.Ticket, error) {
	var updated models.Ticket

	err := s.app.RunInTransaction(func(txApp core.App) error {
		ok, err := updateIfVersion(ctx, txApp.DB(), schema.CollectionTickets, ticket.ID, expectedVersion,
			dbx.Params{
				"title":   ticket.Title,
				"price":   ticket.Price.InexactFloat64(),
				"version": expectedVersion + 1,
			},
			dbx.HashExp{"order_id": ""},
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}

		record, err := txApp.FindRecordById(schema.CollectionTickets, ticket.ID)
		if err != nil {
			if isNotFound(err) {
				return status.ErrTicketNotFound
			}
			return err
		}
		current := ticketFromRecord(record)

		if !ok {
			if current.Reserved() {
				return status.ErrTicketLocked
			}
			return status.ErrVersionConflict
		}

		updated = current
		return appendTicketEvent(ctx, txApp, models.TopicTicketUpdated, current)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return updated, nil
}

// ApplyOrderEvent folds an order event into the projection and, when the
// reservation changes, into the ticket itself. The ticket change is versioned
// and announced like any other ticket write.
func (s *TicketStore) ApplyOrderEvent(ctx context.Context, evt models.OrderEvent) (models.ApplyDecision, error) {
	var decision models.ApplyDecision

	err := s.app.RunInTransaction(func(txApp core.App) error {
		projection, err := txApp.FindRecordById(schema.CollectionTicketOrders, evt.ID)
		if err != nil && !isNotFound(err) {
			return err
		}

		exists := projection != nil
		var local int64
		if exists {
			local = versionOf(projection)
		}

		decision = models.DecideVersion(local, exists, evt.Version)
		if decision != models.DecisionApply {
			return nil
		}

		if !exists {
			collection, err := txApp.FindCachedCollectionByNameOrId(schema.CollectionTicketOrders)
			if err != nil {
				return err
			}
			projection = core.NewRecord(collection)
			projection.Set("id", evt.ID)
		}
		projection.Set("ticket_id", evt.Ticket.ID)
		projection.Set("status", evt.Status.String())
		projection.Set("version", evt.Version)

		if err := txApp.SaveNoValidateWithContext(ctx, projection); err != nil {
			return fmt.Errorf("save order projection: %w", err)
		}

		return s.syncReservation(ctx, txApp, evt)
	})
	if err != nil {
		return decision, err
	}
	return decision, nil
}

func (s *TicketStore) syncReservation(ctx context.Context, txApp core.App, evt models.OrderEvent) error {
	record, err := txApp.FindRecordById(schema.CollectionTickets, evt.Ticket.ID)
	if err != nil {
		if isNotFound(err) {
			return status.ErrTicketNotFound
		}
		return err
	}
	ticket := ticketFromRecord(record)

	holders, err := reservationHolders(ctx, txApp.DB(), ticket.ID)
	if err != nil {
		return fmt.Errorf("load reservation holders: %w", err)
	}

	orderID := pickHolder(holders, ticket.OrderID, evt.ID)
	if orderID == ticket.OrderID {
		return nil
	}

	ok, err := updateIfVersion(ctx, txApp.DB(), schema.CollectionTickets, ticket.ID, ticket.Version,
		dbx.Params{"order_id": orderID, "version": ticket.Version + 1},
	)
	if err != nil {
		return fmt.Errorf("update ticket reservation: %w", err)
	}
	if !ok {
		return status.ErrVersionConflict
	}

	ticket.OrderID = orderID
	ticket.Version++
	return appendTicketEvent(ctx, txApp, models.TopicTicketUpdated, ticket)
}

// reservationHolders lists the projected orders that still hold the ticket, oldest first.
// Events of different topics arrive in any order, so the holder is derived
// from every projected order instead of the last event seen.
func reservationHolders(ctx context.Context, db dbx.Builder, ticketID string) ([]string, error) {
	var statuses []any
	for _, st := range models.OrderStatuses {
		if st.Reserves() {
			statuses = append(statuses, st.String())
		}
	}

	var ids []string
	err := db.Select("id").
		From(schema.CollectionTicketOrders).
		Where(dbx.HashExp{"ticket_id": ticketID}).
		AndWhere(dbx.In("status", statuses...)).
		OrderBy("rowid ASC").
		WithContext(ctx).
		Column(&ids)
	return ids, err
}

// pickHolder keeps the current holder while it still holds the ticket.
func pickHolder(holders []string, current, incoming string) string {
	if len(holders) == 0 {
		return ""
	}
	if slices.Contains(holders, current) {
		return current
	}
	if slices.Contains(holders, incoming) {
		return incoming
	}
	return holders[0]
}

func appendTicketEvent(ctx context.Context, txApp core.App, topic models.Topic, ticket models.Ticket) error {
	evt, err := models.NewOutboxEvent(utils.NewRecordID(), models.AggregateTicket, ticket.ID, topic, ticket.Version, ticket.Event())
	if err != nil {
		return err
	}
	return appendEvent(ctx, txApp, evt)
}

func ticketFromRecord(record *core.Record) models.Ticket {
	return models.Ticket{
		ID:      record.Id,
		Title:   record.GetString("title"),
		Price:   priceOf(record),
		UserID:  record.GetString("user_id"),
		OrderID: record.GetString("order_id"),
		Version: versionOf(record),
	}
}
