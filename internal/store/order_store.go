package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"ticketing/internal/schema"
	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/utils"
)

// OrderStore is the orders service view of the database: orders plus the
// replica of tickets they reference.
type OrderStore struct {
	app core.App
}

func NewOrderStore(app core.App) *OrderStore {
	return &OrderStore{app: app}
}

// FindTicket reads the local ticket replica.
func (s *OrderStore) FindTicket(ctx context.Context, id string) (models.Ticket, error) {
	record, err := s.app.FindRecordById(schema.CollectionOrderTickets, id)
	if err != nil {
		if isNotFound(err) {
			return models.Ticket{}, status.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return replicaFromRecord(record), nil
}

// IsReserved reports whether a non-cancelled order exists for the ticket.
func (s *OrderStore) IsReserved(ctx context.Context, ticketID string) (bool, error) {
	var row struct {
		Count int `db:"count"`
	}

	err := s.app.DB().
		Select("COUNT(*) AS count").
		From(schema.CollectionOrders).
		Where(dbx.HashExp{"ticket_id": ticketID}).
		AndWhere(dbx.Not(dbx.HashExp{"status": models.OrderStatusCancelled.String()})).
		WithContext(ctx).
		One(&row)
	if err != nil {
		return false, err
	}
	return row.Count > 0, nil
}

// Create inserts the order and its order:created event. A concurrent active
// order for the same ticket makes the insert fail with ErrTicketReserved.
func (s *OrderStore) Create(ctx context.Context, order models.Order) (models.Order, error) {
	order.Version = 0

	err := s.app.RunInTransaction(func(txApp core.App) error {
		collection, err := txApp.FindCachedCollectionByNameOrId(schema.CollectionOrders)
		if err != nil {
			return err
		}

		record := core.NewRecord(collection)
		record.Set("id", order.ID)
		record.Set("user_id", order.UserID)
		record.Set("status", order.Status.String())
		record.Set("expires_at", order.ExpiresAt.UTC())
		record.Set("ticket_id", order.TicketID)
		record.Set("payment_id", order.PaymentID)
		record.Set("version", 0)

		if err := txApp.SaveNoValidateWithContext(ctx, record); err != nil {
			if isUniqueViolation(err) {
				return status.ErrTicketReserved
			}
			return fmt.Errorf("insert order: %w", err)
		}

		return appendOrderEvent(ctx, txApp, order)
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// Get returns the order with its ticket expanded from the replica when available.
func (s *OrderStore) Get(ctx context.Context, id string) (models.Order, error) {
	record, err := s.app.FindRecordById(schema.CollectionOrders, id)
	if err != nil {
		if isNotFound(err) {
			return models.Order{}, status.ErrOrderNotFound
		}
		return models.Order{}, err
	}

	order := orderFromRecord(record)
	if err := s.expandTicket(ctx, &order); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	records, err := s.app.FindRecordsByFilter(
		schema.CollectionOrders,
		"user_id = {:userId}",
		"-created",
		-1,
		0,
		dbx.Params{"userId": userID},
	)
	if err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(records))
	for _, r := range records {
		order := orderFromRecord(r)
		if err := s.expandTicket(ctx, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// ListActive returns every order that may still expire.
func (s *OrderStore) ListActive(ctx context.Context) ([]models.Order, error) {
	records, err := s.app.FindRecordsByFilter(
		schema.CollectionOrders,
		"status = {:created} || status = {:awaiting}",
		"expires_at",
		-1,
		0,
		dbx.Params{
			"created":  models.OrderStatusCreated.String(),
			"awaiting": models.OrderStatusAwaitingPayment.String(),
		},
	)
	if err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(records))
	for _, r := range records {
		orders = append(orders, orderFromRecord(r))
	}
	return orders, nil
}

// Transition moves order to next if the stored row still carries order.Version,
// and records the matching event. The returned order carries the new version.
func (s *OrderStore) Transition(ctx context.Context, order models.Order, next models.OrderStatus, paymentID string) (models.Order, error) {
	updated := order
	updated.Status = next
	updated.Version = order.Version + 1
	if paymentID != "" {
		updated.PaymentID = paymentID
	}

	err := s.app.RunInTransaction(func(txApp core.App) error {
		ok, err := updateIfVersion(ctx, txApp.DB(), schema.CollectionOrders, order.ID, order.Version,
			dbx.Params{
				"status":     next.String(),
				"payment_id": updated.PaymentID,
				"version":    updated.Version,
			},
		)
		if err != nil {
			if isUniqueViolation(err) {
				return status.ErrTicketReserved
			}
			return fmt.Errorf("update order: %w", err)
		}
		if !ok {
			return status.ErrVersionConflict
		}

		return appendOrderEvent(ctx, txApp, updated)
	})
	if err != nil {
		return models.Order{}, err
	}
	return updated, nil
}

// ApplyTicketEvent folds a ticket event into the replica.
func (s *OrderStore) ApplyTicketEvent(ctx context.Context, evt models.TicketEvent) (models.ApplyDecision, error) {
	var decision models.ApplyDecision

	err := s.app.RunInTransaction(func(txApp core.App) error {
		record, err := txApp.FindRecordById(schema.CollectionOrderTickets, evt.ID)
		if err != nil && !isNotFound(err) {
			return err
		}

		exists := record != nil
		var local int64
		if exists {
			local = versionOf(record)
		}

		decision = models.DecideVersion(local, exists, evt.Version)
		if decision != models.DecisionApply {
			return nil
		}

		if !exists {
			collection, err := txApp.FindCachedCollectionByNameOrId(schema.CollectionOrderTickets)
			if err != nil {
				return err
			}
			record = core.NewRecord(collection)
			record.Set("id", evt.ID)
		}
		record.Set("title", evt.Title)
		record.Set("price", evt.Price.InexactFloat64())
		record.Set("version", evt.Version)

		if err := txApp.SaveNoValidateWithContext(ctx, record); err != nil {
			return fmt.Errorf("save ticket replica: %w", err)
		}
		return nil
	})
	if err != nil {
		return decision, err
	}
	return decision, nil
}

func (s *OrderStore) expandTicket(ctx context.Context, order *models.Order) error {
	ticket, err := s.FindTicket(ctx, order.TicketID)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return nil
		}
		return err
	}
	order.Ticket = &ticket
	return nil
}

func appendOrderEvent(ctx context.Context, txApp core.App, order models.Order) error {
	if order.Ticket == nil {
		record, err := txApp.FindRecordById(schema.CollectionOrderTickets, order.TicketID)
		if err == nil {
			ticket := replicaFromRecord(record)
			order.Ticket = &ticket
		} else if !isNotFound(err) {
			return err
		}
	}

	evt, err := models.NewOutboxEvent(utils.NewRecordID(), models.AggregateOrder, order.ID, models.TopicForStatus(order.Status), order.Version, order.Event())
	if err != nil {
		return err
	}
	return appendEvent(ctx, txApp, evt)
}

func orderFromRecord(record *core.Record) models.Order {
	return models.Order{
		ID:        record.Id,
		UserID:    record.GetString("user_id"),
		Status:    models.OrderStatus(record.GetString("status")),
		ExpiresAt: record.GetDateTime("expires_at").Time(),
		TicketID:  record.GetString("ticket_id"),
		PaymentID: record.GetString("payment_id"),
		Version:   versionOf(record),
	}
}

func replicaFromRecord(record *core.Record) models.Ticket {
	return models.Ticket{
		ID:      record.Id,
		Title:   record.GetString("title"),
		Price:   priceOf(record),
		Version: versionOf(record),
	}
}
