package schema

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticketing/models"
)

const (
	// tickets service
	CollectionTickets      = "tickets"
	CollectionTicketOrders = "ticket_orders"

	// orders service
	CollectionOrders       = "orders"
	CollectionOrderTickets = "order_tickets"

	CollectionOutbox = "outbox_events"
)

// IndexActiveOrderPerTicket allows a single non-cancelled order per ticket.
const IndexActiveOrderPerTicket = "idx_orders_active_ticket"

var builders = []func() *core.Collection{
	ticketsCollection,
	ticketOrdersCollection,
	orderTicketsCollection,
	ordersCollection,
	outboxCollection,
}

// Apply creates every missing collection. Existing collections are left untouched.
func Apply(app core.App) error {
	for _, build := range builders {
		collection := build()

		if _, err := app.FindCollectionByNameOrId(collection.Name); err == nil {
			continue
		}

		if err := app.Save(collection); err != nil {
			return fmt.Errorf("create %s collection: %w", collection.Name, err)
		}
	}
	return nil
}

func Revert(app core.App) error {
	for i := len(builders) - 1; i >= 0; i-- {
		name := builders[i]().Name

		collection, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			continue
		}

		if err := app.Delete(collection); err != nil {
			return fmt.Errorf("delete %s collection: %w", name, err)
		}
	}
	return nil
}

func ticketsCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionTickets)
	c.Fields.Add(
		&core.TextField{Name: "title", Required: true, Max: 200},
		&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
		&core.TextField{Name: "user_id", Required: true},
		&core.TextField{Name: "order_id"},
		&core.NumberField{Name: "version", OnlyInt: true},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	c.AddIndex("idx_tickets_user", false, "user_id", "")
	c.AddIndex("idx_tickets_order", false, "order_id", "")
	return c
}

// ticketOrdersCollection is the tickets service projection of orders.
func ticketOrdersCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionTicketOrders)
	c.Fields.Add(
		&core.TextField{Name: "ticket_id", Required: true},
		&core.TextField{Name: "status", Required: true},
		&core.NumberField{Name: "version", OnlyInt: true},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	c.AddIndex("idx_ticket_orders_ticket", false, "ticket_id", "")
	return c
}

// orderTicketsCollection is the orders service replica of tickets.
func orderTicketsCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionOrderTickets)
	c.Fields.Add(
		&core.TextField{Name: "title", Required: true, Max: 200},
		&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
		&core.NumberField{Name: "version", OnlyInt: true},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	return c
}

func ordersCollection() *core.Collection {
	statuses := make([]string, 0, len(models.OrderStatuses))
	for _, s := range models.OrderStatuses {
		statuses = append(statuses, s.String())
	}

	c := core.NewBaseCollection(CollectionOrders)
	c.Fields.Add(
		&core.TextField{Name: "user_id", Required: true},
		&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: statuses},
		&core.DateField{Name: "expires_at", Required: true},
		&core.TextField{Name: "ticket_id", Required: true},
		&core.TextField{Name: "payment_id"},
		&core.NumberField{Name: "version", OnlyInt: true},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	c.AddIndex(IndexActiveOrderPerTicket, true, "ticket_id", "status != 'cancelled'")
	c.AddIndex("idx_orders_user", false, "user_id", "")
	c.AddIndex("idx_orders_status", false, "status", "")
	return c
}

func outboxCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionOutbox)
	c.Fields.Add(
		&core.TextField{Name: "aggregate", Required: true},
		&core.TextField{Name: "entity_id", Required: true},
		&core.TextField{Name: "topic", Required: true},
		&core.NumberField{Name: "version", OnlyInt: true},
		&core.TextField{Name: "payload"},
		&core.BoolField{Name: "published"},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	// one event per entity version
	c.AddIndex("idx_outbox_entity_version", true, "aggregate, entity_id, version", "")
	c.AddIndex("idx_outbox_pending", false, "published, created", "")
	return c
}
