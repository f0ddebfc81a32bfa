package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing/internal/schema"
	"ticketing/internal/services"
	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/utils"
)

func newTestApp(t *testing.T) *tests.TestApp {
	t.Helper()

	app, err := tests.NewTestApp()
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	require.NoError(t, schema.Apply(app))
	return app
}

func newTicket(userID string) models.Ticket {
	return models.Ticket{
		ID:     utils.NewRecordID(),
		Title:  "concert",
		Price:  decimal.NewFromInt(20),
		UserID: userID,
	}
}

func seedReplica(t *testing.T, orders *OrderStore, ticket models.Ticket) {
	t.Helper()
	decision, err := orders.ApplyTicketEvent(context.Background(), ticket.Event())
	require.NoError(t, err)
	require.Equal(t, models.DecisionApply, decision)
}

func newOrder(ticketID, userID string) models.Order {
	return models.Order{
		ID:        utils.NewRecordID(),
		UserID:    userID,
		Status:    models.OrderStatusCreated,
		ExpiresAt: time.Now().Add(15 * time.Minute),
		TicketID:  ticketID,
	}
}

func TestTicketStore_CreateRecordsEvent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tickets := NewTicketStore(app)
	outbox := NewOutboxStore(app)

	created, err := tickets.Create(ctx, newTicket("user1"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Version)

	got, err := tickets.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "concert", got.Title)
	assert.True(t, decimal.NewFromInt(20).Equal(got.Price))

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.TopicTicketCreated, pending[0].Topic)
	assert.Equal(t, created.ID, pending[0].EntityID)
	assert.Equal(t, int64(0), pending[0].Version)
}

func TestTicketStore_GetMissing(t *testing.T) {
	app := newTestApp(t)

	_, err := NewTicketStore(app).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestTicketStore_UpdateChecksVersion(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tickets := NewTicketStore(app)

	ticket, err := tickets.Create(ctx, newTicket("user1"))
	require.NoError(t, err)

	ticket.Title = "new title"
	ticket.Price = decimal.NewFromInt(30)

	_, err = tickets.Update(ctx, ticket, 5)
	assert.ErrorIs(t, err, status.ErrVersionConflict)

	updated, err := tickets.Update(ctx, ticket, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "new title", updated.Title)

	// the same expected version cannot win twice
	_, err = tickets.Update(ctx, ticket, 0)
	assert.ErrorIs(t, err, status.ErrVersionConflict)

	pending, err := NewOutboxStore(app).Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.TopicTicketUpdated, pending[1].Topic)
	assert.Equal(t, int64(1), pending[1].Version)
}

func TestTicketStore_ApplyOrderEventReservesAndReleases(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tickets := NewTicketStore(app)

	ticket, err := tickets.Create(ctx, newTicket("user1"))
	require.NoError(t, err)

	order := newOrder(ticket.ID, "user2")
	evt := order.Event()

	decision, err := tickets.ApplyOrderEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApply, decision)

	reserved, err := tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, reserved.OrderID)
	assert.Equal(t, int64(1), reserved.Version)

	_, err = tickets.Update(ctx, reserved, reserved.Version)
	assert.ErrorIs(t, err, status.ErrTicketLocked)

	// redelivery is discarded
	decision, err = tickets.ApplyOrderEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStale, decision)

	cancelled := evt
	cancelled.Status = models.OrderStatusCancelled
	cancelled.Version = 3

	decision, err = tickets.ApplyOrderEvent(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionGap, decision)

	cancelled.Version = 1
	decision, err = tickets.ApplyOrderEvent(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApply, decision)

	released, err := tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, released.Reserved())
	assert.Equal(t, int64(2), released.Version)

	available, err := tickets.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, ticket.ID, available[0].ID)
}

func TestTicketStore_ApplyOrderEventIgnoresForeignCancel(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tickets := NewTicketStore(app)

	ticket, err := tickets.Create(ctx, newTicket("user1"))
	require.NoError(t, err)

	current := newOrder(ticket.ID, "user2")
	_, err = tickets.ApplyOrderEvent(ctx, current.Event())
	require.NoError(t, err)

	// an older order's cancellation arrives late
	old := newOrder(ticket.ID, "user3")
	old.Status = models.OrderStatusCancelled
	_, err = tickets.ApplyOrderEvent(ctx, old.Event())
	require.NoError(t, err)

	got, err := tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.OrderID)
	assert.Equal(t, int64(1), got.Version)
}

func TestTicketStore_ApplyOrderEventAcrossTopicsKeepsNewestHolder(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tickets := NewTicketStore(app)

	ticket, err := tickets.Create(ctx, newTicket("seller"))
	require.NoError(t, err)

	first := newOrder(ticket.ID, "user1")
	created := first.Event()

	awaiting := created
	awaiting.Status = models.OrderStatusAwaitingPayment
	awaiting.Version = 1

	cancelled := created
	cancelled.Status = models.OrderStatusCancelled
	cancelled.Version = 2

	second := newOrder(ticket.ID, "user2").Event()

	// each topic is consumed independently, so the first order's update
	// lands after the second order was created
	steps := []struct {
		evt  models.OrderEvent
		want models.ApplyDecision
	}{
		{created, models.DecisionApply},
		{cancelled, models.DecisionGap},
		{second, models.DecisionApply},
		{awaiting, models.DecisionApply},
		{cancelled, models.DecisionApply},
	}
	for _, step := range steps {
		decision, err := tickets.ApplyOrderEvent(ctx, step.evt)
		require.NoError(t, err)
		require.Equal(t, step.want, decision, "order %s v%d", step.evt.ID, step.evt.Version)
	}

	got, err := tickets.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, got.Reserved())
	assert.Equal(t, second.ID, got.OrderID)

	available, err := tickets.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Empty(t, available)

	_, err = tickets.Update(ctx, got, got.Version)
	assert.ErrorIs(t, err, status.ErrTicketLocked)
}

func TestOrderService_ConcurrentCreateReservesOnce(t *testing.T) {
	app := newTestApp(t)
	orders := NewOrderStore(app)

	ticket := newTicket("seller")
	seedReplica(t, orders, ticket)

	svc := services.NewOrderService(orders, 15*time.Minute, nil)

	const attempts = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		reserved int
		other    []error
	)

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			_, err := svc.Create(context.Background(), ticket.ID, utils.NewRecordID())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, status.ErrTicketReserved):
				reserved++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, reserved)

	active, err := orders.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestOrderStore_SingleActiveOrderPerTicket(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	orders := NewOrderStore(app)

	ticket := newTicket("seller")
	seedReplica(t, orders, ticket)

	first, err := orders.Create(ctx, newOrder(ticket.ID, "user1"))
	require.NoError(t, err)

	reserved, err := orders.IsReserved(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, reserved)

	_, err = orders.Create(ctx, newOrder(ticket.ID, "user2"))
	assert.ErrorIs(t, err, status.ErrTicketReserved)

	_, err = orders.Transition(ctx, first, models.OrderStatusCancelled, "")
	require.NoError(t, err)

	reserved, err = orders.IsReserved(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, reserved)

	_, err = orders.Create(ctx, newOrder(ticket.ID, "user2"))
	assert.NoError(t, err)
}

func TestOrderStore_TransitionChecksVersion(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	orders := NewOrderStore(app)

	ticket := newTicket("seller")
	seedReplica(t, orders, ticket)

	order, err := orders.Create(ctx, newOrder(ticket.ID, "user1"))
	require.NoError(t, err)

	completed, err := orders.Transition(ctx, order, models.OrderStatusComplete, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed.Version)
	assert.Equal(t, "pay_1", completed.PaymentID)

	// stale copy loses
	_, err = orders.Transition(ctx, order, models.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, status.ErrVersionConflict)

	got, err := orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusComplete, got.Status)
	require.NotNil(t, got.Ticket)
	assert.Equal(t, ticket.Title, got.Ticket.Title)

	pending, err := NewOutboxStore(app).Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.TopicOrderCreated, pending[0].Topic)
	assert.Equal(t, models.TopicOrderCompleted, pending[1].Topic)
	assert.Contains(t, string(pending[1].Payload), `"price":20`)
}

func TestOrderStore_ListQueries(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	orders := NewOrderStore(app)

	t1, t2 := newTicket("seller"), newTicket("seller")
	seedReplica(t, orders, t1)
	seedReplica(t, orders, t2)

	a, err := orders.Create(ctx, newOrder(t1.ID, "user1"))
	require.NoError(t, err)
	b, err := orders.Create(ctx, newOrder(t2.ID, "user2"))
	require.NoError(t, err)
	_, err = orders.Transition(ctx, b, models.OrderStatusComplete, "pay")
	require.NoError(t, err)

	mine, err := orders.ListByUser(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	active, err := orders.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

func TestOrderStore_ApplyTicketEvent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	orders := NewOrderStore(app)

	ticket := newTicket("seller")
	ticket.Version = 1

	decision, err := orders.ApplyTicketEvent(ctx, ticket.Event())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionGap, decision)

	_, err = orders.FindTicket(ctx, ticket.ID)
	assert.ErrorIs(t, err, status.ErrTicketNotFound)

	ticket.Version = 0
	seedReplica(t, orders, ticket)

	ticket.Version = 1
	ticket.Price = decimal.NewFromInt(35)
	decision, err = orders.ApplyTicketEvent(ctx, ticket.Event())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApply, decision)

	decision, err = orders.ApplyTicketEvent(ctx, ticket.Event())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStale, decision)

	got, err := orders.FindTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(35).Equal(got.Price))
	assert.Equal(t, int64(1), got.Version)
}

func TestOutboxStore_PublishBookkeeping(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tickets := NewTicketStore(app)
	outbox := NewOutboxStore(app)

	for i := 0; i < 3; i++ {
		_, err := tickets.Create(ctx, newTicket("user1"))
		require.NoError(t, err)
	}

	count, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	batch, err := outbox.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, outbox.MarkPublished(ctx, batch[0].ID, batch[1].ID))

	rest, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, batch[0].ID, rest[0].ID)

	recent, err := outbox.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, rest[0].ID, recent[0].ID)
	assert.True(t, recent[2].Published)
}
