package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing/internal/status"
	"ticketing/models"
)

// memoryReplica applies ticket events with the same version rules as the store.
type memoryReplica struct {
	mu       sync.Mutex
	versions map[string]int64
	calls    int
}

func newMemoryReplica() *memoryReplica {
	return &memoryReplica{versions: map[string]int64{}}
}

func (r *memoryReplica) ApplyTicketEvent(ctx context.Context, evt models.TicketEvent) (models.ApplyDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	local, exists := r.versions[evt.ID]
	decision := models.DecideVersion(local, exists, evt.Version)
	if decision == models.DecisionApply {
		r.versions[evt.ID] = evt.Version
	}
	return decision, nil
}

func (r *memoryReplica) version(id string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	return v, ok
}

func jsonMessage(t *testing.T, body any) *message.Message {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), payload)
}

func TestTicketReplicaHandler_Decisions(t *testing.T) {
	replica := newMemoryReplica()
	handle := TicketReplicaHandler("ticket-replica", replica)

	assert.NoError(t, handle(jsonMessage(t, models.TicketEvent{ID: "t1", Version: 0})))

	// duplicate is acknowledged
	assert.NoError(t, handle(jsonMessage(t, models.TicketEvent{ID: "t1", Version: 0})))

	// gap asks for redelivery
	err := handle(jsonMessage(t, models.TicketEvent{ID: "t1", Version: 2}))
	assert.ErrorIs(t, err, status.ErrVersionGap)

	assert.NoError(t, handle(jsonMessage(t, models.TicketEvent{ID: "t1", Version: 1})))
	assert.NoError(t, handle(jsonMessage(t, models.TicketEvent{ID: "t1", Version: 2})))

	v, ok := replica.version("t1")
	require.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestTicketReplicaHandler_DropsPoisonMessage(t *testing.T) {
	replica := newMemoryReplica()
	handle := TicketReplicaHandler("ticket-replica", replica)

	err := handle(message.NewMessage(watermill.NewUUID(), []byte("{not json")))

	assert.NoError(t, err)
	assert.Equal(t, 0, replica.calls)
}

type projectionFunc func(ctx context.Context, evt models.OrderEvent) (models.ApplyDecision, error)

func (f projectionFunc) ApplyOrderEvent(ctx context.Context, evt models.OrderEvent) (models.ApplyDecision, error) {
	return f(ctx, evt)
}

func TestOrderProjectionHandler_WakesRelayOnApply(t *testing.T) {
	wakes := 0
	decision := models.DecisionApply
	handle := OrderProjectionHandler("order-projection", projectionFunc(func(ctx context.Context, evt models.OrderEvent) (models.ApplyDecision, error) {
		return decision, nil
	}), func() { wakes++ })

	require.NoError(t, handle(jsonMessage(t, models.OrderEvent{ID: "o1"})))
	assert.Equal(t, 1, wakes)

	decision = models.DecisionStale
	require.NoError(t, handle(jsonMessage(t, models.OrderEvent{ID: "o1"})))
	assert.Equal(t, 1, wakes)
}

func TestOrderProjectionHandler_StoreErrorIsRetried(t *testing.T) {
	boom := errors.New("database is locked")
	handle := OrderProjectionHandler("order-projection", projectionFunc(func(ctx context.Context, evt models.OrderEvent) (models.ApplyDecision, error) {
		return models.DecisionApply, boom
	}), nil)

	assert.ErrorIs(t, handle(jsonMessage(t, models.OrderEvent{ID: "o1"})), boom)
}

type completerFunc func(ctx context.Context, orderID, paymentRef string) (models.Order, error)

func (f completerFunc) Complete(ctx context.Context, orderID, paymentRef string) (models.Order, error) {
	return f(ctx, orderID, paymentRef)
}

func TestPaymentHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"completed", nil, false},
		{"cancelled order is acknowledged", status.ErrOrderCancelled, false},
		{"unknown order is acknowledged", status.ErrOrderNotFound, false},
		{"version conflict is retried", status.ErrVersionConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOrder, gotRef string
			handle := PaymentHandler(completerFunc(func(ctx context.Context, orderID, paymentRef string) (models.Order, error) {
				gotOrder, gotRef = orderID, paymentRef
				return models.Order{}, tt.err
			}))

			err := handle(jsonMessage(t, models.PaymentCreatedEvent{ID: "p1", OrderID: "o1", PaymentRef: "ref"}))

			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, "o1", gotOrder)
			assert.Equal(t, "ref", gotRef)
		})
	}
}

type schedulerFunc func(ctx context.Context, orderID string, at time.Time) error

func (f schedulerFunc) Schedule(ctx context.Context, orderID string, at time.Time) error {
	return f(ctx, orderID, at)
}

func TestExpirationHandler(t *testing.T) {
	expiresAt := time.Date(2026, 10, 15, 9, 15, 0, 0, time.UTC)

	var gotID string
	var gotAt time.Time
	handle := ExpirationHandler(schedulerFunc(func(ctx context.Context, orderID string, at time.Time) error {
		gotID, gotAt = orderID, at
		return nil
	}))

	require.NoError(t, handle(jsonMessage(t, models.OrderEvent{ID: "o1", ExpiresAt: expiresAt})))
	assert.Equal(t, "o1", gotID)
	assert.True(t, expiresAt.Equal(gotAt))
}

type notifierFunc func(ctx context.Context, evt models.OrderEvent) error

func (f notifierFunc) NotifyOrder(ctx context.Context, evt models.OrderEvent) error {
	return f(ctx, evt)
}

func TestNotificationHandler_SwallowsErrors(t *testing.T) {
	handle := NotificationHandler(notifierFunc(func(ctx context.Context, evt models.OrderEvent) error {
		return errors.New("pubnub down")
	}))

	assert.NoError(t, handle(jsonMessage(t, models.OrderEvent{ID: "o1"})))
}

func TestRouter_RedeliversUntilPredecessorArrives(t *testing.T) {
	logger := watermill.NopLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	defer pubSub.Close()

	router, err := NewRouter(RouterConfig{
		Logger:          logger,
		Subscribers:     SharedSubscriber(pubSub),
		MaxRetries:      50,
		InitialInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	replica := newMemoryReplica()
	require.NoError(t, router.Handle("ticket-replica.created", models.TopicTicketCreated, TicketReplicaHandler("ticket-replica", replica)))
	require.NoError(t, router.Handle("ticket-replica.updated", models.TopicTicketUpdated, TicketReplicaHandler("ticket-replica", replica)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	// the update overtakes the creation
	require.NoError(t, pubSub.Publish(models.TopicTicketUpdated.String(), ToMessage(outboxEvent(t, "e2", models.TopicTicketUpdated, "t1", 1))))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, pubSub.Publish(models.TopicTicketCreated.String(), ToMessage(outboxEvent(t, "e1", models.TopicTicketCreated, "t1", 0))))

	assert.Eventually(t, func() bool {
		v, ok := replica.version("t1")
		return ok && v == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, router.Close())
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	logger := watermill.NopLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	defer pubSub.Close()

	router, err := NewRouter(RouterConfig{
		Logger:          logger,
		Subscribers:     SharedSubscriber(pubSub),
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, router.Handle("flaky", models.TopicOrderCreated, func(msg *message.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			panic("first attempt explodes")
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	require.NoError(t, pubSub.Publish(models.TopicOrderCreated.String(), jsonMessage(t, models.OrderEvent{ID: "o1"})))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, router.Close())
}
