// Package expiration cancels orders that were not paid in time. Jobs live in
// Redis so they survive restarts of any process.
package expiration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/monitoring"
)

const TypeOrderExpiration = "order:expiration"

type Payload struct {
	OrderID string `json:"order_id"`
}

func NewTask(orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(Payload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderExpiration, payload), nil
}

// TaskID is stable per order, so scheduling the same order twice yields one job.
func TaskID(orderID string) string {
	return "order-expiration:" + orderID
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Scheduler struct {
	client Enqueuer
	queue  string
}

func NewScheduler(client Enqueuer, queue string) *Scheduler {
	if queue == "" {
		queue = "default"
	}
	return &Scheduler{client: client, queue: queue}
}

// Schedule arranges for orderID to be cancelled at the given time. A time in
// the past runs the job right away.
func (s *Scheduler) Schedule(ctx context.Context, orderID string, at time.Time) error {
	task, err := NewTask(orderID)
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(s.queue),
		asynq.TaskID(TaskID(orderID)),
		asynq.ProcessAt(at),
		asynq.MaxRetry(10),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		slog.Debug("Expiration already scheduled", "order_id", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("schedule expiration of %s: %w", orderID, err)
	}

	slog.Info("Expiration scheduled", "order_id", orderID, "at", at)
	return nil
}

type OrderCanceller interface {
	Cancel(ctx context.Context, orderID string) (models.Order, error)
}

type Handler struct {
	orders OrderCanceller
}

func NewHandler(orders OrderCanceller) *Handler {
	return &Handler{orders: orders}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		monitoring.TrackExpiration("invalid")
		return fmt.Errorf("decode expiration payload: %v: %w", err, asynq.SkipRetry)
	}

	order, err := h.orders.Cancel(ctx, p.OrderID)
	if errors.Is(err, status.ErrOrderNotFound) {
		monitoring.TrackExpiration("missing")
		return fmt.Errorf("order %s: %v: %w", p.OrderID, err, asynq.SkipRetry)
	}
	if err != nil {
		monitoring.TrackExpiration("error")
		return err
	}

	monitoring.TrackExpiration(order.Status.String())
	slog.Info("Expiration processed", "order_id", p.OrderID, "status", order.Status)
	return nil
}

func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeOrderExpiration, h)
	return mux
}

func NewServer(redisOpt asynq.RedisConnOpt, queue string, concurrency int) *asynq.Server {
	if queue == "" {
		queue = "default"
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      slogLogger{exit: os.Exit},
	})
}

type ActiveOrders interface {
	ListActive(ctx context.Context) ([]models.Order, error)
}

// Restore schedules every order that can still expire. Safe to run repeatedly.
func Restore(ctx context.Context, orders ActiveOrders, scheduler *Scheduler) (int, error) {
	active, err := orders.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	for _, order := range active {
		if err := scheduler.Schedule(ctx, order.ID, order.ExpiresAt); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

// slogLogger routes asynq logs through slog. Fatal exits like asynq's own logger.
type slogLogger struct {
	exit func(code int)
}

func (slogLogger) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Info(args ...any)  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Error(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (l slogLogger) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true)
	l.exit(1)
}
