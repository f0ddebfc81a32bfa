package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status changes by target status",
		},
		[]string{"status"},
	)

	reservationConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_conflicts_total",
			Help: "Order attempts rejected because the ticket was already reserved",
		},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Outbox events published on the bus",
		},
		[]string{"topic", "status"},
	)

	eventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Consumed events by handler and version decision",
		},
		[]string{"handler", "decision"},
	)

	expirationsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_expirations_total",
			Help: "Expiration jobs processed",
		},
		[]string{"status"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	outboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Outbox events not yet published",
		},
	)

	relayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_flush_duration_seconds",
			Help:    "Duration of one outbox flush",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

// PendingCounter reports how many events still wait in the outbox.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type Monitor struct {
	outbox   PendingCounter
	interval time.Duration
}

func NewMonitor(outbox PendingCounter) *Monitor {
	return &Monitor{outbox: outbox, interval: 15 * time.Second}
}

// Run samples gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.collectOutboxMetrics(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collectOutboxMetrics(ctx context.Context) {
	if m.outbox == nil {
		return
	}

	n, err := m.outbox.CountPending(ctx)
	if err != nil {
		slog.Warn("Failed to count pending outbox events", "error", err)
		return
	}
	outboxPending.Set(float64(n))
}

func TrackOrderTransition(status string) {
	orderTransitions.WithLabelValues(status).Inc()
}

func TrackReservationConflict() {
	reservationConflicts.Inc()
}

func TrackPublish(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	eventsPublished.WithLabelValues(topic, status).Inc()
}

func TrackConsumed(handler, decision string) {
	eventsApplied.WithLabelValues(handler, decision).Inc()
}

func TrackExpiration(status string) {
	expirationsFired.WithLabelValues(status).Inc()
}

func TrackRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

func TrackFlush(d time.Duration) {
	relayLatency.Observe(d.Seconds())
}
