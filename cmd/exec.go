package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ticketing/config"
	"ticketing/internal/events"
	"ticketing/internal/expiration"
	"ticketing/internal/handlers"
	"ticketing/internal/services"
	"ticketing/internal/store"
	"ticketing/models"
	"ticketing/monitoring"
	"ticketing/security"
	"ticketing/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisOpts := utils.RedisOptions(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	redisClient, err := utils.NewRedisClient(redisOpts)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Message bus
	busLogger := events.NewLogger()
	publisher, err := events.NewPublisher(redisClient, busLogger)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer publisher.Close()

	// Stores
	ticketStore := store.NewTicketStore(app)
	orderStore := store.NewOrderStore(app)
	outboxStore := store.NewOutboxStore(app)

	relay := events.NewRelay(outboxStore, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	// Initialize services
	ticketService := services.NewTicketService(ticketStore, relay.Wake)
	orderService := services.NewOrderService(orderStore, cfg.OrderExpirationWindow, relay.Wake)
	paymentService := services.NewPaymentService(orderService, publisher)
	notificationService := services.NewNotificationService(services.NewPubNubPublisher(cfg))

	// Expiration jobs
	asynqOpt := asynq.RedisClientOpt{
		Addr:     redisOpts.Addr,
		Username: redisOpts.Username,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer asynqClient.Close()
	scheduler := expiration.NewScheduler(asynqClient, cfg.ExpirationQueue)

	router, err := events.NewRouter(events.RouterConfig{
		Logger:      busLogger,
		Subscribers: events.RedisSubscribers(redisClient, "ticketing", busLogger),
		MaxRetries:  cfg.ConsumerMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("create event router: %w", err)
	}

	err = registerConsumers(router, cfg, consumers{
		tickets:       ticketStore,
		orders:        orderStore,
		orderService:  orderService,
		scheduler:     scheduler,
		notifications: notificationService,
		wake:          relay.Wake,
	})
	if err != nil {
		return err
	}

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(ticketService)
	orderHandler := handlers.NewOrderHandler(orderService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	adminHandler := handlers.NewAdminHandler(outboxStore)
	healthHandler := handlers.NewHealthHandler(redisClient)
	limiter := security.NewRateLimiter(redisClient, cfg.OrderRateLimit, cfg.OrderRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	app.RootCmd.AddCommand(rescheduleCommand(orderStore, scheduler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers, workersCtx := errgroup.WithContext(ctx)

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		se.Router.Bind(&hook.Handler[*core.RequestEvent]{
			Id:       "ticketingSessionCookie",
			Func:     security.LoadSessionCookie,
			Priority: apis.DefaultLoadAuthTokenMiddlewarePriority + 1,
		})

		if cfg.Runs(config.RoleTickets) {
			se.Router.GET("/api/tickets", ticketHandler.ListTickets)
			se.Router.GET("/api/tickets/{id}", ticketHandler.GetTicket)
			se.Router.POST("/api/tickets", ticketHandler.CreateTicket).Bind(apis.RequireAuth())
			se.Router.PUT("/api/tickets/{id}", ticketHandler.UpdateTicket).Bind(apis.RequireAuth())
		}

		if cfg.Runs(config.RoleOrders) {
			se.Router.POST("/api/orders", orderHandler.CreateOrder).
				Bind(apis.RequireAuth()).
				BindFunc(security.AntiBot).
				BindFunc(limiter.Limit("orders"))
			se.Router.GET("/api/orders", orderHandler.ListOrders).Bind(apis.RequireAuth())
			se.Router.GET("/api/orders/{id}", orderHandler.GetOrder).Bind(apis.RequireAuth())
			se.Router.POST("/api/orders/{id}/checkout", orderHandler.Checkout).Bind(apis.RequireAuth())
			se.Router.DELETE("/api/orders/{id}", orderHandler.CancelOrder).Bind(apis.RequireAuth())

			// Test endpoint for payment simulation
			if cfg.IsDevelopment() {
				se.Router.POST("/api/test/simulate-payment", paymentHandler.SimulatePayment).Bind(apis.RequireAuth())
			}
		}

		se.Router.GET("/api/admin/outbox", adminHandler.GetOutboxDashboard).Bind(apis.RequireSuperuserAuth())
		se.Router.GET("/health", healthHandler.Check)

		se.App.Logger().Info("Server routes registered", "role", cfg.ServiceRole)

		startWorkers(workersCtx, workers, cfg, background{
			relay:        relay,
			router:       router,
			orderService: orderService,
			orders:       orderStore,
			scheduler:    scheduler,
			asynqOpt:     asynqOpt,
			monitor:      monitoring.NewMonitor(outboxStore),
		})
		go superviseWorkers(workers, terminate)

		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		if err := workers.Wait(); err != nil {
			slog.Error("Background worker failed", "error", err)
		}
		return e.Next()
	})

	// Start server
	return app.Start()
}

// superviseWorkers calls stop once any background worker fails. By then the
// group context has stopped every other worker too.
func superviseWorkers(group *errgroup.Group, stop func()) {
	if err := group.Wait(); err != nil {
		slog.Error("Background worker failed, shutting down", "error", err)
		stop()
	}
}

// terminate asks the running app to shut down through its own signal handling.
func terminate() {
	p, err := os.FindProcess(os.Getpid())
	if err == nil {
		err = p.Signal(syscall.SIGTERM)
	}
	if err != nil {
		slog.Error("Failed to signal shutdown", "error", err)
		os.Exit(1)
	}
}

type consumers struct {
	tickets       *store.TicketStore
	orders        *store.OrderStore
	orderService  *services.OrderService
	scheduler     *expiration.Scheduler
	notifications *services.NotificationService
	wake          func()
}

// registerConsumers subscribes the handlers of every role this process runs.
// Handler names double as consumer group names and must stay stable.
func registerConsumers(router *events.Router, cfg *config.Config, c consumers) error {
	var errs []error
	handle := func(name string, topic models.Topic, fn func(name string) error) {
		errs = append(errs, fn(name+"."+topic.String()))
	}

	if cfg.Runs(config.RoleTickets) {
		for _, topic := range models.OrderTopics {
			handle("tickets.order-projection", topic, func(name string) error {
				return router.Handle(name, topic, events.OrderProjectionHandler(name, c.tickets, c.wake))
			})
		}
	}

	if cfg.Runs(config.RoleOrders) {
		for _, topic := range []models.Topic{models.TopicTicketCreated, models.TopicTicketUpdated} {
			handle("orders.ticket-replica", topic, func(name string) error {
				return router.Handle(name, topic, events.TicketReplicaHandler(name, c.orders))
			})
		}

		handle("orders.payments", models.TopicPaymentCreated, func(name string) error {
			return router.Handle(name, models.TopicPaymentCreated, events.PaymentHandler(c.orderService))
		})

		for _, topic := range models.OrderTopics {
			handle("orders.notify", topic, func(name string) error {
				return router.Handle(name, topic, events.NotificationHandler(c.notifications))
			})
		}
	}

	if cfg.Runs(config.RoleExpiration) {
		handle("expiration.schedule", models.TopicOrderCreated, func(name string) error {
			return router.Handle(name, models.TopicOrderCreated, events.ExpirationHandler(c.scheduler))
		})
	}

	return errors.Join(errs...)
}

type background struct {
	relay        *events.Relay
	router       *events.Router
	orderService *services.OrderService
	orders       *store.OrderStore
	scheduler    *expiration.Scheduler
	asynqOpt     asynq.RedisConnOpt
	monitor      *monitoring.Monitor
}

func startWorkers(ctx context.Context, group *errgroup.Group, cfg *config.Config, b background) {
	group.Go(func() error {
		return b.relay.Run(ctx)
	})

	group.Go(func() error {
		return b.router.Run(ctx)
	})

	// expiration jobs cancel orders, so they run next to the orders data
	if cfg.Runs(config.RoleOrders) {
		server := expiration.NewServer(b.asynqOpt, cfg.ExpirationQueue, cfg.ExpirationConcurrency)

		group.Go(func() error {
			if err := server.Start(expiration.NewServeMux(expiration.NewHandler(b.orderService))); err != nil {
				return fmt.Errorf("start expiration server: %w", err)
			}
			<-ctx.Done()
			server.Shutdown()
			return nil
		})

		group.Go(func() error {
			n, err := expiration.Restore(ctx, b.orders, b.scheduler)
			if err != nil {
				slog.Error("Failed to restore expiration jobs", "error", err)
				return nil
			}
			slog.Info("Expiration jobs restored", "orders", n)
			return nil
		})
	}

	if cfg.EnableMetrics {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		group.Go(func() error {
			slog.Info("Metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})

		group.Go(func() error {
			return b.monitor.Run(ctx)
		})
	}
}

// rescheduleCommand re-enqueues the expiration job of every open order, for
// example after the Redis data was lost.
func rescheduleCommand(orders expiration.ActiveOrders, scheduler *expiration.Scheduler) *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule",
		Short: "Schedule expiration jobs for all open orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := expiration.Restore(cmd.Context(), orders, scheduler)
			if err != nil {
				return err
			}
			slog.Info("Expiration jobs scheduled", "orders", n)
			return nil
		},
	}
}
