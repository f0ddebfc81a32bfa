package events

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"ticketing/models"
)

// Router runs the consumers of one process.
type Router struct {
	*message.Router
	subscribers SubscriberFactory
}

type RouterConfig struct {
	Logger      watermill.LoggerAdapter
	Subscribers SubscriberFactory
	MaxRetries  int
	// InitialInterval is the first retry delay. Defaults to 100ms.
	InitialInterval time.Duration
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, cfg.Logger)
	if err != nil {
		return nil, err
	}

	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: initial,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Logger:          cfg.Logger,
	}

	// panics become errors and are retried like any other failure
	router.AddMiddleware(retry.Middleware, middleware.Recoverer)

	return &Router{Router: router, subscribers: cfg.Subscribers}, nil
}

// Handle subscribes fn to topic under a unique handler name.
func (r *Router) Handle(name string, topic models.Topic, fn message.NoPublishHandlerFunc) error {
	sub, err := r.subscribers(name)
	if err != nil {
		return fmt.Errorf("subscriber for %s: %w", name, err)
	}

	r.AddNoPublisherHandler(name, topic.String(), sub, fn)
	return nil
}
