// Package events moves outbox entries onto the message bus and applies
// incoming events to local copies.
package events

import (
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"ticketing/models"
)

const (
	MetadataTopic     = "topic"
	MetadataAggregate = "aggregate"
	MetadataEntityID  = "entity_id"
	MetadataVersion   = "version"
)

func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(slog.Default())
}

func NewPublisher(rdb redis.UniversalClient, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
}

// SubscriberFactory returns the subscriber for one named handler.
type SubscriberFactory func(handlerName string) (message.Subscriber, error)

// RedisSubscribers gives every handler its own consumer group so each handler sees every message.
func RedisSubscribers(rdb redis.UniversalClient, service string, logger watermill.LoggerAdapter) SubscriberFactory {
	return func(handlerName string) (message.Subscriber, error) {
		return redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        rdb,
			ConsumerGroup: service + "." + handlerName,
		}, logger)
	}
}

// SharedSubscriber hands the same subscriber to every handler. Used with in-memory pub/subs.
func SharedSubscriber(sub message.Subscriber) SubscriberFactory {
	return func(string) (message.Subscriber, error) {
		return sub, nil
	}
}

// ToMessage wraps an outbox entry. The outbox id doubles as the message id so
// consumers can spot republished entries.
func ToMessage(evt models.OutboxEvent) *message.Message {
	msg := message.NewMessage(evt.ID, message.Payload(evt.Payload))
	msg.Metadata.Set(MetadataTopic, evt.Topic.String())
	msg.Metadata.Set(MetadataAggregate, string(evt.Aggregate))
	msg.Metadata.Set(MetadataEntityID, evt.EntityID)
	msg.Metadata.Set(MetadataVersion, strconv.FormatInt(evt.Version, 10))
	return msg
}
