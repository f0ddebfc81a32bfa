package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"

	"ticketing/config"
	"ticketing/models"
	"ticketing/utils"
)

// Publisher delivers a realtime message to one channel.
type Publisher interface {
	Publish(channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(cfg *config.Config) Publisher {
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	return &pubnubPublisher{pn: pubnub.NewPubNub(pnConfig)}
}

func (p *pubnubPublisher) Publish(channel string, message any) error {
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

// NotificationService pushes order status changes to the buyer's channel.
type NotificationService struct {
	publisher Publisher
	breaker   *utils.CircuitBreaker
}

func NewNotificationService(publisher Publisher) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		breaker:   utils.NewCircuitBreaker("pubnub"),
	}
}

func UserChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

// NotifyOrder is best effort. While the breaker is open messages are dropped.
func (s *NotificationService) NotifyOrder(ctx context.Context, evt models.OrderEvent) error {
	message := map[string]any{
		"type":       models.TopicForStatus(evt.Status).String(),
		"order_id":   evt.ID,
		"ticket_id":  evt.Ticket.ID,
		"status":     evt.Status,
		"expires_at": evt.ExpiresAt,
		"version":    evt.Version,
	}

	_, err := s.breaker.Execute(ctx, func() (any, error) {
		return nil, s.publisher.Publish(UserChannel(evt.UserID), message)
	})
	if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
		slog.Warn("Notification dropped", "order_id", evt.ID, "breaker", s.breaker.State().String())
		return nil
	}
	return err
}
