package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"ticketing/internal/status"
	"ticketing/models"
	"ticketing/utils"
)

type OrderReader interface {
	Get(ctx context.Context, orderID, userID string) (models.Order, error)
}

// PaymentService stands in for the payment provider in development. It
// announces a successful charge the same way the payments service would.
type PaymentService struct {
	orders    OrderReader
	publisher message.Publisher
}

func NewPaymentService(orders OrderReader, publisher message.Publisher) *PaymentService {
	return &PaymentService{orders: orders, publisher: publisher}
}

func (s *PaymentService) SimulatePayment(ctx context.Context, orderID, userID string) (models.PaymentCreatedEvent, error) {
	order, err := s.orders.Get(ctx, orderID, userID)
	if err != nil {
		return models.PaymentCreatedEvent{}, err
	}
	if order.Status == models.OrderStatusCancelled {
		return models.PaymentCreatedEvent{}, status.ErrOrderCancelled
	}

	refID, err := utils.GenerateCode(6)
	if err != nil {
		return models.PaymentCreatedEvent{}, err
	}

	evt := models.PaymentCreatedEvent{
		ID:         utils.NewRecordID(),
		OrderID:    order.ID,
		PaymentRef: fmt.Sprintf("sim_%s", refID),
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return models.PaymentCreatedEvent{}, err
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("topic", models.TopicPaymentCreated.String())
	msg.Metadata.Set("entity_id", order.ID)
	msg.SetContext(ctx)

	if err := s.publisher.Publish(models.TopicPaymentCreated.String(), msg); err != nil {
		return models.PaymentCreatedEvent{}, fmt.Errorf("publish payment: %w", err)
	}

	slog.Info("Simulated payment published", "order_id", order.ID, "payment_ref", evt.PaymentRef)
	return evt, nil
}
