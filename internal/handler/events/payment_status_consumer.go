package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/app/orders"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

// PaymentStatusConsumer adapts payment.* deliveries to the order service.
// It owns one durable queue bound to the payment.* pattern and dispatches
// on the routing key.
type PaymentStatusConsumer struct {
	orderService orders.OrderService
	logger       *zap.Logger
}

func NewPaymentStatusConsumer(s orders.OrderService, l *zap.Logger) *PaymentStatusConsumer {
	return &PaymentStatusConsumer{orderService: s, logger: l}
}

func (c *PaymentStatusConsumer) HandleMessage(ctx context.Context, routingKey string, body []byte) error {
	switch routingKey {
	case domain.EventPaymentCompleted:
		var event domain.PaymentCompletedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			// Malformed payloads cannot be repaired by redelivery.
			c.logger.Error("Dropping malformed payment.completed message",
				zap.Error(err), zap.ByteString("raw", body))
			return nil
		}
		c.logger.Info("Payment completed event received", zap.String("order_id", event.OrderID))
		return c.orderService.HandlePaymentCompleted(ctx, &event)

	case domain.EventPaymentFailed:
		var event domain.PaymentFailedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.logger.Error("Dropping malformed payment.failed message",
				zap.Error(err), zap.ByteString("raw", body))
			return nil
		}
		c.logger.Info("Payment failed event received",
			zap.String("order_id", event.OrderID),
			zap.String("reason", event.Reason))
		return c.orderService.HandlePaymentFailed(ctx, &event)

	default:
		c.logger.Debug("Ignoring payment event", zap.String("routing_key", routingKey))
		return nil
	}
}
