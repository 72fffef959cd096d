package notifications

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/broker"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

const (
	orderQueue   = "notification.orders"
	paymentQueue = "notification.payments"
)

// Dispatcher is a pure consumer of order.* and payment.* events. It is
// best-effort by contract: a failed send on one channel never skips the
// other channel and never requeues the broker message, so its handlers
// always return nil.
type Dispatcher struct {
	contacts ContactStore
	email    EmailSender
	sms      SMSSender
	logger   *zap.Logger
}

func NewDispatcher(contacts ContactStore, email EmailSender, sms SMSSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		contacts: contacts,
		email:    email,
		sms:      sms,
		logger:   logger,
	}
}

// Register binds the dispatcher's durable queues to the exchange.
func (d *Dispatcher) Register(b broker.Broker, exchange string) error {
	if err := b.Subscribe(exchange, orderQueue, "order.*", d.HandleOrderEvent); err != nil {
		return err
	}
	return b.Subscribe(exchange, paymentQueue, "payment.*", d.HandlePaymentEvent)
}

func (d *Dispatcher) HandleOrderEvent(ctx context.Context, routingKey string, body []byte) error {
	if routingKey != domain.EventOrderCreated {
		d.logger.Debug("Ignoring order event", zap.String("routing_key", routingKey))
		return nil
	}

	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		d.logger.Error("Dropping malformed order.created message", zap.Error(err))
		return nil
	}

	d.logger.Info("Order created event received", zap.String("order_id", event.OrderID))

	contact := Contact{Email: event.Email, Phone: event.Phone}
	if contact.Email != "" || contact.Phone != "" {
		if err := d.contacts.Save(ctx, event.OrderID, contact); err != nil {
			d.logger.Error("Failed to store contact for order",
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
	}

	if contact.Email != "" {
		if err := d.email.SendOrderConfirmation(ctx, contact.Email, event.OrderID, event.Items, event.Total); err != nil {
			d.logger.Error("Failed to send order confirmation email",
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
	}
	if contact.Phone != "" {
		if err := d.sms.SendOrderNotification(ctx, contact.Phone, event.OrderID); err != nil {
			d.logger.Error("Failed to send order notification SMS",
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) HandlePaymentEvent(ctx context.Context, routingKey string, body []byte) error {
	if routingKey != domain.EventPaymentCompleted {
		d.logger.Debug("Ignoring payment event", zap.String("routing_key", routingKey))
		return nil
	}

	var event domain.PaymentCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		d.logger.Error("Dropping malformed payment.completed message", zap.Error(err))
		return nil
	}

	d.logger.Info("Payment completed event received",
		zap.String("order_id", event.OrderID),
		zap.Float64("amount", event.Amount))

	contact, err := d.contacts.Get(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			d.logger.Info("No contact known for order, skipping payment notification",
				zap.String("order_id", event.OrderID))
		} else {
			d.logger.Error("Failed to resolve contact for order",
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
		return nil
	}

	if contact.Email != "" {
		if err := d.email.SendPaymentConfirmation(ctx, contact.Email, event.OrderID, event.Amount); err != nil {
			d.logger.Error("Failed to send payment confirmation email",
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
	}
	if contact.Phone != "" {
		if err := d.sms.SendPaymentNotification(ctx, contact.Phone, event.OrderID, event.Amount); err != nil {
			d.logger.Error("Failed to send payment notification SMS",
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		}
	}
	return nil
}
