package notifications

import (
	"context"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

// EmailSender and SMSSender are the messaging-channel collaborators.
// Sends are fire-and-forget from the pipeline's point of view: failures
// are logged by the dispatcher and never requeue the broker message.
type EmailSender interface {
	SendOrderConfirmation(ctx context.Context, to, orderID string, items []domain.OrderItemPayload, total float64) error
	SendPaymentConfirmation(ctx context.Context, to, orderID string, amount float64) error
}

type SMSSender interface {
	SendOrderNotification(ctx context.Context, phone, orderID string) error
	SendPaymentNotification(ctx context.Context, phone, orderID string, amount float64) error
}

// LogEmailSender is the development sender: it records the message instead
// of talking to a provider.
type LogEmailSender struct {
	logger *zap.Logger
}

func NewLogEmailSender(l *zap.Logger) *LogEmailSender {
	return &LogEmailSender{logger: l.With(zap.String("channel", "email"))}
}

func (s *LogEmailSender) SendOrderConfirmation(_ context.Context, to, orderID string, items []domain.OrderItemPayload, total float64) error {
	s.logger.Info("Order confirmation email sent",
		zap.String("to", to),
		zap.String("order_id", orderID),
		zap.Int("item_count", len(items)),
		zap.Float64("total", total))
	return nil
}

func (s *LogEmailSender) SendPaymentConfirmation(_ context.Context, to, orderID string, amount float64) error {
	s.logger.Info("Payment confirmation email sent",
		zap.String("to", to),
		zap.String("order_id", orderID),
		zap.Float64("amount", amount))
	return nil
}

type LogSMSSender struct {
	logger *zap.Logger
}

func NewLogSMSSender(l *zap.Logger) *LogSMSSender {
	return &LogSMSSender{logger: l.With(zap.String("channel", "sms"))}
}

func (s *LogSMSSender) SendOrderNotification(_ context.Context, phone, orderID string) error {
	s.logger.Info("Order notification SMS sent",
		zap.String("phone", phone),
		zap.String("order_id", orderID))
	return nil
}

func (s *LogSMSSender) SendPaymentNotification(_ context.Context, phone, orderID string, amount float64) error {
	s.logger.Info("Payment notification SMS sent",
		zap.String("phone", phone),
		zap.String("order_id", orderID),
		zap.Float64("amount", amount))
	return nil
}
