package refunds_repo

import (
	"context"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

type RefundRepository interface {
	// CreateRefundWithMessage writes the refund row, optionally flips the
	// parent payment to refunded (when the refund exhausts the original
	// amount) and records the payment.refunded outbox event, in one
	// transaction.
	CreateRefundWithMessage(ctx context.Context, refund *domain.Refund, markPaymentRefunded bool, msg *domain.OutboxMessage) error
	// SumRefunded returns the cumulative refunded amount for a payment.
	SumRefunded(ctx context.Context, paymentID string) (float64, error)
	GetByPaymentID(ctx context.Context, paymentID string) ([]*domain.Refund, error)
}
