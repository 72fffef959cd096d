package payments_repo

import (
	"context"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

type PaymentRepository interface {
	// CreatePayment inserts a pending payment row. A second payment for the
	// same order is rejected with domain.ErrPaymentExists via the unique
	// constraint on order_id.
	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error)
	// ResolvePendingWithMessage transitions the payment matched by gateway
	// intent reference from pending to the given terminal status and writes
	// the lifecycle event to the outbox, all in one transaction. It reports
	// false without error when the row is no longer pending, which makes
	// duplicate gateway callbacks a no-op.
	ResolvePendingWithMessage(ctx context.Context, intentID string, status domain.PaymentStatus, msg *domain.OutboxMessage) (bool, error)
}
