package order_repo

import (
	"context"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

type OrderRepository interface {
	// CreateOrderWithMessage writes the order, its line items and the
	// order.created outbox row in a single transaction.
	CreateOrderWithMessage(ctx context.Context, order *domain.Order, msg *domain.OutboxMessage) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	// UpdateOrderStatus persists a transition guarded by the status the
	// caller observed; a concurrent transition surfaces as sql.ErrNoRows.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
}
