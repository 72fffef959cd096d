package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/order_repo"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/util"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order data")
	ErrInvalidStatus = errors.New("invalid order status")
)

type OrderService interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*OrderResponse, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]*OrderResponse, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status string) (*OrderResponse, error)
	HandlePaymentCompleted(ctx context.Context, event *domain.PaymentCompletedEvent) error
	HandlePaymentFailed(ctx context.Context, event *domain.PaymentFailedEvent) error
}

type orderService struct {
	orderRepo order_repo.OrderRepository
	exchange  string
	logger    *zap.Logger
}

func NewOrderService(orderRepo order_repo.OrderRepository, exchange string, logger *zap.Logger) OrderService {
	return &orderService{
		orderRepo: orderRepo,
		exchange:  exchange,
		logger:    logger,
	}
}

// CreateOrder writes the order, its immutable line-item snapshot and the
// order.created outbox row in one transaction. A failed creation therefore
// never produces a dangling event.
func (s *orderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price}
	}

	orderID := util.GenerateUUID()
	order, err := domain.NewOrder(orderID, req.UserID, items, req.ShippingAddress, req.Email, req.Phone)
	if err != nil {
		s.logger.Warn("Rejected invalid order request", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	event := domain.OrderCreatedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Items:     mapItemsToPayload(order.Items),
		Total:     order.Total,
		Email:     order.CustomerEmail,
		Phone:     order.CustomerPhone,
		Timestamp: order.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal order.created payload", zap.String("order_id", order.ID), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	msg := &domain.OutboxMessage{
		ID:         util.GenerateUUID(),
		Exchange:   s.exchange,
		RoutingKey: domain.EventOrderCreated,
		Payload:    payload,
		Status:     domain.OutboxStatusPending,
		CreatedAt:  order.CreatedAt,
	}

	if err := s.orderRepo.CreateOrderWithMessage(ctx, order, msg); err != nil {
		s.logger.Error("Failed to save order and outbox message", zap.String("order_id", order.ID), zap.Error(err))
		return nil, errors.New("failed to create order")
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Float64("total", order.Total))
	return mapOrderToResponse(order), nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		s.logger.Error("Failed to get order", zap.String("order_id", orderID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	return mapOrderToResponse(order), nil
}

func (s *orderService) GetOrdersByUserID(ctx context.Context, userID string) ([]*OrderResponse, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to get orders for user", zap.String("user_id", userID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	responses := make([]*OrderResponse, len(orders))
	for i, order := range orders {
		responses[i] = mapOrderToResponse(order)
	}
	return responses, nil
}

// UpdateOrderStatus is the administrative path for shipped, delivered and
// cancelled; payment-driven transitions go through the event handlers.
func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID string, status string) (*OrderResponse, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		s.logger.Error("Failed to get order for status update", zap.String("order_id", orderID), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	from := order.Status
	switch domain.OrderStatus(status) {
	case domain.OrderStatusShipped:
		err = order.MarkShipped()
	case domain.OrderStatusDelivered:
		err = order.MarkDelivered()
	case domain.OrderStatusCancelled:
		err = order.MarkCancelled()
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if err != nil {
		s.logger.Warn("Rejected order status update",
			zap.String("order_id", orderID),
			zap.String("status", status),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, order, from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost a race with another writer between read and write.
			return nil, fmt.Errorf("%w: order was modified concurrently", ErrInvalidStatus)
		}
		s.logger.Error("Failed to update order status", zap.String("order_id", orderID), zap.Error(err))
		return nil, errors.New("failed to update order status")
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", status))
	return mapOrderToResponse(order), nil
}

// HandlePaymentCompleted transitions pending -> processing. An unknown
// order id is returned as an error so the broker redelivers the message:
// the order write and the payment intent race, and the row may simply not
// be visible yet.
func (s *orderService) HandlePaymentCompleted(ctx context.Context, event *domain.PaymentCompletedEvent) error {
	return s.applyPaymentEvent(ctx, event.OrderID, (*domain.Order).MarkProcessing)
}

// HandlePaymentFailed transitions pending -> payment_failed with the same
// not-found and idempotency rules as HandlePaymentCompleted.
func (s *orderService) HandlePaymentFailed(ctx context.Context, event *domain.PaymentFailedEvent) error {
	return s.applyPaymentEvent(ctx, event.OrderID, (*domain.Order).MarkPaymentFailed)
}

func (s *orderService) applyPaymentEvent(ctx context.Context, orderID string, transition func(*domain.Order) error) error {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Order not found for payment event, requeueing", zap.String("order_id", orderID))
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		s.logger.Error("Failed to get order for payment event", zap.String("order_id", orderID), zap.Error(err))
		return fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	originalStatus := order.Status
	if err := transition(order); err != nil {
		// A payment event for a cancelled or failed order cannot be
		// repaired by redelivery; log and drop.
		s.logger.Warn("Dropping payment event with no legal transition",
			zap.String("order_id", orderID),
			zap.String("status", string(originalStatus)),
			zap.Error(err))
		return nil
	}

	if order.Status == originalStatus {
		s.logger.Info("Order already transitioned, payment event is a no-op",
			zap.String("order_id", orderID),
			zap.String("status", string(originalStatus)))
		return nil
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, order, originalStatus); err != nil {
		// A concurrent transition (admin cancel, duplicate handler) also
		// lands here; redelivery re-reads the row and converges.
		s.logger.Error("Failed to persist payment-driven transition",
			zap.String("order_id", orderID),
			zap.Error(err))
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}

	s.logger.Info("Order transitioned on payment event",
		zap.String("order_id", orderID),
		zap.String("old_status", string(originalStatus)),
		zap.String("new_status", string(order.Status)))
	return nil
}

func mapItemsToPayload(items []domain.OrderItem) []domain.OrderItemPayload {
	payload := make([]domain.OrderItemPayload, len(items))
	for i, item := range items {
		payload[i] = domain.OrderItemPayload{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price}
	}
	return payload
}

func mapOrderToResponse(order *domain.Order) *OrderResponse {
	items := make([]OrderItemRequest, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price}
	}
	return &OrderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		Items:           items,
		Total:           order.Total,
		Status:          string(order.Status),
		ShippingAddress: order.ShippingAddress,
		CreatedAt:       order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       order.UpdatedAt.Format(time.RFC3339),
	}
}
