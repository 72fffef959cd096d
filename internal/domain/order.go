package domain

import (
	"errors"
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusProcessing    OrderStatus = "processing"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

type OrderItem struct {
	ProductID string
	Quantity  int
	Price     float64
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	Total           float64
	Status          OrderStatus
	ShippingAddress Address
	CustomerEmail   string
	CustomerPhone   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder builds a pending order. Total is always derived from the line
// items here; callers never supply it.
func NewOrder(id, userID string, items []OrderItem, addr Address, email, phone string) (*Order, error) {
	if id == "" || userID == "" {
		return nil, errors.New("invalid order data")
	}
	if len(items) == 0 {
		return nil, errors.New("order must contain at least one item")
	}

	var total float64
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 || item.Price < 0 {
			return nil, fmt.Errorf("invalid order item for product %q", item.ProductID)
		}
		total += float64(item.Quantity) * item.Price
	}

	now := time.Now()
	return &Order{
		ID:              id,
		UserID:          userID,
		Items:           items,
		Total:           total,
		Status:          OrderStatusPending,
		ShippingAddress: addr,
		CustomerEmail:   email,
		CustomerPhone:   phone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// MarkProcessing applies a successful payment. Re-applying it to an order
// that already moved past pending is a no-op so that redelivered payment
// events stay safe.
func (o *Order) MarkProcessing() error {
	switch o.Status {
	case OrderStatusPending:
		o.Status = OrderStatusProcessing
		o.UpdatedAt = time.Now()
		return nil
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return nil
	default:
		return fmt.Errorf("%w: cannot move %s order to processing", ErrInvalidTransition, o.Status)
	}
}

// MarkPaymentFailed applies a declined payment; idempotent under redelivery.
func (o *Order) MarkPaymentFailed() error {
	switch o.Status {
	case OrderStatusPending:
		o.Status = OrderStatusPaymentFailed
		o.UpdatedAt = time.Now()
		return nil
	case OrderStatusPaymentFailed:
		return nil
	default:
		return fmt.Errorf("%w: cannot move %s order to payment_failed", ErrInvalidTransition, o.Status)
	}
}

func (o *Order) MarkShipped() error {
	if o.Status != OrderStatusProcessing {
		return fmt.Errorf("%w: cannot ship %s order", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusShipped
	o.UpdatedAt = time.Now()
	return nil
}

func (o *Order) MarkDelivered() error {
	if o.Status != OrderStatusShipped {
		return fmt.Errorf("%w: cannot deliver %s order", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusDelivered
	o.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled is the manual branch; it is reachable from any non-terminal
// state.
func (o *Order) MarkCancelled() error {
	switch o.Status {
	case OrderStatusDelivered, OrderStatusPaymentFailed, OrderStatusCancelled:
		return fmt.Errorf("%w: cannot cancel %s order", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}
