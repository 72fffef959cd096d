package domain

import "time"

// Routing keys for lifecycle events published to the topic exchange.
const (
	EventOrderCreated     = "order.created"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

type OrderItemPayload struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderCreatedEvent is published after an order row and its line items
// commit. Email and phone are a contact snapshot for the notification
// consumers; payment events carry no contact data.
type OrderCreatedEvent struct {
	OrderID   string             `json:"orderId"`
	UserID    string             `json:"userId"`
	Items     []OrderItemPayload `json:"items"`
	Total     float64            `json:"total"`
	Email     string             `json:"email,omitempty"`
	Phone     string             `json:"phone,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type PaymentCompletedEvent struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	OrderID         string    `json:"orderId"`
	Amount          float64   `json:"amount"`
	Timestamp       time.Time `json:"timestamp"`
}

type PaymentFailedEvent struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	OrderID         string    `json:"orderId"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}

type PaymentRefundedEvent struct {
	PaymentID string    `json:"paymentId"`
	OrderID   string    `json:"orderId"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}
