package domain

import (
	"errors"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var (
	ErrPaymentExists   = errors.New("payment already exists for order")
	ErrPaymentNotFound = errors.New("payment not found")
)

// Payment tracks a gateway payment intent. Exactly one payment row exists
// per order; the row is mutated only by the gateway-callback reconciliation
// path and the refund flow.
type Payment struct {
	ID              string
	OrderID         string
	UserID          string
	Amount          float64
	Currency        string
	Status          PaymentStatus
	GatewayIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *Payment) Resolved() bool {
	return p.Status != PaymentStatusPending
}

type Refund struct {
	ID              string
	PaymentID       string
	Amount          float64
	Reason          string
	Status          string
	GatewayRefundID string
	CreatedAt       time.Time
}
