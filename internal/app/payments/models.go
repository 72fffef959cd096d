package payments

type CreatePaymentRequest struct {
	OrderID  string  `json:"orderId"`
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

type PaymentResponse struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"orderId"`
	UserID          string  `json:"userId"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	PaymentIntentID string  `json:"paymentIntentId"`
	ClientSecret    string  `json:"clientSecret,omitempty"`
}

type CreateRefundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason,omitempty"`
}

type RefundResponse struct {
	ID        string  `json:"id"`
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	Status    string  `json:"status"`
}
