package orders

import "github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"

type OrderItemRequest struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type CreateOrderRequest struct {
	UserID          string             `json:"userId"`
	Items           []OrderItemRequest `json:"items"`
	ShippingAddress domain.Address     `json:"shippingAddress"`
	Email           string             `json:"email,omitempty"`
	Phone           string             `json:"phone,omitempty"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderResponse struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId"`
	Items           []OrderItemRequest `json:"items"`
	Total           float64            `json:"total"`
	Status          string             `json:"status"`
	ShippingAddress domain.Address     `json:"shippingAddress"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
}
