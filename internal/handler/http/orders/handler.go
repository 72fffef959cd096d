package orders_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/app/orders"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/handler/http/api"
)

type OrderHandler struct {
	service orders.OrderService
	logger  *zap.Logger
}

func NewOrderHandler(s orders.OrderService, l *zap.Logger) *OrderHandler {
	return &OrderHandler{service: s, logger: l}
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for CreateOrder", zap.Error(err))
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidOrder) {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Error creating order", zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	api.WriteJSON(w, http.StatusCreated, res)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		api.WriteError(w, http.StatusBadRequest, "order ID is required")
		return
	}

	res, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			api.WriteError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("Error getting order", zap.String("order_id", orderID), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	api.WriteJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) GetOrdersByUserID(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.WriteError(w, http.StatusBadRequest, "user ID is required")
		return
	}

	res, err := h.service.GetOrdersByUserID(r.Context(), userID)
	if err != nil {
		h.logger.Error("Error getting orders for user", zap.String("user_id", userID), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	api.WriteJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		api.WriteError(w, http.StatusBadRequest, "order ID is required")
		return
	}

	var req orders.UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.UpdateOrderStatus(r.Context(), orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			api.WriteError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, orders.ErrInvalidStatus):
			api.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Error updating order status", zap.String("order_id", orderID), zap.Error(err))
			api.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, res)
}
