package payments_http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/app/payments"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/gateway"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/handler/http/api"
)

type PaymentHandler struct {
	service       payments.PaymentService
	webhookSecret string
	logger        *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, webhookSecret string, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, webhookSecret: webhookSecret, logger: l}
}

func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req payments.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for CreatePayment", zap.Error(err))
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.CreatePayment(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidPayment):
			api.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrPaymentExists):
			api.WriteError(w, http.StatusConflict, "payment already exists for order")
		case errors.Is(err, payments.ErrPaymentCreationFailed):
			api.WriteError(w, http.StatusBadGateway, "payment creation failed")
		default:
			h.logger.Error("Error creating payment", zap.Error(err))
			api.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	api.WriteJSON(w, http.StatusCreated, res)
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	res, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			api.WriteError(w, http.StatusNotFound, "payment not found")
			return
		}
		h.logger.Error("Error getting payment", zap.String("payment_id", paymentID), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	res, err := h.service.GetPaymentByOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			api.WriteError(w, http.StatusNotFound, "payment not found for order")
			return
		}
		h.logger.Error("Error getting payment by order", zap.String("order_id", orderID), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	var req payments.CreateRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.CreateRefund(r.Context(), paymentID, &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			api.WriteError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, payments.ErrRefundNotAllowed),
			errors.Is(err, payments.ErrRefundExceedsPayment),
			errors.Is(err, payments.ErrInvalidPayment):
			api.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, payments.ErrRefundCreationFailed):
			api.WriteError(w, http.StatusBadGateway, "refund creation failed")
		default:
			h.logger.Error("Error creating refund", zap.String("payment_id", paymentID), zap.Error(err))
			api.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	api.WriteJSON(w, http.StatusCreated, res)
}

// HandleWebhook verifies the gateway signature over the raw body before any
// parsing. Verification failure returns a client error and mutates nothing;
// a verified callback is always acknowledged with 200 — the processing
// outcome surfaces through the emitted lifecycle events, not this response.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)
	if err := gateway.VerifySignature(h.webhookSecret, body, signature); err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		api.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event gateway.Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("Malformed webhook payload", zap.Error(err))
		api.WriteError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if err := h.service.HandleGatewayEvent(r.Context(), &event); err != nil {
		// The callback is acknowledged regardless; the gateway retries on
		// its own schedule and reconciliation is idempotent.
		h.logger.Error("Error processing gateway event",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}

	api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
