package payments_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/app/payments"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, webhookSecret string, l *zap.Logger) {
	handler := NewPaymentHandler(s, webhookSecret, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", handler.CreatePayment)
		r.Post("/webhook", handler.HandleWebhook)
		r.Get("/{paymentID}", handler.GetPayment)
		r.Post("/{paymentID}/refund", handler.CreateRefund)
	})
	r.Get("/orders/{orderID}/payment", handler.GetPaymentByOrder)
}
