package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/gateway"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/payments_repo"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/refunds_repo"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/util"
)

var (
	ErrPaymentCreationFailed = errors.New("payment creation failed")
	ErrInvalidPayment        = errors.New("invalid payment data")
	ErrRefundNotAllowed      = errors.New("can only refund completed payments")
	ErrRefundExceedsPayment  = errors.New("refund amount exceeds remaining payment amount")
	ErrRefundCreationFailed  = errors.New("refund creation failed")
)

type PaymentService interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentResponse, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*PaymentResponse, error)
	CreateRefund(ctx context.Context, paymentID string, req *CreateRefundRequest) (*RefundResponse, error)
	HandleGatewayEvent(ctx context.Context, event *gateway.Event) error
}

type paymentService struct {
	paymentRepo payments_repo.PaymentRepository
	refundRepo  refunds_repo.RefundRepository
	gw          gateway.Gateway
	exchange    string
	logger      *zap.Logger
}

func NewPaymentService(
	paymentRepo payments_repo.PaymentRepository,
	refundRepo refunds_repo.RefundRepository,
	gw gateway.Gateway,
	exchange string,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		paymentRepo: paymentRepo,
		refundRepo:  refundRepo,
		gw:          gw,
		exchange:    exchange,
		logger:      logger,
	}
}

// CreatePayment opens a gateway intent and persists the pending row. The
// idempotency key is derived from (order id, user id), so client-side
// retries of "create payment" never open duplicate intents; the unique
// order_id constraint rejects a duplicate local row. If the gateway call
// fails, no row is written.
func (s *paymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentResponse, error) {
	if req.OrderID == "" || req.UserID == "" || req.Amount <= 0 {
		return nil, ErrInvalidPayment
	}
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	intent, err := s.gw.CreateIntent(ctx, gateway.IntentRequest{
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       currency,
		IdempotencyKey: fmt.Sprintf("%s-%s", req.OrderID, req.UserID),
	})
	if err != nil {
		s.logger.Error("Gateway rejected payment intent", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentCreationFailed, err)
	}

	now := time.Now()
	payment := &domain.Payment{
		ID:              util.GenerateUUID(),
		OrderID:         req.OrderID,
		UserID:          req.UserID,
		Amount:          req.Amount,
		Currency:        currency,
		Status:          domain.PaymentStatusPending,
		GatewayIntentID: intent.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.paymentRepo.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrPaymentExists) {
			return nil, domain.ErrPaymentExists
		}
		s.logger.Error("Failed to persist payment", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	s.logger.Info("Payment created",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("intent_id", intent.ID),
		zap.Float64("amount", payment.Amount))

	resp := mapPaymentToResponse(payment)
	resp.ClientSecret = intent.ClientSecret
	return resp, nil
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		s.logger.Error("Failed to get payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	return mapPaymentToResponse(payment), nil
}

func (s *paymentService) GetPaymentByOrder(ctx context.Context, orderID string) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		s.logger.Error("Failed to get payment by order", zap.String("order_id", orderID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	return mapPaymentToResponse(payment), nil
}

// HandleGatewayEvent reconciles a verified callback against the internally
// tracked intent. Signature verification happens at the HTTP boundary
// before this is reached. Callbacks that cannot be correlated are dropped:
// redelivery cannot manufacture missing metadata.
func (s *paymentService) HandleGatewayEvent(ctx context.Context, event *gateway.Event) error {
	intentID := event.Data.Object.ID
	orderID := event.Data.Object.OrderID()

	if orderID == "" {
		s.logger.Warn("Gateway callback without order correlation, dropping",
			zap.String("event_id", event.ID),
			zap.String("intent_id", intentID))
		return nil
	}

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		return s.resolvePayment(ctx, intentID, domain.PaymentStatusCompleted, "")
	case gateway.EventPaymentFailed:
		return s.resolvePayment(ctx, intentID, domain.PaymentStatusFailed, event.Data.Object.FailureReason())
	default:
		s.logger.Debug("Unhandled gateway event type", zap.String("type", event.Type))
		return nil
	}
}

func (s *paymentService) resolvePayment(ctx context.Context, intentID string, status domain.PaymentStatus, reason string) error {
	payment, err := s.paymentRepo.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Gateway callback references unknown intent, dropping", zap.String("intent_id", intentID))
			return nil
		}
		s.logger.Error("Failed to load payment for callback", zap.String("intent_id", intentID), zap.Error(err))
		return fmt.Errorf("failed to load payment for intent %s: %w", intentID, err)
	}
	if payment.Resolved() {
		s.logger.Info("Payment already resolved, callback is a no-op",
			zap.String("payment_id", payment.ID),
			zap.String("status", string(payment.Status)))
		return nil
	}

	now := time.Now()
	var routingKey string
	var payload []byte
	switch status {
	case domain.PaymentStatusCompleted:
		routingKey = domain.EventPaymentCompleted
		payload, err = json.Marshal(domain.PaymentCompletedEvent{
			PaymentIntentID: intentID,
			OrderID:         payment.OrderID,
			Amount:          payment.Amount,
			Timestamp:       now,
		})
	case domain.PaymentStatusFailed:
		routingKey = domain.EventPaymentFailed
		payload, err = json.Marshal(domain.PaymentFailedEvent{
			PaymentIntentID: intentID,
			OrderID:         payment.OrderID,
			Reason:          reason,
			Timestamp:       now,
		})
	default:
		return fmt.Errorf("unsupported resolution status %s", status)
	}
	if err != nil {
		s.logger.Error("Failed to marshal payment event payload", zap.String("intent_id", intentID), zap.Error(err))
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	msg := &domain.OutboxMessage{
		ID:         util.GenerateUUID(),
		Exchange:   s.exchange,
		RoutingKey: routingKey,
		Payload:    payload,
		Status:     domain.OutboxStatusPending,
		CreatedAt:  now,
	}

	resolved, err := s.paymentRepo.ResolvePendingWithMessage(ctx, intentID, status, msg)
	if err != nil {
		s.logger.Error("Failed to resolve payment", zap.String("intent_id", intentID), zap.Error(err))
		return fmt.Errorf("failed to resolve payment for intent %s: %w", intentID, err)
	}
	if !resolved {
		// Lost the race with a concurrent callback; the winner emitted the
		// event.
		s.logger.Info("Payment resolved concurrently, callback is a no-op", zap.String("intent_id", intentID))
		return nil
	}

	s.logger.Info("Payment resolved",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("status", string(status)))
	return nil
}

// CreateRefund requests a gateway refund for a completed payment and
// persists the refund record. Cumulative refunds can never exceed the
// original payment amount; a refund that exhausts it flips the payment to
// refunded.
func (s *paymentService) CreateRefund(ctx context.Context, paymentID string, req *CreateRefundRequest) (*RefundResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidPayment)
	}

	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		s.logger.Error("Failed to get payment for refund", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	if payment.Status != domain.PaymentStatusCompleted {
		s.logger.Warn("Refund rejected for non-completed payment",
			zap.String("payment_id", paymentID),
			zap.String("status", string(payment.Status)))
		return nil, ErrRefundNotAllowed
	}

	refunded, err := s.refundRepo.SumRefunded(ctx, paymentID)
	if err != nil {
		s.logger.Error("Failed to sum existing refunds", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	if refunded+req.Amount > payment.Amount {
		s.logger.Warn("Refund rejected: would exceed payment amount",
			zap.String("payment_id", paymentID),
			zap.Float64("refunded", refunded),
			zap.Float64("requested", req.Amount),
			zap.Float64("payment_amount", payment.Amount))
		return nil, ErrRefundExceedsPayment
	}

	result, err := s.gw.CreateRefund(ctx, gateway.RefundRequest{
		IntentID: payment.GatewayIntentID,
		Amount:   req.Amount,
		Reason:   req.Reason,
	})
	if err != nil {
		s.logger.Error("Gateway rejected refund", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRefundCreationFailed, err)
	}

	now := time.Now()
	refund := &domain.Refund{
		ID:              util.GenerateUUID(),
		PaymentID:       paymentID,
		Amount:          req.Amount,
		Reason:          req.Reason,
		Status:          result.Status,
		GatewayRefundID: result.ID,
		CreatedAt:       now,
	}

	payload, err := json.Marshal(domain.PaymentRefundedEvent{
		PaymentID: paymentID,
		OrderID:   payment.OrderID,
		Amount:    req.Amount,
		Timestamp: now,
	})
	if err != nil {
		s.logger.Error("Failed to marshal payment.refunded payload", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	msg := &domain.OutboxMessage{
		ID:         util.GenerateUUID(),
		Exchange:   s.exchange,
		RoutingKey: domain.EventPaymentRefunded,
		Payload:    payload,
		Status:     domain.OutboxStatusPending,
		CreatedAt:  now,
	}

	fullyRefunded := refunded+req.Amount >= payment.Amount
	if err := s.refundRepo.CreateRefundWithMessage(ctx, refund, fullyRefunded, msg); err != nil {
		s.logger.Error("Failed to persist refund", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	s.logger.Info("Refund created",
		zap.String("refund_id", refund.ID),
		zap.String("payment_id", paymentID),
		zap.Float64("amount", req.Amount),
		zap.Bool("fully_refunded", fullyRefunded))

	return &RefundResponse{
		ID:        refund.ID,
		PaymentID: refund.PaymentID,
		Amount:    refund.Amount,
		Reason:    refund.Reason,
		Status:    refund.Status,
	}, nil
}

func mapPaymentToResponse(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:              p.ID,
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          string(p.Status),
		PaymentIntentID: p.GatewayIntentID,
	}
}
