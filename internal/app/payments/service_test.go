package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/gateway"
)

// mockPaymentRepo implements payments_repo.PaymentRepository for testing.
type mockPaymentRepo struct {
	payments  map[string]*domain.Payment // keyed by payment id
	createErr error

	resolvedMessages []*domain.OutboxMessage
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[string]*domain.Payment)}
}

func (m *mockPaymentRepo) CreatePayment(_ context.Context, p *domain.Payment) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.payments {
		if existing.OrderID == p.OrderID {
			return domain.ErrPaymentExists
		}
	}
	copied := *p
	m.payments[p.ID] = &copied
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (m *mockPaymentRepo) GetByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	for _, p := range m.payments {
		if p.OrderID == orderID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) GetByIntentID(_ context.Context, intentID string) (*domain.Payment, error) {
	for _, p := range m.payments {
		if p.GatewayIntentID == intentID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) ResolvePendingWithMessage(_ context.Context, intentID string, status domain.PaymentStatus, msg *domain.OutboxMessage) (bool, error) {
	for _, p := range m.payments {
		if p.GatewayIntentID != intentID {
			continue
		}
		if p.Status != domain.PaymentStatusPending {
			return false, nil
		}
		p.Status = status
		m.resolvedMessages = append(m.resolvedMessages, msg)
		return true, nil
	}
	return false, nil
}

// mockRefundRepo implements refunds_repo.RefundRepository for testing.
type mockRefundRepo struct {
	paymentRepo *mockPaymentRepo

	refunds         []*domain.Refund
	refundMessages  []*domain.OutboxMessage
	markedRefunded  bool
	createRefundErr error
}

func (m *mockRefundRepo) CreateRefundWithMessage(_ context.Context, refund *domain.Refund, markPaymentRefunded bool, msg *domain.OutboxMessage) error {
	if m.createRefundErr != nil {
		return m.createRefundErr
	}
	m.refunds = append(m.refunds, refund)
	m.refundMessages = append(m.refundMessages, msg)
	if markPaymentRefunded {
		m.markedRefunded = true
		if p, ok := m.paymentRepo.payments[refund.PaymentID]; ok {
			p.Status = domain.PaymentStatusRefunded
		}
	}
	return nil
}

func (m *mockRefundRepo) SumRefunded(_ context.Context, paymentID string) (float64, error) {
	var sum float64
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (m *mockRefundRepo) GetByPaymentID(_ context.Context, paymentID string) ([]*domain.Refund, error) {
	var out []*domain.Refund
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeGateway implements gateway.Gateway for testing.
type fakeGateway struct {
	intentErr error
	refundErr error

	intents      int
	refunds      int
	lastIntent   gateway.IntentRequest
	lastRefund   gateway.RefundRequest
	refundStatus string
}

func (f *fakeGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	f.intents++
	f.lastIntent = req
	return &gateway.Intent{
		ID:           fmt.Sprintf("pi_%s", req.OrderID),
		ClientSecret: fmt.Sprintf("pi_%s_secret", req.OrderID),
		Status:       "requires_payment_method",
	}, nil
}

func (f *fakeGateway) CreateRefund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds++
	f.lastRefund = req
	status := f.refundStatus
	if status == "" {
		status = "succeeded"
	}
	return &gateway.RefundResult{ID: fmt.Sprintf("re_%d", f.refunds), Status: status}, nil
}

type serviceFixture struct {
	svc         PaymentService
	paymentRepo *mockPaymentRepo
	refundRepo  *mockRefundRepo
	gw          *fakeGateway
}

func newFixture() *serviceFixture {
	paymentRepo := newMockPaymentRepo()
	refundRepo := &mockRefundRepo{paymentRepo: paymentRepo}
	gw := &fakeGateway{}
	return &serviceFixture{
		svc:         NewPaymentService(paymentRepo, refundRepo, gw, "ecommerce", zap.NewNop()),
		paymentRepo: paymentRepo,
		refundRepo:  refundRepo,
		gw:          gw,
	}
}

func (f *serviceFixture) createPayment(t *testing.T, orderID string, amount float64) *PaymentResponse {
	t.Helper()
	resp, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		OrderID: orderID,
		UserID:  "user-1",
		Amount:  amount,
	})
	require.NoError(t, err)
	return resp
}

func (f *serviceFixture) completePayment(t *testing.T, intentID, orderID string) {
	t.Helper()
	require.NoError(t, f.svc.HandleGatewayEvent(context.Background(), succeededEvent(intentID, orderID)))
}

func succeededEvent(intentID, orderID string) *gateway.Event {
	return gatewayEvent(gateway.EventPaymentSucceeded, intentID, orderID, "")
}

func gatewayEvent(eventType, intentID, orderID, failureMessage string) *gateway.Event {
	e := &gateway.Event{ID: "evt_" + intentID, Type: eventType}
	e.Data.Object = gateway.EventObject{
		ID:       intentID,
		Metadata: map[string]string{"orderId": orderID},
	}
	if failureMessage != "" {
		e.Data.Object.LastPaymentError = &struct {
			Message string `json:"message"`
		}{Message: failureMessage}
	}
	return e
}

func TestCreatePayment_OpensIntentWithIdempotencyKey(t *testing.T) {
	f := newFixture()

	resp := f.createPayment(t, "order-1", 49.99)

	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "pi_order-1", resp.PaymentIntentID)
	assert.Equal(t, "pi_order-1_secret", resp.ClientSecret)
	assert.Equal(t, "order-1-user-1", f.gw.lastIntent.IdempotencyKey)
	assert.Equal(t, "usd", f.gw.lastIntent.Currency)
}

func TestCreatePayment_SecondPaymentForOrderRejected(t *testing.T) {
	f := newFixture()
	f.createPayment(t, "order-1", 49.99)

	_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		OrderID: "order-1", UserID: "user-1", Amount: 49.99,
	})

	assert.ErrorIs(t, err, domain.ErrPaymentExists)
}

func TestCreatePayment_GatewayFailureWritesNoRow(t *testing.T) {
	f := newFixture()
	f.gw.intentErr = errors.New("gateway unavailable")

	_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{
		OrderID: "order-1", UserID: "user-1", Amount: 49.99,
	})

	assert.ErrorIs(t, err, ErrPaymentCreationFailed)
	assert.Empty(t, f.paymentRepo.payments)
}

func TestCreatePayment_ValidatesInput(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{OrderID: "order-1", UserID: "user-1", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidPayment)

	_, err = f.svc.CreatePayment(context.Background(), &CreatePaymentRequest{UserID: "user-1", Amount: 10})
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestHandleGatewayEvent_SuccessEmitsPaymentCompleted(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 49.99)

	f.completePayment(t, resp.PaymentIntentID, "order-1")

	stored, err := f.paymentRepo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)

	require.Len(t, f.paymentRepo.resolvedMessages, 1)
	msg := f.paymentRepo.resolvedMessages[0]
	assert.Equal(t, domain.EventPaymentCompleted, msg.RoutingKey)

	var event domain.PaymentCompletedEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, 49.99, event.Amount)
	assert.Equal(t, resp.PaymentIntentID, event.PaymentIntentID)
}

func TestHandleGatewayEvent_FailureEmitsPaymentFailedWithReason(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 49.99)

	err := f.svc.HandleGatewayEvent(context.Background(),
		gatewayEvent(gateway.EventPaymentFailed, resp.PaymentIntentID, "order-1", "card_declined"))
	require.NoError(t, err)

	stored, err := f.paymentRepo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)

	require.Len(t, f.paymentRepo.resolvedMessages, 1)
	var event domain.PaymentFailedEvent
	require.NoError(t, json.Unmarshal(f.paymentRepo.resolvedMessages[0].Payload, &event))
	assert.Equal(t, "card_declined", event.Reason)
}

func TestHandleGatewayEvent_DuplicateCallbackIsNoOp(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 49.99)
	f.completePayment(t, resp.PaymentIntentID, "order-1")

	f.completePayment(t, resp.PaymentIntentID, "order-1")

	assert.Len(t, f.paymentRepo.resolvedMessages, 1, "duplicate callback must not emit a second event")
}

func TestHandleGatewayEvent_DropsUncorrelatedCallbacks(t *testing.T) {
	f := newFixture()

	// No orderId metadata.
	e := &gateway.Event{ID: "evt_1", Type: gateway.EventPaymentSucceeded}
	e.Data.Object = gateway.EventObject{ID: "pi_x"}
	assert.NoError(t, f.svc.HandleGatewayEvent(context.Background(), e))

	// Unknown intent.
	assert.NoError(t, f.svc.HandleGatewayEvent(context.Background(), succeededEvent("pi_unknown", "order-x")))

	// Unhandled event type.
	other := gatewayEvent("payment_intent.created", "pi_y", "order-y", "")
	assert.NoError(t, f.svc.HandleGatewayEvent(context.Background(), other))

	assert.Empty(t, f.paymentRepo.resolvedMessages)
}

func TestCreateRefund_PartialThenExhaustingRefund(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 100.00)
	f.completePayment(t, resp.PaymentIntentID, "order-1")

	first, err := f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 40, Reason: "damaged item"})
	require.NoError(t, err)
	assert.Equal(t, 40.00, first.Amount)
	assert.False(t, f.refundRepo.markedRefunded)

	stored, _ := f.paymentRepo.GetByID(context.Background(), resp.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status, "partial refund keeps the payment completed")

	_, err = f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 60})
	require.NoError(t, err)
	assert.True(t, f.refundRepo.markedRefunded)

	stored, _ = f.paymentRepo.GetByID(context.Background(), resp.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, stored.Status)

	require.Len(t, f.refundRepo.refundMessages, 2)
	var event domain.PaymentRefundedEvent
	require.NoError(t, json.Unmarshal(f.refundRepo.refundMessages[1].Payload, &event))
	assert.Equal(t, domain.EventPaymentRefunded, f.refundRepo.refundMessages[1].RoutingKey)
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, 60.00, event.Amount)
}

func TestCreateRefund_RejectsOverRefund(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 100.00)
	f.completePayment(t, resp.PaymentIntentID, "order-1")

	_, err := f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 60})
	require.NoError(t, err)

	_, err = f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 50})
	assert.ErrorIs(t, err, ErrRefundExceedsPayment)
	assert.Equal(t, 1, f.gw.refunds, "rejected refund must not reach the gateway")
}

func TestCreateRefund_OnlyCompletedPayments(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 100.00)

	_, err := f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 10})
	assert.ErrorIs(t, err, ErrRefundNotAllowed)

	require.NoError(t, f.svc.HandleGatewayEvent(context.Background(),
		gatewayEvent(gateway.EventPaymentFailed, resp.PaymentIntentID, "order-1", "card_declined")))
	_, err = f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 10})
	assert.ErrorIs(t, err, ErrRefundNotAllowed)
}

func TestCreateRefund_ValidatesAmountAndExistence(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateRefund(context.Background(), "missing", &CreateRefundRequest{Amount: 10})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	resp := f.createPayment(t, "order-1", 100.00)
	_, err = f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: -5})
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestCreateRefund_GatewayFailureWritesNothing(t *testing.T) {
	f := newFixture()
	resp := f.createPayment(t, "order-1", 100.00)
	f.completePayment(t, resp.PaymentIntentID, "order-1")
	f.gw.refundErr = errors.New("gateway unavailable")

	_, err := f.svc.CreateRefund(context.Background(), resp.ID, &CreateRefundRequest{Amount: 10})

	assert.ErrorIs(t, err, ErrRefundCreationFailed)
	assert.Empty(t, f.refundRepo.refunds)
	assert.Empty(t, f.refundRepo.refundMessages)
}

func TestGetPayment_MapsDomainFields(t *testing.T) {
	f := newFixture()
	created := f.createPayment(t, "order-1", 49.99)

	byID, err := f.svc.GetPayment(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)
	assert.Empty(t, byID.ClientSecret, "client secret is only returned at creation")

	byOrder, err := f.svc.GetPaymentByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byOrder.ID)

	_, err = f.svc.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestPaymentTimestampsAreSet(t *testing.T) {
	f := newFixture()
	before := time.Now()
	resp := f.createPayment(t, "order-1", 49.99)

	stored, err := f.paymentRepo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.False(t, stored.CreatedAt.Before(before.Add(-time.Second)))
}
