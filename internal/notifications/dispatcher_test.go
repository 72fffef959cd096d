package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/broker"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/domain"
)

type memContactStore struct {
	contacts map[string]Contact
	saveErr  error
	getErr   error
}

func newMemContactStore() *memContactStore {
	return &memContactStore{contacts: make(map[string]Contact)}
}

func (s *memContactStore) Save(_ context.Context, orderID string, contact Contact) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.contacts[orderID] = contact
	return nil
}

func (s *memContactStore) Get(_ context.Context, orderID string) (*Contact, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	contact, ok := s.contacts[orderID]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &contact, nil
}

type sentMessage struct {
	to      string
	orderID string
}

type mockEmailSender struct {
	orderConfirmations   []sentMessage
	paymentConfirmations []sentMessage
	err                  error
}

func (m *mockEmailSender) SendOrderConfirmation(_ context.Context, to, orderID string, _ []domain.OrderItemPayload, _ float64) error {
	if m.err != nil {
		return m.err
	}
	m.orderConfirmations = append(m.orderConfirmations, sentMessage{to: to, orderID: orderID})
	return nil
}

func (m *mockEmailSender) SendPaymentConfirmation(_ context.Context, to, orderID string, _ float64) error {
	if m.err != nil {
		return m.err
	}
	m.paymentConfirmations = append(m.paymentConfirmations, sentMessage{to: to, orderID: orderID})
	return nil
}

type mockSMSSender struct {
	orderNotifications   []sentMessage
	paymentNotifications []sentMessage
	err                  error
}

func (m *mockSMSSender) SendOrderNotification(_ context.Context, phone, orderID string) error {
	if m.err != nil {
		return m.err
	}
	m.orderNotifications = append(m.orderNotifications, sentMessage{to: phone, orderID: orderID})
	return nil
}

func (m *mockSMSSender) SendPaymentNotification(_ context.Context, phone, orderID string, _ float64) error {
	if m.err != nil {
		return m.err
	}
	m.paymentNotifications = append(m.paymentNotifications, sentMessage{to: phone, orderID: orderID})
	return nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	contacts   *memContactStore
	email      *mockEmailSender
	sms        *mockSMSSender
}

func newDispatcherFixture() *dispatcherFixture {
	contacts := newMemContactStore()
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	return &dispatcherFixture{
		dispatcher: NewDispatcher(contacts, email, sms, zap.NewNop()),
		contacts:   contacts,
		email:      email,
		sms:        sms,
	}
}

func orderCreatedBody(t *testing.T, orderID, email, phone string) []byte {
	t.Helper()
	return []byte(`{"orderId":"` + orderID + `","userId":"user-1","items":[{"productId":"prod-1","quantity":1,"price":49.99}],"total":49.99` +
		emailField(email) + phoneField(phone) + `}`)
}

func emailField(email string) string {
	if email == "" {
		return ""
	}
	return `,"email":"` + email + `"`
}

func phoneField(phone string) string {
	if phone == "" {
		return ""
	}
	return `,"phone":"` + phone + `"`
}

func TestHandleOrderEvent_SendsBothChannelsAndStoresContact(t *testing.T) {
	f := newDispatcherFixture()

	err := f.dispatcher.HandleOrderEvent(context.Background(), domain.EventOrderCreated,
		orderCreatedBody(t, "order-1", "buyer@example.com", "+15551234"))

	require.NoError(t, err)
	require.Len(t, f.email.orderConfirmations, 1)
	assert.Equal(t, "buyer@example.com", f.email.orderConfirmations[0].to)
	require.Len(t, f.sms.orderNotifications, 1)
	assert.Equal(t, "+15551234", f.sms.orderNotifications[0].to)

	stored, err := f.contacts.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", stored.Email)
	assert.Equal(t, "+15551234", stored.Phone)
}

func TestHandleOrderEvent_EmailFailureDoesNotSkipSMS(t *testing.T) {
	f := newDispatcherFixture()
	f.email.err = errors.New("smtp down")

	err := f.dispatcher.HandleOrderEvent(context.Background(), domain.EventOrderCreated,
		orderCreatedBody(t, "order-1", "buyer@example.com", "+15551234"))

	assert.NoError(t, err, "channel failures are logged, never requeued")
	assert.Len(t, f.sms.orderNotifications, 1)
}

func TestHandleOrderEvent_NoContactChannels(t *testing.T) {
	f := newDispatcherFixture()

	err := f.dispatcher.HandleOrderEvent(context.Background(), domain.EventOrderCreated,
		orderCreatedBody(t, "order-1", "", ""))

	require.NoError(t, err)
	assert.Empty(t, f.email.orderConfirmations)
	assert.Empty(t, f.sms.orderNotifications)
	assert.Empty(t, f.contacts.contacts)
}

func TestHandleOrderEvent_MalformedPayloadDropped(t *testing.T) {
	f := newDispatcherFixture()

	err := f.dispatcher.HandleOrderEvent(context.Background(), domain.EventOrderCreated, []byte(`{not json`))

	assert.NoError(t, err)
	assert.Empty(t, f.email.orderConfirmations)
}

func TestHandleOrderEvent_StoreFailureStillSends(t *testing.T) {
	f := newDispatcherFixture()
	f.contacts.saveErr = errors.New("redis down")

	err := f.dispatcher.HandleOrderEvent(context.Background(), domain.EventOrderCreated,
		orderCreatedBody(t, "order-1", "buyer@example.com", ""))

	assert.NoError(t, err)
	assert.Len(t, f.email.orderConfirmations, 1)
}

func TestHandlePaymentEvent_ResolvesContactAndSends(t *testing.T) {
	f := newDispatcherFixture()
	f.contacts.contacts["order-1"] = Contact{Email: "buyer@example.com", Phone: "+15551234"}

	err := f.dispatcher.HandlePaymentEvent(context.Background(), domain.EventPaymentCompleted,
		[]byte(`{"orderId":"order-1","paymentIntentId":"pi_1","amount":49.99}`))

	require.NoError(t, err)
	require.Len(t, f.email.paymentConfirmations, 1)
	assert.Equal(t, "order-1", f.email.paymentConfirmations[0].orderID)
	assert.Len(t, f.sms.paymentNotifications, 1)
}

func TestHandlePaymentEvent_UnknownContactSkipped(t *testing.T) {
	f := newDispatcherFixture()

	err := f.dispatcher.HandlePaymentEvent(context.Background(), domain.EventPaymentCompleted,
		[]byte(`{"orderId":"order-ghost","amount":49.99}`))

	assert.NoError(t, err)
	assert.Empty(t, f.email.paymentConfirmations)
	assert.Empty(t, f.sms.paymentNotifications)
}

func TestHandlePaymentEvent_IgnoresNonCompletedEvents(t *testing.T) {
	f := newDispatcherFixture()
	f.contacts.contacts["order-1"] = Contact{Email: "buyer@example.com"}

	err := f.dispatcher.HandlePaymentEvent(context.Background(), domain.EventPaymentFailed,
		[]byte(`{"orderId":"order-1","reason":"card_declined"}`))
	require.NoError(t, err)

	err = f.dispatcher.HandlePaymentEvent(context.Background(), domain.EventPaymentRefunded,
		[]byte(`{"orderId":"order-1","amount":49.99}`))
	require.NoError(t, err)

	assert.Empty(t, f.email.paymentConfirmations)
}

func TestRegister_BindsBothQueues(t *testing.T) {
	f := newDispatcherFixture()
	mem := broker.NewMemory()
	require.NoError(t, f.dispatcher.Register(mem, "ecommerce"))

	require.NoError(t, mem.Publish(context.Background(), "ecommerce", domain.EventOrderCreated,
		orderCreatedBody(t, "order-1", "buyer@example.com", "")))
	require.NoError(t, mem.Publish(context.Background(), "ecommerce", domain.EventPaymentCompleted,
		[]byte(`{"orderId":"order-1","amount":49.99}`)))

	assert.Len(t, f.email.orderConfirmations, 1)
	assert.Len(t, f.email.paymentConfirmations, 1)
}
