package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error {
	args := m.Called(ctx, topic, ce)
	return args.Error(0)
}

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Route(ctx context.Context, event *stripe.Event) application.RouteResult {
	args := m.Called(ctx, event)
	return args.Get(0).(application.RouteResult)
}

func newPayment() *payment.Payment {
	return payment.NewPayment(payment.PaymentDraft{
		AmountPlanned:     payment.Money{CurrencyCode: "USD", CentAmount: 1500},
		InterfaceID:       "pi_1",
		PaymentMethodInfo: payment.PaymentMethodInfo{PaymentInterface: "stripe"},
		Transactions: []payment.TransactionDraft{{
			Type:          payment.TransactionAuthorization,
			State:         payment.StateSuccess,
			Amount:        payment.Money{CurrencyCode: "USD", CentAmount: 1500},
			InteractionID: "pi_1",
		}},
	})
}

func TestPublishTransactionApplied(t *testing.T) {
	producer := new(mockProducer)
	pub := NewOutcomePublisher(producer, "payment.events")
	p := newPayment()

	var published kafka.CloudEvent
	producer.On("PublishEvent", mock.Anything, "payment.events", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(2).(kafka.CloudEvent) }).
		Return(nil)

	err := pub.PublishTransactionApplied(context.Background(), &stripe.Event{ID: "evt_1", Type: "payment_intent.succeeded"}, p)
	require.NoError(t, err)

	assert.Equal(t, PaymentTransactionApplied, published.Type)
	assert.Equal(t, Source, published.Source)
	assert.Equal(t, p.ID().String(), published.Subject)

	var data TransactionAppliedEvent
	require.NoError(t, published.ParseData(&data))
	assert.Equal(t, "evt_1", data.EventID)
	assert.Equal(t, "pi_1", data.InterfaceID)
	assert.Equal(t, int64(1500), data.CentAmount)
	require.Len(t, data.Transactions, 1)
	assert.Equal(t, "Authorization", data.Transactions[0].Type)
}

func TestPublishReconciliationFailed(t *testing.T) {
	producer := new(mockProducer)
	pub := NewOutcomePublisher(producer, "payment.events")

	var published kafka.CloudEvent
	producer.On("PublishEvent", mock.Anything, "payment.events", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(2).(kafka.CloudEvent) }).
		Return(nil)

	failure := &application.ReconciliationFailure{
		EventID:      "evt_2",
		EventType:    "invoice.paid",
		Stage:        "resolve_payment",
		PSPReference: "in_1",
		Err:          domain.NewMissingLinkageError("in_1"),
	}
	require.NoError(t, pub.PublishReconciliationFailed(context.Background(), failure))

	var data ReconciliationFailedEvent
	require.NoError(t, published.ParseData(&data))
	assert.Equal(t, PaymentReconciliationFailed, published.Type)
	assert.Equal(t, "evt_2", published.Subject)
	assert.Equal(t, "resolve_payment", data.Stage)
	assert.Equal(t, string(domain.ErrorCodeMissingLinkage), data.Code)
	assert.Contains(t, data.Message, "in_1")
}

func TestPublishPropagatesProducerError(t *testing.T) {
	producer := new(mockProducer)
	pub := NewOutcomePublisher(producer, "payment.events")
	producer.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := pub.PublishReconciliationFailed(context.Background(), &application.ReconciliationFailure{EventID: "evt_3"})
	assert.EqualError(t, err, "broker down")
}

func pspMessage(t *testing.T, ceType string, data interface{}) kafkago.Message {
	t.Helper()
	ce, err := kafka.NewCloudEvent("test", ceType, data)
	require.NoError(t, err)
	value, err := json.Marshal(ce)
	require.NoError(t, err)
	return kafkago.Message{Value: value}
}

func TestHandleMessageRoutesEvent(t *testing.T) {
	router := new(mockRouter)
	c := &PSPEventConsumer{router: router, logger: zap.NewNop()}

	raw := json.RawMessage(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)
	router.On("Route", mock.Anything, mock.MatchedBy(func(e *stripe.Event) bool {
		return e.ID == "evt_1" && e.Type == "payment_intent.succeeded" && e.Data.Object["id"] == "pi_1"
	})).Return(application.RouteResult{Status: application.RouteSuccess})

	require.NoError(t, c.handleMessage(context.Background(), pspMessage(t, PSPEventReceived, raw)))
	router.AssertNumberOfCalls(t, "Route", 1)
}

func TestHandleMessageIgnoresOtherTypes(t *testing.T) {
	router := new(mockRouter)
	c := &PSPEventConsumer{router: router, logger: zap.NewNop()}

	require.NoError(t, c.handleMessage(context.Background(), pspMessage(t, "booking.created", map[string]string{"id": "b1"})))
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	router := new(mockRouter)
	c := &PSPEventConsumer{router: router, logger: zap.NewNop()}

	assert.Error(t, c.handleMessage(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.Error(t, c.handleMessage(context.Background(), pspMessage(t, PSPEventReceived, map[string]string{"type": "x"})))
	router.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)
}
