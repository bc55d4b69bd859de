package application

import (
	"context"
	"errors"
	"testing"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type routerFixture struct {
	*fixture
	ledger    *mockLedger
	publisher *mockPublisher
	router    *EventRouter
}

func newRouterFixture() *routerFixture {
	f := newFixture(raceOptions())
	rf := &routerFixture{
		fixture:   f,
		ledger:    new(mockLedger),
		publisher: new(mockPublisher),
	}
	rf.router = NewEventRouter(f.paymentSvc, f.subSvc, rf.ledger, rf.publisher, zap.NewNop())
	return rf
}

func TestRoute_DuplicateIsSkipped(t *testing.T) {
	rf := newRouterFixture()
	rf.ledger.On("HasProcessed", mock.Anything, "evt_1").Return(true, nil)

	event := stripeEvent(t, "evt_1", "payment_intent.succeeded", map[string]interface{}{"id": "pi_1"})
	result := rf.router.Route(context.Background(), event)

	assert.Equal(t, RouteDuplicate, result.Status)
	assert.Empty(t, rf.payments.finds)
	rf.ledger.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, rf.publisher.Calls)
}

func TestRoute_SuccessRecordsAndPublishes(t *testing.T) {
	rf := newRouterFixture()
	cart := testCart(1000)
	id, err := rf.paymentSvc.CreatePayment(context.Background(), cart, cart.PaymentAmount(), "pi_1")
	require.NoError(t, err)

	event := stripeEvent(t, "evt_2", "payment_intent.succeeded", map[string]interface{}{
		"id":              "pi_1",
		"amount_received": 1000,
		"currency":        "usd",
	})
	rf.ledger.On("HasProcessed", mock.Anything, "evt_2").Return(false, nil)
	rf.ledger.On("RecordEvent", mock.Anything, "evt_2", "payment_intent.succeeded").Return(nil).Once()
	rf.publisher.On("PublishTransactionApplied", mock.Anything, event, mock.Anything).Return(nil).Once()

	result := rf.router.Route(context.Background(), event)
	require.Equal(t, RouteSuccess, result.Status)
	assert.Equal(t, id, result.Payment.ID())
	rf.ledger.AssertExpectations(t)
	rf.publisher.AssertExpectations(t)
}

func TestRoute_FailureIsPublishedAndNotRecorded(t *testing.T) {
	rf := newRouterFixture()
	event := stripeEvent(t, "evt_3", "payment_intent.succeeded", map[string]interface{}{
		"id":              "pi_unknown",
		"amount_received": 1000,
		"currency":        "usd",
	})
	rf.ledger.On("HasProcessed", mock.Anything, "evt_3").Return(false, nil)
	rf.publisher.On("PublishReconciliationFailed", mock.Anything, mock.MatchedBy(func(f *ReconciliationFailure) bool {
		return f.EventID == "evt_3" && f.Code() == domain.ErrorCodeMissingLinkage
	})).Return(nil).Once()

	result := rf.router.Route(context.Background(), event)
	require.Equal(t, RouteFailure, result.Status)
	require.NotNil(t, result.Failure)
	rf.ledger.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything, mock.Anything)
	rf.publisher.AssertExpectations(t)
}

func TestRoute_SubscriptionPaymentIntentIsIgnored(t *testing.T) {
	rf := newRouterFixture()
	event := stripeEvent(t, "evt_4", "payment_intent.succeeded", map[string]interface{}{
		"id":      "pi_9",
		"invoice": "in_9",
	})
	rf.ledger.On("HasProcessed", mock.Anything, "evt_4").Return(false, nil)
	rf.ledger.On("RecordEvent", mock.Anything, "evt_4", "payment_intent.succeeded").Return(nil)

	result := rf.router.Route(context.Background(), event)
	assert.Equal(t, RouteIgnored, result.Status)
	assert.Empty(t, rf.payments.finds)
	assert.Empty(t, rf.publisher.Calls)
	rf.ledger.AssertExpectations(t)
}

func TestRoute_UnsupportedTypeIsIgnored(t *testing.T) {
	rf := newRouterFixture()
	event := stripeEvent(t, "evt_5", "customer.created", map[string]interface{}{"id": "cus_1"})
	rf.ledger.On("HasProcessed", mock.Anything, "evt_5").Return(false, nil)
	rf.ledger.On("RecordEvent", mock.Anything, "evt_5", "customer.created").Return(nil)

	assert.Equal(t, RouteIgnored, rf.router.Route(context.Background(), event).Status)
	assert.Empty(t, rf.psp.Calls)
}

func TestRoute_LedgerErrorsDoNotBlockProcessing(t *testing.T) {
	rf := newRouterFixture()
	event := stripeEvent(t, "evt_6", "invoice.upcoming", map[string]interface{}{"object": "invoice", "subscription": "sub_1"})
	rf.ledger.On("HasProcessed", mock.Anything, "evt_6").Return(false, errors.New("db down"))
	rf.ledger.On("RecordEvent", mock.Anything, "evt_6", "invoice.upcoming").Return(errors.New("db down"))

	// Price sync is disabled in this fixture, so the event succeeds without PSP calls.
	result := rf.router.Route(context.Background(), event)
	assert.Equal(t, RouteSuccess, result.Status)
	assert.Empty(t, rf.publisher.Calls)
}

func TestRoute_InvoiceFailureCarriesStage(t *testing.T) {
	rf := newRouterFixture()
	event := invoiceEvent(t, "evt_7", "invoice.paid", "in_7")
	rf.ledger.On("HasProcessed", mock.Anything, "evt_7").Return(false, nil)
	rf.psp.On("RetrieveInvoiceExpanded", mock.Anything, "in_7").
		Return(nil, domain.NewDomainError(domain.ErrorCodePSPAPIError, "retrieve_invoice"))
	rf.publisher.On("PublishReconciliationFailed", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	result := rf.router.Route(context.Background(), event)
	require.Equal(t, RouteFailure, result.Status)
	assert.Equal(t, stageRetrieve, result.Failure.Stage)
	rf.ledger.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything, mock.Anything)
}
