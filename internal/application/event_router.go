package application

import (
	"context"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/converter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/metrics"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// EventLedger remembers which PSP events were fully processed.
type EventLedger interface {
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, eventID, eventType string) error
}

// OutcomePublisher announces the result of processing a PSP event.
type OutcomePublisher interface {
	PublishTransactionApplied(ctx context.Context, event *stripe.Event, p *payment.Payment) error
	PublishReconciliationFailed(ctx context.Context, failure *ReconciliationFailure) error
}

// RouteStatus is the outcome of routing one event.
type RouteStatus string

const (
	RouteSuccess   RouteStatus = metrics.OutcomeSuccess
	RouteFailure   RouteStatus = metrics.OutcomeFailure
	RouteDuplicate RouteStatus = metrics.OutcomeDuplicate
	RouteIgnored   RouteStatus = metrics.OutcomeIgnored
)

// RouteResult is what Route did with an event. Failure is set only for RouteFailure.
type RouteResult struct {
	Status  RouteStatus
	Payment *payment.Payment
	Failure *ReconciliationFailure
}

// EventRouter is the acknowledgement boundary for PSP events: it
// deduplicates, dispatches to the payment or subscription handlers and turns
// every failure into a logged, published ReconciliationFailure.
type EventRouter struct {
	payments      *PaymentService
	subscriptions *SubscriptionService
	ledger        EventLedger
	publisher     OutcomePublisher
	logger        *zap.Logger
}

// NewEventRouter creates a new EventRouter.
func NewEventRouter(
	payments *PaymentService,
	subscriptions *SubscriptionService,
	ledger EventLedger,
	publisher OutcomePublisher,
	logger *zap.Logger,
) *EventRouter {
	return &EventRouter{
		payments:      payments,
		subscriptions: subscriptions,
		ledger:        ledger,
		publisher:     publisher,
		logger:        logger,
	}
}

// Route processes one verified PSP event. It never returns an error: the
// result tells the caller what happened, and an event is only recorded as
// processed when it succeeded or was ignored, so a failed one stays eligible
// for redelivery.
func (r *EventRouter) Route(ctx context.Context, event *stripe.Event) RouteResult {
	log := r.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)

	processed, err := r.ledger.HasProcessed(ctx, event.ID)
	if err != nil {
		log.Warn("failed to read event ledger, processing anyway", zap.Error(err))
	}
	if processed {
		log.Debug("duplicate event skipped")
		return r.finish(ctx, event, RouteResult{Status: RouteDuplicate})
	}

	result := r.dispatch(ctx, event)
	switch result.Status {
	case RouteSuccess, RouteIgnored:
		if err := r.ledger.RecordEvent(ctx, event.ID, string(event.Type)); err != nil {
			log.Warn("failed to record processed event", zap.Error(err))
		}
	case RouteFailure:
		log.Error("event reconciliation failed",
			zap.String("stage", result.Failure.Stage),
			zap.String("psp_reference", result.Failure.PSPReference),
			zap.String("code", string(result.Failure.Code())),
			zap.Error(result.Failure.Err),
		)
	}
	return r.finish(ctx, event, result)
}

func (r *EventRouter) dispatch(ctx context.Context, event *stripe.Event) RouteResult {
	switch converter.Classify(event.Type) {
	case converter.CategoryPayment:
		// Subscription payment intents and charges are reconciled from their invoice.
		if converter.InvoiceReference(event) != "" {
			return RouteResult{Status: RouteIgnored}
		}
		return r.oneShot(ctx, event)

	case converter.CategoryRefund:
		if converter.InvoiceReference(event) != "" {
			return subscriptionResult(r.subscriptions.ProcessSubscriptionEventRefunded(ctx, event))
		}
		return r.oneShot(ctx, event)

	case converter.CategoryInvoice:
		if converter.EventType(event.Type) == converter.InvoicePaid {
			return subscriptionResult(r.subscriptions.ProcessSubscriptionEventPaid(ctx, event))
		}
		return subscriptionResult(r.subscriptions.ProcessSubscriptionEventFailed(ctx, event))

	case converter.CategoryUpcomingInvoice:
		if failure := r.subscriptions.ProcessSubscriptionEventUpcoming(ctx, event); failure != nil {
			return RouteResult{Status: RouteFailure, Failure: failure}
		}
		return RouteResult{Status: RouteSuccess}

	default:
		return RouteResult{Status: RouteIgnored}
	}
}

func (r *EventRouter) oneShot(ctx context.Context, event *stripe.Event) RouteResult {
	p, err := r.payments.ProcessPaymentEvent(ctx, event)
	if err != nil {
		return RouteResult{Status: RouteFailure, Failure: newFailure(event, "apply_payment_event", "", err)}
	}
	if p == nil {
		return RouteResult{Status: RouteIgnored}
	}
	return RouteResult{Status: RouteSuccess, Payment: p}
}

func subscriptionResult(p *payment.Payment, failure *ReconciliationFailure) RouteResult {
	if failure != nil {
		return RouteResult{Status: RouteFailure, Failure: failure}
	}
	return RouteResult{Status: RouteSuccess, Payment: p}
}

// finish records metrics and publishes the outcome. Publishing is best effort.
func (r *EventRouter) finish(ctx context.Context, event *stripe.Event, result RouteResult) RouteResult {
	metrics.RecordWebhookEvent(string(event.Type), string(result.Status))

	switch {
	case result.Status == RouteFailure:
		metrics.RecordReconciliationFailure(string(event.Type))
		if err := r.publisher.PublishReconciliationFailed(ctx, result.Failure); err != nil {
			r.logger.Warn("failed to publish reconciliation failure", zap.String("event_id", event.ID), zap.Error(err))
		}
	case result.Status == RouteSuccess && result.Payment != nil:
		if err := r.publisher.PublishTransactionApplied(ctx, event, result.Payment); err != nil {
			r.logger.Warn("failed to publish transaction outcome", zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	return result
}
