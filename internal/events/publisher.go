package events

import (
	"context"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/kafka"
	"github.com/stripe/stripe-go/v81"
)

// EventProducer is the part of kafka.Producer the publisher needs.
type EventProducer interface {
	PublishEvent(ctx context.Context, topic string, ce kafka.CloudEvent) error
}

// OutcomePublisher publishes reconciliation outcomes to the payment events topic.
type OutcomePublisher struct {
	producer EventProducer
	topic    string
}

// NewOutcomePublisher creates a publisher writing to topic.
func NewOutcomePublisher(producer EventProducer, topic string) *OutcomePublisher {
	return &OutcomePublisher{producer: producer, topic: topic}
}

// PublishTransactionApplied publishes the payment state after an event was applied.
func (p *OutcomePublisher) PublishTransactionApplied(ctx context.Context, event *stripe.Event, pay *payment.Payment) error {
	txs := pay.Transactions()
	views := make([]TransactionView, len(txs))
	for i, tx := range txs {
		views[i] = TransactionView{
			ID:            tx.ID.String(),
			Type:          string(tx.Type),
			State:         string(tx.State),
			CentAmount:    tx.Amount.CentAmount,
			CurrencyCode:  tx.Amount.CurrencyCode,
			InteractionID: tx.InteractionID,
		}
	}

	ce, err := kafka.NewCloudEvent(Source, PaymentTransactionApplied, TransactionAppliedEvent{
		EventID:      event.ID,
		EventType:    string(event.Type),
		PaymentID:    pay.ID().String(),
		InterfaceID:  pay.InterfaceID(),
		CentAmount:   pay.AmountPlanned().CentAmount,
		CurrencyCode: pay.AmountPlanned().CurrencyCode,
		Transactions: views,
		Version:      pay.Version(),
	})
	if err != nil {
		return err
	}
	ce.Subject = pay.ID().String()
	return p.producer.PublishEvent(ctx, p.topic, ce)
}

// PublishReconciliationFailed publishes a failure so it can be repaired out of band.
func (p *OutcomePublisher) PublishReconciliationFailed(ctx context.Context, failure *application.ReconciliationFailure) error {
	msg := ""
	if failure.Err != nil {
		msg = failure.Err.Error()
	}
	ce, err := kafka.NewCloudEvent(Source, PaymentReconciliationFailed, ReconciliationFailedEvent{
		EventID:      failure.EventID,
		EventType:    failure.EventType,
		Stage:        failure.Stage,
		PSPReference: failure.PSPReference,
		Code:         string(failure.Code()),
		Message:      msg,
	})
	if err != nil {
		return err
	}
	ce.Subject = failure.EventID
	return p.producer.PublishEvent(ctx, p.topic, ce)
}
