package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

var (
	pspCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_calls_total",
		Help: "Total number of calls made to the payment service provider",
	}, []string{
		"operation", // create_payment_intent, create_subscription, search_prices, ...
		"outcome",   // success, failure
	})

	pspCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "psp_call_duration_seconds",
		Help:    "Latency of calls made to the payment service provider",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psp_webhook_events_total",
		Help: "PSP webhook events processed by type and outcome",
	}, []string{
		"event_type",
		"outcome", // success, failure, duplicate, ignored
	})

	modificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_modifications_total",
		Help: "Payment modifications by action and resolved transaction state",
	}, []string{
		"action", // capturePayment, cancelPayment, refundPayment
		"state",  // Success, Pending, Failure
	})

	reconciliationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_reconciliation_failures_total",
		Help: "Subscription events acknowledged without completing reconciliation",
	}, []string{"event_type"})
)

// ObservePSPCall records the outcome and latency of one PSP call.
func ObservePSPCall(operation string, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	pspCallsTotal.WithLabelValues(operation, outcome).Inc()
	pspCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordWebhookEvent counts a processed webhook delivery.
func RecordWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordModification counts a completed payment modification.
func RecordModification(action, state string) {
	modificationsTotal.WithLabelValues(action, state).Inc()
}

// RecordReconciliationFailure counts a dropped subscription event.
func RecordReconciliationFailure(eventType string) {
	reconciliationFailuresTotal.WithLabelValues(eventType).Inc()
}
