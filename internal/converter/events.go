// Package converter normalizes PSP webhook payloads into platform
// transaction updates. Every function here is pure: no I/O, no clock reads
// beyond what the domain types do on construction.
package converter

import "github.com/stripe/stripe-go/v81"

// EventType is the closed set of PSP event types the engine understands.
type EventType string

const (
	PaymentIntentSucceeded     EventType = "payment_intent.succeeded"
	PaymentIntentCanceled      EventType = "payment_intent.canceled"
	PaymentIntentPaymentFailed EventType = "payment_intent.payment_failed"
	ChargeRefunded             EventType = "charge.refunded"
	ChargeSucceeded            EventType = "charge.succeeded"
	ChargeUpdated              EventType = "charge.updated"
	InvoicePaid                EventType = "invoice.paid"
	InvoicePaymentFailed       EventType = "invoice.payment_failed"
	InvoiceUpcoming            EventType = "invoice.upcoming"
)

// Category groups event types by the handler family that processes them.
type Category int

const (
	CategoryUnsupported Category = iota
	CategoryPayment
	CategoryRefund
	CategoryInvoice
	CategoryUpcomingInvoice
)

// Classify maps a raw event type onto its Category.
func Classify(t stripe.EventType) Category {
	switch EventType(t) {
	case PaymentIntentSucceeded, PaymentIntentCanceled, PaymentIntentPaymentFailed,
		ChargeSucceeded, ChargeUpdated:
		return CategoryPayment
	case ChargeRefunded:
		return CategoryRefund
	case InvoicePaid, InvoicePaymentFailed:
		return CategoryInvoice
	case InvoiceUpcoming:
		return CategoryUpcomingInvoice
	default:
		return CategoryUnsupported
	}
}

// PaymentMethodBalance labels invoices settled from the customer balance,
// with no PSP charge or payment intent involved.
const PaymentMethodBalance = "customer_balance"

// PaymentInterface is recorded on every Payment created by this engine.
const PaymentInterface = "stripe"
