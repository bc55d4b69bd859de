package subscription

import (
	"fmt"
)

// BillingPolicy decides where a recurring billing cycle is recorded.
type BillingPolicy string

const (
	// PolicyCreateOrder clones the original order into a new cart, order and payment per cycle.
	PolicyCreateOrder BillingPolicy = "create_order"
	// PolicyAddPaymentToOrder attaches a new payment for each cycle to the original order.
	PolicyAddPaymentToOrder BillingPolicy = "add_payment_to_order"
)

// ParseBillingPolicy validates a configured policy string.
func ParseBillingPolicy(s string) (BillingPolicy, error) {
	switch BillingPolicy(s) {
	case PolicyCreateOrder, PolicyAddPaymentToOrder:
		return BillingPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid subscription billing policy: %q", s)
	}
}

// SubStatus is the local view of a PSP subscription state.
type SubStatus string

const (
	StatusIncomplete SubStatus = "incomplete"
	StatusTrialing   SubStatus = "trialing"
	StatusActive     SubStatus = "active"
	StatusPastDue    SubStatus = "past_due"
	StatusCanceled   SubStatus = "canceled"
	StatusUnknown    SubStatus = "unknown"
)

// StatusFromPSP maps a provider subscription status onto SubStatus.
func StatusFromPSP(status string) SubStatus {
	switch status {
	case "incomplete", "incomplete_expired":
		return StatusIncomplete
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to SubStatus) bool {
	switch from {
	case StatusIncomplete:
		return to == StatusActive || to == StatusTrialing || to == StatusCanceled
	case StatusTrialing:
		return to == StatusActive || to == StatusPastDue || to == StatusCanceled
	case StatusActive:
		return to == StatusPastDue || to == StatusCanceled
	case StatusPastDue:
		return to == StatusActive || to == StatusCanceled
	default:
		return false
	}
}

// IsBillable reports whether a subscription in this status still generates invoices.
func (s SubStatus) IsBillable() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// Settings holds the configured defaults applied to every new subscription.
type Settings struct {
	TrialPeriodDays   int64
	BillingAnchorDay  int64 // day of month 1..28; 0 keeps the signup date
	CollectionMethod  string
	DaysUntilDue      int64
	PaymentBehavior   string
	ProrationBehavior string
}

// UsesSendInvoice reports whether invoices are emailed rather than charged automatically.
func (s Settings) UsesSendInvoice() bool {
	return s.CollectionMethod == "send_invoice"
}
