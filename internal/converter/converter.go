package converter

import (
	"encoding/json"
	"strings"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/stripe/stripe-go/v81"
)

// ConvertPaymentEvent normalizes a one-shot payment event (payment intent or
// charge) into a TransactionUpdate. Unknown types yield an UnsupportedEvent error.
func ConvertPaymentEvent(event *stripe.Event) (*payment.TransactionUpdate, error) {
	switch EventType(event.Type) {
	case PaymentIntentSucceeded, PaymentIntentCanceled, PaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := decode(event, &pi); err != nil {
			return nil, err
		}
		return convertPaymentIntent(event, &pi)
	case ChargeRefunded, ChargeSucceeded, ChargeUpdated:
		var ch stripe.Charge
		if err := decode(event, &ch); err != nil {
			return nil, err
		}
		return convertCharge(event, &ch)
	default:
		return nil, domain.NewUnsupportedEventError(string(event.Type))
	}
}

func convertPaymentIntent(event *stripe.Event, pi *stripe.PaymentIntent) (*payment.TransactionUpdate, error) {
	amount := money(pi.AmountReceived, pi.Currency)
	update := newUpdate(event, pi.ID, pi.Metadata)
	if pi.LatestCharge != nil {
		update.PaymentMethod = chargeMethod(pi.LatestCharge)
	}

	switch EventType(event.Type) {
	case PaymentIntentSucceeded:
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionCharge, payment.StateSuccess, amount, pi.ID),
		}
	case PaymentIntentCanceled:
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionAuthorization, payment.StateFailure, amount, pi.ID),
			tx(payment.TransactionCancelAuthorization, payment.StateSuccess, amount, pi.ID),
		}
	case PaymentIntentPaymentFailed:
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionAuthorization, payment.StateFailure, amount, pi.ID),
		}
	default:
		return nil, domain.NewUnsupportedEventError(string(event.Type))
	}
	return update, nil
}

func convertCharge(event *stripe.Event, ch *stripe.Charge) (*payment.TransactionUpdate, error) {
	pspReference := ch.ID
	md := ch.Metadata
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		pspReference = ch.PaymentIntent.ID
		if len(md) == 0 {
			md = ch.PaymentIntent.Metadata
		}
	}
	update := newUpdate(event, pspReference, md)
	update.PaymentMethod = chargeMethod(ch)

	switch EventType(event.Type) {
	case ChargeRefunded:
		if ch.Refunds != nil {
			if drafts := refundTransactions(ch.Refunds.Data, ch.Currency); len(drafts) > 0 {
				update.Transactions = drafts
				return update, nil
			}
		}
		// Without the refund list only the cumulative amount is known.
		refunded := money(ch.AmountRefunded, ch.Currency)
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionRefund, payment.StateSuccess, refunded, pspReference),
			tx(payment.TransactionChargeback, payment.StateSuccess, refunded, pspReference),
		}
	case ChargeSucceeded:
		// Captures are reported through payment_intent.succeeded.
		if ch.Captured {
			update.Transactions = []payment.TransactionDraft{}
			return update, nil
		}
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionAuthorization, payment.StateSuccess, money(ch.Amount, ch.Currency), pspReference),
		}
	case ChargeUpdated:
		captured := ch.AmountCaptured
		if captured == 0 {
			captured = ch.Amount
		}
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionCharge, payment.StateSuccess, money(captured, ch.Currency), pspReference),
		}
	default:
		return nil, domain.NewUnsupportedEventError(string(event.Type))
	}
	return update, nil
}

// RefundedChargeWithoutList returns the charge id of a charge.refunded event
// whose payload does not embed the charge's refunds.
func RefundedChargeWithoutList(event *stripe.Event) (string, bool) {
	if EventType(event.Type) != ChargeRefunded {
		return "", false
	}
	var ch stripe.Charge
	if err := decode(event, &ch); err != nil || ch.ID == "" {
		return "", false
	}
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
		return "", false
	}
	return ch.ID, true
}

// ConvertChargeRefunded converts a charge.refunded event using the given
// refunds of the charge, as read from the PSP.
func ConvertChargeRefunded(event *stripe.Event, refunds []*stripe.Refund) (*payment.TransactionUpdate, error) {
	if EventType(event.Type) != ChargeRefunded {
		return nil, domain.NewUnsupportedEventError(string(event.Type))
	}
	var ch stripe.Charge
	if err := decode(event, &ch); err != nil {
		return nil, err
	}
	if len(refunds) > 0 {
		ch.Refunds = &stripe.RefundList{Data: refunds}
	}
	return convertCharge(event, &ch)
}

// refundTransactions keys each refund on its own id and amount, the same
// pair a refund issued through a payment modification is recorded under.
// Only a settled refund carries the Chargeback.
func refundTransactions(refunds []*stripe.Refund, currency stripe.Currency) []payment.TransactionDraft {
	drafts := make([]payment.TransactionDraft, 0, 2*len(refunds))
	for _, r := range refunds {
		if r == nil || r.ID == "" {
			continue
		}
		cur := r.Currency
		if cur == "" {
			cur = currency
		}
		amount := money(r.Amount, cur)
		switch r.Status {
		case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
			drafts = append(drafts, tx(payment.TransactionRefund, payment.StatePending, amount, r.ID))
		case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
			drafts = append(drafts, tx(payment.TransactionRefund, payment.StateFailure, amount, r.ID))
		default:
			drafts = append(drafts,
				tx(payment.TransactionRefund, payment.StateSuccess, amount, r.ID),
				tx(payment.TransactionChargeback, payment.StateSuccess, amount, r.ID),
			)
		}
	}
	return drafts
}

// ConvertSubscriptionEvent normalizes an invoice event for a subscription
// billing cycle. invoice must be the expanded invoice (payment intent and
// charge). When isPaymentChargePending is true the Authorization already
// exists on the payment and only the Charge is emitted. p may be nil.
func ConvertSubscriptionEvent(
	event *stripe.Event,
	invoice *stripe.Invoice,
	isPaymentChargePending bool,
	p *payment.Payment,
) (*payment.TransactionUpdate, error) {
	var state payment.TransactionState
	var amount payment.Money
	switch EventType(event.Type) {
	case InvoicePaid:
		state = payment.StateSuccess
		amount = money(invoice.AmountPaid, invoice.Currency)
	case InvoicePaymentFailed:
		state = payment.StateFailure
		amount = money(invoice.AmountDue, invoice.Currency)
	default:
		return nil, domain.NewUnsupportedEventError(string(event.Type))
	}

	pspReference := InvoicePSPReference(invoice, isPaymentChargePending)

	update := &payment.TransactionUpdate{
		PSPReference:   pspReference,
		PaymentMethod:  invoiceMethod(event, invoice),
		PSPInteraction: payment.PSPInteraction{RawResponse: string(event.Data.Raw)},
	}
	if p != nil {
		update.PaymentID = p.ID()
	} else if invoice.SubscriptionDetails != nil {
		update.PaymentID = payment.LinkFromMetadata(invoice.SubscriptionDetails.Metadata).PaymentID
	}

	charge := tx(payment.TransactionCharge, state, amount, pspReference)
	if isPaymentChargePending {
		update.Transactions = []payment.TransactionDraft{charge}
	} else {
		update.Transactions = []payment.TransactionDraft{
			tx(payment.TransactionAuthorization, state, amount, pspReference),
			charge,
		}
	}
	return update, nil
}

// InvoicePSPReference returns the reference a billing-cycle payment is keyed
// by: the payment intent when one is attached and no charge is pending,
// otherwise the invoice itself.
func InvoicePSPReference(invoice *stripe.Invoice, isPaymentChargePending bool) string {
	if invoice.PaymentIntent != nil && invoice.PaymentIntent.ID != "" && !isPaymentChargePending {
		return invoice.PaymentIntent.ID
	}
	return invoice.ID
}

func invoiceMethod(event *stripe.Event, invoice *stripe.Invoice) string {
	if invoice.Charge != nil && invoice.Charge.PaymentMethodDetails != nil {
		return string(invoice.Charge.PaymentMethodDetails.Type)
	}
	if invoice.PaymentIntent != nil && invoice.PaymentIntent.LatestCharge != nil {
		return chargeMethod(invoice.PaymentIntent.LatestCharge)
	}
	if EventType(event.Type) == InvoicePaid && invoice.Charge == nil && invoice.PaymentIntent == nil {
		return PaymentMethodBalance
	}
	return ""
}

func newUpdate(event *stripe.Event, pspReference string, md map[string]string) *payment.TransactionUpdate {
	return &payment.TransactionUpdate{
		PaymentID:      payment.LinkFromMetadata(md).PaymentID,
		PSPReference:   pspReference,
		PSPInteraction: payment.PSPInteraction{RawResponse: string(event.Data.Raw)},
	}
}

func decode(event *stripe.Event, v interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.NewValidationError("event " + event.ID + " carries no data object")
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return domain.WrapError(domain.ErrorCodeValidation, "failed to decode event "+event.ID, err)
	}
	return nil
}

func chargeMethod(ch *stripe.Charge) string {
	if ch == nil || ch.PaymentMethodDetails == nil {
		return ""
	}
	return string(ch.PaymentMethodDetails.Type)
}

func money(amount int64, currency stripe.Currency) payment.Money {
	return payment.Money{CurrencyCode: strings.ToUpper(string(currency)), CentAmount: amount}
}

func tx(t payment.TransactionType, s payment.TransactionState, amount payment.Money, interactionID string) payment.TransactionDraft {
	return payment.TransactionDraft{Type: t, State: s, Amount: amount, InteractionID: interactionID}
}

// InvoiceReference returns the id of the invoice a payment intent or charge
// event was raised for, or "" for one-shot objects. The invoice may be
// serialized either as an id or as an expanded object.
func InvoiceReference(event *stripe.Event) string {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return ""
	}
	var obj struct {
		Invoice json.RawMessage `json:"invoice"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil || len(obj.Invoice) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(obj.Invoice, &id); err == nil {
		return id
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(obj.Invoice, &expanded); err == nil {
		return expanded.ID
	}
	return ""
}
