package application

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/converter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/subscription"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// Stages reported on a ReconciliationFailure.
const (
	stageDecode        = "decode_event"
	stageRetrieve      = "retrieve_invoice"
	stageResolve       = "resolve_payment"
	stageCyclePayment  = "create_cycle_payment"
	stageConvert       = "convert_event"
	stageApply         = "apply_transactions"
	stageEnsureOrder   = "ensure_order"
	stagePriceSync     = "price_sync"
	billingReasonCycle = "subscription_cycle"
)

// resolution records how a billing event was matched to a Payment.
type resolution int

const (
	// resolvedByFailedReference: a Payment keyed by the invoice's payment
	// intent already carries a Failure, so this is a redelivered cycle.
	resolvedByFailedReference resolution = iota
	resolvedByReference
	resolvedByMetadata
)

var errNotYetLinked = errors.New("payment not yet linked")

// ProcessSubscriptionEventPaid applies an invoice.paid event to the cycle's
// Payment and ensures the cycle's order exists.
func (s *SubscriptionService) ProcessSubscriptionEventPaid(ctx context.Context, event *stripe.Event) (*payment.Payment, *ReconciliationFailure) {
	return s.processInvoiceEvent(ctx, event, true)
}

// ProcessSubscriptionEventFailed applies an invoice.payment_failed event.
// Orders are only touched when cycles attach to the original order.
func (s *SubscriptionService) ProcessSubscriptionEventFailed(ctx context.Context, event *stripe.Event) (*payment.Payment, *ReconciliationFailure) {
	return s.processInvoiceEvent(ctx, event, false)
}

func (s *SubscriptionService) processInvoiceEvent(ctx context.Context, event *stripe.Event, paid bool) (*payment.Payment, *ReconciliationFailure) {
	// Read once so a reload cannot split one event across two policies.
	policy := s.opts.BillingPolicy

	var raw stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil || raw.ID == "" {
		if err == nil {
			err = domain.NewValidationError("event " + event.ID + " carries no invoice id")
		}
		return nil, newFailure(event, stageDecode, "", err)
	}
	invoice, err := s.psp.RetrieveInvoiceExpanded(ctx, raw.ID)
	if err != nil {
		return nil, newFailure(event, stageRetrieve, raw.ID, err)
	}

	p, by, err := s.resolveCyclePayment(ctx, invoice)
	if err != nil {
		s.logger.Warn("billing event cannot be linked to a payment",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return nil, newFailure(event, stageResolve, invoice.ID, err)
	}

	isPending := p.HasTransactionInState(payment.TransactionCharge, payment.StatePending)
	newCycle := by == resolvedByMetadata &&
		string(invoice.BillingReason) == billingReasonCycle &&
		!isPending

	previous := p
	if newCycle {
		if p, err = s.createCyclePayment(ctx, invoice, previous, policy); err != nil {
			return nil, newFailure(event, stageCyclePayment, invoice.ID, err)
		}
		isPending = false
	}

	update, err := converter.ConvertSubscriptionEvent(event, invoice, isPending, p)
	if err != nil {
		return nil, newFailure(event, stageConvert, invoice.ID, err)
	}
	updated, err := applyAll(ctx, s.paymentRepo, update, p.ID())
	if err != nil {
		return nil, newFailure(event, stageApply, update.PSPReference, err)
	}

	var order *commerce.Order
	if paid || (policy == subscription.PolicyAddPaymentToOrder && (newCycle || by == resolvedByFailedReference)) {
		if order, err = s.ensureOrder(ctx, invoice, updated, policy); err != nil {
			return nil, newFailure(event, stageEnsureOrder, update.PSPReference, err)
		}
	}

	status := subscription.StatusActive
	if !paid {
		status = subscription.StatusPastDue
	}
	if subID := invoiceSubscriptionID(invoice); subID != "" {
		s.trackCycle(ctx, subID, status, updated.ID(), orderIDOf(order))
	}

	s.logger.Info("billing event applied",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("invoice_id", invoice.ID),
		zap.String("payment_id", updated.ID().String()),
		zap.Bool("new_cycle", newCycle),
		zap.String("billing_policy", string(policy)),
	)
	return updated, nil
}

// resolveCyclePayment finds the Payment an invoice belongs to, in order: a
// failed Payment keyed by the payment intent, any Payment keyed by the
// payment intent or invoice, the subscription's metadata link, and finally
// the invoice search again after the configured wait.
func (s *SubscriptionService) resolveCyclePayment(ctx context.Context, invoice *stripe.Invoice) (*payment.Payment, resolution, error) {
	if pi := invoice.PaymentIntent; pi != nil && pi.ID != "" {
		found, err := s.paymentRepo.FindPaymentsByInterfaceID(ctx, pi.ID)
		if err != nil {
			return nil, 0, err
		}
		for _, p := range found {
			if p.HasFailedTransaction() {
				return p, resolvedByFailedReference, nil
			}
		}
		if len(found) > 0 {
			return found[0], resolvedByReference, nil
		}
	}

	found, err := s.paymentRepo.FindPaymentsByInterfaceID(ctx, invoice.ID)
	if err != nil {
		return nil, 0, err
	}
	if len(found) > 0 {
		return found[0], resolvedByReference, nil
	}

	if link := invoiceLink(invoice); link.HasPayment() {
		p, err := s.paymentRepo.GetPayment(ctx, link.PaymentID)
		if err == nil {
			return p, resolvedByMetadata, nil
		}
		if !domain.IsNotFound(err) {
			return nil, 0, err
		}
	}

	p, err := s.awaitLinkedPayment(ctx, invoice)
	if err != nil {
		return nil, 0, err
	}
	return p, resolvedByReference, nil
}

// awaitLinkedPayment covers a subscription whose Payment is created by the
// caller after the first invoice webhook was emitted. It waits
// MetadataRaceDelay, then searches by the invoice's references with a
// bounded exponential backoff.
func (s *SubscriptionService) awaitLinkedPayment(ctx context.Context, invoice *stripe.Invoice) (*payment.Payment, error) {
	s.logger.Info("payment not linked yet, waiting for caller",
		zap.String("invoice_id", invoice.ID),
		zap.Duration("delay", s.opts.MetadataRaceDelay),
		zap.Uint64("retries", s.opts.MetadataRaceRetries),
	)

	timer := time.NewTimer(s.opts.MetadataRaceDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	refs := []string{invoice.ID}
	if invoice.PaymentIntent != nil && invoice.PaymentIntent.ID != "" {
		refs = append([]string{invoice.PaymentIntent.ID}, refs...)
	}

	var resolved *payment.Payment
	search := func() error {
		for _, ref := range refs {
			found, err := s.paymentRepo.FindPaymentsByInterfaceID(ctx, ref)
			if err != nil {
				return backoff.Permanent(err)
			}
			if len(found) > 0 {
				resolved = found[0]
				return nil
			}
		}
		return errNotYetLinked
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	err := backoff.Retry(search, backoff.WithContext(backoff.WithMaxRetries(eb, s.opts.MetadataRaceRetries), ctx))
	if errors.Is(err, errNotYetLinked) {
		return nil, domain.NewMissingLinkageError(invoice.ID)
	}
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// createCyclePayment creates the Payment for a new billing cycle. Under
// create_order the previous cycle's order is cloned into a fresh cart priced
// at the subscription's current price; otherwise the Payment is created on
// the original cart and attached to its order later.
func (s *SubscriptionService) createCyclePayment(ctx context.Context, invoice *stripe.Invoice, previous *payment.Payment, policy subscription.BillingPolicy) (*payment.Payment, error) {
	interactionID := converter.InvoicePSPReference(invoice, false)
	amount := payment.Money{
		CurrencyCode: strings.ToUpper(string(invoice.Currency)),
		CentAmount:   invoice.AmountDue,
	}

	if policy == subscription.PolicyAddPaymentToOrder {
		cart, err := s.carts.GetCartByPaymentID(ctx, previous.ID())
		if err != nil {
			return nil, err
		}
		id, err := s.payments.CreatePayment(ctx, cart, amount, interactionID)
		if err != nil {
			return nil, err
		}
		return s.paymentRepo.GetPayment(ctx, id)
	}

	cart, err := s.cloneOrder(ctx, invoice, previous)
	if err != nil {
		return nil, err
	}
	id, err := s.payments.CreatePayment(ctx, cart, amount, interactionID)
	if err != nil {
		return nil, err
	}
	if err := s.payments.LinkToCart(ctx, cart, id); err != nil {
		return nil, err
	}
	return s.paymentRepo.GetPayment(ctx, id)
}

// cloneOrder copies the previous cycle's order into a new cart and sets its
// recurring line item to the price the subscription bills on now.
func (s *SubscriptionService) cloneOrder(ctx context.Context, invoice *stripe.Invoice, previous *payment.Payment) (*commerce.Cart, error) {
	order, err := s.orders.GetOrderByPaymentID(ctx, previous.ID())
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.CreateCart(ctx, commerce.CartDraft{
		CustomerID:      order.CustomerID,
		CustomerEmail:   order.CustomerEmail,
		LineItems:       order.LineItems,
		ShippingAddress: order.ShippingAddress,
		ShippingInfo:    order.ShippingInfo,
	})
	if err != nil {
		return nil, err
	}

	subID := invoiceSubscriptionID(invoice)
	if subID == "" {
		return cart, nil
	}
	sub, err := s.psp.RetrieveSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	item := recurringItem(sub)
	li, ok := cart.SubscriptionLineItem()
	if item == nil || !ok {
		return cart, nil
	}
	return s.carts.UpdateCart(ctx, cart.ID, commerce.SetLineItemPrice{
		LineItemID: li.ID,
		Price: payment.Money{
			CurrencyCode: strings.ToUpper(string(item.Price.Currency)),
			CentAmount:   item.Price.UnitAmount,
		},
	})
}

// ensureOrder leaves exactly one order holding the Payment. Under
// add_payment_to_order the Payment joins the order of the payment the
// subscription links to; otherwise an order is created from the Payment's
// cart and the subscription is repointed at the new Payment.
func (s *SubscriptionService) ensureOrder(ctx context.Context, invoice *stripe.Invoice, p *payment.Payment, policy subscription.BillingPolicy) (*commerce.Order, error) {
	order, err := s.orders.GetOrderByPaymentID(ctx, p.ID())
	if err == nil {
		return order, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	link := invoiceLink(invoice)
	if policy == subscription.PolicyAddPaymentToOrder && link.HasPayment() && link.PaymentID != p.ID() {
		original, err := s.orders.GetOrderByPaymentID(ctx, link.PaymentID)
		switch {
		case err == nil:
			return s.orders.AddPaymentToOrder(ctx, original.ID, p.ID())
		case !domain.IsNotFound(err):
			return nil, err
		}
	}

	cart, err := s.carts.GetCartByPaymentID(ctx, p.ID())
	if err != nil {
		return nil, err
	}
	order, err = s.orders.CreateOrderFromCart(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if policy == subscription.PolicyCreateOrder && link.PaymentID != p.ID() {
		if subID := invoiceSubscriptionID(invoice); subID != "" {
			_ = s.payments.SyncMetadata(ctx, cart, p.ID(), "", subID)
		}
	}
	s.logger.Info("order created for billing cycle",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", p.ID().String()),
		zap.String("invoice_id", invoice.ID),
	)
	return order, nil
}

// ProcessSubscriptionEventRefunded applies a charge.refunded event raised for
// a subscription invoice.
func (s *SubscriptionService) ProcessSubscriptionEventRefunded(ctx context.Context, event *stripe.Event) (*payment.Payment, *ReconciliationFailure) {
	update, err := convertOneShot(ctx, s.psp, event)
	if err != nil {
		return nil, newFailure(event, stageConvert, "", err)
	}
	invoiceID := converter.InvoiceReference(event)

	p, err := s.resolveRefundedPayment(ctx, update, invoiceID)
	if err != nil {
		return nil, newFailure(event, stageResolve, update.PSPReference, err)
	}
	updated, err := applyAll(ctx, s.paymentRepo, update, p.ID())
	if err != nil {
		return nil, newFailure(event, stageApply, update.PSPReference, err)
	}

	s.logger.Info("subscription refund applied",
		zap.String("event_id", event.ID),
		zap.String("invoice_id", invoiceID),
		zap.String("payment_id", updated.ID().String()),
	)
	return updated, nil
}

func (s *SubscriptionService) resolveRefundedPayment(ctx context.Context, update *payment.TransactionUpdate, invoiceID string) (*payment.Payment, error) {
	if update.PaymentID != uuid.Nil {
		p, err := s.paymentRepo.GetPayment(ctx, update.PaymentID)
		if err == nil {
			return p, nil
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
	}
	for _, ref := range []string{update.PSPReference, invoiceID} {
		if ref == "" {
			continue
		}
		found, err := s.paymentRepo.FindPaymentsByInterfaceID(ctx, ref)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	return nil, domain.NewMissingLinkageError(update.PSPReference)
}

// ProcessSubscriptionEventUpcoming moves a subscription onto the live
// platform price before its next invoice is finalized. Billing dates never
// change: proration is disabled and the anchor is kept.
func (s *SubscriptionService) ProcessSubscriptionEventUpcoming(ctx context.Context, event *stripe.Event) *ReconciliationFailure {
	if !s.opts.PriceSyncEnabled {
		return nil
	}

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return newFailure(event, stageDecode, "", err)
	}
	subID := invoiceSubscriptionID(&invoice)
	if subID == "" {
		return newFailure(event, stageDecode, "", domain.NewValidationError("upcoming invoice carries no subscription"))
	}

	sub, err := s.psp.RetrieveSubscription(ctx, subID)
	if err != nil {
		return newFailure(event, stagePriceSync, subID, err)
	}
	if !subscription.StatusFromPSP(string(sub.Status)).IsBillable() {
		s.logger.Debug("skipping price sync for inactive subscription",
			zap.String("subscription_id", subID),
			zap.String("status", string(sub.Status)),
		)
		return nil
	}
	item := recurringItem(sub)
	if item == nil {
		return nil
	}

	resolved, changed, err := s.prices.ResolvePriceForProduct(ctx, item.Price)
	if err != nil {
		return newFailure(event, stagePriceSync, subID, err)
	}
	if !changed {
		return nil
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(item.ID),
			Price: stripe.String(resolved.ID),
		}},
		ProrationBehavior:           stripe.String("none"),
		BillingCycleAnchorUnchanged: stripe.Bool(true),
	}
	if _, err := s.psp.UpdateSubscription(ctx, subID, params, eventKey(event, "price_sync")); err != nil {
		return newFailure(event, stagePriceSync, subID, err)
	}
	s.trackPrice(ctx, subID, resolved.ID)

	s.logger.Info("subscription price synced",
		zap.String("subscription_id", subID),
		zap.String("from_price_id", item.Price.ID),
		zap.String("to_price_id", resolved.ID),
	)
	return nil
}

// invoiceLink reads the platform link from the invoice's subscription,
// preferring the snapshot taken when the invoice was created.
func invoiceLink(invoice *stripe.Invoice) payment.Link {
	if invoice.SubscriptionDetails != nil && len(invoice.SubscriptionDetails.Metadata) > 0 {
		return payment.LinkFromMetadata(invoice.SubscriptionDetails.Metadata)
	}
	if invoice.Subscription != nil {
		return payment.LinkFromMetadata(invoice.Subscription.Metadata)
	}
	return payment.Link{}
}

func invoiceSubscriptionID(invoice *stripe.Invoice) string {
	if invoice.Subscription != nil {
		return invoice.Subscription.ID
	}
	return ""
}

func orderIDOf(order *commerce.Order) uuid.UUID {
	if order == nil {
		return uuid.Nil
	}
	return order.ID
}
