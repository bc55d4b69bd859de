package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/converter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/discount"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/saga"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// SubscriptionOptions configures subscription creation and billing-cycle handling.
type SubscriptionOptions struct {
	ProjectKey    string
	Settings      subscription.Settings
	BillingPolicy subscription.BillingPolicy

	// PriceSyncEnabled turns on price swaps for upcoming invoices.
	PriceSyncEnabled bool

	// MetadataRaceDelay is waited once before payments are searched by
	// invoice id; MetadataRaceRetries further searches follow with backoff.
	MetadataRaceDelay   time.Duration
	MetadataRaceRetries uint64
}

// SubscriptionService orchestrates the PSP subscription lifecycle and keeps
// platform payments and orders in step with its billing cycles.
type SubscriptionService struct {
	payments    *PaymentService
	prices      *PriceService
	paymentRepo payment.PaymentRepository
	carts       commerce.CartRepository
	orders      commerce.OrderRepository
	records     subscription.RecordRepository
	psp         adapter.StripeAdapter
	opts        SubscriptionOptions
	logger      *zap.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(
	payments *PaymentService,
	prices *PriceService,
	paymentRepo payment.PaymentRepository,
	carts commerce.CartRepository,
	orders commerce.OrderRepository,
	records subscription.RecordRepository,
	psp adapter.StripeAdapter,
	opts SubscriptionOptions,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		payments:    payments,
		prices:      prices,
		paymentRepo: paymentRepo,
		carts:       carts,
		orders:      orders,
		records:     records,
		psp:         psp,
		opts:        opts,
		logger:      logger,
	}
}

// CreateSubscription subscribes the cart's customer to its recurring line
// item, creates the platform Payment and links both sides.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, cartID uuid.UUID) (*SubscriptionResult, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, cart)
	if err != nil {
		return nil, err
	}
	return s.subscribe(ctx, cart, customerID, "", true)
}

// CreateSetupIntent starts collection of a payment method for a subscription
// that is created once the setup intent is confirmed.
func (s *SubscriptionService) CreateSetupIntent(ctx context.Context, cartID uuid.UUID) (*SetupIntentResult, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if _, ok := cart.SubscriptionLineItem(); !ok {
		return nil, domain.NewValidationError("cart " + cartID.String() + " has no recurring line item")
	}
	customerID, err := s.ensureCustomer(ctx, cart)
	if err != nil {
		return nil, err
	}

	si, err := s.psp.CreateSetupIntent(ctx, &stripe.SetupIntentParams{
		Customer: stripe.String(customerID),
		Usage:    stripe.String("off_session"),
		AutomaticPaymentMethods: &stripe.SetupIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: payment.Link{
			CartID:     cart.ID,
			CustomerID: cart.CustomerID,
			ProjectKey: s.opts.ProjectKey,
		}.Metadata(),
	}, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.logger.Info("setup intent created",
		zap.String("setup_intent_id", si.ID),
		zap.String("cart_id", cart.ID.String()),
		zap.String("psp_customer_id", customerID),
	)
	return &SetupIntentResult{SetupIntentID: si.ID, ClientSecret: si.ClientSecret, CustomerID: customerID}, nil
}

// CreateSubscriptionFromSetupIntent creates the subscription on the payment
// method a confirmed setup intent collected. The platform Payment is created
// afterwards by ConfirmSubscriptionPayment.
func (s *SubscriptionService) CreateSubscriptionFromSetupIntent(ctx context.Context, req CreateFromSetupIntentRequest) (*SubscriptionResult, error) {
	cart, err := s.carts.GetCart(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	si, err := s.psp.RetrieveSetupIntent(ctx, req.SetupIntentID)
	if err != nil {
		return nil, err
	}
	if string(si.Status) != "succeeded" {
		return nil, domain.NewInvalidStateError("setup_intent:"+string(si.Status), "subscription")
	}
	if si.PaymentMethod == nil || si.Customer == nil {
		return nil, domain.NewValidationError("setup intent " + si.ID + " carries no payment method")
	}
	return s.subscribe(ctx, cart, si.Customer.ID, si.PaymentMethod.ID, false)
}

// ConfirmSubscriptionPayment records the first billing cycle of a
// subscription after the customer confirmed it client side. It creates the
// Payment when none is linked yet.
func (s *SubscriptionService) ConfirmSubscriptionPayment(ctx context.Context, req ConfirmSubscriptionRequest) (*PaymentDTO, error) {
	cart, err := s.carts.GetCart(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	sub, err := s.psp.RetrieveSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}

	invoice := sub.LatestInvoice
	isPending := invoice == nil || string(invoice.Status) != "paid"
	interactionID := sub.ID
	paymentIntentID := ""
	if invoice != nil {
		interactionID = converter.InvoicePSPReference(invoice, isPending)
		if invoice.PaymentIntent != nil {
			paymentIntentID = invoice.PaymentIntent.ID
		}
	}

	var p *payment.Payment
	link := payment.LinkFromMetadata(sub.Metadata)
	if link.HasPayment() {
		if p, err = s.paymentRepo.GetPayment(ctx, link.PaymentID); err != nil {
			return nil, err
		}
	} else {
		id, err := s.payments.CreatePayment(ctx, cart, cart.PaymentAmount(), interactionID)
		if err != nil {
			return nil, err
		}
		if err := s.payments.LinkToCart(ctx, cart, id); err != nil {
			return nil, err
		}
		if p, err = s.paymentRepo.GetPayment(ctx, id); err != nil {
			return nil, err
		}
	}

	p, err = s.payments.UpdateSubscriptionCycleTransactions(ctx, p, interactionID, isPending)
	if err != nil {
		return nil, err
	}
	_ = s.payments.SyncMetadata(ctx, cart, p.ID(), paymentIntentID, sub.ID)

	order, err := s.orders.GetOrderByPaymentID(ctx, p.ID())
	if domain.IsNotFound(err) {
		order, err = s.orders.CreateOrderFromCart(ctx, cart.ID)
	}
	if err != nil {
		return nil, err
	}

	s.trackCycle(ctx, sub.ID, subscription.StatusFromPSP(string(sub.Status)), p.ID(), order.ID)
	s.logger.Info("subscription payment confirmed",
		zap.String("subscription_id", sub.ID),
		zap.String("payment_id", p.ID().String()),
		zap.String("order_id", order.ID.String()),
		zap.Bool("charge_pending", isPending),
	)
	dto := toPaymentDTO(p)
	return &dto, nil
}

// CancelSubscription cancels a subscription at the PSP.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResult, error) {
	sub, err := s.psp.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		if adapter.IsResourceMissing(err) {
			return nil, domain.NewNotFoundError("subscription", subscriptionID)
		}
		return nil, err
	}
	from := subscription.StatusFromPSP(string(sub.Status))
	if !subscription.CanTransition(from, subscription.StatusCanceled) {
		return nil, domain.NewInvalidStateError(string(from), string(subscription.StatusCanceled))
	}

	canceled, err := s.psp.CancelSubscription(ctx, subscriptionID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	s.trackStatus(ctx, subscriptionID, subscription.StatusCanceled)

	s.logger.Info("subscription canceled", zap.String("subscription_id", subscriptionID))
	return &SubscriptionResult{
		SubscriptionID: canceled.ID,
		CustomerID:     customerOf(canceled),
		Status:         string(canceled.Status),
	}, nil
}

// UpdateSubscription moves the subscription to the reconciled price of a
// product variant using the configured proration behavior.
func (s *SubscriptionService) UpdateSubscription(ctx context.Context, req UpdateSubscriptionRequest) (*SubscriptionResult, error) {
	sub, err := s.psp.RetrieveSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	status := subscription.StatusFromPSP(string(sub.Status))
	if !status.IsBillable() {
		return nil, domain.NewInvalidStateError(string(status), "updated")
	}
	item := recurringItem(sub)
	if item == nil {
		return nil, domain.NewValidationError("subscription " + sub.ID + " has no product item")
	}

	price, err := s.prices.ReconcileVariantPrice(ctx, req.ProductID, req.SKU, productName(item.Price))
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = item.Quantity
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:       stripe.String(item.ID),
			Price:    stripe.String(price.ID),
			Quantity: stripe.Int64(quantity),
		}},
	}
	if s.opts.Settings.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(s.opts.Settings.ProrationBehavior)
	}
	updated, err := s.psp.UpdateSubscription(ctx, sub.ID, params, uuid.NewString())
	if err != nil {
		return nil, err
	}
	s.trackPrice(ctx, sub.ID, price.ID)

	s.logger.Info("subscription updated",
		zap.String("subscription_id", sub.ID),
		zap.String("price_id", price.ID),
		zap.Int64("quantity", quantity),
	)
	return &SubscriptionResult{
		SubscriptionID: updated.ID,
		CustomerID:     customerOf(updated),
		Status:         string(updated.Status),
	}, nil
}

// ListCustomerSubscriptions returns the tracked subscriptions of a platform customer.
func (s *SubscriptionService) ListCustomerSubscriptions(ctx context.Context, customerID string) ([]SubscriptionDTO, error) {
	records, err := s.records.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	dtos := make([]SubscriptionDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, toSubscriptionDTO(r))
	}
	return dtos, nil
}

// subscribe creates the PSP subscription for the cart's recurring line item.
// With withPayment the platform Payment is created and linked as well.
func (s *SubscriptionService) subscribe(ctx context.Context, cart *commerce.Cart, customerID, paymentMethodID string, withPayment bool) (*SubscriptionResult, error) {
	li, ok := cart.SubscriptionLineItem()
	if !ok {
		return nil, domain.NewValidationError("cart " + cart.ID.String() + " has no recurring line item")
	}

	price, err := s.prices.ReconcileLineItemPrice(ctx, li)
	if err != nil {
		return nil, err
	}
	items := []*stripe.SubscriptionItemsParams{{
		Price:    stripe.String(price.ID),
		Quantity: stripe.Int64(li.Quantity),
	}}
	if cart.ShippingInfo != nil && cart.ShippingInfo.Price.CentAmount > 0 {
		shipping, err := s.prices.ReconcileShippingPrice(ctx, *cart.ShippingInfo, *li.Price.Recurrence)
		if err != nil {
			return nil, err
		}
		items = append(items, &stripe.SubscriptionItemsParams{
			Price:    stripe.String(shipping.ID),
			Quantity: stripe.Int64(1),
		})
	}

	params := s.subscriptionParams(cart, customerID, paymentMethodID, items)

	var coupon *stripe.Coupon
	var sub *stripe.Subscription
	var paymentID uuid.UUID

	sg := saga.NewSaga("create_subscription", s.logger)
	if cart.Discount != nil {
		sg.AddStep(saga.SagaStep{
			Name: "create_coupon",
			Execute: func(ctx context.Context) error {
				terms, err := cart.Discount.CouponTerms(li.Price.Value.CentAmount*li.Quantity, li.Price.Value.CurrencyCode)
				if err != nil {
					return domain.WrapError(domain.ErrorCodeValidation, "invalid cart discount", err)
				}
				coupon, err = s.psp.CreateCoupon(ctx, couponParams(terms), uuid.NewString())
				if err != nil {
					return err
				}
				params.Discounts = []*stripe.SubscriptionDiscountParams{{Coupon: stripe.String(coupon.ID)}}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.psp.DeleteCoupon(ctx, coupon.ID, uuid.NewString())
			},
		})
	}
	sg.AddStep(saga.SagaStep{
		Name: "create_psp_subscription",
		Execute: func(ctx context.Context) error {
			var err error
			sub, err = s.psp.CreateSubscription(ctx, params, uuid.NewString())
			return err
		},
		Compensate: func(ctx context.Context) error {
			_, err := s.psp.CancelSubscription(ctx, sub.ID, uuid.NewString())
			return err
		},
	})
	if withPayment {
		sg.AddStep(saga.SagaStep{
			Name: "create_payment",
			Execute: func(ctx context.Context) error {
				var err error
				paymentID, err = s.payments.CreatePayment(ctx, cart, cart.PaymentAmount(), firstCycleReference(sub))
				return err
			},
		})
		sg.AddStep(saga.SagaStep{
			Name: "link_to_cart",
			Execute: func(ctx context.Context) error {
				return s.payments.LinkToCart(ctx, cart, paymentID)
			},
		})
	}
	if s.opts.Settings.UsesSendInvoice() {
		sg.AddStep(saga.SagaStep{
			Name: "send_first_invoice",
			Execute: func(ctx context.Context) error {
				return s.sendFirstInvoice(ctx, sub)
			},
		})
	}
	if err := sg.Execute(ctx); err != nil {
		return nil, err
	}

	paymentIntentID := ""
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		paymentIntentID = sub.LatestInvoice.PaymentIntent.ID
	}
	if withPayment {
		_ = s.payments.SyncMetadata(ctx, cart, paymentID, paymentIntentID, sub.ID)
	}

	record := subscription.NewRecord(sub.ID, cart.ID, paymentID, cart.CustomerID, price.ID, subscription.StatusFromPSP(string(sub.Status)))
	if err := s.records.Save(ctx, record); err != nil {
		s.logger.Warn("failed to track subscription", zap.String("subscription_id", sub.ID), zap.Error(err))
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("cart_id", cart.ID.String()),
		zap.String("payment_id", paymentID.String()),
		zap.String("status", string(sub.Status)),
	)

	result := &SubscriptionResult{
		SubscriptionID: sub.ID,
		PaymentID:      paymentID,
		CustomerID:     customerID,
		Status:         string(sub.Status),
	}
	switch {
	case sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil:
		result.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
		result.InvoiceID = sub.LatestInvoice.ID
	case sub.PendingSetupIntent != nil:
		result.ClientSecret = sub.PendingSetupIntent.ClientSecret
	}
	if result.InvoiceID == "" && sub.LatestInvoice != nil {
		result.InvoiceID = sub.LatestInvoice.ID
	}
	return result, nil
}

func (s *SubscriptionService) subscriptionParams(cart *commerce.Cart, customerID, paymentMethodID string, items []*stripe.SubscriptionItemsParams) *stripe.SubscriptionParams {
	settings := s.opts.Settings
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items:    items,
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
		Metadata: payment.Link{
			CartID:     cart.ID,
			CustomerID: cart.CustomerID,
			ProjectKey: s.opts.ProjectKey,
		}.Metadata(),
	}
	if settings.PaymentBehavior != "" {
		params.PaymentBehavior = stripe.String(settings.PaymentBehavior)
	}
	if paymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(paymentMethodID)
	}
	if settings.TrialPeriodDays > 0 {
		params.TrialPeriodDays = stripe.Int64(settings.TrialPeriodDays)
	}
	if settings.BillingAnchorDay > 0 {
		start := time.Now().UTC().AddDate(0, 0, int(settings.TrialPeriodDays))
		params.BillingCycleAnchor = stripe.Int64(nextAnchor(start, settings.BillingAnchorDay).Unix())
		if settings.ProrationBehavior != "" {
			params.ProrationBehavior = stripe.String(settings.ProrationBehavior)
		}
	}
	if settings.UsesSendInvoice() {
		params.CollectionMethod = stripe.String(settings.CollectionMethod)
		params.DaysUntilDue = stripe.Int64(settings.DaysUntilDue)
	}
	return params
}

// sendFirstInvoice finalizes and emails a draft first invoice.
func (s *SubscriptionService) sendFirstInvoice(ctx context.Context, sub *stripe.Subscription) error {
	if sub.LatestInvoice == nil {
		return nil
	}
	invoiceID := sub.LatestInvoice.ID
	if string(sub.LatestInvoice.Status) == "draft" {
		if _, err := s.psp.FinalizeInvoice(ctx, invoiceID, uuid.NewString()); err != nil {
			return err
		}
	}
	_, err := s.psp.SendInvoice(ctx, invoiceID, uuid.NewString())
	return err
}

// ensureCustomer finds the PSP customer for the cart, creating it when missing.
func (s *SubscriptionService) ensureCustomer(ctx context.Context, cart *commerce.Cart) (string, error) {
	var query string
	switch {
	case cart.CustomerID != "":
		query = fmt.Sprintf("metadata['commerce_customer_id']:'%s'", escapeQuery(cart.CustomerID))
	case cart.CustomerEmail != "":
		query = fmt.Sprintf("email:'%s'", escapeQuery(cart.CustomerEmail))
	}
	if query != "" {
		found, err := s.psp.SearchCustomers(ctx, query)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			return found[0].ID, nil
		}
	}

	params := &stripe.CustomerParams{
		Metadata: payment.Link{CustomerID: cart.CustomerID, ProjectKey: s.opts.ProjectKey}.Metadata(),
	}
	if cart.CustomerEmail != "" {
		params.Email = stripe.String(cart.CustomerEmail)
	}
	if a := cart.ShippingAddress; a != nil && (a.FirstName != "" || a.LastName != "") {
		params.Name = stripe.String(strings.TrimSpace(a.FirstName + " " + a.LastName))
	}
	created, err := s.psp.CreateCustomer(ctx, params, uuid.NewString())
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// --- Projection helpers. The projection is advisory, failures are logged. ---

func (s *SubscriptionService) trackCycle(ctx context.Context, subscriptionID string, status subscription.SubStatus, paymentID, orderID uuid.UUID) {
	s.updateRecord(ctx, subscriptionID, func(r *subscription.Record) {
		r.AttachCycle(paymentID, orderID)
		r.Observe(status)
	})
}

func (s *SubscriptionService) trackStatus(ctx context.Context, subscriptionID string, status subscription.SubStatus) {
	s.updateRecord(ctx, subscriptionID, func(r *subscription.Record) { r.Observe(status) })
}

func (s *SubscriptionService) trackPrice(ctx context.Context, subscriptionID, priceID string) {
	s.updateRecord(ctx, subscriptionID, func(r *subscription.Record) { r.SwapPrice(priceID) })
}

func (s *SubscriptionService) updateRecord(ctx context.Context, subscriptionID string, mutate func(*subscription.Record)) {
	r, err := s.records.FindByID(ctx, subscriptionID)
	if err != nil {
		if !domain.IsNotFound(err) {
			s.logger.Warn("failed to load subscription record", zap.String("subscription_id", subscriptionID), zap.Error(err))
		}
		return
	}
	mutate(r)
	if err := s.records.Update(ctx, r); err != nil {
		s.logger.Warn("failed to update subscription record", zap.String("subscription_id", subscriptionID), zap.Error(err))
	}
}

// --- PSP object helpers ---

// firstCycleReference keys the first-cycle payment like the converter keys
// its invoice events.
func firstCycleReference(sub *stripe.Subscription) string {
	if sub.LatestInvoice == nil {
		return sub.ID
	}
	return converter.InvoicePSPReference(sub.LatestInvoice, false)
}

// recurringItem returns the product item of a subscription, skipping shipping.
func recurringItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil {
		return nil
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if _, shipping := item.Price.Metadata[priceMetadataShippingMethodID]; shipping {
			continue
		}
		return item
	}
	return nil
}

func productName(p *stripe.Price) string {
	if p != nil && p.Product != nil {
		return p.Product.Name
	}
	return ""
}

func customerOf(sub *stripe.Subscription) string {
	if sub.Customer != nil {
		return sub.Customer.ID
	}
	return ""
}

func couponParams(terms discount.CouponTerms) *stripe.CouponParams {
	params := &stripe.CouponParams{
		Name:     stripe.String(terms.Name),
		Duration: stripe.String("once"),
	}
	if terms.PercentOff > 0 {
		params.PercentOff = stripe.Float64(terms.PercentOff)
	} else {
		params.AmountOff = stripe.Int64(terms.AmountOff)
		params.Currency = stripe.String(strings.ToLower(terms.Currency))
	}
	return params
}

// nextAnchor returns the first UTC midnight on the given day of month after
// start. Days past 28 fall on the 28th.
func nextAnchor(start time.Time, day int64) time.Time {
	if day > 28 {
		day = 28
	}
	y, m, _ := start.Date()
	anchor := time.Date(y, m, int(day), 0, 0, 0, 0, time.UTC)
	if !anchor.After(start) {
		anchor = anchor.AddDate(0, 1, 0)
	}
	return anchor
}

func toSubscriptionDTO(r *subscription.Record) SubscriptionDTO {
	return SubscriptionDTO{
		ID:         r.ID(),
		CartID:     r.CartID(),
		PaymentID:  r.PaymentID(),
		OrderID:    r.OrderID(),
		CustomerID: r.CustomerID(),
		PriceID:    r.PriceID(),
		Status:     string(r.Status()),
		CreatedAt:  r.CreatedAt(),
		UpdatedAt:  r.UpdatedAt(),
	}
}
