package application

import (
	"context"
	"errors"
	"strings"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/converter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/saga"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// PaymentOptions configures one-shot payment creation.
type PaymentOptions struct {
	ProjectKey    string
	ManualCapture bool
}

// PaymentService creates platform Payments, links them to PSP objects and
// applies one-shot PSP events to them.
type PaymentService struct {
	payments payment.PaymentRepository
	carts    commerce.CartRepository
	psp      adapter.StripeAdapter
	opts     PaymentOptions
	logger   *zap.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	payments payment.PaymentRepository,
	carts commerce.CartRepository,
	psp adapter.StripeAdapter,
	opts PaymentOptions,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		payments: payments,
		carts:    carts,
		psp:      psp,
		opts:     opts,
		logger:   logger,
	}
}

// CreatePayment creates the platform Payment for a cart with a single
// Authorization/Initial transaction. Failures are fatal to the caller.
func (s *PaymentService) CreatePayment(ctx context.Context, cart *commerce.Cart, amountPlanned payment.Money, interactionID string) (uuid.UUID, error) {
	draft := payment.PaymentDraft{
		AmountPlanned:     amountPlanned,
		InterfaceID:       interactionID,
		PaymentMethodInfo: payment.PaymentMethodInfo{PaymentInterface: converter.PaymentInterface},
		Transactions: []payment.TransactionDraft{{
			Type:          payment.TransactionAuthorization,
			State:         payment.StateInitial,
			Amount:        amountPlanned,
			InteractionID: interactionID,
		}},
	}
	switch {
	case cart.CustomerID != "":
		draft.CustomerID = cart.CustomerID
	case cart.AnonymousID != "":
		draft.AnonymousID = cart.AnonymousID
	}

	p, err := s.payments.CreatePayment(ctx, draft)
	if err != nil {
		s.logger.Error("failed to create payment",
			zap.String("cart_id", cart.ID.String()),
			zap.String("psp_reference", interactionID),
			zap.Error(err),
		)
		return uuid.Nil, err
	}

	s.logger.Info("payment created",
		zap.String("payment_id", p.ID().String()),
		zap.String("cart_id", cart.ID.String()),
		zap.Int64("cent_amount", amountPlanned.CentAmount),
		zap.String("currency", amountPlanned.CurrencyCode),
	)
	return p.ID(), nil
}

// LinkToCart attaches the payment to the cart. It is not retried; the
// caller must treat a failure as fatal to the creation flow.
func (s *PaymentService) LinkToCart(ctx context.Context, cart *commerce.Cart, paymentID uuid.UUID) error {
	if _, err := s.carts.AddPayment(ctx, cart.ID, paymentID); err != nil {
		s.logger.Error("failed to attach payment to cart",
			zap.String("cart_id", cart.ID.String()),
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// SyncMetadata upserts the platform link on the payment intent and/or the
// subscription, each with its own idempotency key. Failures are returned as
// METADATA_SYNC_FAILED so callers can continue their primary flow.
func (s *PaymentService) SyncMetadata(ctx context.Context, cart *commerce.Cart, paymentID uuid.UUID, paymentIntentID, subscriptionID string) error {
	if paymentIntentID == "" && subscriptionID == "" {
		s.logger.Warn("no psp reference to link payment to",
			zap.String("payment_id", paymentID.String()),
			zap.String("cart_id", cart.ID.String()),
		)
		return domain.NewDomainError(domain.ErrorCodeMetadataSyncFailed, "no psp reference supplied for payment "+paymentID.String())
	}

	md := payment.Link{
		PaymentID:      paymentID,
		CartID:         cart.ID,
		CustomerID:     cart.CustomerID,
		ProjectKey:     s.opts.ProjectKey,
		SubscriptionID: subscriptionID,
	}.Metadata()

	var errs []error
	if paymentIntentID != "" {
		if _, err := s.psp.UpdatePaymentIntentMetadata(ctx, paymentIntentID, md, uuid.NewString()); err != nil {
			errs = append(errs, err)
		}
	}
	if subscriptionID != "" {
		params := &stripe.SubscriptionParams{Metadata: md}
		if _, err := s.psp.UpdateSubscription(ctx, subscriptionID, params, uuid.NewString()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Warn("failed to sync psp metadata",
			zap.String("payment_id", paymentID.String()),
			zap.String("payment_intent_id", paymentIntentID),
			zap.String("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return domain.WrapError(domain.ErrorCodeMetadataSyncFailed, "failed to sync metadata for payment "+paymentID.String(), err)
	}
	return nil
}

// UpdateSubscriptionCycleTransactions records an Authorization/Success and a
// Charge (Success, or Pending when isPending) for a billing cycle that will
// not receive its own PSP event for the authorization step.
func (s *PaymentService) UpdateSubscriptionCycleTransactions(ctx context.Context, p *payment.Payment, interactionID string, isPending bool) (*payment.Payment, error) {
	chargeState := payment.StateSuccess
	if isPending {
		chargeState = payment.StatePending
	}
	update := &payment.TransactionUpdate{
		PSPReference: interactionID,
		Transactions: []payment.TransactionDraft{
			{Type: payment.TransactionAuthorization, State: payment.StateSuccess, Amount: p.AmountPlanned(), InteractionID: interactionID},
			{Type: payment.TransactionCharge, State: chargeState, Amount: p.AmountPlanned(), InteractionID: interactionID},
		},
	}
	return applyAll(ctx, s.payments, update, p.ID())
}

// CreatePaymentIntent starts a one-shot checkout: it creates the PSP payment
// intent and the platform Payment, attaches the payment to the cart and
// links the intent back to it.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, cartID uuid.UUID) (*PaymentIntentResult, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	amount := cart.PaymentAmount()
	if amount.CentAmount <= 0 {
		return nil, domain.NewValidationError("cart " + cartID.String() + " has nothing to pay")
	}

	captureMethod := stripe.PaymentIntentCaptureMethodAutomatic
	if s.opts.ManualCapture {
		captureMethod = stripe.PaymentIntentCaptureMethodManual
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount.CentAmount),
		Currency:      stripe.String(strings.ToLower(amount.CurrencyCode)),
		CaptureMethod: stripe.String(string(captureMethod)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: payment.Link{
			CartID:     cart.ID,
			CustomerID: cart.CustomerID,
			ProjectKey: s.opts.ProjectKey,
		}.Metadata(),
	}
	if cart.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(cart.CustomerEmail)
	}

	var pi *stripe.PaymentIntent
	var paymentID uuid.UUID

	sg := saga.NewSaga("create_payment_intent", s.logger)
	sg.AddStep(saga.SagaStep{
		Name: "create_psp_payment_intent",
		Execute: func(ctx context.Context) error {
			var err error
			pi, err = s.psp.CreatePaymentIntent(ctx, params, uuid.NewString())
			return err
		},
		Compensate: func(ctx context.Context) error {
			_, err := s.psp.CancelPaymentIntent(ctx, pi.ID, uuid.NewString())
			return err
		},
	})
	sg.AddStep(saga.SagaStep{
		Name: "create_payment",
		Execute: func(ctx context.Context) error {
			var err error
			paymentID, err = s.CreatePayment(ctx, cart, amount, pi.ID)
			return err
		},
	})
	sg.AddStep(saga.SagaStep{
		Name: "link_to_cart",
		Execute: func(ctx context.Context) error {
			return s.LinkToCart(ctx, cart, paymentID)
		},
	})
	if err := sg.Execute(ctx); err != nil {
		return nil, err
	}

	// A missed link is recovered from the interface id when the webhook arrives.
	_ = s.SyncMetadata(ctx, cart, paymentID, pi.ID, "")

	return &PaymentIntentResult{
		PaymentID:       paymentID,
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
	}, nil
}

// GetPayment retrieves a payment by its ID.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentDTO, error) {
	p, err := s.payments.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := toPaymentDTO(p)
	return &dto, nil
}

// ProcessPaymentEvent converts a one-shot PSP event and applies its
// transactions to the linked Payment. It returns a nil payment when the event
// carries no transactions.
func (s *PaymentService) ProcessPaymentEvent(ctx context.Context, event *stripe.Event) (*payment.Payment, error) {
	update, err := convertOneShot(ctx, s.psp, event)
	if err != nil {
		return nil, err
	}
	if len(update.Transactions) == 0 {
		s.logger.Debug("event carries no transactions",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		return nil, nil
	}

	p, err := s.resolvePayment(ctx, update)
	if err != nil {
		return nil, err
	}

	updated, err := applyAll(ctx, s.payments, update, p.ID())
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment event applied",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("payment_id", updated.ID().String()),
		zap.String("psp_reference", update.PSPReference),
		zap.Int("transaction_count", len(updated.Transactions())),
	)
	return updated, nil
}

// convertOneShot converts a one-shot event. Refunds are keyed by refund id, so
// a charge.refunded payload without its refund list reads the charge's refunds
// from the PSP first.
func convertOneShot(ctx context.Context, psp adapter.StripeAdapter, event *stripe.Event) (*payment.TransactionUpdate, error) {
	chargeID, ok := converter.RefundedChargeWithoutList(event)
	if !ok || psp == nil {
		return converter.ConvertPaymentEvent(event)
	}
	refunds, err := psp.ListRefunds(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return converter.ConvertChargeRefunded(event, refunds)
}

// resolvePayment finds the Payment an update belongs to: by the metadata id
// first, then by the PSP reference.
func (s *PaymentService) resolvePayment(ctx context.Context, update *payment.TransactionUpdate) (*payment.Payment, error) {
	if update.PaymentID != uuid.Nil {
		p, err := s.payments.GetPayment(ctx, update.PaymentID)
		if err == nil {
			return p, nil
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
		s.logger.Warn("metadata references unknown payment, falling back to interface id",
			zap.String("payment_id", update.PaymentID.String()),
			zap.String("psp_reference", update.PSPReference),
		)
	}

	found, err := s.payments.FindPaymentsByInterfaceID(ctx, update.PSPReference)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NewMissingLinkageError(update.PSPReference)
	}
	return found[0], nil
}
