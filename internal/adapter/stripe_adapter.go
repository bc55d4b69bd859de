package adapter

import (
	"context"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/metrics"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
)

// StripeAdapter defines the Anti-Corruption Layer interface for PSP operations.
// Every mutating call takes an idempotency key.
type StripeAdapter interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, idempotencyKey string) (*stripe.PaymentIntent, error)
	UpdatePaymentIntentMetadata(ctx context.Context, id string, metadata map[string]string, idempotencyKey string) (*stripe.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string, amountCents int64, idempotencyKey string) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string, idempotencyKey string) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (*stripe.Refund, error)
	ListRefunds(ctx context.Context, chargeID string) ([]*stripe.Refund, error)

	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string, idempotencyKey string) (*stripe.Subscription, error)

	RetrieveInvoiceExpanded(ctx context.Context, id string) (*stripe.Invoice, error)
	FinalizeInvoice(ctx context.Context, id string, idempotencyKey string) (*stripe.Invoice, error)
	SendInvoice(ctx context.Context, id string, idempotencyKey string) (*stripe.Invoice, error)

	SearchPrices(ctx context.Context, query string) ([]*stripe.Price, error)
	CreatePrice(ctx context.Context, params *stripe.PriceParams, idempotencyKey string) (*stripe.Price, error)
	UpdatePrice(ctx context.Context, id string, params *stripe.PriceParams, idempotencyKey string) (*stripe.Price, error)
	SearchProducts(ctx context.Context, query string) ([]*stripe.Product, error)
	CreateProduct(ctx context.Context, params *stripe.ProductParams, idempotencyKey string) (*stripe.Product, error)

	CreateCoupon(ctx context.Context, params *stripe.CouponParams, idempotencyKey string) (*stripe.Coupon, error)
	DeleteCoupon(ctx context.Context, id string, idempotencyKey string) error

	CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams, idempotencyKey string) (*stripe.SetupIntent, error)
	RetrieveSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)

	SearchCustomers(ctx context.Context, query string) ([]*stripe.Customer, error)
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams, idempotencyKey string) (*stripe.Customer, error)
}

// searchLimit caps the number of search results read from the provider.
const searchLimit = 10

// StripeClient implements StripeAdapter on an explicitly constructed SDK client.
type StripeClient struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripeClient creates a StripeClient bound to the given secret key.
func NewStripeClient(secretKey string, logger *zap.Logger) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api, logger: logger}
}

// prepare detaches the call from the caller's cancellation: once issued, a
// PSP call completes or fails on its own.
func prepare(ctx context.Context, p *stripe.Params, idempotencyKey string) {
	p.Context = context.WithoutCancel(ctx)
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
}

func (c *StripeClient) observe(operation string, start time.Time, err error) error {
	metrics.ObservePSPCall(operation, start, err)
	if err != nil {
		c.logger.Warn("psp call failed", zap.String("operation", operation), zap.Error(err))
		return wrapStripeError(operation, err)
	}
	return nil
}

// --- Payment intents ---

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, idempotencyKey string) (*stripe.PaymentIntent, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	pi, err := c.api.PaymentIntents.New(params)
	return pi, c.observe("create_payment_intent", start, err)
}

func (c *StripeClient) UpdatePaymentIntentMetadata(ctx context.Context, id string, metadata map[string]string, idempotencyKey string) (*stripe.PaymentIntent, error) {
	start := time.Now()
	params := &stripe.PaymentIntentParams{Metadata: metadata}
	prepare(ctx, &params.Params, idempotencyKey)
	pi, err := c.api.PaymentIntents.Update(id, params)
	return pi, c.observe("update_payment_intent", start, err)
}

func (c *StripeClient) CapturePaymentIntent(ctx context.Context, id string, amountCents int64, idempotencyKey string) (*stripe.PaymentIntent, error) {
	start := time.Now()
	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(amountCents)}
	prepare(ctx, &params.Params, idempotencyKey)
	pi, err := c.api.PaymentIntents.Capture(id, params)
	return pi, c.observe("capture_payment_intent", start, err)
}

func (c *StripeClient) CancelPaymentIntent(ctx context.Context, id string, idempotencyKey string) (*stripe.PaymentIntent, error) {
	start := time.Now()
	params := &stripe.PaymentIntentCancelParams{}
	prepare(ctx, &params.Params, idempotencyKey)
	pi, err := c.api.PaymentIntents.Cancel(id, params)
	return pi, c.observe("cancel_payment_intent", start, err)
}

func (c *StripeClient) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (*stripe.Refund, error) {
	start := time.Now()
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountCents),
	}
	prepare(ctx, &params.Params, idempotencyKey)
	r, err := c.api.Refunds.New(params)
	return r, c.observe("create_refund", start, err)
}

func (c *StripeClient) ListRefunds(ctx context.Context, chargeID string) ([]*stripe.Refund, error) {
	start := time.Now()
	params := &stripe.RefundListParams{Charge: stripe.String(chargeID)}
	params.Context = context.WithoutCancel(ctx)
	iter := c.api.Refunds.List(params)
	var refunds []*stripe.Refund
	for iter.Next() {
		refunds = append(refunds, iter.Refund())
	}
	return refunds, c.observe("list_refunds", start, iter.Err())
}

// --- Subscriptions ---

func (c *StripeClient) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	params.AddExpand("latest_invoice.payment_intent")
	params.AddExpand("pending_setup_intent")
	sub, err := c.api.Subscriptions.New(params)
	return sub, c.observe("create_subscription", start, err)
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	start := time.Now()
	params := &stripe.SubscriptionParams{}
	prepare(ctx, &params.Params, "")
	params.AddExpand("latest_invoice.payment_intent")
	params.AddExpand("items.data.price")
	sub, err := c.api.Subscriptions.Get(id, params)
	return sub, c.observe("retrieve_subscription", start, err)
}

func (c *StripeClient) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	sub, err := c.api.Subscriptions.Update(id, params)
	return sub, c.observe("update_subscription", start, err)
}

func (c *StripeClient) CancelSubscription(ctx context.Context, id string, idempotencyKey string) (*stripe.Subscription, error) {
	start := time.Now()
	params := &stripe.SubscriptionCancelParams{}
	prepare(ctx, &params.Params, idempotencyKey)
	sub, err := c.api.Subscriptions.Cancel(id, params)
	return sub, c.observe("cancel_subscription", start, err)
}

// --- Invoices ---

func (c *StripeClient) RetrieveInvoiceExpanded(ctx context.Context, id string) (*stripe.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoiceParams{}
	prepare(ctx, &params.Params, "")
	params.AddExpand("payment_intent")
	params.AddExpand("charge")
	params.AddExpand("subscription")
	inv, err := c.api.Invoices.Get(id, params)
	return inv, c.observe("retrieve_invoice", start, err)
}

func (c *StripeClient) FinalizeInvoice(ctx context.Context, id string, idempotencyKey string) (*stripe.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoiceFinalizeInvoiceParams{}
	prepare(ctx, &params.Params, idempotencyKey)
	inv, err := c.api.Invoices.FinalizeInvoice(id, params)
	return inv, c.observe("finalize_invoice", start, err)
}

func (c *StripeClient) SendInvoice(ctx context.Context, id string, idempotencyKey string) (*stripe.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoiceSendInvoiceParams{}
	prepare(ctx, &params.Params, idempotencyKey)
	inv, err := c.api.Invoices.SendInvoice(id, params)
	return inv, c.observe("send_invoice", start, err)
}

// --- Prices and products ---

func (c *StripeClient) SearchPrices(ctx context.Context, query string) ([]*stripe.Price, error) {
	start := time.Now()
	params := &stripe.PriceSearchParams{SearchParams: stripe.SearchParams{Query: query}}
	params.Context = context.WithoutCancel(ctx)
	params.AddExpand("data.product")
	iter := c.api.Prices.Search(params)
	var prices []*stripe.Price
	for iter.Next() && len(prices) < searchLimit {
		prices = append(prices, iter.Price())
	}
	return prices, c.observe("search_prices", start, iter.Err())
}

func (c *StripeClient) CreatePrice(ctx context.Context, params *stripe.PriceParams, idempotencyKey string) (*stripe.Price, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	p, err := c.api.Prices.New(params)
	return p, c.observe("create_price", start, err)
}

func (c *StripeClient) UpdatePrice(ctx context.Context, id string, params *stripe.PriceParams, idempotencyKey string) (*stripe.Price, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	p, err := c.api.Prices.Update(id, params)
	return p, c.observe("update_price", start, err)
}

func (c *StripeClient) SearchProducts(ctx context.Context, query string) ([]*stripe.Product, error) {
	start := time.Now()
	params := &stripe.ProductSearchParams{SearchParams: stripe.SearchParams{Query: query}}
	params.Context = context.WithoutCancel(ctx)
	iter := c.api.Products.Search(params)
	var products []*stripe.Product
	for iter.Next() && len(products) < searchLimit {
		products = append(products, iter.Product())
	}
	return products, c.observe("search_products", start, iter.Err())
}

func (c *StripeClient) CreateProduct(ctx context.Context, params *stripe.ProductParams, idempotencyKey string) (*stripe.Product, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	p, err := c.api.Products.New(params)
	return p, c.observe("create_product", start, err)
}

// --- Coupons ---

func (c *StripeClient) CreateCoupon(ctx context.Context, params *stripe.CouponParams, idempotencyKey string) (*stripe.Coupon, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	cp, err := c.api.Coupons.New(params)
	return cp, c.observe("create_coupon", start, err)
}

func (c *StripeClient) DeleteCoupon(ctx context.Context, id string, idempotencyKey string) error {
	start := time.Now()
	params := &stripe.CouponParams{}
	prepare(ctx, &params.Params, idempotencyKey)
	_, err := c.api.Coupons.Del(id, params)
	return c.observe("delete_coupon", start, err)
}

// --- Setup intents ---

func (c *StripeClient) CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams, idempotencyKey string) (*stripe.SetupIntent, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	si, err := c.api.SetupIntents.New(params)
	return si, c.observe("create_setup_intent", start, err)
}

func (c *StripeClient) RetrieveSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	start := time.Now()
	params := &stripe.SetupIntentParams{}
	prepare(ctx, &params.Params, "")
	si, err := c.api.SetupIntents.Get(id, params)
	return si, c.observe("retrieve_setup_intent", start, err)
}

// --- Customers ---

func (c *StripeClient) SearchCustomers(ctx context.Context, query string) ([]*stripe.Customer, error) {
	start := time.Now()
	params := &stripe.CustomerSearchParams{SearchParams: stripe.SearchParams{Query: query}}
	params.Context = context.WithoutCancel(ctx)
	iter := c.api.Customers.Search(params)
	var customers []*stripe.Customer
	for iter.Next() && len(customers) < searchLimit {
		customers = append(customers, iter.Customer())
	}
	return customers, c.observe("search_customers", start, iter.Err())
}

func (c *StripeClient) CreateCustomer(ctx context.Context, params *stripe.CustomerParams, idempotencyKey string) (*stripe.Customer, error) {
	start := time.Now()
	prepare(ctx, &params.Params, idempotencyKey)
	cu, err := c.api.Customers.New(params)
	return cu, c.observe("create_customer", start, err)
}
