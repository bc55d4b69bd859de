package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/subscription"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// --- StripeAdapter ---

type mockStripe struct{ mock.Mock }

func (m *mockStripe) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, key string) (*stripe.PaymentIntent, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.PaymentIntent](args)
}

func (m *mockStripe) UpdatePaymentIntentMetadata(ctx context.Context, id string, md map[string]string, key string) (*stripe.PaymentIntent, error) {
	args := m.Called(ctx, id, md, key)
	return ret[stripe.PaymentIntent](args)
}

func (m *mockStripe) CapturePaymentIntent(ctx context.Context, id string, amount int64, key string) (*stripe.PaymentIntent, error) {
	args := m.Called(ctx, id, amount, key)
	return ret[stripe.PaymentIntent](args)
}

func (m *mockStripe) CancelPaymentIntent(ctx context.Context, id string, key string) (*stripe.PaymentIntent, error) {
	args := m.Called(ctx, id, key)
	return ret[stripe.PaymentIntent](args)
}

func (m *mockStripe) CreateRefund(ctx context.Context, paymentIntentID string, amount int64, key string) (*stripe.Refund, error) {
	args := m.Called(ctx, paymentIntentID, amount, key)
	return ret[stripe.Refund](args)
}

func (m *mockStripe) ListRefunds(ctx context.Context, chargeID string) ([]*stripe.Refund, error) {
	args := m.Called(ctx, chargeID)
	return retSlice[stripe.Refund](args)
}

func (m *mockStripe) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams, key string) (*stripe.Subscription, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.Subscription](args)
}

func (m *mockStripe) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id)
	return ret[stripe.Subscription](args)
}

func (m *mockStripe) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams, key string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id, params, key)
	return ret[stripe.Subscription](args)
}

func (m *mockStripe) CancelSubscription(ctx context.Context, id string, key string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id, key)
	return ret[stripe.Subscription](args)
}

func (m *mockStripe) RetrieveInvoiceExpanded(ctx context.Context, id string) (*stripe.Invoice, error) {
	args := m.Called(ctx, id)
	return ret[stripe.Invoice](args)
}

func (m *mockStripe) FinalizeInvoice(ctx context.Context, id string, key string) (*stripe.Invoice, error) {
	args := m.Called(ctx, id, key)
	return ret[stripe.Invoice](args)
}

func (m *mockStripe) SendInvoice(ctx context.Context, id string, key string) (*stripe.Invoice, error) {
	args := m.Called(ctx, id, key)
	return ret[stripe.Invoice](args)
}

func (m *mockStripe) SearchPrices(ctx context.Context, query string) ([]*stripe.Price, error) {
	args := m.Called(ctx, query)
	return retSlice[stripe.Price](args)
}

func (m *mockStripe) CreatePrice(ctx context.Context, params *stripe.PriceParams, key string) (*stripe.Price, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.Price](args)
}

func (m *mockStripe) UpdatePrice(ctx context.Context, id string, params *stripe.PriceParams, key string) (*stripe.Price, error) {
	args := m.Called(ctx, id, params, key)
	return ret[stripe.Price](args)
}

func (m *mockStripe) SearchProducts(ctx context.Context, query string) ([]*stripe.Product, error) {
	args := m.Called(ctx, query)
	return retSlice[stripe.Product](args)
}

func (m *mockStripe) CreateProduct(ctx context.Context, params *stripe.ProductParams, key string) (*stripe.Product, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.Product](args)
}

func (m *mockStripe) CreateCoupon(ctx context.Context, params *stripe.CouponParams, key string) (*stripe.Coupon, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.Coupon](args)
}

func (m *mockStripe) DeleteCoupon(ctx context.Context, id string, key string) error {
	return m.Called(ctx, id, key).Error(0)
}

func (m *mockStripe) CreateSetupIntent(ctx context.Context, params *stripe.SetupIntentParams, key string) (*stripe.SetupIntent, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.SetupIntent](args)
}

func (m *mockStripe) RetrieveSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	args := m.Called(ctx, id)
	return ret[stripe.SetupIntent](args)
}

func (m *mockStripe) SearchCustomers(ctx context.Context, query string) ([]*stripe.Customer, error) {
	args := m.Called(ctx, query)
	return retSlice[stripe.Customer](args)
}

func (m *mockStripe) CreateCustomer(ctx context.Context, params *stripe.CustomerParams, key string) (*stripe.Customer, error) {
	args := m.Called(ctx, params, key)
	return ret[stripe.Customer](args)
}

func ret[T any](args mock.Arguments) (*T, error) {
	if v := args.Get(0); v != nil {
		return v.(*T), args.Error(1)
	}
	return nil, args.Error(1)
}

func retSlice[T any](args mock.Arguments) ([]*T, error) {
	if v := args.Get(0); v != nil {
		return v.([]*T), args.Error(1)
	}
	return nil, args.Error(1)
}

// --- Commerce ports ---

type mockCarts struct{ mock.Mock }

func (m *mockCarts) GetCart(ctx context.Context, id uuid.UUID) (*commerce.Cart, error) {
	args := m.Called(ctx, id)
	return ret[commerce.Cart](args)
}

func (m *mockCarts) GetCartByPaymentID(ctx context.Context, paymentID uuid.UUID) (*commerce.Cart, error) {
	args := m.Called(ctx, paymentID)
	return ret[commerce.Cart](args)
}

func (m *mockCarts) CreateCart(ctx context.Context, draft commerce.CartDraft) (*commerce.Cart, error) {
	args := m.Called(ctx, draft)
	return ret[commerce.Cart](args)
}

func (m *mockCarts) UpdateCart(ctx context.Context, id uuid.UUID, actions ...commerce.CartAction) (*commerce.Cart, error) {
	args := m.Called(ctx, id, actions)
	return ret[commerce.Cart](args)
}

func (m *mockCarts) AddPayment(ctx context.Context, cartID, paymentID uuid.UUID) (*commerce.Cart, error) {
	args := m.Called(ctx, cartID, paymentID)
	return ret[commerce.Cart](args)
}

type mockOrders struct{ mock.Mock }

func (m *mockOrders) GetOrderByPaymentID(ctx context.Context, paymentID uuid.UUID) (*commerce.Order, error) {
	args := m.Called(ctx, paymentID)
	return ret[commerce.Order](args)
}

func (m *mockOrders) CreateOrderFromCart(ctx context.Context, cartID uuid.UUID) (*commerce.Order, error) {
	args := m.Called(ctx, cartID)
	return ret[commerce.Order](args)
}

func (m *mockOrders) AddPaymentToOrder(ctx context.Context, orderID, paymentID uuid.UUID) (*commerce.Order, error) {
	args := m.Called(ctx, orderID, paymentID)
	return ret[commerce.Order](args)
}

type mockProducts struct{ mock.Mock }

func (m *mockProducts) GetVariantPrice(ctx context.Context, productID, sku string) (*commerce.Price, error) {
	args := m.Called(ctx, productID, sku)
	return ret[commerce.Price](args)
}

type mockRecords struct{ mock.Mock }

func (m *mockRecords) Save(ctx context.Context, r *subscription.Record) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRecords) Update(ctx context.Context, r *subscription.Record) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRecords) FindByID(ctx context.Context, id string) (*subscription.Record, error) {
	args := m.Called(ctx, id)
	return ret[subscription.Record](args)
}

func (m *mockRecords) FindByCustomerID(ctx context.Context, customerID string) ([]*subscription.Record, error) {
	args := m.Called(ctx, customerID)
	return retSlice[subscription.Record](args)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) RecordEvent(ctx context.Context, eventID, eventType string) error {
	return m.Called(ctx, eventID, eventType).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishTransactionApplied(ctx context.Context, event *stripe.Event, p *payment.Payment) error {
	return m.Called(ctx, event, p).Error(0)
}

func (m *mockPublisher) PublishReconciliationFailed(ctx context.Context, f *ReconciliationFailure) error {
	return m.Called(ctx, f).Error(0)
}

// --- In-memory payment store ---

// memPayments is a PaymentRepository that keeps payments in memory.
// beforeFind runs before every lookup by interface id.
type memPayments struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*payment.Payment
	finds      []string
	beforeFind func(interfaceID string, call int)
}

func newMemPayments() *memPayments {
	return &memPayments{byID: make(map[uuid.UUID]*payment.Payment)}
}

func (r *memPayments) GetPayment(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.NewNotFoundError("payment", id.String())
	}
	return p, nil
}

func (r *memPayments) CreatePayment(_ context.Context, draft payment.PaymentDraft) (*payment.Payment, error) {
	p := payment.NewPayment(draft)
	r.mu.Lock()
	r.byID[p.ID()] = p
	r.mu.Unlock()
	return p, nil
}

func (r *memPayments) UpdatePayment(_ context.Context, update payment.PaymentUpdate) (*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[update.ID]
	if !ok {
		return nil, domain.NewNotFoundError("payment", update.ID.String())
	}
	if p.Apply(update) {
		p.IncrementVersion()
	}
	return p, nil
}

func (r *memPayments) FindPaymentsByInterfaceID(_ context.Context, interfaceID string) ([]*payment.Payment, error) {
	r.mu.Lock()
	r.finds = append(r.finds, interfaceID)
	call := len(r.finds)
	hook := r.beforeFind
	r.mu.Unlock()
	if hook != nil {
		hook(interfaceID, call)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*payment.Payment
	for _, p := range r.byID {
		if p.InterfaceID() == interfaceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPayments) put(p *payment.Payment) {
	r.mu.Lock()
	r.byID[p.ID()] = p
	r.mu.Unlock()
}

// --- Fixtures ---

func usd(cents int64) payment.Money {
	return payment.Money{CurrencyCode: "USD", CentAmount: cents}
}

func testCart(total int64) *commerce.Cart {
	return &commerce.Cart{
		ID:            uuid.New(),
		CustomerID:    "customer-1",
		CustomerEmail: "jane@example.com",
		TotalPrice:    usd(total),
	}
}

func subscriptionCart() *commerce.Cart {
	cart := testCart(0)
	cart.LineItems = []commerce.LineItem{{
		ID:        uuid.New(),
		ProductID: "prod-coffee",
		SKU:       "coffee-monthly",
		Name:      "Coffee",
		Quantity:  1,
		Price: commerce.Price{
			ID:         "price-platform-1",
			Value:      usd(1500),
			Recurrence: &commerce.Recurrence{Interval: "month", IntervalCount: 1},
		},
	}}
	cart.Recalculate()
	return cart
}

func stripeEvent(t *testing.T, id, eventType string, object map[string]interface{}) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

type fixture struct {
	psp      *mockStripe
	payments *memPayments
	carts    *mockCarts
	orders   *mockOrders
	products *mockProducts
	records  *mockRecords

	paymentSvc *PaymentService
	priceSvc   *PriceService
	subSvc     *SubscriptionService
}

func newFixture(opts SubscriptionOptions) *fixture {
	f := &fixture{
		psp:      new(mockStripe),
		payments: newMemPayments(),
		carts:    new(mockCarts),
		orders:   new(mockOrders),
		products: new(mockProducts),
		records:  new(mockRecords),
	}
	logger := zap.NewNop()
	if opts.ProjectKey == "" {
		opts.ProjectKey = "test-project"
	}
	if opts.BillingPolicy == "" {
		opts.BillingPolicy = subscription.PolicyCreateOrder
	}
	f.paymentSvc = NewPaymentService(f.payments, f.carts, f.psp, PaymentOptions{ProjectKey: opts.ProjectKey}, logger)
	f.priceSvc = NewPriceService(f.psp, f.products, logger)
	f.subSvc = NewSubscriptionService(f.paymentSvc, f.priceSvc, f.payments, f.carts, f.orders, f.records, f.psp, opts, logger)
	return f
}

// ignoreRecords makes every projection lookup miss.
func (f *fixture) ignoreRecords() {
	f.records.On("FindByID", mock.Anything, mock.Anything).Return(nil, domain.NewNotFoundError("subscription", "")).Maybe()
	f.records.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()
}
