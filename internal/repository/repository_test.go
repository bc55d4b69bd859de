package repository

import (
	"strings"
	"testing"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/subscription"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ payment.PaymentRepository     = (*PaymentRepositoryImpl)(nil)
	_ commerce.CartRepository       = (*CartRepositoryImpl)(nil)
	_ commerce.OrderRepository      = (*OrderRepositoryImpl)(nil)
	_ commerce.ProductRepository    = (*ProductRepositoryImpl)(nil)
	_ subscription.RecordRepository = (*GormSubscriptionRepository)(nil)
	_ application.EventLedger       = (*EventLedger)(nil)
)

func TestPostgresConfigURLs(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", User: "svc", Password: "p@ss word", DBName: "payments", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=svc password=p@ss word dbname=payments sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres://svc:p%40ss%20word@db:5432/payments?sslmode=disable", cfg.DatabaseURL())
}

func TestApplyCartAction(t *testing.T) {
	itemID := uuid.New()
	cart := &commerce.Cart{LineItems: []commerce.LineItem{{ID: itemID, Quantity: 1}}}

	require.NoError(t, applyCartAction(cart, commerce.SetLineItemPrice{
		LineItemID: itemID,
		Price:      payment.Money{CurrencyCode: "USD", CentAmount: 1800},
	}))
	assert.Equal(t, int64(1800), cart.LineItems[0].Price.Value.CentAmount)

	require.NoError(t, applyCartAction(cart, commerce.SetCustomField{Name: "cycle", Value: "3"}))
	assert.Equal(t, "3", cart.CustomFields["cycle"])

	err := applyCartAction(cart, commerce.SetLineItemPrice{LineItemID: uuid.New()})
	assert.True(t, domain.IsNotFound(err))
}

func TestOrderNumber(t *testing.T) {
	id := uuid.MustParse("6f1c6a8e-7d43-4bb8-9d35-8f2b0e8a1c11")
	n := orderNumber(id)
	assert.Equal(t, "ORD-6F1C6A8E7D43", n)
	assert.True(t, strings.HasPrefix(n, "ORD-"))
}

func TestPaymentModelMapping(t *testing.T) {
	p := payment.NewPayment(payment.PaymentDraft{
		AmountPlanned:     payment.Money{CurrencyCode: "USD", CentAmount: 1500},
		InterfaceID:       "pi_1",
		PaymentMethodInfo: payment.PaymentMethodInfo{PaymentInterface: "stripe", Method: "card"},
		Transactions: []payment.TransactionDraft{
			{Type: payment.TransactionAuthorization, State: payment.StateSuccess, Amount: payment.Money{CurrencyCode: "USD", CentAmount: 1500}, InteractionID: "pi_1"},
			{Type: payment.TransactionCharge, State: payment.StatePending, Amount: payment.Money{CurrencyCode: "USD", CentAmount: 1500}, InteractionID: "pi_1"},
		},
	})

	model := toModel(p)
	require.Len(t, model.Transactions, 2)
	assert.Equal(t, 1, model.Transactions[1].Position)
	assert.Equal(t, p.ID(), model.Transactions[1].PaymentID)

	back := toDomain(model)
	assert.Equal(t, p.ID(), back.ID())
	assert.Equal(t, p.Version(), back.Version())
	assert.Equal(t, p.Transactions(), back.Transactions())
}
