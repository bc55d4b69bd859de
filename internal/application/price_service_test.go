package application

import (
	"context"
	"strings"
	"testing"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

func pspPrice(id string, amount int64, interval string, count int64) *stripe.Price {
	return &stripe.Price{
		ID:         id,
		Active:     true,
		UnitAmount: amount,
		Nickname:   "Coffee",
		Product:    &stripe.Product{ID: "prod_psp_1", Name: "Coffee"},
		Recurring: &stripe.PriceRecurring{
			Interval:      stripe.PriceRecurringInterval(interval),
			IntervalCount: count,
		},
		Metadata: map[string]string{
			"commerce_product_id":  "prod-coffee",
			"commerce_variant_sku": "coffee-monthly",
		},
	}
}

func TestReconcileLineItemPrice_ReusesMatchingPrice(t *testing.T) {
	psp := new(mockStripe)
	svc := NewPriceService(psp, new(mockProducts), zap.NewNop())
	li := subscriptionCart().LineItems[0]

	psp.On("SearchPrices", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "metadata['commerce_price_id']:'price-platform-1'") &&
			strings.Contains(q, "metadata['commerce_variant_sku']:'coffee-monthly'")
	})).Return([]*stripe.Price{pspPrice("price_1", 1500, "month", 1)}, nil)

	price, err := svc.ReconcileLineItemPrice(context.Background(), li)
	require.NoError(t, err)
	assert.Equal(t, "price_1", price.ID)
	psp.AssertNotCalled(t, "CreatePrice", mock.Anything, mock.Anything, mock.Anything)
	psp.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileLineItemPrice_MismatchDeprecatesAndCreatesOnce(t *testing.T) {
	tests := []struct {
		name  string
		stale *stripe.Price
	}{
		{"amount", pspPrice("price_old", 1200, "month", 1)},
		{"interval", pspPrice("price_old", 1500, "year", 1)},
		{"interval count", pspPrice("price_old", 1500, "month", 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			psp := new(mockStripe)
			svc := NewPriceService(psp, new(mockProducts), zap.NewNop())
			li := subscriptionCart().LineItems[0]

			psp.On("SearchPrices", mock.Anything, mock.Anything).Return([]*stripe.Price{tt.stale}, nil)
			psp.On("UpdatePrice", mock.Anything, "price_old", mock.MatchedBy(func(p *stripe.PriceParams) bool {
				return p.Active != nil && !*p.Active && strings.HasPrefix(*p.Nickname, "Deprecated")
			}), mock.Anything).Return(&stripe.Price{ID: "price_old"}, nil).Once()
			psp.On("CreatePrice", mock.Anything, mock.MatchedBy(func(p *stripe.PriceParams) bool {
				return *p.UnitAmount == 1500 && *p.Product == "prod_psp_1" &&
					*p.Recurring.Interval == "month" && *p.Recurring.IntervalCount == 1 &&
					p.Metadata["commerce_product_id"] == "prod-coffee"
			}), mock.Anything).Return(&stripe.Price{ID: "price_new"}, nil).Once()

			price, err := svc.ReconcileLineItemPrice(context.Background(), li)
			require.NoError(t, err)
			assert.Equal(t, "price_new", price.ID)
			psp.AssertNumberOfCalls(t, "UpdatePrice", 1)
			psp.AssertNumberOfCalls(t, "CreatePrice", 1)
			psp.AssertNotCalled(t, "SearchProducts", mock.Anything, mock.Anything)
		})
	}
}

func TestReconcileLineItemPrice_CreatesProductWhenMissing(t *testing.T) {
	psp := new(mockStripe)
	svc := NewPriceService(psp, new(mockProducts), zap.NewNop())
	li := subscriptionCart().LineItems[0]

	psp.On("SearchPrices", mock.Anything, mock.Anything).Return([]*stripe.Price{}, nil)
	psp.On("SearchProducts", mock.Anything, "metadata['commerce_product_id']:'prod-coffee'").Return([]*stripe.Product{}, nil)
	psp.On("CreateProduct", mock.Anything, mock.MatchedBy(func(p *stripe.ProductParams) bool {
		return *p.Name == "Coffee"
	}), mock.Anything).Return(&stripe.Product{ID: "prod_psp_9"}, nil)
	psp.On("CreatePrice", mock.Anything, mock.MatchedBy(func(p *stripe.PriceParams) bool {
		return *p.Product == "prod_psp_9"
	}), mock.Anything).Return(&stripe.Price{ID: "price_new"}, nil)

	price, err := svc.ReconcileLineItemPrice(context.Background(), li)
	require.NoError(t, err)
	assert.Equal(t, "price_new", price.ID)
	psp.AssertExpectations(t)
}

func TestReconcileLineItemPrice_RejectsOneShotPrice(t *testing.T) {
	svc := NewPriceService(new(mockStripe), new(mockProducts), zap.NewNop())
	li := subscriptionCart().LineItems[0]
	li.Price.Recurrence = nil

	_, err := svc.ReconcileLineItemPrice(context.Background(), li)
	assert.Error(t, err)
}

func TestReconcileShippingPrice_KeyedByShippingMethod(t *testing.T) {
	psp := new(mockStripe)
	svc := NewPriceService(psp, new(mockProducts), zap.NewNop())
	shipping := commerce.ShippingInfo{ShippingMethodID: "express", ShippingMethodName: "Express", Price: usd(500)}

	existing := &stripe.Price{
		ID:         "price_ship",
		UnitAmount: 500,
		Recurring:  &stripe.PriceRecurring{Interval: "month", IntervalCount: 1},
	}
	psp.On("SearchPrices", mock.Anything, "active:'true' AND metadata['commerce_shipping_method_id']:'express'").
		Return([]*stripe.Price{existing}, nil)

	price, err := svc.ReconcileShippingPrice(context.Background(), shipping, commerce.Recurrence{Interval: "month"})
	require.NoError(t, err)
	assert.Equal(t, "price_ship", price.ID)
}

func TestResolvePriceForProduct(t *testing.T) {
	live := &commerce.Price{
		ID:         "price-platform-2",
		Value:      usd(1800),
		Recurrence: &commerce.Recurrence{Interval: "month", IntervalCount: 1},
	}

	t.Run("unchanged", func(t *testing.T) {
		psp := new(mockStripe)
		products := new(mockProducts)
		svc := NewPriceService(psp, products, zap.NewNop())
		products.On("GetVariantPrice", mock.Anything, "prod-coffee", "coffee-monthly").Return(live, nil)

		current := pspPrice("price_cur", 1800, "month", 1)
		resolved, changed, err := svc.ResolvePriceForProduct(context.Background(), current)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, "price_cur", resolved.ID)
		assert.Empty(t, psp.Calls)
	})

	t.Run("changed", func(t *testing.T) {
		psp := new(mockStripe)
		products := new(mockProducts)
		svc := NewPriceService(psp, products, zap.NewNop())
		products.On("GetVariantPrice", mock.Anything, "prod-coffee", "coffee-monthly").Return(live, nil)
		psp.On("SearchPrices", mock.Anything, mock.MatchedBy(func(q string) bool {
			return strings.Contains(q, "'price-platform-2'")
		})).Return([]*stripe.Price{pspPrice("price_live", 1800, "month", 1)}, nil)

		current := pspPrice("price_cur", 1500, "month", 1)
		resolved, changed, err := svc.ResolvePriceForProduct(context.Background(), current)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "price_live", resolved.ID)
	})

	t.Run("unlinked price", func(t *testing.T) {
		svc := NewPriceService(new(mockStripe), new(mockProducts), zap.NewNop())
		_, _, err := svc.ResolvePriceForProduct(context.Background(), &stripe.Price{ID: "price_x"})
		assert.Error(t, err)
	})
}
