package application

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// Metadata keys identifying the platform side of PSP prices and products.
const (
	priceMetadataPriceID          = "commerce_price_id"
	priceMetadataVariantSKU       = "commerce_variant_sku"
	priceMetadataProductID        = "commerce_product_id"
	priceMetadataShippingMethodID = "commerce_shipping_method_id"
)

// shippingProductPrefix namespaces the PSP products created for shipping methods.
const shippingProductPrefix = "shipping-"

// PriceService keeps PSP recurring prices in step with platform prices.
// Prices are never deleted: a mismatching price is renamed and deactivated
// before its replacement is created.
type PriceService struct {
	psp      adapter.StripeAdapter
	products commerce.ProductRepository
	logger   *zap.Logger
}

// NewPriceService creates a new PriceService.
func NewPriceService(psp adapter.StripeAdapter, products commerce.ProductRepository, logger *zap.Logger) *PriceService {
	return &PriceService{psp: psp, products: products, logger: logger}
}

// priceKey identifies a PSP price by its platform metadata.
type priceKey struct {
	metadata    map[string]string
	productID   string
	productName string
	nickname    string
}

func (k priceKey) query() string {
	clauses := []string{"active:'true'"}
	for _, name := range slices.Sorted(maps.Keys(k.metadata)) {
		clauses = append(clauses, fmt.Sprintf("metadata['%s']:'%s'", name, escapeQuery(k.metadata[name])))
	}
	return strings.Join(clauses, " AND ")
}

// ReconcileLineItemPrice returns an active PSP price matching the line item's
// current recurring price, deprecating and replacing a stale one.
func (s *PriceService) ReconcileLineItemPrice(ctx context.Context, li commerce.LineItem) (*stripe.Price, error) {
	if !li.Price.IsRecurring() {
		return nil, domain.NewValidationError("line item " + li.ID.String() + " has no recurring price")
	}
	key := priceKey{
		metadata: map[string]string{
			priceMetadataPriceID:    li.Price.ID,
			priceMetadataVariantSKU: li.SKU,
		},
		productID:   li.ProductID,
		productName: li.Name,
		nickname:    li.Name,
	}
	return s.reconcile(ctx, key, li.Price)
}

// ReconcileShippingPrice does the same for shipping billed as a subscription
// item on the given recurrence.
func (s *PriceService) ReconcileShippingPrice(ctx context.Context, shipping commerce.ShippingInfo, recurrence commerce.Recurrence) (*stripe.Price, error) {
	price := commerce.Price{
		ID:         shipping.ShippingMethodID,
		Value:      shipping.Price,
		Recurrence: &recurrence,
	}
	key := priceKey{
		metadata: map[string]string{
			priceMetadataShippingMethodID: shipping.ShippingMethodID,
		},
		productID:   shippingProductPrefix + shipping.ShippingMethodID,
		productName: shipping.ShippingMethodName,
		nickname:    "Shipping " + shipping.ShippingMethodName,
	}
	return s.reconcile(ctx, key, price)
}

// ReconcileVariantPrice reconciles the live platform price of a product variant.
func (s *PriceService) ReconcileVariantPrice(ctx context.Context, productID, sku, name string) (*stripe.Price, error) {
	live, err := s.products.GetVariantPrice(ctx, productID, sku)
	if err != nil {
		return nil, err
	}
	return s.ReconcileLineItemPrice(ctx, commerce.LineItem{
		ProductID: productID,
		SKU:       sku,
		Name:      name,
		Quantity:  1,
		Price:     *live,
	})
}

// ResolvePriceForProduct compares a PSP price against the live platform
// price of the variant it was created for. It returns the price the
// subscription should bill on and whether that differs from current.
func (s *PriceService) ResolvePriceForProduct(ctx context.Context, current *stripe.Price) (*stripe.Price, bool, error) {
	productID := current.Metadata[priceMetadataProductID]
	sku := current.Metadata[priceMetadataVariantSKU]
	if productID == "" || sku == "" {
		return nil, false, domain.NewValidationError("price " + current.ID + " is not linked to a product variant")
	}

	live, err := s.products.GetVariantPrice(ctx, productID, sku)
	if err != nil {
		return nil, false, err
	}
	if pricesMatch(current, *live) {
		return current, false, nil
	}

	name := productID
	if current.Product != nil && current.Product.Name != "" {
		name = current.Product.Name
	}
	key := priceKey{
		metadata: map[string]string{
			priceMetadataPriceID:    live.ID,
			priceMetadataVariantSKU: sku,
		},
		productID:   productID,
		productName: name,
		nickname:    name,
	}
	resolved, err := s.reconcile(ctx, key, *live)
	if err != nil {
		return nil, false, err
	}
	return resolved, resolved.ID != current.ID, nil
}

func (s *PriceService) reconcile(ctx context.Context, key priceKey, want commerce.Price) (*stripe.Price, error) {
	found, err := s.psp.SearchPrices(ctx, key.query())
	if err != nil {
		return nil, err
	}

	var productID string
	for _, existing := range found {
		if pricesMatch(existing, want) {
			return existing, nil
		}
		if existing.Product != nil && productID == "" {
			productID = existing.Product.ID
		}
	}

	for _, stale := range found {
		if err := s.deprecate(ctx, stale); err != nil {
			return nil, err
		}
	}

	if productID == "" {
		if productID, err = s.ensureProduct(ctx, key.productID, key.productName); err != nil {
			return nil, err
		}
	}

	md := map[string]string{priceMetadataProductID: key.productID}
	for k, v := range key.metadata {
		md[k] = v
	}
	params := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(want.Value.CurrencyCode)),
		UnitAmount: stripe.Int64(want.Value.CentAmount),
		Product:    stripe.String(productID),
		Nickname:   stripe.String(key.nickname),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(want.Recurrence.Interval),
			IntervalCount: stripe.Int64(intervalCount(want.Recurrence)),
		},
		Metadata: md,
	}
	created, err := s.psp.CreatePrice(ctx, params, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.logger.Info("psp price created",
		zap.String("price_id", created.ID),
		zap.String("product_id", key.productID),
		zap.Int64("unit_amount", want.Value.CentAmount),
		zap.String("interval", want.Recurrence.Interval),
	)
	return created, nil
}

func (s *PriceService) deprecate(ctx context.Context, stale *stripe.Price) error {
	nickname := "Deprecated " + stale.ID
	if stale.Nickname != "" {
		nickname = "Deprecated " + stale.Nickname
	}
	params := &stripe.PriceParams{
		Active:   stripe.Bool(false),
		Nickname: stripe.String(nickname),
	}
	if _, err := s.psp.UpdatePrice(ctx, stale.ID, params, uuid.NewString()); err != nil {
		return err
	}
	s.logger.Info("psp price deprecated", zap.String("price_id", stale.ID))
	return nil
}

// ensureProduct finds the PSP product for a platform product, creating it when missing.
func (s *PriceService) ensureProduct(ctx context.Context, productID, name string) (string, error) {
	query := fmt.Sprintf("metadata['%s']:'%s'", priceMetadataProductID, escapeQuery(productID))
	found, err := s.psp.SearchProducts(ctx, query)
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}
	if name == "" {
		name = productID
	}
	created, err := s.psp.CreateProduct(ctx, &stripe.ProductParams{
		Name:     stripe.String(name),
		Metadata: map[string]string{priceMetadataProductID: productID},
	}, uuid.NewString())
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// pricesMatch compares amount, interval and interval count.
func pricesMatch(existing *stripe.Price, want commerce.Price) bool {
	if existing == nil || existing.Recurring == nil || want.Recurrence == nil {
		return false
	}
	return existing.UnitAmount == want.Value.CentAmount &&
		string(existing.Recurring.Interval) == want.Recurrence.Interval &&
		existing.Recurring.IntervalCount == intervalCount(want.Recurrence)
}

func intervalCount(r *commerce.Recurrence) int64 {
	if r.IntervalCount <= 0 {
		return 1
	}
	return r.IntervalCount
}

func escapeQuery(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}
