package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductRepositoryImpl reads live variant prices from the product_prices table.
type ProductRepositoryImpl struct {
	db *gorm.DB
}

// NewProductRepository creates a new GORM-based product repository.
func NewProductRepository(db *gorm.DB) *ProductRepositoryImpl {
	return &ProductRepositoryImpl{db: db}
}

// GetVariantPrice returns the current price of a product variant.
func (r *ProductRepositoryImpl) GetVariantPrice(ctx context.Context, productID, sku string) (*commerce.Price, error) {
	var model ProductPriceModel
	if err := r.db.WithContext(ctx).Where("product_id = ? AND sku = ?", productID, sku).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("variant price", productID+"/"+sku)
		}
		return nil, err
	}

	price := &commerce.Price{
		ID:    model.PriceID,
		Value: payment.Money{CurrencyCode: model.Currency, CentAmount: model.AmountCents},
	}
	if model.Interval != "" {
		price.Recurrence = &commerce.Recurrence{Interval: model.Interval, IntervalCount: model.IntervalCount}
	}
	return price, nil
}

// UpsertVariantPrice sets the live price of a variant.
func (r *ProductRepositoryImpl) UpsertVariantPrice(ctx context.Context, productID, sku string, price commerce.Price) error {
	model := ProductPriceModel{
		ProductID:   productID,
		SKU:         sku,
		PriceID:     price.ID,
		AmountCents: price.Value.CentAmount,
		Currency:    price.Value.CurrencyCode,
		UpdatedAt:   time.Now().UTC(),
	}
	if price.Recurrence != nil {
		model.Interval = price.Recurrence.Interval
		model.IntervalCount = price.Recurrence.IntervalCount
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"price_id", "amount_cents", "currency", "interval", "interval_count", "updated_at"}),
	}).Create(&model).Error
}
