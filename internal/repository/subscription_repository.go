package repository

import (
	"context"
	"errors"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	subDomain "github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/subscription"
	"gorm.io/gorm"
)

// GormSubscriptionRepository implements RecordRepository using GORM.
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository.
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Save persists a new subscription record.
func (r *GormSubscriptionRepository) Save(ctx context.Context, rec *subDomain.Record) error {
	model := toSubModel(rec)
	return r.db.WithContext(ctx).Create(&model).Error
}

// Update writes the mutable columns of a subscription record.
func (r *GormSubscriptionRepository) Update(ctx context.Context, rec *subDomain.Record) error {
	model := toSubModel(rec)
	result := r.db.WithContext(ctx).Model(&SubscriptionModel{}).
		Where("id = ?", rec.ID()).
		Select("payment_id", "order_id", "price_id", "status", "updated_at").
		Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("subscription", rec.ID())
	}
	return nil
}

// FindByID returns a subscription record by its PSP subscription id.
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id string) (*subDomain.Record, error) {
	var model SubscriptionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("subscription", id)
		}
		return nil, err
	}
	return toSubDomain(&model), nil
}

// FindByCustomerID returns the subscriptions of a platform customer, newest first.
func (r *GormSubscriptionRepository) FindByCustomerID(ctx context.Context, customerID string) ([]*subDomain.Record, error) {
	var models []SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*subDomain.Record, len(models))
	for i := range models {
		records[i] = toSubDomain(&models[i])
	}
	return records, nil
}

func toSubModel(rec *subDomain.Record) SubscriptionModel {
	return SubscriptionModel{
		ID: rec.ID(), CartID: rec.CartID(), PaymentID: rec.PaymentID(), OrderID: rec.OrderID(),
		CustomerID: rec.CustomerID(), PriceID: rec.PriceID(), Status: string(rec.Status()),
		CreatedAt: rec.CreatedAt(), UpdatedAt: rec.UpdatedAt(),
	}
}

func toSubDomain(m *SubscriptionModel) *subDomain.Record {
	return subDomain.ReconstituteRecord(
		m.ID, m.CartID, m.PaymentID, m.OrderID,
		m.CustomerID, m.PriceID, subDomain.SubStatus(m.Status),
		m.CreatedAt, m.UpdatedAt,
	)
}
