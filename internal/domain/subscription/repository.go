package subscription

import (
	"context"
)

// RecordRepository defines persistence operations for subscription projections.
type RecordRepository interface {
	Save(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	FindByID(ctx context.Context, pspSubscriptionID string) (*Record, error)
	FindByCustomerID(ctx context.Context, customerID string) ([]*Record, error)
}
