package repository

import (
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/discount"
	"github.com/google/uuid"
)

// PaymentModel is the GORM persistence model for the payments table.
type PaymentModel struct {
	ID               uuid.UUID          `gorm:"type:uuid;primaryKey"`
	AmountCents      int64              `gorm:"not null"`
	Currency         string             `gorm:"type:varchar(3);not null"`
	InterfaceID      string             `gorm:"type:varchar(255);index"`
	PaymentInterface string             `gorm:"type:varchar(50);not null"`
	PaymentMethod    string             `gorm:"type:varchar(50)"`
	CustomerID       string             `gorm:"type:varchar(255)"`
	AnonymousID      string             `gorm:"type:varchar(255)"`
	Version          int64              `gorm:"not null;default:1"`
	CreatedAt        time.Time          `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time          `gorm:"type:timestamptz;not null;default:now()"`
	Transactions     []TransactionModel `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for GORM.
func (PaymentModel) TableName() string {
	return "payments"
}

// TransactionModel is one row of a payment's transaction history. Position
// keeps the order transactions were first recorded in.
type TransactionModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Position      int       `gorm:"not null"`
	Type          string    `gorm:"type:varchar(30);not null"`
	State         string    `gorm:"type:varchar(20);not null"`
	AmountCents   int64     `gorm:"not null"`
	Currency      string    `gorm:"type:varchar(3);not null"`
	InteractionID string    `gorm:"type:varchar(255)"`
	Timestamp     time.Time `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (TransactionModel) TableName() string {
	return "payment_transactions"
}

// CartModel is the GORM model for the carts table. Line items and shipping
// are stored as JSON documents.
type CartModel struct {
	ID              uuid.UUID              `gorm:"type:uuid;primaryKey"`
	CustomerID      string                 `gorm:"type:varchar(255);index"`
	AnonymousID     string                 `gorm:"type:varchar(255)"`
	CustomerEmail   string                 `gorm:"type:varchar(255)"`
	LineItems       []commerce.LineItem    `gorm:"type:jsonb;serializer:json;not null"`
	ShippingAddress *commerce.Address      `gorm:"type:jsonb;serializer:json"`
	ShippingInfo    *commerce.ShippingInfo `gorm:"type:jsonb;serializer:json"`
	Discount        *discount.Discount     `gorm:"type:jsonb;serializer:json"`
	CustomFields    map[string]string      `gorm:"type:jsonb;serializer:json"`
	TotalCents      int64                  `gorm:"not null"`
	Currency        string                 `gorm:"type:varchar(3)"`
	Version         int64                  `gorm:"not null;default:1"`
	CreatedAt       time.Time              `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time              `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (CartModel) TableName() string {
	return "carts"
}

// CartPaymentModel attaches a payment to the cart it was created for.
type CartPaymentModel struct {
	CartID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID uuid.UUID `gorm:"type:uuid;primaryKey;uniqueIndex"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (CartPaymentModel) TableName() string {
	return "cart_payments"
}

// OrderModel is the GORM model for the orders table. An order is created at
// most once per cart.
type OrderModel struct {
	ID              uuid.UUID              `gorm:"type:uuid;primaryKey"`
	CartID          uuid.UUID              `gorm:"type:uuid;uniqueIndex;not null"`
	OrderNumber     string                 `gorm:"type:varchar(32);uniqueIndex;not null"`
	CustomerID      string                 `gorm:"type:varchar(255);index"`
	CustomerEmail   string                 `gorm:"type:varchar(255)"`
	LineItems       []commerce.LineItem    `gorm:"type:jsonb;serializer:json;not null"`
	ShippingAddress *commerce.Address      `gorm:"type:jsonb;serializer:json"`
	ShippingInfo    *commerce.ShippingInfo `gorm:"type:jsonb;serializer:json"`
	TotalCents      int64                  `gorm:"not null"`
	Currency        string                 `gorm:"type:varchar(3)"`
	CreatedAt       time.Time              `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderPaymentModel attaches a payment to an order. A payment belongs to at
// most one order.
type OrderPaymentModel struct {
	OrderID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID uuid.UUID `gorm:"type:uuid;primaryKey;uniqueIndex"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (OrderPaymentModel) TableName() string {
	return "order_payments"
}

// ProductPriceModel is the live catalog price of a product variant.
type ProductPriceModel struct {
	ProductID     string    `gorm:"type:varchar(255);primaryKey"`
	SKU           string    `gorm:"type:varchar(255);primaryKey"`
	PriceID       string    `gorm:"type:varchar(255);not null"`
	AmountCents   int64     `gorm:"not null"`
	Currency      string    `gorm:"type:varchar(3);not null"`
	Interval      string    `gorm:"type:varchar(10)"`
	IntervalCount int64     `gorm:"not null;default:1"`
	UpdatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (ProductPriceModel) TableName() string {
	return "product_prices"
}

// ProcessedEventModel is one PSP event that was fully handled.
type ProcessedEventModel struct {
	EventID     string    `gorm:"type:varchar(255);primaryKey"`
	EventType   string    `gorm:"type:varchar(100);not null"`
	ProcessedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (ProcessedEventModel) TableName() string {
	return "processed_events"
}

// SubscriptionModel is the GORM model for the subscriptions projection.
type SubscriptionModel struct {
	ID         string    `gorm:"type:varchar(255);primaryKey"`
	CartID     uuid.UUID `gorm:"type:uuid;not null"`
	PaymentID  uuid.UUID `gorm:"type:uuid"`
	OrderID    uuid.UUID `gorm:"type:uuid"`
	CustomerID string    `gorm:"type:varchar(255);index"`
	PriceID    string    `gorm:"type:varchar(255)"`
	Status     string    `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (SubscriptionModel) TableName() string { return "subscriptions" }

// AllModels lists every model for development auto-migration.
func AllModels() []interface{} {
	return []interface{}{
		&PaymentModel{},
		&TransactionModel{},
		&CartModel{},
		&CartPaymentModel{},
		&OrderModel{},
		&OrderPaymentModel{},
		&ProductPriceModel{},
		&ProcessedEventModel{},
		&SubscriptionModel{},
	}
}
