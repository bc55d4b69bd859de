package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepositoryImpl is the GORM-based implementation of OrderRepository.
type OrderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository creates a new GORM-based order repository.
func NewOrderRepository(db *gorm.DB) *OrderRepositoryImpl {
	return &OrderRepositoryImpl{db: db}
}

// GetOrderByPaymentID retrieves the order a payment is attached to.
func (r *OrderRepositoryImpl) GetOrderByPaymentID(ctx context.Context, paymentID uuid.UUID) (*commerce.Order, error) {
	var link OrderPaymentModel
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("order for payment", paymentID.String())
		}
		return nil, err
	}
	return r.load(r.db.WithContext(ctx), link.OrderID)
}

// CreateOrderFromCart creates the order of a cart and attaches the cart's
// payments to it. A cart that already has an order returns that order.
func (r *OrderRepositoryImpl) CreateOrderFromCart(ctx context.Context, cartID uuid.UUID) (*commerce.Order, error) {
	var order *commerce.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing OrderModel
		err := tx.Where("cart_id = ?", cartID).First(&existing).Error
		if err == nil {
			order, err = r.load(tx, existing.ID)
			return err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var cart CartModel
		if err := tx.Where("id = ?", cartID).First(&cart).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewNotFoundError("cart", cartID.String())
			}
			return err
		}
		var links []CartPaymentModel
		if err := tx.Where("cart_id = ?", cartID).Order("created_at ASC").Find(&links).Error; err != nil {
			return err
		}

		id := uuid.New()
		model := &OrderModel{
			ID:              id,
			CartID:          cartID,
			OrderNumber:     orderNumber(id),
			CustomerID:      cart.CustomerID,
			CustomerEmail:   cart.CustomerEmail,
			LineItems:       cart.LineItems,
			ShippingAddress: cart.ShippingAddress,
			ShippingInfo:    cart.ShippingInfo,
			TotalCents:      cart.TotalCents,
			Currency:        cart.Currency,
			CreatedAt:       time.Now().UTC(),
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		for _, l := range links {
			if err := attachPayment(tx, id, l.PaymentID); err != nil {
				return err
			}
		}
		order, err = r.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AddPaymentToOrder attaches a payment to an existing order.
func (r *OrderRepositoryImpl) AddPaymentToOrder(ctx context.Context, orderID, paymentID uuid.UUID) (*commerce.Order, error) {
	var order *commerce.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if order, err = r.load(tx, orderID); err != nil {
			return err
		}
		if order.HasPayment(paymentID) {
			return nil
		}
		if err := attachPayment(tx, orderID, paymentID); err != nil {
			return err
		}
		order.PaymentIDs = append(order.PaymentIDs, paymentID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// attachPayment links a payment to an order. The unique payment_id index
// keeps a payment on a single order.
func attachPayment(tx *gorm.DB, orderID, paymentID uuid.UUID) error {
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&OrderPaymentModel{OrderID: orderID, PaymentID: paymentID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var link OrderPaymentModel
		if err := tx.Where("payment_id = ?", paymentID).First(&link).Error; err != nil {
			return err
		}
		if link.OrderID != orderID {
			return domain.NewConflictError(fmt.Sprintf("payment %s already belongs to order %s", paymentID, link.OrderID))
		}
	}
	return nil
}

func (r *OrderRepositoryImpl) load(db *gorm.DB, id uuid.UUID) (*commerce.Order, error) {
	var model OrderModel
	if err := db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("order", id.String())
		}
		return nil, err
	}
	var links []OrderPaymentModel
	if err := db.Where("order_id = ?", id).Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(links))
	for i, l := range links {
		ids[i] = l.PaymentID
	}
	return &commerce.Order{
		ID:              model.ID,
		CartID:          model.CartID,
		OrderNumber:     model.OrderNumber,
		CustomerID:      model.CustomerID,
		CustomerEmail:   model.CustomerEmail,
		LineItems:       model.LineItems,
		ShippingAddress: model.ShippingAddress,
		ShippingInfo:    model.ShippingInfo,
		TotalPrice:      payment.Money{CurrencyCode: model.Currency, CentAmount: model.TotalCents},
		PaymentIDs:      ids,
		CreatedAt:       model.CreatedAt,
	}, nil
}

func orderNumber(id uuid.UUID) string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
