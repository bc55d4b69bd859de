package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/commerce"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartRepositoryImpl is the GORM-based implementation of CartRepository.
type CartRepositoryImpl struct {
	db *gorm.DB
}

// NewCartRepository creates a new GORM-based cart repository.
func NewCartRepository(db *gorm.DB) *CartRepositoryImpl {
	return &CartRepositoryImpl{db: db}
}

// GetCart retrieves a cart and the ids of its payments.
func (r *CartRepositoryImpl) GetCart(ctx context.Context, id uuid.UUID) (*commerce.Cart, error) {
	return r.load(r.db.WithContext(ctx), id)
}

// GetCartByPaymentID retrieves the cart a payment is attached to.
func (r *CartRepositoryImpl) GetCartByPaymentID(ctx context.Context, paymentID uuid.UUID) (*commerce.Cart, error) {
	var link CartPaymentModel
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("cart for payment", paymentID.String())
		}
		return nil, err
	}
	return r.GetCart(ctx, link.CartID)
}

// CreateCart persists a new cart with its totals derived from the line items.
func (r *CartRepositoryImpl) CreateCart(ctx context.Context, draft commerce.CartDraft) (*commerce.Cart, error) {
	cart := &commerce.Cart{
		ID:              uuid.New(),
		CustomerID:      draft.CustomerID,
		AnonymousID:     draft.AnonymousID,
		CustomerEmail:   draft.CustomerEmail,
		LineItems:       make([]commerce.LineItem, len(draft.LineItems)),
		ShippingAddress: draft.ShippingAddress,
		ShippingInfo:    draft.ShippingInfo,
		Version:         1,
	}
	for i, li := range draft.LineItems {
		li.ID = uuid.New()
		cart.LineItems[i] = li
	}
	cart.Recalculate()

	if err := r.db.WithContext(ctx).Create(toCartModel(cart)).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateCart applies the actions and bumps the cart version.
func (r *CartRepositoryImpl) UpdateCart(ctx context.Context, id uuid.UUID, actions ...commerce.CartAction) (*commerce.Cart, error) {
	var cart *commerce.Cart
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if cart, err = r.load(tx, id); err != nil {
			return err
		}
		for _, action := range actions {
			if err := applyCartAction(cart, action); err != nil {
				return err
			}
		}
		cart.Recalculate()
		return r.bump(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AddPayment attaches a payment to the cart. Attaching the same payment
// twice is a no-op.
func (r *CartRepositoryImpl) AddPayment(ctx context.Context, cartID, paymentID uuid.UUID) (*commerce.Cart, error) {
	var cart *commerce.Cart
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if cart, err = r.load(tx, cartID); err != nil {
			return err
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&CartPaymentModel{CartID: cartID, PaymentID: paymentID})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		cart.PaymentIDs = append(cart.PaymentIDs, paymentID)
		return r.bump(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (r *CartRepositoryImpl) load(db *gorm.DB, id uuid.UUID) (*commerce.Cart, error) {
	var model CartModel
	if err := db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("cart", id.String())
		}
		return nil, err
	}
	var links []CartPaymentModel
	if err := db.Where("cart_id = ?", id).Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, err
	}
	return toCartDomain(&model, links), nil
}

// bump writes the cart while its version is unchanged.
func (r *CartRepositoryImpl) bump(tx *gorm.DB, cart *commerce.Cart) error {
	previousVersion := cart.Version
	cart.Version++
	model := toCartModel(cart)
	model.UpdatedAt = time.Now().UTC()
	result := tx.Model(&CartModel{}).
		Where("id = ? AND version = ?", cart.ID, previousVersion).
		Select("line_items", "custom_fields", "total_cents", "currency", "version", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("cart was modified by another transaction")
	}
	return nil
}

func applyCartAction(cart *commerce.Cart, action commerce.CartAction) error {
	switch a := action.(type) {
	case commerce.SetLineItemPrice:
		for i := range cart.LineItems {
			if cart.LineItems[i].ID == a.LineItemID {
				cart.LineItems[i].Price.Value = a.Price
				return nil
			}
		}
		return domain.NewNotFoundError("line item", a.LineItemID.String())
	case commerce.SetCustomField:
		if cart.CustomFields == nil {
			cart.CustomFields = make(map[string]string)
		}
		cart.CustomFields[a.Name] = a.Value
		return nil
	default:
		return domain.NewValidationError("unsupported cart action")
	}
}

func toCartDomain(m *CartModel, links []CartPaymentModel) *commerce.Cart {
	ids := make([]uuid.UUID, len(links))
	for i, l := range links {
		ids[i] = l.PaymentID
	}
	return &commerce.Cart{
		ID:              m.ID,
		CustomerID:      m.CustomerID,
		AnonymousID:     m.AnonymousID,
		CustomerEmail:   m.CustomerEmail,
		LineItems:       m.LineItems,
		ShippingAddress: m.ShippingAddress,
		ShippingInfo:    m.ShippingInfo,
		TotalPrice:      payment.Money{CurrencyCode: m.Currency, CentAmount: m.TotalCents},
		Discount:        m.Discount,
		PaymentIDs:      ids,
		CustomFields:    m.CustomFields,
		Version:         m.Version,
	}
}

func toCartModel(c *commerce.Cart) *CartModel {
	lineItems := c.LineItems
	if lineItems == nil {
		lineItems = []commerce.LineItem{}
	}
	return &CartModel{
		ID:              c.ID,
		CustomerID:      c.CustomerID,
		AnonymousID:     c.AnonymousID,
		CustomerEmail:   c.CustomerEmail,
		LineItems:       lineItems,
		ShippingAddress: c.ShippingAddress,
		ShippingInfo:    c.ShippingInfo,
		Discount:        c.Discount,
		CustomFields:    c.CustomFields,
		TotalCents:      c.TotalPrice.CentAmount,
		Currency:        c.TotalPrice.CurrencyCode,
		Version:         c.Version,
	}
}
