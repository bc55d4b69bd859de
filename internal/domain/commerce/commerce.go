package commerce

import (
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/discount"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/google/uuid"
)

// Recurrence describes a recurring billing schedule for a price.
type Recurrence struct {
	Interval      string `json:"interval"`
	IntervalCount int64  `json:"interval_count"`
}

// Price is a platform price, optionally recurring.
type Price struct {
	ID         string        `json:"id"`
	Value      payment.Money `json:"value"`
	Recurrence *Recurrence   `json:"recurrence,omitempty"`
}

// IsRecurring reports whether the price bills on a schedule.
func (p Price) IsRecurring() bool {
	return p.Recurrence != nil && p.Recurrence.Interval != ""
}

// LineItem is one product variant on a cart or order.
type LineItem struct {
	ID         uuid.UUID     `json:"id"`
	ProductID  string        `json:"product_id"`
	SKU        string        `json:"sku"`
	Name       string        `json:"name"`
	Quantity   int64         `json:"quantity"`
	Price      Price         `json:"price"`
	TotalPrice payment.Money `json:"total_price"`
}

// Address is a postal address.
type Address struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Email      string `json:"email,omitempty"`
}

// ShippingInfo is the shipping method selected for a cart.
type ShippingInfo struct {
	ShippingMethodID   string        `json:"shipping_method_id"`
	ShippingMethodName string        `json:"shipping_method_name"`
	Price              payment.Money `json:"price"`
}

// Cart is the platform shopping cart.
type Cart struct {
	ID              uuid.UUID
	CustomerID      string
	AnonymousID     string
	CustomerEmail   string
	LineItems       []LineItem
	ShippingAddress *Address
	ShippingInfo    *ShippingInfo
	TotalPrice      payment.Money
	Discount        *discount.Discount
	PaymentIDs      []uuid.UUID
	CustomFields    map[string]string
	Version         int64
}

// PaymentAmount returns the amount a payment for this cart must cover.
func (c *Cart) PaymentAmount() payment.Money {
	return c.TotalPrice
}

// Recalculate derives line item totals and the cart total from unit prices
// and the selected shipping. Discounts are applied PSP side and not deducted here.
func (c *Cart) Recalculate() {
	var total int64
	currency := c.TotalPrice.CurrencyCode
	for i := range c.LineItems {
		li := &c.LineItems[i]
		li.TotalPrice = payment.Money{
			CurrencyCode: li.Price.Value.CurrencyCode,
			CentAmount:   li.Price.Value.CentAmount * li.Quantity,
		}
		total += li.TotalPrice.CentAmount
		if currency == "" {
			currency = li.Price.Value.CurrencyCode
		}
	}
	if c.ShippingInfo != nil {
		total += c.ShippingInfo.Price.CentAmount
	}
	c.TotalPrice = payment.Money{CurrencyCode: currency, CentAmount: total}
}

// SubscriptionLineItem returns the first line item with a recurring price.
func (c *Cart) SubscriptionLineItem() (LineItem, bool) {
	for _, li := range c.LineItems {
		if li.Price.IsRecurring() {
			return li, true
		}
	}
	return LineItem{}, false
}

// CartDraft creates a new cart.
type CartDraft struct {
	CustomerID      string
	AnonymousID     string
	CustomerEmail   string
	LineItems       []LineItem
	ShippingAddress *Address
	ShippingInfo    *ShippingInfo
}

// CartAction is a single cart mutation. The set is closed to the types below.
type CartAction interface {
	cartAction()
}

// SetLineItemPrice overrides the price of one line item.
type SetLineItemPrice struct {
	LineItemID uuid.UUID
	Price      payment.Money
}

// SetCustomField sets a string custom field on the cart.
type SetCustomField struct {
	Name  string
	Value string
}

func (SetLineItemPrice) cartAction() {}
func (SetCustomField) cartAction()   {}

// Order is the platform order created from a cart.
type Order struct {
	ID              uuid.UUID
	CartID          uuid.UUID
	OrderNumber     string
	CustomerID      string
	CustomerEmail   string
	LineItems       []LineItem
	ShippingAddress *Address
	ShippingInfo    *ShippingInfo
	TotalPrice      payment.Money
	PaymentIDs      []uuid.UUID
	CreatedAt       time.Time
}

// SubscriptionLineItem returns the first recurring line item of the order.
func (o *Order) SubscriptionLineItem() (LineItem, bool) {
	for _, li := range o.LineItems {
		if li.Price.IsRecurring() {
			return li, true
		}
	}
	return LineItem{}, false
}

// HasPayment reports whether paymentID is attached to the order.
func (o *Order) HasPayment(paymentID uuid.UUID) bool {
	for _, id := range o.PaymentIDs {
		if id == paymentID {
			return true
		}
	}
	return false
}
