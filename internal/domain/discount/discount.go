package discount

import (
	"fmt"
	"strings"
)

// DiscountType represents the type of discount.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is a cart-level discount that is carried onto a subscription as a coupon.
type Discount struct {
	Code             string       `json:"code"`
	Type             DiscountType `json:"type"`
	Value            int64        `json:"value"` // percentage (1-100) or fixed amount in cents
	MaxDiscountCents int64        `json:"max_discount_cents,omitempty"`
	Currency         string       `json:"currency,omitempty"`
}

// NewDiscount validates and creates a discount.
func NewDiscount(code string, discountType DiscountType, value, maxDiscountCents int64, currency string) (*Discount, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("discount code is required")
	}
	if discountType != DiscountTypePercentage && discountType != DiscountTypeFixed {
		return nil, fmt.Errorf("invalid discount type: %s", discountType)
	}
	if value <= 0 {
		return nil, fmt.Errorf("discount value must be positive")
	}
	if discountType == DiscountTypePercentage && value > 100 {
		return nil, fmt.Errorf("percentage discount cannot exceed 100")
	}
	if discountType == DiscountTypeFixed && currency == "" {
		return nil, fmt.Errorf("fixed discount requires a currency")
	}
	return &Discount{
		Code:             code,
		Type:             discountType,
		Value:            value,
		MaxDiscountCents: maxDiscountCents,
		Currency:         strings.ToLower(currency),
	}, nil
}

// CouponTerms are the PSP coupon parameters derived from a discount.
// Exactly one of PercentOff or AmountOff is set.
type CouponTerms struct {
	Name       string
	PercentOff float64
	AmountOff  int64
	Currency   string
}

// CouponTerms converts the discount for a recurring amount of totalCents.
// A capped percentage discount becomes a fixed amount so the PSP never
// exceeds the cap.
func (d *Discount) CouponTerms(totalCents int64, currency string) (CouponTerms, error) {
	terms := CouponTerms{Name: d.Code}
	switch d.Type {
	case DiscountTypePercentage:
		amount := totalCents * d.Value / 100
		if d.MaxDiscountCents > 0 && amount > d.MaxDiscountCents {
			terms.AmountOff = d.MaxDiscountCents
			terms.Currency = strings.ToLower(currency)
			return terms, nil
		}
		terms.PercentOff = float64(d.Value)
	case DiscountTypeFixed:
		amount := d.Value
		if amount > totalCents {
			amount = totalCents
		}
		terms.AmountOff = amount
		terms.Currency = d.Currency
	default:
		return CouponTerms{}, fmt.Errorf("invalid discount type: %s", d.Type)
	}
	return terms, nil
}
