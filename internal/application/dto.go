package application

import (
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/google/uuid"
)

// TransactionDTO is the API view of one transaction.
type TransactionDTO struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	State         string    `json:"state"`
	CentAmount    int64     `json:"cent_amount"`
	CurrencyCode  string    `json:"currency_code"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentDTO is the API response DTO for payment data.
type PaymentDTO struct {
	ID               uuid.UUID        `json:"id"`
	InterfaceID      string           `json:"interface_id,omitempty"`
	PaymentInterface string           `json:"payment_interface"`
	PaymentMethod    string           `json:"payment_method,omitempty"`
	CentAmount       int64            `json:"cent_amount"`
	CurrencyCode     string           `json:"currency_code"`
	CustomerID       string           `json:"customer_id,omitempty"`
	AnonymousID      string           `json:"anonymous_id,omitempty"`
	Transactions     []TransactionDTO `json:"transactions"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func toPaymentDTO(p *payment.Payment) PaymentDTO {
	txs := p.Transactions()
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, TransactionDTO{
			ID:            tx.ID,
			Type:          string(tx.Type),
			State:         string(tx.State),
			CentAmount:    tx.Amount.CentAmount,
			CurrencyCode:  tx.Amount.CurrencyCode,
			InteractionID: tx.InteractionID,
			Timestamp:     tx.Timestamp,
		})
	}
	return PaymentDTO{
		ID:               p.ID(),
		InterfaceID:      p.InterfaceID(),
		PaymentInterface: p.PaymentMethodInfo().PaymentInterface,
		PaymentMethod:    p.PaymentMethodInfo().Method,
		CentAmount:       p.AmountPlanned().CentAmount,
		CurrencyCode:     p.AmountPlanned().CurrencyCode,
		CustomerID:       p.CustomerID(),
		AnonymousID:      p.AnonymousID(),
		Transactions:     dtos,
		Version:          p.Version(),
		CreatedAt:        p.CreatedAt(),
		UpdatedAt:        p.UpdatedAt(),
	}
}

// CreatePaymentIntentRequest starts a one-shot checkout for a cart.
type CreatePaymentIntentRequest struct {
	CartID uuid.UUID `json:"cart_id" binding:"required"`
}

// PaymentIntentResult is returned to the checkout frontend.
type PaymentIntentResult struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	ClientSecret    string    `json:"client_secret"`
}

// ModifyPaymentRequest asks for a capture, cancel, or refund of a payment.
type ModifyPaymentRequest struct {
	PaymentID      uuid.UUID      `json:"-"`
	Action         string         `json:"action" binding:"required"`
	Amount         *payment.Money `json:"amount,omitempty"`
	IdempotencyKey string         `json:"-"`
}

// ModifyPaymentResult reports how the PSP resolved a modification.
type ModifyPaymentResult struct {
	Outcome Outcome    `json:"outcome"`
	Payment PaymentDTO `json:"payment"`
}

// CreateSubscriptionRequest starts a subscription for the recurring line item of a cart.
type CreateSubscriptionRequest struct {
	CartID uuid.UUID `json:"cart_id" binding:"required"`
}

// CreateFromSetupIntentRequest starts a subscription once a setup intent is confirmed.
type CreateFromSetupIntentRequest struct {
	CartID        uuid.UUID `json:"cart_id" binding:"required"`
	SetupIntentID string    `json:"setup_intent_id" binding:"required"`
}

// SubscriptionResult is returned after a subscription was created.
type SubscriptionResult struct {
	SubscriptionID string    `json:"subscription_id"`
	PaymentID      uuid.UUID `json:"payment_id,omitempty"`
	CustomerID     string    `json:"customer_id"`
	Status         string    `json:"status"`
	ClientSecret   string    `json:"client_secret,omitempty"`
	InvoiceID      string    `json:"invoice_id,omitempty"`
}

// SetupIntentResult is returned to collect a payment method for a deferred subscription.
type SetupIntentResult struct {
	SetupIntentID string `json:"setup_intent_id"`
	ClientSecret  string `json:"client_secret"`
	CustomerID    string `json:"customer_id"`
}

// ConfirmSubscriptionRequest records the first cycle of a subscription after client-side confirmation.
type ConfirmSubscriptionRequest struct {
	CartID         uuid.UUID `json:"cart_id" binding:"required"`
	SubscriptionID string    `json:"subscription_id" binding:"required"`
}

// UpdateSubscriptionRequest swaps the recurring price of a subscription.
type UpdateSubscriptionRequest struct {
	SubscriptionID string `json:"-"`
	ProductID      string `json:"product_id" binding:"required"`
	SKU            string `json:"sku" binding:"required"`
	Quantity       int64  `json:"quantity,omitempty"`
}

// SubscriptionDTO is the API view of a tracked subscription.
type SubscriptionDTO struct {
	ID         string    `json:"id"`
	CartID     uuid.UUID `json:"cart_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	OrderID    uuid.UUID `json:"order_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	PriceID    string    `json:"price_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
