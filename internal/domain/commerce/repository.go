package commerce

import (
	"context"

	"github.com/google/uuid"
)

// CartRepository is the commerce-platform contract for carts.
type CartRepository interface {
	GetCart(ctx context.Context, id uuid.UUID) (*Cart, error)
	GetCartByPaymentID(ctx context.Context, paymentID uuid.UUID) (*Cart, error)
	CreateCart(ctx context.Context, draft CartDraft) (*Cart, error)
	UpdateCart(ctx context.Context, id uuid.UUID, actions ...CartAction) (*Cart, error)

	// AddPayment attaches a payment to the cart.
	AddPayment(ctx context.Context, cartID, paymentID uuid.UUID) (*Cart, error)
}

// OrderRepository is the commerce-platform contract for orders.
type OrderRepository interface {
	GetOrderByPaymentID(ctx context.Context, paymentID uuid.UUID) (*Order, error)
	CreateOrderFromCart(ctx context.Context, cartID uuid.UUID) (*Order, error)
	AddPaymentToOrder(ctx context.Context, orderID, paymentID uuid.UUID) (*Order, error)
}

// ProductRepository exposes live catalog prices.
type ProductRepository interface {
	// GetVariantPrice returns the current price of a product variant.
	GetVariantPrice(ctx context.Context, productID, sku string) (*Price, error)
}
