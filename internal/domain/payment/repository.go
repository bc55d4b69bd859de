package payment

import (
	"context"

	"github.com/google/uuid"
)

// PaymentRepository is the commerce-platform contract for Payment records.
type PaymentRepository interface {
	// GetPayment retrieves a payment by its unique ID.
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)

	// CreatePayment persists a new payment built from the draft.
	CreatePayment(ctx context.Context, draft PaymentDraft) (*Payment, error)

	// UpdatePayment applies one transaction (plus reference/method changes)
	// with optimistic locking and returns the updated payment.
	UpdatePayment(ctx context.Context, update PaymentUpdate) (*Payment, error)

	// FindPaymentsByInterfaceID returns all payments whose PSP reference equals interfaceID.
	FindPaymentsByInterfaceID(ctx context.Context, interfaceID string) ([]*Payment, error)
}
