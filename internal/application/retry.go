package application

import (
	"context"
	"fmt"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/payment"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// conflictRetries bounds how often an update is re-applied after an
// optimistic-lock conflict. The repository reloads the payment on every attempt.
const conflictRetries = 3

func conflictBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, conflictRetries), ctx)
}

// applyUpdate writes one PaymentUpdate, retrying only on version conflicts.
func applyUpdate(ctx context.Context, repo payment.PaymentRepository, update payment.PaymentUpdate) (*payment.Payment, error) {
	var updated *payment.Payment
	op := func() error {
		p, err := repo.UpdatePayment(ctx, update)
		if err != nil {
			if domain.IsDomainError(err, domain.ErrorCodeConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		updated = p
		return nil
	}
	if err := backoff.Retry(op, conflictBackOff(ctx)); err != nil {
		return nil, err
	}
	return updated, nil
}

// applyAll writes every transaction of a normalized update onto the payment
// in order and returns the final state.
func applyAll(ctx context.Context, repo payment.PaymentRepository, update *payment.TransactionUpdate, paymentID uuid.UUID) (*payment.Payment, error) {
	var latest *payment.Payment
	for _, u := range update.Updates(paymentID) {
		p, err := applyUpdate(ctx, repo, u)
		if err != nil {
			return nil, fmt.Errorf("apply %s/%s to payment %s: %w", u.Transaction.Type, u.Transaction.State, paymentID, err)
		}
		latest = p
	}
	return latest, nil
}
