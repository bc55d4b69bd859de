package payment

import "github.com/google/uuid"

// PSPInteraction keeps the raw provider payload that produced an update.
type PSPInteraction struct {
	RawResponse string
}

// TransactionUpdate is the normalized, ephemeral form of a PSP event. It is
// the input contract to the write phase and is never persisted as-is.
type TransactionUpdate struct {
	// PaymentID is uuid.Nil when the event carries no platform back-reference.
	PaymentID      uuid.UUID
	PSPReference   string
	PaymentMethod  string
	PSPInteraction PSPInteraction
	Transactions   []TransactionDraft
}

// Updates expands the record into one PaymentUpdate per transaction for the given payment.
func (u *TransactionUpdate) Updates(paymentID uuid.UUID) []PaymentUpdate {
	out := make([]PaymentUpdate, 0, len(u.Transactions))
	for _, tx := range u.Transactions {
		out = append(out, PaymentUpdate{
			ID:            paymentID,
			PSPReference:  u.PSPReference,
			PaymentMethod: u.PaymentMethod,
			Transaction:   tx,
		})
	}
	return out
}
