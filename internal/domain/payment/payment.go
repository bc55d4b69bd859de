package payment

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies the economic step a Transaction records.
type TransactionType string

const (
	TransactionAuthorization       TransactionType = "Authorization"
	TransactionCharge              TransactionType = "Charge"
	TransactionCancelAuthorization TransactionType = "CancelAuthorization"
	TransactionRefund              TransactionType = "Refund"
	TransactionChargeback          TransactionType = "Chargeback"
)

// TransactionState is the lifecycle state of a single Transaction.
type TransactionState string

const (
	StateInitial TransactionState = "Initial"
	StatePending TransactionState = "Pending"
	StateSuccess TransactionState = "Success"
	StateFailure TransactionState = "Failure"
)

// Money is a currency code plus an amount in minor units.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	CentAmount   int64  `json:"cent_amount"`
}

// PaymentMethodInfo describes how the payment is settled on the PSP side.
type PaymentMethodInfo struct {
	PaymentInterface string `json:"payment_interface"`
	Method           string `json:"method,omitempty"`
}

// Transaction is one state-carrying step in a Payment's history.
type Transaction struct {
	ID            uuid.UUID        `json:"id"`
	Type          TransactionType  `json:"type"`
	State         TransactionState `json:"state"`
	Amount        Money            `json:"amount"`
	InteractionID string           `json:"interaction_id,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// TransactionDraft is a transaction not yet applied to a Payment.
type TransactionDraft struct {
	Type          TransactionType
	State         TransactionState
	Amount        Money
	InteractionID string
}

// PaymentDraft carries everything needed to create a Payment.
type PaymentDraft struct {
	AmountPlanned     Money
	InterfaceID       string
	PaymentMethodInfo PaymentMethodInfo
	CustomerID        string
	AnonymousID       string
	Transactions      []TransactionDraft
}

// PaymentUpdate applies one transaction, and optionally the PSP reference and
// payment method, to an existing Payment.
type PaymentUpdate struct {
	ID            uuid.UUID
	PSPReference  string
	PaymentMethod string
	Transaction   TransactionDraft
}

// Payment is the platform-owned record of a checkout attempt or subscription.
// It is mutated only by appending or updating Transactions.
type Payment struct {
	id                uuid.UUID
	amountPlanned     Money
	interfaceID       string
	paymentMethodInfo PaymentMethodInfo
	customerID        string
	anonymousID       string
	transactions      []Transaction
	version           int64
	createdAt         time.Time
	updatedAt         time.Time
}

// NewPayment creates a Payment from a draft, applying any initial transactions.
func NewPayment(draft PaymentDraft) *Payment {
	now := time.Now().UTC()
	p := &Payment{
		id:                uuid.New(),
		amountPlanned:     draft.AmountPlanned,
		interfaceID:       draft.InterfaceID,
		paymentMethodInfo: draft.PaymentMethodInfo,
		customerID:        draft.CustomerID,
		anonymousID:       draft.AnonymousID,
		version:           1,
		createdAt:         now,
		updatedAt:         now,
	}
	for _, tx := range draft.Transactions {
		p.ApplyTransaction(tx)
	}
	return p
}

// --- Getters ---

func (p *Payment) ID() uuid.UUID                         { return p.id }
func (p *Payment) AmountPlanned() Money                  { return p.amountPlanned }
func (p *Payment) InterfaceID() string                   { return p.interfaceID }
func (p *Payment) PaymentMethodInfo() PaymentMethodInfo { return p.paymentMethodInfo }
func (p *Payment) CustomerID() string                    { return p.customerID }
func (p *Payment) AnonymousID() string                   { return p.anonymousID }
func (p *Payment) Version() int64                        { return p.version }
func (p *Payment) CreatedAt() time.Time                  { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time                  { return p.updatedAt }

// Transactions returns a copy of the transaction history in insertion order.
func (p *Payment) Transactions() []Transaction {
	out := make([]Transaction, len(p.transactions))
	copy(out, p.transactions)
	return out
}

// --- Behavior ---

// ApplyTransaction appends the draft, or updates the state of an existing
// transaction with the same (type, interactionId) pair. Drafts without an
// interaction id are always appended. A draft with an interaction id that
// matches nothing claims the oldest Initial transaction of its type that has
// no interaction id yet. It reports whether the Payment changed.
func (p *Payment) ApplyTransaction(draft TransactionDraft) bool {
	now := time.Now().UTC()
	if draft.InteractionID != "" {
		for i := range p.transactions {
			existing := &p.transactions[i]
			if existing.Type != draft.Type || existing.InteractionID != draft.InteractionID {
				continue
			}
			if existing.State == draft.State || !canTransition(existing.State, draft.State) {
				return false
			}
			existing.State = draft.State
			existing.Timestamp = now
			p.updatedAt = now
			return true
		}
		for i := range p.transactions {
			existing := &p.transactions[i]
			if existing.Type != draft.Type || existing.InteractionID != "" || existing.State != StateInitial {
				continue
			}
			existing.InteractionID = draft.InteractionID
			existing.State = draft.State
			existing.Timestamp = now
			p.updatedAt = now
			return true
		}
	}
	p.transactions = append(p.transactions, Transaction{
		ID:            uuid.New(),
		Type:          draft.Type,
		State:         draft.State,
		Amount:        draft.Amount,
		InteractionID: draft.InteractionID,
		Timestamp:     now,
	})
	p.updatedAt = now
	return true
}

// Apply applies a full PaymentUpdate and reports whether the Payment changed.
func (p *Payment) Apply(update PaymentUpdate) bool {
	changed := false
	if update.PSPReference != "" && update.PSPReference != p.interfaceID {
		p.interfaceID = update.PSPReference
		changed = true
	}
	if update.PaymentMethod != "" && update.PaymentMethod != p.paymentMethodInfo.Method {
		p.paymentMethodInfo.Method = update.PaymentMethod
		changed = true
	}
	if p.ApplyTransaction(update.Transaction) {
		changed = true
	}
	return changed
}

// HasTransactionInState reports whether any transaction of the given type is
// in one of the given states.
func (p *Payment) HasTransactionInState(txType TransactionType, states ...TransactionState) bool {
	for _, tx := range p.transactions {
		if tx.Type != txType {
			continue
		}
		for _, s := range states {
			if tx.State == s {
				return true
			}
		}
	}
	return false
}

// HasFailedTransaction reports whether any transaction is in Failure.
func (p *Payment) HasFailedTransaction() bool {
	for _, tx := range p.transactions {
		if tx.State == StateFailure {
			return true
		}
	}
	return false
}

// IncrementVersion bumps the version for optimistic locking.
func (p *Payment) IncrementVersion() {
	p.version++
	p.updatedAt = time.Now().UTC()
}

// canTransition keeps Success final. A Failure may still turn into Success
// when the PSP retries the same payment intent.
func canTransition(from, to TransactionState) bool {
	switch from {
	case StateSuccess:
		return false
	case StateFailure:
		return to == StateSuccess
	default:
		return true
	}
}

// --- Reconstitution (used by repository to rebuild from persistence) ---

// Reconstitute rebuilds a Payment from persisted data.
func Reconstitute(
	id uuid.UUID,
	amountPlanned Money,
	interfaceID string,
	methodInfo PaymentMethodInfo,
	customerID, anonymousID string,
	transactions []Transaction,
	version int64,
	createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		id:                id,
		amountPlanned:     amountPlanned,
		interfaceID:       interfaceID,
		paymentMethodInfo: methodInfo,
		customerID:        customerID,
		anonymousID:       anonymousID,
		transactions:      transactions,
		version:           version,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}
