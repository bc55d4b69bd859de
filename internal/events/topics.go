package events

// CloudEvent types carried on the service topics.
const (
	PSPEventReceived            = "psp.event.received"
	PaymentTransactionApplied   = "payment.transaction_applied"
	PaymentReconciliationFailed = "payment.reconciliation_failed"
)

// Source is the CloudEvents source of every event this service publishes.
const Source = "service-payment-sync"

// TransactionAppliedEvent announces that a PSP event changed a platform payment.
type TransactionAppliedEvent struct {
	EventID      string            `json:"event_id"`
	EventType    string            `json:"event_type"`
	PaymentID    string            `json:"payment_id"`
	InterfaceID  string            `json:"interface_id"`
	CentAmount   int64             `json:"cent_amount"`
	CurrencyCode string            `json:"currency_code"`
	Transactions []TransactionView `json:"transactions"`
	Version      int64             `json:"version"`
}

// TransactionView is one transaction inside a TransactionAppliedEvent.
type TransactionView struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	State         string `json:"state"`
	CentAmount    int64  `json:"cent_amount"`
	CurrencyCode  string `json:"currency_code"`
	InteractionID string `json:"interaction_id,omitempty"`
}

// ReconciliationFailedEvent announces a PSP event that was acknowledged
// without its platform effect.
type ReconciliationFailedEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	Stage        string `json:"stage"`
	PSPReference string `json:"psp_reference,omitempty"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}
