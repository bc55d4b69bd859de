package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Record is the local projection of a PSP subscription. The PSP stays the
// system of record; the projection keeps the platform references that a
// subscription was created from and the status last observed.
type Record struct {
	id         string
	cartID     uuid.UUID
	paymentID  uuid.UUID
	orderID    uuid.UUID
	customerID string
	priceID    string
	status     SubStatus
	createdAt  time.Time
	updatedAt  time.Time
}

// NewRecord creates a projection for a freshly created PSP subscription.
func NewRecord(pspSubscriptionID string, cartID, paymentID uuid.UUID, customerID, priceID string, status SubStatus) *Record {
	now := time.Now().UTC()
	return &Record{
		id:         pspSubscriptionID,
		cartID:     cartID,
		paymentID:  paymentID,
		customerID: customerID,
		priceID:    priceID,
		status:     status,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (r *Record) ID() string             { return r.id }
func (r *Record) CartID() uuid.UUID      { return r.cartID }
func (r *Record) PaymentID() uuid.UUID   { return r.paymentID }
func (r *Record) OrderID() uuid.UUID     { return r.orderID }
func (r *Record) CustomerID() string     { return r.customerID }
func (r *Record) PriceID() string        { return r.priceID }
func (r *Record) Status() SubStatus      { return r.status }
func (r *Record) CreatedAt() time.Time   { return r.createdAt }
func (r *Record) UpdatedAt() time.Time   { return r.updatedAt }

// Observe records a status reported by the PSP. Statuses the local state
// machine does not allow are ignored and reported as false.
func (r *Record) Observe(status SubStatus) bool {
	if status == r.status || !CanTransition(r.status, status) {
		return false
	}
	r.status = status
	r.updatedAt = time.Now().UTC()
	return true
}

// AttachCycle points the projection at the payment and order of the latest billing cycle.
func (r *Record) AttachCycle(paymentID, orderID uuid.UUID) {
	r.paymentID = paymentID
	if orderID != uuid.Nil {
		r.orderID = orderID
	}
	r.updatedAt = time.Now().UTC()
}

// SwapPrice records the PSP price the subscription item now bills on.
func (r *Record) SwapPrice(priceID string) {
	r.priceID = priceID
	r.updatedAt = time.Now().UTC()
}

// ReconstituteRecord rebuilds a Record from persisted data.
func ReconstituteRecord(
	id string,
	cartID, paymentID, orderID uuid.UUID,
	customerID, priceID string,
	status SubStatus,
	createdAt, updatedAt time.Time,
) *Record {
	return &Record{
		id:         id,
		cartID:     cartID,
		paymentID:  paymentID,
		orderID:    orderID,
		customerID: customerID,
		priceID:    priceID,
		status:     status,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}
