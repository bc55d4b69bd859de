package application

import (
	"fmt"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
)

// ReconciliationFailure is returned by event handlers when an event was
// acknowledged without its domain effect being completed.
type ReconciliationFailure struct {
	EventID      string
	EventType    string
	Stage        string
	PSPReference string
	Err          error
}

func newFailure(event *stripe.Event, stage, pspReference string, err error) *ReconciliationFailure {
	return &ReconciliationFailure{
		EventID:      event.ID,
		EventType:    string(event.Type),
		Stage:        stage,
		PSPReference: pspReference,
		Err:          err,
	}
}

func (f *ReconciliationFailure) Error() string {
	return fmt.Sprintf("reconciliation of %s (%s) failed at %s: %v", f.EventID, f.EventType, f.Stage, f.Err)
}

// Unwrap returns the cause.
func (f *ReconciliationFailure) Unwrap() error {
	return f.Err
}

// Code returns the domain code of the cause, or RECONCILIATION_FAILURE.
func (f *ReconciliationFailure) Code() domain.ErrorCode {
	if code := domain.GetErrorCode(f.Err); code != "" {
		return code
	}
	return domain.ErrorCodeReconciliationFailure
}

// eventKey derives a stable idempotency key for a PSP mutation made while
// handling an event, so redelivery of the event repeats the same request.
func eventKey(event *stripe.Event, purpose string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(event.ID+"/"+purpose)).String()
}
