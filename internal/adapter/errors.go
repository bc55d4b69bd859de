package adapter

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/stripe/stripe-go/v81"
)

// PSPApiError wraps a provider error response for uniform handling upstream.
type PSPApiError struct {
	Operation  string
	Code       string
	Type       string
	StatusCode int
	Message    string
	RequestID  string
	Err        error
}

func (e *PSPApiError) Error() string {
	return fmt.Sprintf("psp %s failed (status %d, code %q): %s", e.Operation, e.StatusCode, e.Code, e.Message)
}

// Unwrap exposes the underlying SDK error.
func (e *PSPApiError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the provider HTTP status, or 502 when none was received.
func (e *PSPApiError) HTTPStatus() int {
	if e.StatusCode == 0 {
		return http.StatusBadGateway
	}
	return e.StatusCode
}

// wrapStripeError converts a Stripe SDK error into a PSPApiError wrapped in a DomainError.
func wrapStripeError(operation string, err error) error {
	if err == nil {
		return nil
	}
	apiErr := &PSPApiError{Operation: operation, Message: err.Error(), Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		apiErr.Code = string(stripeErr.Code)
		apiErr.Type = string(stripeErr.Type)
		apiErr.StatusCode = stripeErr.HTTPStatusCode
		apiErr.Message = stripeErr.Msg
		apiErr.RequestID = stripeErr.RequestID
	}
	return domain.WrapError(domain.ErrorCodePSPAPIError, operation, apiErr)
}

// AsPSPApiError extracts a PSPApiError from an error chain.
func AsPSPApiError(err error) (*PSPApiError, bool) {
	var apiErr *PSPApiError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsResourceMissing reports whether the provider answered "no such object".
func IsResourceMissing(err error) bool {
	apiErr, ok := AsPSPApiError(err)
	return ok && apiErr.Code == string(stripe.ErrorCodeResourceMissing)
}
