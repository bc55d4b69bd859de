package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable classification of a DomainError.
type ErrorCode string

const (
	ErrorCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrorCodeConflict              ErrorCode = "CONFLICT"
	ErrorCodeInvalidState          ErrorCode = "INVALID_STATE"
	ErrorCodeValidation            ErrorCode = "VALIDATION_FAILED"
	ErrorCodeUnsupportedEvent      ErrorCode = "UNSUPPORTED_EVENT"
	ErrorCodeInvalidOperation      ErrorCode = "INVALID_OPERATION"
	ErrorCodePSPAPIError           ErrorCode = "PSP_API_ERROR"
	ErrorCodeMissingLinkage        ErrorCode = "MISSING_LINKAGE"
	ErrorCodeReconciliationFailure ErrorCode = "RECONCILIATION_FAILURE"
	ErrorCodeMetadataSyncFailed    ErrorCode = "METADATA_SYNC_FAILED"
)

// ErrNotFound is the sentinel wrapped by every not-found DomainError.
var ErrNotFound = errors.New("resource not found")

// DomainError is a structured error carrying a code and an optional cause.
type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a DomainError without a cause.
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WrapError creates a DomainError around an existing error.
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// NewNotFoundError reports a missing entity of the given kind.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{
		Code:    ErrorCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", entity, id),
		Err:     ErrNotFound,
	}
}

// NewConflictError reports an optimistic-concurrency conflict.
func NewConflictError(message string) *DomainError {
	return NewDomainError(ErrorCodeConflict, message)
}

// NewInvalidStateError reports a forbidden state transition.
func NewInvalidStateError(from, to string) *DomainError {
	return NewDomainError(ErrorCodeInvalidState, fmt.Sprintf("cannot transition from %s to %s", from, to))
}

// NewValidationError reports invalid caller input.
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorCodeValidation, message)
}

// NewUnsupportedEventError reports a PSP event type that has no mapping.
func NewUnsupportedEventError(eventType string) *DomainError {
	return NewDomainError(ErrorCodeUnsupportedEvent, fmt.Sprintf("unsupported event type %q", eventType))
}

// NewInvalidOperationError reports an unrecognised modification action.
func NewInvalidOperationError(action string) *DomainError {
	return NewDomainError(ErrorCodeInvalidOperation, fmt.Sprintf("invalid payment modification action %q", action))
}

// NewMissingLinkageError reports a PSP object that cannot be resolved to a platform Payment.
func NewMissingLinkageError(pspReference string) *DomainError {
	return NewDomainError(ErrorCodeMissingLinkage, fmt.Sprintf("no payment linked to %q", pspReference))
}

// IsDomainError reports whether err is a DomainError with the given code.
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the code from err, or "" when err is not a DomainError.
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || IsDomainError(err, ErrorCodeNotFound)
}
