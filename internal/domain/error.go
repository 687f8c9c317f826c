package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These map to HTTP status codes and determine the API error envelope.
const (
	ECONFLICT         = "conflict"           // 409 - explicit id collision on create
	EINTERNAL         = "internal"           // 500 - internal server error (hide details)
	EINVALID          = "invalid"            // 400 - validation error (bad input)
	ENOTFOUND         = "not_found"          // 404 - resource not found
	EUNAUTHORIZED     = "unauthorized"       // 401 - missing or invalid API key
	EMETHODNOTALLOWED = "method_not_allowed" // 405 - operation not supported on this type
	ENOTIMPL          = "not_implemented"    // 500 - recognized but unsupported request shape
	EPAYMENT          = "payment_required"   // 402 - payment instrument declined
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message safe to return to clients.
	Message string

	// Op is the operation where the error occurred (e.g., "invoice.pay").
	// Used for debugging and logging, not shown to clients.
	Op string

	// DeclineCode is the card decline category for EPAYMENT errors
	// (e.g., "card_declined", "incorrect_cvc").
	DeclineCode string

	// ChargeID links an EPAYMENT error to the failed charge, when one exists.
	ChargeID string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}

// ErrorMessage extracts a client-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	return "An internal error occurred. Please try again later."
}

// ErrorDetails extracts the decline code and charge id from an EPAYMENT
// error. Both are empty for other error kinds.
func ErrorDetails(err error) (declineCode, chargeID string) {
	var e *Error
	if errors.As(err, &e) {
		return e.DeclineCode, e.ChargeID
	}
	return "", ""
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "plan.create", "invalid interval: %s", interval)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("charge.retrieve", "charge", id)
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("No such %s: %s", resource, identifier),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(op, message string) error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Invalid creates a validation error for a single issue.
// Example: domain.Invalid("invoice.finalize", "invoice is not a draft")
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
// Example: domain.Conflict("plan.create", "plan already exists: gold")
func Conflict(op, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// MethodNotAllowed creates an error for operations a type does not support.
func MethodNotAllowed(op, message string) error {
	return &Error{
		Code:    EMETHODNOTALLOWED,
		Op:      op,
		Message: message,
	}
}

// NotImplemented creates an error for recognized but unsupported request
// shapes (e.g. multi-item subscriptions).
func NotImplemented(op, message string) error {
	return &Error{
		Code:    ENOTIMPL,
		Op:      op,
		Message: message,
	}
}

// Declined creates a payment-declined error carrying the decline category
// and, when a charge was recorded before failing, its id.
// Example: domain.Declined("charge.create", "incorrect_cvc", chargeID)
func Declined(op, declineCode, chargeID string) error {
	return &Error{
		Code:        EPAYMENT,
		Op:          op,
		Message:     "Your card was declined.",
		DeclineCode: declineCode,
		ChargeID:    chargeID,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to clients will be generic; the underlying error is for logging.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
