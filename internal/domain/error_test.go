package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"domain error", Invalid("op", "bad"), EINVALID},
		{"conflict error", Conflict("op", "dup"), ECONFLICT},
		{"declined error", Declined("op", "card_declined", "ch_123"), EPAYMENT},
		{"method not allowed", MethodNotAllowed("op", "no"), EMETHODNOTALLOWED},
		{"not implemented", NotImplemented("op", "Not implemented"), ENOTIMPL},
		{"wrapped domain error", fmt.Errorf("outer: %w", NotFound("op", "plan", "gold")), ENOTFOUND},
		{"plain error", errors.New("boom"), EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.expected {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorMessage_HidesInternalDetails(t *testing.T) {
	err := Internal(errors.New("pg: connection refused 10.0.0.3:5432"), "store.set", "failed to persist charge")

	got := ErrorMessage(err)
	want := "An internal error occurred. Please try again later."
	if got != want {
		t.Errorf("ErrorMessage() = %q, want %q", got, want)
	}
}

func TestErrorMessage_PassesThroughUserFacing(t *testing.T) {
	err := NotFound("customer.retrieve", "customer", "cus_nope")

	got := ErrorMessage(err)
	want := "No such customer: cus_nope"
	if got != want {
		t.Errorf("ErrorMessage() = %q, want %q", got, want)
	}
}

func TestErrorDetails(t *testing.T) {
	decline, charge := ErrorDetails(Declined("charge.create", "expired_card", "ch_42"))
	if decline != "expired_card" || charge != "ch_42" {
		t.Errorf("ErrorDetails() = (%q, %q), want (expired_card, ch_42)", decline, charge)
	}

	decline, charge = ErrorDetails(Invalid("op", "bad"))
	if decline != "" || charge != "" {
		t.Errorf("ErrorDetails() on non-payment error = (%q, %q), want empty", decline, charge)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := Internal(inner, "store.set", "write failed")

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "op and message",
			err:      &Error{Code: EINVALID, Op: "invoice.pay", Message: "already paid"},
			expected: "invoice.pay: already paid",
		},
		{
			name:     "message only",
			err:      &Error{Code: EINVALID, Message: "already paid"},
			expected: "already paid",
		},
		{
			name:     "wrapped",
			err:      &Error{Op: "store.get", Message: "lookup failed", Err: errors.New("timeout")},
			expected: "store.get: lookup failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}
