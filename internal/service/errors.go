package service

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestInFlight means another execution holds the idempotency key and has not
	// produced a response yet.
	ErrRequestInFlight = errors.New("a request with this idempotency key is still being processed")
	ErrIssueNotFound   = errors.New("newsletter issue not found")
	ErrEmailTaken      = errors.New("email is already subscribed")
	ErrUnknownToken    = errors.New("unknown subscription token")
)

// ValidationError is a client error detected before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
