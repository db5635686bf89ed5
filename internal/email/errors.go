package email

import (
	"errors"
	"fmt"
)

// DeliveryError classifies a failed send. Anything that is not a DeliveryError is treated as
// transient by callers.
type DeliveryError struct {
	Permanent  bool
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failure (status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func Permanent(err error) error {
	return &DeliveryError{Permanent: true, Err: err}
}

func Transient(err error) error {
	return &DeliveryError{Err: err}
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return false
}
