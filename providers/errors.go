package providers

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidState     = errors.New("resource in invalid state for operation")
	ErrThrottled        = errors.New("request throttled")
	ErrNotFound         = errors.New("resource not found")
	ErrWaitTimeout      = errors.New("timed out waiting for state")
)

// Error is a failed provider call
type Error struct {
	Op         string
	ResourceID string
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ResourceID, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError wraps a provider failure with its operation and resource
func NewError(op, resourceID string, kind, err error) *Error {
	return &Error{Op: op, ResourceID: resourceID, Kind: kind, Err: err}
}

// IsWaitTimeout reports whether err is a bounded wait running out
func IsWaitTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}
