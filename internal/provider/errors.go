package provider

import (
	"errors"
	"fmt"
)

// Error is a failed provider operation. Retryable marks failures that a
// backoff-and-retry cycle may resolve, such as quota exhaustion or transient
// API unavailability. Non-retryable failures are misconfigurations that will
// fail identically on every attempt.
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider error.
func Transient(op string, err error) error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable provider error.
func Permanent(op string, err error) error {
	return &Error{Op: op, Retryable: false, Err: err}
}

// Retryable reports whether err is a provider error marked retryable.
// Errors that are not provider errors are never retryable.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
