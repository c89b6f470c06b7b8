package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSpec         = errors.New("invalid rate limit spec")
	ErrIdentityUnavailable = errors.New("rate limit identity unavailable")
	ErrBackendUnavailable  = errors.New("rate limit backend unavailable")
)

// RejectedError is returned when an operation is denied admission, either
// because a bucket is empty or because a fail-closed spec could not reach
// the backend.
type RejectedError struct {
	Operation  string
	KeyPrefix  string
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s), retry after %ds",
		e.Operation, e.KeyPrefix, e.RetryAfterSeconds())
}

func (e *RejectedError) RetryAfterSeconds() int {
	return RetryAfterSeconds(e.RetryAfter)
}

// MisconfigurationError means a spec cannot be evaluated for the request it
// guards. It is a server error and must never be reported as a rejection.
type MisconfigurationError struct {
	Operation string
	KeyPrefix string
	Policy    IdentityPolicy
	Err       error
}

func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("rate limit spec %s on %s (policy %s) cannot be evaluated: %v",
		e.KeyPrefix, e.Operation, e.Policy, e.Err)
}

func (e *MisconfigurationError) Unwrap() error {
	return e.Err
}
