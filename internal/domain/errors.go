package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrValidation          = errors.New("validation failed")
	ErrMarketClosed        = errors.New("market not open for trading")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotOwner            = errors.New("not the order owner")
	ErrNumericInstability  = errors.New("numeric instability")
	ErrDuplicate           = errors.New("duplicate operation")
	ErrInvalidTransition   = errors.New("invalid market status transition")
)

// ValidationError describes a rejected input field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
