package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount   = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrForbidden           = errors.New("forbidden")
	ErrTransactionAborted  = errors.New("transaction aborted")
	ErrFeeApplication      = errors.New("fee application failed")
	ErrInvalidTransition   = errors.New("invalid membership transition")
	ErrMembershipExists    = errors.New("membership already exists")
	ErrGroupClosed         = errors.New("group does not accept membership requests")
	ErrUnknownRole         = errors.New("unknown role")
)

// FieldError is one violated invariant on a named field. Field "base" is used
// for violations that are not tied to a single attribute.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e FieldError) Error() string {
	return e.Field + " " + e.Message
}

func (e FieldError) Unwrap() error { return e.Err }

// ValidationError collects every violated invariant of a rejected operation.
// No side effects have been applied when it is returned.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

func (e *ValidationError) AddErr(field string, err error) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: err.Error(), Err: err})
}

// Empty reports whether no violation was recorded.
func (e *ValidationError) Empty() bool { return len(e.Errors) == 0 }

// Err returns e as an error, or nil if nothing was recorded.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i := range e.Errors {
		errs[i] = e.Errors[i]
	}
	return errs
}

// InsufficientBalanceError is returned when a withdrawal would push an
// account below its credit limit.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// AuthorizationError is the policy gate's denial. The ledger never attempts a
// mutation after one.
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	return "forbidden: " + e.Reason
}

func (e *AuthorizationError) Is(target error) bool {
	return target == ErrForbidden
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// Deny builds an AuthorizationError.
func Deny(reason string) *AuthorizationError {
	return &AuthorizationError{Reason: reason}
}

// TransactionAbortError means the atomic balance step did not commit. Nothing
// was persisted, so the caller may retry.
type TransactionAbortError struct {
	Err error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction aborted: %v", e.Err)
}

func (e *TransactionAbortError) Is(target error) bool {
	return target == ErrTransactionAborted
}

func (e *TransactionAbortError) Unwrap() error { return e.Err }

// FeeApplicationError reports fee fan-out or fee cascade failures for a base
// exchange that has already committed.
type FeeApplicationError struct {
	ExchangeID int64
	Errs       []error
}

func (e *FeeApplicationError) Error() string {
	return fmt.Sprintf("fee application for exchange %d: %v", e.ExchangeID, errors.Join(e.Errs...))
}

func (e *FeeApplicationError) Is(target error) bool {
	return target == ErrFeeApplication
}

func (e *FeeApplicationError) Unwrap() []error { return e.Errs }
