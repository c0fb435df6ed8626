package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates a non-positive amount or one finer than the currency scale.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds occurs when a wallet balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLimitExceeded is wrapped by LimitExceededError.
	ErrLimitExceeded = errors.New("transfer limit exceeded")

	// ErrTACInvalid covers a wrong, already used, or exhausted authorization code.
	ErrTACInvalid = errors.New("invalid authorization code")

	// ErrTACExpired is returned when the correct code is submitted after its expiry.
	ErrTACExpired = errors.New("authorization code expired")

	// ErrTransferState is wrapped by StateError.
	ErrTransferState = errors.New("operation not allowed in current transfer status")

	// ErrKYCRequired blocks transfers at or above the KYC threshold for unverified accounts.
	ErrKYCRequired = errors.New("kyc verification required")

	// ErrNotFound indicates that a requested resource could not be found.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates that input data failed validation checks.
	ErrValidation = errors.New("validation error")

	// ErrAccountInactive indicates the owning account is not active.
	ErrAccountInactive = errors.New("account is not active")

	// ErrCurrencyMismatch indicates wallets or amounts in different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrDuplicate indicates that a resource with the same identity already exists.
	ErrDuplicate = errors.New("resource already exists")
)

// LimitExceededError reports which cap rejected a transfer and how much allowance is left.
type LimitExceededError struct {
	Period    string
	Limit     decimal.Decimal
	Remaining decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s transfer limit of %s exceeded, remaining allowance %s",
		e.Period, e.Limit.String(), e.Remaining.String())
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// StateError reports an operation attempted from a status that does not allow it.
type StateError struct {
	Op     string
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s transfer in status %s", e.Op, e.Status)
}

func (e *StateError) Unwrap() error { return ErrTransferState }

// NewStateError builds a StateError.
func NewStateError(op, status string) error {
	return &StateError{Op: op, Status: status}
}

// Validation wraps ErrValidation with a field-level message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing resource name.
func NotFound(resource string) error {
	return fmt.Errorf("%s: %w", resource, ErrNotFound)
}

// IsBusiness reports whether err is a terminal business rejection that is safe
// to show to the caller verbatim.
func IsBusiness(err error) bool {
	return StatusCode(err) != http.StatusInternalServerError
}

// StatusCode maps an error to the HTTP status used by the API edge.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrValidation), errors.Is(err, ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrAccountInactive), errors.Is(err, ErrTACExpired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTACInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrKYCRequired):
		return http.StatusForbidden
	case errors.Is(err, ErrTransferState), errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
