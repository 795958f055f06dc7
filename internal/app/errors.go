package app

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/transfa/escrow-service/internal/domain"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrServiceUnavailable   = errors.New("service is not available for ordering")
	ErrSelfOrder            = errors.New("cannot order your own service")
	ErrInvalidPackage       = errors.New("selected package is not available")
	ErrUnknownAddOn         = errors.New("unknown add-on")
	ErrForbidden            = errors.New("not permitted for this order")
	ErrNotAwaitingPayment   = errors.New("order is not awaiting payment")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrNoRevisionsRemaining = errors.New("no revisions remaining")
	ErrAlreadySettled       = errors.New("order already processed")
	ErrAutoReleaseNotDue    = errors.New("auto-release is not due")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidEscrow        = errors.New("invalid escrow amount")
	ErrAlreadyReviewed      = errors.New("order already reviewed")
	ErrAlreadyResponded     = errors.New("review already has a response")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

// formatMinor renders cents as a fixed two-decimal amount.
func formatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalidField(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientBalanceError carries the numbers behind a failed debit.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
	Currency  string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s %s, available %s %s",
		formatMinor(e.Required), e.Currency, formatMinor(e.Available), e.Currency)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// Shortfall is how much more the account needs.
func (e *InsufficientBalanceError) Shortfall() int64 {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}

// TransitionError reports a guard rejection together with the state that caused it.
type TransitionError struct {
	Action string
	Status domain.OrderStatus
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s order in status %s: %v", e.Action, e.Status, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func rejectTransition(action string, status domain.OrderStatus) error {
	return &TransitionError{Action: action, Status: status, Err: ErrInvalidTransition}
}

// RateLimitError is returned when a caller exceeds a per-minute budget.
type RateLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s; retry after %ds", e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
