package ledger

import (
	"errors"
	"fmt"

	"github.com/ara-foundation/ledger/transaction"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("ledger: not found")
	ErrAlreadyExists = errors.New("ledger: already exists")
	ErrInvalidInput  = errors.New("ledger: invalid input")

	// Transfer errors
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")

	// Issue errors
	ErrIssueNotFound         = errors.New("ledger: issue not found")
	ErrUnknownImplementation = errors.New("ledger: unknown implementation")
	ErrNotInProductionPhase  = errors.New("ledger: implementation is not in production phase")
	ErrNoIncentiveProvided   = errors.New("ledger: no incentive provided")

	// Escrow errors
	ErrProjectNotRegistered = errors.New("ledger: project not registered")

	// Store errors
	ErrConcurrentModification = errors.New("ledger: concurrent modification")
	ErrStoreClosed            = errors.New("ledger: store is closed")
	ErrMigrationFailed        = errors.New("ledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "ledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("ledger: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrorOrNil returns nil when nothing was collected.
func (e MultiError) ErrorOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// RejectionError maps a transaction.Post rejection to its sentinel.
func RejectionError(r *transaction.Rejection) error {
	if r.Overflow {
		return fmt.Errorf("%w: %s to %s overflows a balance", ErrInvalidAmount, r.Tx.Amount, r.Tx.To)
	}
	return fmt.Errorf("%w: %s cannot cover %s", ErrInsufficientBalance, r.Tx.From, r.Tx.Amount)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, ErrUnknownImplementation) ||
		errors.Is(err, ErrProjectNotRegistered)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
