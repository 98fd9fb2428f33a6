/*
errors.go - Centralized error taxonomy for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the HTTP layer maps these
  onto status codes.

ERROR CATEGORIES:
  1. Validation errors  - malformed/out-of-range input, caught before any
     mutation
  2. Policy violations  - regulatory or program-rule breaches
  3. Not-found/conflict - missing or duplicate records
  4. Balance errors     - redemption/adjustment would overdraw
  5. Concurrency errors - serialized unit of work could not be entered

PROPAGATION POLICY:
  No partial mutation is ever visible: validation and policy checks run
  strictly before any ledger write. ErrConcurrentModification is the only
  condition a caller is expected to retry automatically.
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProgramNotFound is returned when a referenced program doesn't exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCustomerNotFound is returned when a referenced customer doesn't exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrDuplicateEnrollment is returned when a customer already has an
	// active account in the program.
	ErrDuplicateEnrollment = errors.New("customer already enrolled in program")

	// ErrClosedAccount is returned when mutating a closed account.
	// Administrative adjustments are exempt (record-keeping).
	ErrClosedAccount = errors.New("account is closed")

	// ErrInsufficientBalance is returned when a redemption or negative
	// adjustment would drive the balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrPolicyViolation is the root of all regulatory/program-rule breaches.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConcurrentModification is returned when the per-account unit of
	// work could not be entered within the bounded wait. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PolicyViolationError reports a regulatory or program-rule breach with the
// specific rule so callers can surface the reason, not a generic failure.
type PolicyViolationError struct {
	Rule   string // e.g. "description_too_short", "validity_window", "sensitive_data"
	Detail string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %s: %s", e.Rule, e.Detail)
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is the number of points missing to satisfy the request.
func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Available }

// ConcurrencyError reports an exhausted attempt to enter the serialized
// per-account unit of work.
type ConcurrencyError struct {
	AccountID AccountID
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("account %s is locked by a concurrent operation", e.AccountID)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCustomerNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateEnrollment) ||
		errors.Is(err, ErrClosedAccount)
}
