/*
account.go - Account lifecycle (enroll, view, close)

PURPOSE:
  Orchestrates enrollment using the Program Registry and the store.
  Accounts are the unit of balance tracking: one active account per
  (customer, program) pair, closed on cancellation or program expiry,
  never deleted once they carry history.

ENROLLMENT CHECKS (in order, nothing written until all pass):
  1. Customer exists in the directory
  2. Program exists, is active, and is within its validity window
     (an expired or deactivated program is not enrollable - NotFound)
  3. No active account already exists for the pair (Conflict)

CLOSE SEMANTICS:
  Close is idempotent: closing an already-closed account returns it
  unchanged instead of erroring, so callers can retry safely.
*/
package loyalty

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// ACCOUNT SERVICE
// =============================================================================

// Accounts orchestrates the enrollment lifecycle.
type Accounts struct {
	store    Store
	programs *Programs

	now func() time.Time
}

func NewAccounts(store Store, programs *Programs) *Accounts {
	return &Accounts{store: store, programs: programs, now: time.Now}
}

// Enroll creates an active account for the customer in the program.
// A positive initial balance is granted as an adjustment movement inside
// the same atomic unit as the account creation, so the ledger replay
// invariant holds from the first read.
func (s *Accounts) Enroll(ctx context.Context, customerID CustomerID, programID ProgramID, initialBalance int64) (*Account, error) {
	if initialBalance < 0 {
		return nil, &ValidationError{Field: "initial_balance", Reason: "must not be negative"}
	}

	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, ErrCustomerNotFound)
	}

	program, err := s.programs.Get(ctx, programID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !program.Active || !program.WithinValidityWindow(now) {
		// Not enrollable is indistinguishable from absent for callers.
		return nil, fmt.Errorf("program %s is not open for enrollment: %w", programID, ErrProgramNotFound)
	}

	if existing, err := s.store.FindActiveAccount(ctx, customerID, programID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("customer %s in program %s: %w", customerID, programID, ErrDuplicateEnrollment)
	}

	account := Account{
		ID:             NewAccountID(),
		CustomerID:     customerID,
		ProgramID:      programID,
		EnrolledAt:     now,
		CurrentBalance: initialBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var initial []Movement
	if initialBalance > 0 {
		initial = append(initial, Movement{
			ID:           NewMovementID(),
			AccountID:    account.ID,
			Type:         MovementAdjusted,
			Amount:       initialBalance,
			Description:  "initial balance on enrollment",
			OccurredAt:   now,
			BalanceAfter: initialBalance,
			CreatedAt:    now,
		})
	}

	// The store re-checks uniqueness under its own lock; the check above
	// only exists to return the conflict before minting ids.
	if err := s.store.CreateAccount(ctx, account, initial...); err != nil {
		return nil, err
	}
	return &account, nil
}

// Get returns the account or ErrAccountNotFound.
func (s *Accounts) Get(ctx context.Context, id AccountID) (*Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return account, nil
}

// Find returns the active account for (customer, program) or
// ErrAccountNotFound.
func (s *Accounts) Find(ctx context.Context, customerID CustomerID, programID ProgramID) (*Account, error) {
	account, err := s.store.FindActiveAccount(ctx, customerID, programID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("customer %s in program %s: %w", customerID, programID, ErrAccountNotFound)
	}
	return account, nil
}

// Close marks the account closed. Idempotent: an already-closed account is
// returned as-is. The balance is left untouched; residual points are the
// expiration sweep's concern, not Close's.
func (s *Accounts) Close(ctx context.Context, id AccountID, reason string) (*Account, error) {
	var closed Account
	err := s.store.WithAccount(ctx, id, func(u AccountUnit) error {
		account := u.Account()
		if account.ClosedAt != nil {
			closed = *account
			return nil
		}
		now := s.now().UTC()
		account.ClosedAt = &now
		account.CloseReason = reason
		account.UpdatedAt = now
		closed = *account
		return u.UpdateAccount(ctx, *account)
	})
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

// ComputeTier resolves the derived tier state for an account. Pure; no I/O.
func ComputeTier(a *Account) TierInfo {
	return TierInfoFor(a.CurrentBalance)
}
