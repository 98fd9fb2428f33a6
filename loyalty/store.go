/*
store.go - Persistence interfaces for the loyalty engine

PURPOSE:
  Defines the interface between the domain services and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage.

KEY INTERFACES:
  Store:       Everything a service needs (composition of the below)
  AccountUnit: The serialized read-decide-write scope for ONE account

APPEND-ONLY CONTRACT:
  Movements have no Update or Delete operation, ever. Corrections are
  written as compensating adjustment movements.

CONCURRENCY CONTRACT:
  WithAccount is the only way to mutate an account. It acquires an
  exclusive per-account lock for the duration of the callback and commits
  the appended movements and the account update as a single atomic unit:
  a crash between the append and the balance write must be impossible to
  observe. Lock acquisition is bounded; on timeout the caller receives a
  ConcurrencyError, which is safe to retry. Locks are per-account, so
  cross-account operations proceed in parallel.

IMPLEMENTATIONS:
  - loyalty/store/memory.go: In-memory (tests/dev)
  - store/sqlite/sqlite.go:  Durable SQLite

SEE ALSO:
  - movement.go: The only mutator of balances, built on WithAccount
*/
package loyalty

import "context"

// =============================================================================
// STORE - Composition of all persistence concerns
// =============================================================================

type Store interface {
	ProgramStore
	CustomerStore
	AccountStore
	MovementStore
}

// ProgramStore persists program configuration. Reads require no locking.
type ProgramStore interface {
	// SaveProgram inserts or replaces a program record.
	SaveProgram(ctx context.Context, p Program) error

	// GetProgram returns the program, or (nil, nil) when missing.
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)

	// ListPrograms returns all programs ordered by name.
	ListPrograms(ctx context.Context) ([]Program, error)
}

// CustomerStore is the directory used for enrollment existence checks.
type CustomerStore interface {
	SaveCustomer(ctx context.Context, c Customer) error

	// GetCustomer returns the customer, or (nil, nil) when missing.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	ListCustomers(ctx context.Context) ([]Customer, error)
}

// AccountStore persists enrollments.
type AccountStore interface {
	// CreateAccount inserts a new account, atomically with any initial
	// movements (opening balance grants). Returns ErrDuplicateEnrollment
	// if an active account already exists for (CustomerID, ProgramID).
	CreateAccount(ctx context.Context, a Account, initial ...Movement) error

	// GetAccount returns the account, or (nil, nil) when missing.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// FindActiveAccount returns the active account for the pair, or
	// (nil, nil) when none exists.
	FindActiveAccount(ctx context.Context, customerID CustomerID, programID ProgramID) (*Account, error)

	// ListAccounts returns all accounts. Used by expiration sweeps, which
	// must process each account independently.
	ListAccounts(ctx context.Context) ([]Account, error)
}

// MovementStore persists the append-only ledger.
type MovementStore interface {
	// Movements returns the account's ledger ordered by occurred_at then
	// insertion, restartable by offset.
	Movements(ctx context.Context, id AccountID, offset, limit int) ([]Movement, error)

	// WithAccount runs fn inside the exclusive per-account unit of work.
	// The account is loaded before fn runs; fn failing discards every
	// write made through the unit. Returns ErrAccountNotFound if the
	// account does not exist and a ConcurrencyError if the lock could
	// not be acquired within the bounded wait.
	WithAccount(ctx context.Context, id AccountID, fn func(u AccountUnit) error) error
}

// AccountUnit is the view handed to WithAccount callbacks.
type AccountUnit interface {
	// Account returns the account as loaded at unit entry. The pointer is
	// the callback's working copy; UpdateAccount persists it.
	Account() *Account

	// AppendMovement stages an immutable ledger entry.
	AppendMovement(ctx context.Context, m Movement) error

	// UpdateAccount stages the new materialized account state.
	UpdateAccount(ctx context.Context, a Account) error
}
