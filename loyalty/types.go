/*
Package loyalty provides the loyalty points ledger and tier engine.

PURPOSE:
  This package contains the core types and services for tracking loyalty
  point balances per customer-program enrollment. Points are earned from
  purchases, redeemed for rewards, adjusted by administrators, and expired
  by scheduled sweeps. A loyalty tier is derived from the balance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Program:  Per-company loyalty configuration (accrual rate, point value,
              validity window, benefits per tier)
  - Account:  A customer's enrollment in a program, holding a point balance
  - Movement: An immutable ledger entry recording a balance change
  - Customer: Directory record used for enrollment existence checks

DESIGN PRINCIPLES:
  1. Ledger semantics: Movements are append-only; the balance is always
     re-derivable by replaying them in order
  2. Precision: Monetary values (purchase amounts, point value, accrual
     rate) use decimal.Decimal; point balances are integral int64
  3. Type Safety: Strong typing for IDs prevents mixing account/program IDs
  4. Auditability: Every movement carries a reason, reference, and the
     balance observed after it committed

SEE ALSO:
  - tier.go: Balance-to-tier resolution
  - program.go: Program registry and creation-time policy rules
  - account.go: Enrollment lifecycle
  - movement.go: The earn/redeem/adjust/expire state machine
  - store.go: Persistence interfaces
*/
package loyalty

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProgramID string
type CompanyID string
type CustomerID string
type AccountID string
type MovementID string

var idSeq atomic.Uint64

// NewMovementID returns a process-unique movement id.
// The nanosecond clock alone is not unique under contention, hence the
// sequence suffix.
func NewMovementID() MovementID {
	return MovementID(fmt.Sprintf("mov-%d-%d", time.Now().UnixNano(), idSeq.Add(1)))
}

// NewAccountID returns a process-unique account id.
func NewAccountID() AccountID {
	return AccountID(fmt.Sprintf("acct-%d-%d", time.Now().UnixNano(), idSeq.Add(1)))
}

// =============================================================================
// PROGRAM - Per-company loyalty configuration
// =============================================================================

// MinDescriptionLen is the regulatory transparency minimum for program
// descriptions.
const MinDescriptionLen = 50

// MinValidityMonths is the regulatory minimum span of a bounded validity
// window.
const MinValidityMonths = 3

// MaxAccrualRate caps the fraction of purchase value converted to points.
var MaxAccrualRate = decimal.NewFromFloat(0.5)

// MinPointValue is the minimum monetary value per point.
var MinPointValue = decimal.NewFromFloat(0.01)

// Program is the per-company configuration governing accrual, point value,
// validity window and benefits. Programs are soft-deactivated, never
// physically deleted while accounts reference them.
type Program struct {
	ID          ProgramID
	CompanyID   CompanyID
	Name        string
	Description string

	// AccrualRate is the fraction of purchase value converted to points,
	// in [0, 0.5]. Points earned = floor(purchaseAmount * AccrualRate).
	AccrualRate decimal.Decimal

	// PointValue is the monetary value of one point, >= 0.01.
	PointValue decimal.Decimal

	StartDate time.Time
	EndDate   *time.Time // nil = indefinite

	BenefitsByTier map[Tier][]Benefit

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Benefit is a single perk granted at a tier.
type Benefit struct {
	Name        string
	Description string
}

// WithinValidityWindow reports whether at falls inside [StartDate, EndDate).
// A nil EndDate means the window never closes.
func (p *Program) WithinValidityWindow(at time.Time) bool {
	if at.Before(p.StartDate) {
		return false
	}
	if p.EndDate != nil && !at.Before(*p.EndDate) {
		return false
	}
	return true
}

// ProgramSpec is the creation payload for a program. It is kept separate
// from Program so the registry owns defaulting, timestamps and the active
// flag.
type ProgramSpec struct {
	ID             ProgramID         `json:"id"`
	CompanyID      CompanyID         `json:"company_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	AccrualRate    decimal.Decimal   `json:"accrual_rate"`
	PointValue     decimal.Decimal   `json:"point_value"`
	StartDate      time.Time         `json:"start_date"`
	EndDate        *time.Time        `json:"end_date,omitempty"`
	BenefitsByTier map[Tier][]Benefit `json:"benefits_by_tier,omitempty"`
}

// =============================================================================
// CUSTOMER - Directory record (existence checks at enrollment)
// =============================================================================

type Customer struct {
	ID        CustomerID
	Name      string
	Email     string
	CreatedAt time.Time
}

// =============================================================================
// ACCOUNT - A customer's enrollment in a program
// =============================================================================

// Account holds the materialized balance for one enrollment.
//
// INVARIANTS:
//   - CurrentBalance >= 0 after every committed operation
//   - CurrentBalance == sum of Movement.Amount over the account's ledger
//   - At most one active account per (CustomerID, ProgramID)
type Account struct {
	ID         AccountID
	CustomerID CustomerID
	ProgramID  ProgramID

	EnrolledAt  time.Time
	ClosedAt    *time.Time // nil or future = active
	CloseReason string

	// Denormalized write-through cache of the ledger sum. Updated in the
	// same atomic unit as the movement append, never independently.
	CurrentBalance   int64
	LifetimeEarned   int64
	LifetimeRedeemed int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Closed reports whether the account is closed as of now.
func (a *Account) Closed() bool {
	return a.ClosedAt != nil && !a.ClosedAt.After(time.Now())
}

// =============================================================================
// MOVEMENT - Atomic signed change to an account balance (append-only)
// =============================================================================

type MovementType string

const (
	MovementEarned   MovementType = "earned"   // Purchase accrual (+)
	MovementRedeemed MovementType = "redeemed" // Reward redemption (-)
	MovementAdjusted MovementType = "adjusted" // Manual admin correction (+/-)
	MovementExpired  MovementType = "expired"  // System-initiated expiration (-)
)

// Movement is one immutable ledger entry. Corrections are made by writing
// compensating adjustments, never by editing history.
type Movement struct {
	ID        MovementID
	AccountID AccountID
	Type      MovementType

	// Amount is signed: earned and positive adjustments are +,
	// redemptions, expirations and negative adjustments are -.
	Amount int64

	// Reference is an optional external id (order id, support ticket).
	Reference   string
	Description string

	OccurredAt time.Time

	// BalanceAfter is the account balance observed after this movement
	// committed. Denormalized snapshot for fast audit reads.
	BalanceAfter int64

	CreatedAt time.Time
}
