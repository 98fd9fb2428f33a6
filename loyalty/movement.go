/*
movement.go - The earn/redeem/adjust/expire state machine

PURPOSE:
  The ONLY component that mutates balances. Every operation runs inside
  the store's serialized per-account unit of work: read balance, decide,
  append movement, write balance - committed atomically or not at all.

CORRECTNESS PROPERTIES:
  - Non-negativity: no reachable operation sequence drives a balance
    below zero
  - Linearizability per account: any interleaving of concurrent
    operations on one account is equivalent to some serial execution
  - Replay: the ordered movement log always sums to the cached balance

OPERATION RULES:
  Earn:   points = floor(purchaseAmount * program.AccrualRate).
          Zero-point earns ARE recorded (audit trail of the attempt).
  Redeem: atomic check-and-decrement; fails with
          InsufficientBalanceError and no state change when short.
  Adjust: admin correction, either sign; allowed on closed accounts for
          record-keeping; negative deltas obey the Redeem floor.
  Expire: system-driven; the amount is clamped to the balance so the
          sweep always succeeds without overdrawing.

SIDE EFFECTS:
  Tier-change and low-balance notifications are emitted AFTER commit,
  fire-and-forget. After-commit hooks exist for audit logging and the
  like; a hook can never roll back a movement.
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHistoryLimit bounds GetHistory pages when the caller passes no
// limit; MaxHistoryLimit bounds what a caller may request.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// =============================================================================
// MOVEMENT SERVICE
// =============================================================================

// Movements orchestrates all balance mutations.
type Movements struct {
	store    Store
	programs *Programs
	notifier Notifier

	// LowBalanceThreshold triggers a BalanceLow alert when a redemption
	// drops the balance strictly under it. Zero disables the alert.
	LowBalanceThreshold int64

	// AfterCommit hooks run after a movement commits (audit logging,
	// metrics). Hooks never roll back the movement.
	AfterCommit []func(ctx context.Context, a Account, m Movement)

	now func() time.Time
}

func NewMovements(store Store, programs *Programs, notifier Notifier) *Movements {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Movements{store: store, programs: programs, notifier: notifier, now: time.Now}
}

// =============================================================================
// EARN
// =============================================================================

// Earn converts a purchase into points at the program's accrual rate and
// appends the EARNED movement. The reference carries the external order id.
func (s *Movements) Earn(ctx context.Context, accountID AccountID, purchaseAmount decimal.Decimal, reference string) (*Movement, error) {
	if !purchaseAmount.IsPositive() {
		return nil, &PolicyViolationError{Rule: "invalid_amount", Detail: "purchase amount must be positive"}
	}

	return s.apply(ctx, accountID, func(account *Account) (*Movement, error) {
		if account.Closed() {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrClosedAccount)
		}

		program, err := s.programs.Get(ctx, account.ProgramID)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		if !program.Active || !program.WithinValidityWindow(now) {
			return nil, &PolicyViolationError{
				Rule:   "program_inactive",
				Detail: fmt.Sprintf("program %s is not accruing points", program.ID),
			}
		}

		points := purchaseAmount.Mul(program.AccrualRate).Floor().IntPart()

		account.CurrentBalance += points
		account.LifetimeEarned += points
		return &Movement{
			Type:        MovementEarned,
			Amount:      points,
			Reference:   reference,
			Description: fmt.Sprintf("earned on purchase of %s", purchaseAmount.String()),
		}, nil
	})
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem spends points. The sufficiency check and the decrement happen in
// the same serialized unit, so two concurrent redemptions can never both
// draw from the same points.
func (s *Movements) Redeem(ctx context.Context, accountID AccountID, points int64, reason string) (*Movement, error) {
	if points <= 0 {
		return nil, &ValidationError{Field: "points", Reason: "must be positive"}
	}

	return s.apply(ctx, accountID, func(account *Account) (*Movement, error) {
		if account.Closed() {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrClosedAccount)
		}
		if account.CurrentBalance < points {
			return nil, &InsufficientBalanceError{
				AccountID: accountID,
				Available: account.CurrentBalance,
				Requested: points,
			}
		}

		account.CurrentBalance -= points
		account.LifetimeRedeemed += points
		return &Movement{
			Type:        MovementRedeemed,
			Amount:      -points,
			Description: reason,
		}, nil
	})
}

// =============================================================================
// ADJUST
// =============================================================================

// Adjust applies an administrative correction of either sign. Closed
// accounts accept adjustments for record-keeping; negative deltas must not
// drive the balance below zero.
func (s *Movements) Adjust(ctx context.Context, accountID AccountID, delta int64, reason string) (*Movement, error) {
	if delta == 0 {
		return nil, &ValidationError{Field: "delta", Reason: "must not be zero"}
	}
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required for adjustments"}
	}

	return s.apply(ctx, accountID, func(account *Account) (*Movement, error) {
		if delta < 0 && account.CurrentBalance < -delta {
			return nil, &InsufficientBalanceError{
				AccountID: accountID,
				Available: account.CurrentBalance,
				Requested: -delta,
			}
		}

		account.CurrentBalance += delta
		if delta > 0 {
			account.LifetimeEarned += delta
		}
		return &Movement{
			Type:        MovementAdjusted,
			Amount:      delta,
			Description: reason,
		}, nil
	})
}

// =============================================================================
// EXPIRE
// =============================================================================

// Expire removes points by system policy (inactivity, program end). The
// amount is clamped to the current balance: expiration is system-driven
// and must always succeed without overdrawing, so a zero-clamped run
// still records its movement.
func (s *Movements) Expire(ctx context.Context, accountID AccountID, amount int64, reason string) (*Movement, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	return s.apply(ctx, accountID, func(account *Account) (*Movement, error) {
		if account.Closed() {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrClosedAccount)
		}

		clamped := amount
		if clamped > account.CurrentBalance {
			clamped = account.CurrentBalance
		}

		account.CurrentBalance -= clamped
		return &Movement{
			Type:        MovementExpired,
			Amount:      -clamped,
			Description: reason,
		}, nil
	})
}

// =============================================================================
// READS
// =============================================================================

// History returns the account's ordered movement log, restartable by
// offset. limit <= 0 selects the default page size.
func (s *Movements) History(ctx context.Context, accountID AccountID, offset, limit int) ([]Movement, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	return s.store.Movements(ctx, accountID, offset, limit)
}

// GetTier resolves the derived tier state for an account.
func (s *Movements) GetTier(ctx context.Context, accountID AccountID) (TierInfo, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return TierInfo{}, err
	}
	if account == nil {
		return TierInfo{}, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	return TierInfoFor(account.CurrentBalance), nil
}

// =============================================================================
// SERIALIZED APPLY
// =============================================================================

// apply runs decide inside the per-account unit of work. decide mutates
// the account's balance fields and returns the movement skeleton; apply
// stamps ids and the BalanceAfter snapshot, stages both writes, and on
// commit emits the out-of-band notifications.
func (s *Movements) apply(ctx context.Context, accountID AccountID, decide func(a *Account) (*Movement, error)) (*Movement, error) {
	var (
		committed Movement
		after     Account
		tierFrom  Tier
	)

	err := s.store.WithAccount(ctx, accountID, func(u AccountUnit) error {
		account := u.Account()
		tierFrom = TierOf(account.CurrentBalance)

		movement, err := decide(account)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		movement.ID = NewMovementID()
		movement.AccountID = accountID
		movement.OccurredAt = now
		movement.BalanceAfter = account.CurrentBalance
		movement.CreatedAt = now
		account.UpdatedAt = now

		if err := u.AppendMovement(ctx, *movement); err != nil {
			return err
		}
		if err := u.UpdateAccount(ctx, *account); err != nil {
			return err
		}

		committed = *movement
		after = *account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, after, committed, tierFrom)
	return &committed, nil
}

// emit delivers post-commit side effects. Never fails the operation.
func (s *Movements) emit(ctx context.Context, account Account, m Movement, tierFrom Tier) {
	tierTo := TierOf(account.CurrentBalance)
	if tierTo != tierFrom {
		s.notifier.TierChanged(ctx, TierChange{
			AccountID:  account.ID,
			CustomerID: account.CustomerID,
			ProgramID:  account.ProgramID,
			From:       tierFrom,
			To:         tierTo,
			Balance:    account.CurrentBalance,
			At:         m.OccurredAt,
		})
	}

	if s.LowBalanceThreshold > 0 && m.Type == MovementRedeemed && account.CurrentBalance < s.LowBalanceThreshold {
		s.notifier.BalanceLow(ctx, LowBalance{
			AccountID:  account.ID,
			CustomerID: account.CustomerID,
			Balance:    account.CurrentBalance,
			Threshold:  s.LowBalanceThreshold,
			At:         m.OccurredAt,
		})
	}

	for _, hook := range s.AfterCommit {
		hook(ctx, account, m)
	}
}
