package loyalty

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// NOTIFIER - External notification sink (fire-and-forget)
// =============================================================================

// TierChange is emitted after a committed movement moves an account across
// a tier boundary.
type TierChange struct {
	AccountID  AccountID
	CustomerID CustomerID
	ProgramID  ProgramID
	From       Tier
	To         Tier
	Balance    int64
	At         time.Time
}

// LowBalance is emitted when a redemption drops the balance under the
// configured threshold.
type LowBalance struct {
	AccountID  AccountID
	CustomerID CustomerID
	Balance    int64
	Threshold  int64
	At         time.Time
}

// Notifier receives tier-change and low-balance alerts. Delivery is
// fire-and-forget: implementations handle their own failures, and a
// notification failure never rolls back the committed movement that
// triggered it.
type Notifier interface {
	TierChanged(ctx context.Context, ev TierChange)
	BalanceLow(ctx context.Context, ev LowBalance)
}

// LogNotifier writes notifications to the process log. Default sink when
// no delivery channel is wired.
type LogNotifier struct{}

func (LogNotifier) TierChanged(_ context.Context, ev TierChange) {
	log.Printf("[Notify] account %s tier %s -> %s (balance %d)", ev.AccountID, ev.From, ev.To, ev.Balance)
}

func (LogNotifier) BalanceLow(_ context.Context, ev LowBalance) {
	log.Printf("[Notify] account %s balance %d under threshold %d", ev.AccountID, ev.Balance, ev.Threshold)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) TierChanged(context.Context, TierChange) {}
func (NopNotifier) BalanceLow(context.Context, LowBalance)  {}
