/*
ledger.go - Ledger replay and audit verification

PURPOSE:
  The movement log is the source of truth; Account.CurrentBalance is a
  write-through cache of it. These helpers re-derive the balance from the
  log and verify that the cache and the per-movement BalanceAfter
  snapshots agree with it.

WHY REPLAY?
  - Audit trail: any balance can be explained movement by movement
  - Correctness: a divergence between cache and replay means the atomic
    unit of work was violated somewhere, which is the one bug this
    engine exists to prevent

CORRECTIONS:
  Mistakes are never edited away. A wrong earn is compensated with a
  negative adjustment; both stay in the ledger and the replay nets out.
*/
package loyalty

import "fmt"

// ReplayBalance sums the signed movement amounts in order. The result is
// the authoritative balance for the account that produced the log.
func ReplayBalance(movements []Movement) int64 {
	var balance int64
	for _, m := range movements {
		balance += m.Amount
	}
	return balance
}

// VerifyLedger checks the ledger invariants for an account against its
// full ordered movement history:
//
//  1. Replaying the movements reproduces CurrentBalance exactly.
//  2. Every BalanceAfter snapshot matches the running sum at that point.
//  3. The running balance never goes negative.
//
// Returns nil when all hold.
func VerifyLedger(a Account, movements []Movement) error {
	var running int64
	for i, m := range movements {
		running += m.Amount
		if running < 0 {
			return fmt.Errorf("account %s: balance negative (%d) after movement %d (%s)",
				a.ID, running, i, m.ID)
		}
		if m.BalanceAfter != running {
			return fmt.Errorf("account %s: movement %d (%s) snapshot %d != replayed %d",
				a.ID, i, m.ID, m.BalanceAfter, running)
		}
	}
	if running != a.CurrentBalance {
		return fmt.Errorf("account %s: replayed balance %d != cached balance %d",
			a.ID, running, a.CurrentBalance)
	}
	return nil
}
