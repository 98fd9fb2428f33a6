/*
sweep.go - Automated point-expiration sweeper

PURPOSE:
  Periodically finds open accounts whose program's validity window has
  ended and expires their remaining balance. Expiration is system-driven:
  each account is processed independently, and a failure on one account
  never aborts the batch.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Skips closed accounts and accounts with zero balance
  - Skips accounts whose program is still within its validity window
  - Relies on Movements.Expire for clamping and atomicity

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether sweeper is active (default: true)

USAGE:
  sweeper := NewExpirationSweeper(store, movements, programs)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - loyalty/movement.go: Expire operation
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// ExpirationSweeper handles automated point expiration.
type ExpirationSweeper struct {
	Store         loyalty.Store
	Movements     *loyalty.Movements
	Programs      *loyalty.Programs
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Processed int // accounts examined
	Expired   int // accounts whose balance was expired
	Failed    int // accounts that errored (logged and skipped)
}

// NewExpirationSweeper creates a new sweeper.
func NewExpirationSweeper(store loyalty.Store, movements *loyalty.Movements, programs *loyalty.Programs) *ExpirationSweeper {
	return &ExpirationSweeper{
		Store:         store,
		Movements:     movements,
		Programs:      programs,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (es *ExpirationSweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Sweeper] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the sweeper.
func (es *ExpirationSweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (es *ExpirationSweeper) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep(context.Background())

	for {
		select {
		case <-es.ticker.C:
			es.sweep(context.Background())
		case <-es.stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (es *ExpirationSweeper) RunNow(ctx context.Context) SweepResult {
	return es.sweep(ctx)
}

func (es *ExpirationSweeper) sweep(ctx context.Context) SweepResult {
	now := time.Now().UTC()
	var result SweepResult

	accounts, err := es.Store.ListAccounts(ctx)
	if err != nil {
		log.Printf("[Sweeper] Error listing accounts: %v", err)
		return result
	}

	// Program lookups are cached per pass; many accounts share a program.
	programs := make(map[loyalty.ProgramID]*loyalty.Program)

	for _, account := range accounts {
		if account.Closed() || account.CurrentBalance == 0 {
			continue
		}

		program, ok := programs[account.ProgramID]
		if !ok {
			program, err = es.Programs.Get(ctx, account.ProgramID)
			if err != nil {
				log.Printf("[Sweeper] Error loading program %s: %v", account.ProgramID, err)
				continue
			}
			programs[account.ProgramID] = program
		}

		// Only expire once the program's window has closed.
		if program.EndDate == nil || now.Before(*program.EndDate) {
			continue
		}

		result.Processed++
		_, err := es.Movements.Expire(ctx, account.ID, account.CurrentBalance, "program validity window ended")
		if err != nil {
			result.Failed++
			log.Printf("[Sweeper] Error expiring account %s: %v", account.ID, err)
			continue
		}
		result.Expired++
		log.Printf("[Sweeper] Expired %d points on account %s (program %s ended %s)",
			account.CurrentBalance, account.ID, program.ID, program.EndDate.Format("2006-01-02"))
	}

	if result.Processed > 0 {
		log.Printf("[Sweeper] Completed: %d processed, %d expired, %d failed",
			result.Processed, result.Expired, result.Failed)
	}
	return result
}

// GetNextRunTime returns when the next scheduled check will occur.
func (es *ExpirationSweeper) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
