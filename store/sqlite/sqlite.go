/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements loyalty.Store using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The movement ledger is strictly append-only:
  - No UPDATE statements on the movements table
  - No DELETE statements on the movements table
  - Corrections via compensating adjustment movements only

KEY TABLES:
  programs:  Per-company loyalty configuration
  customers: Directory records for enrollment existence checks
  accounts:  Enrollments with their materialized balances
  movements: Immutable ledger of all balance changes

INDEXES:
  - idx_accounts_active_enrollment: partial UNIQUE index enforcing at most
    one active account per (customer_id, program_id) at the storage layer,
    backstopping the service-level check under concurrency
  - idx_movements_account_occurred: history reads (hot path)

CONCURRENCY:
  WithAccount serializes balance mutations per account: a striped channel
  lock guards each account id, and the movement append plus the balance
  update commit inside one database transaction. Lock acquisition is
  bounded; a timeout surfaces as a retryable ConcurrencyError. With
  PostgreSQL, SELECT ... FOR UPDATE would replace the channel locks.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: Interface definitions
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/loyalty"
)

// Store implements loyalty.Store using SQLite.
type Store struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[loyalty.AccountID]chan struct{}

	// LockWait bounds how long WithAccount blocks on a contended account.
	LockWait time.Duration
}

const defaultLockWait = 5 * time.Second

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:       db,
		locks:    make(map[loyalty.AccountID]chan struct{}),
		LockWait: defaultLockWait,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Programs (per-company loyalty configuration)
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		accrual_rate TEXT NOT NULL,
		point_value TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		benefits_json TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_programs_company
		ON programs(company_id);

	-- Customers (directory)
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	-- Accounts (enrollments with materialized balances)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		enrolled_at TEXT NOT NULL,
		closed_at TEXT,
		close_reason TEXT,
		current_balance INTEGER NOT NULL DEFAULT 0,
		lifetime_earned INTEGER NOT NULL DEFAULT 0,
		lifetime_redeemed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one ACTIVE account per (customer, program).
	-- Closed accounts fall out of the partial index, so re-enrollment
	-- after closure is allowed.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_active_enrollment
		ON accounts(customer_id, program_id) WHERE closed_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_accounts_customer
		ON accounts(customer_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_program
		ON accounts(program_id);

	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reference TEXT,
		description TEXT,
		occurred_at TEXT NOT NULL,
		balance_after INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- History reads (hot path)
	CREATE INDEX IF NOT EXISTS idx_movements_account_occurred
		ON movements(account_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON movements(reference) WHERE reference IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PROGRAM STORE
// =============================================================================

// SaveProgram inserts or replaces a program record.
func (s *Store) SaveProgram(ctx context.Context, p loyalty.Program) error {
	benefitsJSON, _ := json.Marshal(p.BenefitsByTier)

	query := `
		INSERT INTO programs (id, company_id, name, description, accrual_rate, point_value,
			start_date, end_date, benefits_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			description = excluded.description,
			accrual_rate = excluded.accrual_rate,
			point_value = excluded.point_value,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			benefits_json = excluded.benefits_json,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.CompanyID, p.Name, p.Description,
		p.AccrualRate.String(), p.PointValue.String(),
		p.StartDate.UTC().Format(time.RFC3339),
		nullTime(p.EndDate),
		string(benefitsJSON),
		p.Active,
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetProgram retrieves a program by ID, or (nil, nil) when missing.
func (s *Store) GetProgram(ctx context.Context, id loyalty.ProgramID) (*loyalty.Program, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, description, accrual_rate, point_value,
		       start_date, end_date, benefits_json, active, created_at, updated_at
		FROM programs WHERE id = ?`, id)

	p, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPrograms returns all programs ordered by name.
func (s *Store) ListPrograms(ctx context.Context) ([]loyalty.Program, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, description, accrual_rate, point_value,
		       start_date, end_date, benefits_json, active, created_at, updated_at
		FROM programs ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []loyalty.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *p)
	}
	return programs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgram(row scanner) (*loyalty.Program, error) {
	var (
		p            loyalty.Program
		accrualRate  string
		pointValue   string
		startDate    string
		endDate      sql.NullString
		benefitsJSON sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Description,
		&accrualRate, &pointValue, &startDate, &endDate, &benefitsJSON,
		&p.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.AccrualRate, _ = decimal.NewFromString(accrualRate)
	p.PointValue, _ = decimal.NewFromString(pointValue)
	p.StartDate, _ = time.Parse(time.RFC3339, startDate)
	p.EndDate = parseNullTime(endDate)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if benefitsJSON.Valid && benefitsJSON.String != "" {
		json.Unmarshal([]byte(benefitsJSON.String), &p.BenefitsByTier)
	}

	return &p, nil
}

// =============================================================================
// CUSTOMER STORE
// =============================================================================

// SaveCustomer inserts or replaces a customer record.
func (s *Store) SaveCustomer(ctx context.Context, c loyalty.Customer) error {
	query := `
		INSERT INTO customers (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Email, c.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// GetCustomer retrieves a customer by ID, or (nil, nil) when missing.
func (s *Store) GetCustomer(ctx context.Context, id loyalty.CustomerID) (*loyalty.Customer, error) {
	var (
		c         loyalty.Customer
		email     sql.NullString
		createdAt string
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM customers WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &email, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Email = email.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// ListCustomers returns all customers.
func (s *Store) ListCustomers(ctx context.Context) ([]loyalty.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM customers ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []loyalty.Customer
	for rows.Next() {
		var (
			c         loyalty.Customer
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &email, &createdAt); err != nil {
			return nil, err
		}
		c.Email = email.String
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// CreateAccount inserts a new account atomically with any initial
// movements. The partial unique index turns a racing duplicate enrollment
// into ErrDuplicateEnrollment.
func (s *Store) CreateAccount(ctx context.Context, a loyalty.Account, initial ...loyalty.Movement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO accounts (id, customer_id, program_id, enrolled_at, closed_at, close_reason,
			current_balance, lifetime_earned, lifetime_redeemed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		a.ID, a.CustomerID, a.ProgramID,
		a.EnrolledAt.UTC().Format(time.RFC3339),
		nullTime(a.ClosedAt),
		nullString(a.CloseReason),
		a.CurrentBalance, a.LifetimeEarned, a.LifetimeRedeemed,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("customer %s already enrolled in program %s: %w",
				a.CustomerID, a.ProgramID, loyalty.ErrDuplicateEnrollment)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	for _, m := range initial {
		if err := appendMovement(ctx, tx, m); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAccount retrieves an account by ID, or (nil, nil) when missing.
func (s *Store) GetAccount(ctx context.Context, id loyalty.AccountID) (*loyalty.Account, error) {
	return s.getAccount(ctx, s.db, id)
}

func (s *Store) getAccount(ctx context.Context, db queryRower, id loyalty.AccountID) (*loyalty.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, customer_id, program_id, enrolled_at, closed_at, close_reason,
		       current_balance, lifetime_earned, lifetime_redeemed, created_at, updated_at
		FROM accounts WHERE id = ?`, id)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindActiveAccount returns the active account for the pair, or (nil, nil).
func (s *Store) FindActiveAccount(ctx context.Context, customerID loyalty.CustomerID, programID loyalty.ProgramID) (*loyalty.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, program_id, enrolled_at, closed_at, close_reason,
		       current_balance, lifetime_earned, lifetime_redeemed, created_at, updated_at
		FROM accounts
		WHERE customer_id = ? AND program_id = ? AND closed_at IS NULL`,
		customerID, programID)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccounts returns all accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]loyalty.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, program_id, enrolled_at, closed_at, close_reason,
		       current_balance, lifetime_earned, lifetime_redeemed, created_at, updated_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []loyalty.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func scanAccount(row scanner) (*loyalty.Account, error) {
	var (
		a           loyalty.Account
		enrolledAt  string
		closedAt    sql.NullString
		closeReason sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(&a.ID, &a.CustomerID, &a.ProgramID,
		&enrolledAt, &closedAt, &closeReason,
		&a.CurrentBalance, &a.LifetimeEarned, &a.LifetimeRedeemed,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.EnrolledAt, _ = time.Parse(time.RFC3339, enrolledAt)
	a.ClosedAt = parseNullTime(closedAt)
	a.CloseReason = closeReason.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// =============================================================================
// MOVEMENT STORE
// =============================================================================

// Movements returns the account's ordered ledger page.
func (s *Store) Movements(ctx context.Context, id loyalty.AccountID, offset, limit int) ([]loyalty.Movement, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, type, amount, reference, description,
		       occurred_at, balance_after, created_at
		FROM movements
		WHERE account_id = ?
		ORDER BY occurred_at ASC, rowid ASC
		LIMIT ? OFFSET ?`, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	movements := []loyalty.Movement{}
	for rows.Next() {
		var (
			m           loyalty.Movement
			reference   sql.NullString
			description sql.NullString
			occurredAt  string
			createdAt   string
		)
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Type, &m.Amount,
			&reference, &description, &occurredAt, &m.BalanceAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.Reference = reference.String
		m.Description = description.String
		m.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func appendMovement(ctx context.Context, db execer, m loyalty.Movement) error {
	query := `
		INSERT INTO movements (id, account_id, type, amount, reference, description,
			occurred_at, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		m.ID, m.AccountID, m.Type, m.Amount,
		nullString(m.Reference), nullString(m.Description),
		m.OccurredAt.UTC().Format(time.RFC3339),
		m.BalanceAfter,
		m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

// =============================================================================
// PER-ACCOUNT UNIT OF WORK
// =============================================================================

// WithAccount runs fn inside an exclusive per-account critical section
// backed by a single database transaction. The channel lock serializes
// writers on the same account; the transaction makes the movement append
// and the balance update atomic against crashes.
func (s *Store) WithAccount(ctx context.Context, id loyalty.AccountID, fn func(u loyalty.AccountUnit) error) error {
	lock := s.accountLock(id)

	wait := s.LockWait
	if wait <= 0 {
		wait = defaultLockWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		defer func() { <-lock }()
	case <-timer.C:
		return &loyalty.ConcurrencyError{AccountID: id}
	case <-ctx.Done():
		return ctx.Err()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.getAccount(ctx, tx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", id, loyalty.ErrAccountNotFound)
	}

	unit := &sqliteUnit{tx: tx, account: *account}
	if err := fn(unit); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) accountLock(id loyalty.AccountID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[id] = lock
	}
	return lock
}

type sqliteUnit struct {
	tx      *sql.Tx
	account loyalty.Account
}

func (u *sqliteUnit) Account() *loyalty.Account {
	return &u.account
}

func (u *sqliteUnit) AppendMovement(ctx context.Context, m loyalty.Movement) error {
	return appendMovement(ctx, u.tx, m)
}

func (u *sqliteUnit) UpdateAccount(ctx context.Context, a loyalty.Account) error {
	query := `
		UPDATE accounts SET
			closed_at = ?,
			close_reason = ?,
			current_balance = ?,
			lifetime_earned = ?,
			lifetime_redeemed = ?,
			updated_at = ?
		WHERE id = ?
	`
	_, err := u.tx.ExecContext(ctx, query,
		nullTime(a.ClosedAt),
		nullString(a.CloseReason),
		a.CurrentBalance, a.LifetimeEarned, a.LifetimeRedeemed,
		a.UpdatedAt.UTC().Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
