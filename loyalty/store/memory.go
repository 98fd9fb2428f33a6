// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps guarded by a single RWMutex, with one
// lock channel per account so WithAccount serializes per account instead
// of globally.
type Memory struct {
	mu        sync.RWMutex
	programs  map[loyalty.ProgramID]loyalty.Program
	customers map[loyalty.CustomerID]loyalty.Customer
	accounts  map[loyalty.AccountID]loyalty.Account
	movements map[loyalty.AccountID][]loyalty.Movement

	locksMu sync.Mutex
	locks   map[loyalty.AccountID]chan struct{}

	// LockWait bounds how long WithAccount blocks on a contended account
	// before failing with a ConcurrencyError.
	LockWait time.Duration
}

const defaultLockWait = 5 * time.Second

func NewMemory() *Memory {
	return &Memory{
		programs:  make(map[loyalty.ProgramID]loyalty.Program),
		customers: make(map[loyalty.CustomerID]loyalty.Customer),
		accounts:  make(map[loyalty.AccountID]loyalty.Account),
		movements: make(map[loyalty.AccountID][]loyalty.Movement),
		locks:     make(map[loyalty.AccountID]chan struct{}),
		LockWait:  defaultLockWait,
	}
}

// =============================================================================
// PROGRAMS
// =============================================================================

func (m *Memory) SaveProgram(_ context.Context, p loyalty.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ID] = p
	return nil
}

func (m *Memory) GetProgram(_ context.Context, id loyalty.ProgramID) (*loyalty.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPrograms(_ context.Context) ([]loyalty.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]loyalty.Program, 0, len(m.programs))
	for _, p := range m.programs {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (m *Memory) SaveCustomer(_ context.Context, c loyalty.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) GetCustomer(_ context.Context, id loyalty.CustomerID) (*loyalty.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]loyalty.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]loyalty.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a loyalty.Account, initial ...loyalty.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accounts {
		if existing.CustomerID == a.CustomerID && existing.ProgramID == a.ProgramID && !existing.Closed() {
			return fmt.Errorf("customer %s already enrolled in program %s: %w",
				a.CustomerID, a.ProgramID, loyalty.ErrDuplicateEnrollment)
		}
	}

	m.accounts[a.ID] = a
	for _, mov := range initial {
		m.movements[a.ID] = append(m.movements[a.ID], mov)
	}
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id loyalty.AccountID) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) FindActiveAccount(_ context.Context, customerID loyalty.CustomerID, programID loyalty.ProgramID) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.CustomerID == customerID && a.ProgramID == programID && !a.Closed() {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]loyalty.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (m *Memory) Movements(_ context.Context, id loyalty.AccountID, offset, limit int) ([]loyalty.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.movements[id]
	if offset >= len(all) {
		return []loyalty.Movement{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	result := make([]loyalty.Movement, end-offset)
	copy(result, all[offset:end])
	return result, nil
}

// =============================================================================
// PER-ACCOUNT UNIT OF WORK
// =============================================================================

// WithAccount serializes fn against all other units on the same account.
// Writes staged through the unit are applied under the store mutex only
// when fn returns nil, so a failed callback leaves no trace.
func (m *Memory) WithAccount(ctx context.Context, id loyalty.AccountID, fn func(u loyalty.AccountUnit) error) error {
	lock := m.accountLock(id)

	wait := m.LockWait
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

	m.mu.RLock()
	account, ok := m.accounts[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("account %s: %w", id, loyalty.ErrAccountNotFound)
	}

	unit := &memoryUnit{account: account}
	if err := fn(unit); err != nil {
		return err
	}

	// Commit: both writes land under one critical section.
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[id] = append(m.movements[id], unit.appended...)
	if unit.updated != nil {
		m.accounts[id] = *unit.updated
	}
	return nil
}

func (m *Memory) accountLock(id loyalty.AccountID) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[id] = lock
	}
	return lock
}

// memoryUnit buffers writes until WithAccount commits them.
type memoryUnit struct {
	account  loyalty.Account
	appended []loyalty.Movement
	updated  *loyalty.Account
}

func (u *memoryUnit) Account() *loyalty.Account {
	return &u.account
}

func (u *memoryUnit) AppendMovement(_ context.Context, m loyalty.Movement) error {
	u.appended = append(u.appended, m)
	return nil
}

func (u *memoryUnit) UpdateAccount(_ context.Context, a loyalty.Account) error {
	u.updated = &a
	return nil
}
