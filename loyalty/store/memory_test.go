package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

func seedAccount(t *testing.T, mem *store.Memory, balance int64) loyalty.Account {
	t.Helper()
	now := time.Now().UTC()
	account := loyalty.Account{
		ID:             loyalty.NewAccountID(),
		CustomerID:     "cust-1",
		ProgramID:      "prog-1",
		EnrolledAt:     now,
		CurrentBalance: balance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, mem.CreateAccount(context.Background(), account))
	return account
}

func TestMemory_GetMissingReturnsNilNil(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	program, err := mem.GetProgram(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, program)

	account, err := mem.GetAccount(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestMemory_CreateAccount_DuplicateActiveEnrollment(t *testing.T) {
	mem := store.NewMemory()
	first := seedAccount(t, mem, 0)

	dup := first
	dup.ID = loyalty.NewAccountID()
	err := mem.CreateAccount(context.Background(), dup)
	assert.ErrorIs(t, err, loyalty.ErrDuplicateEnrollment)
}

func TestMemory_WithAccount_RollsBackOnError(t *testing.T) {
	// GIVEN: a unit that stages a movement and an account update
	// WHEN:  the callback fails after staging
	// THEN:  neither write is visible afterwards

	mem := store.NewMemory()
	account := seedAccount(t, mem, 100)
	ctx := context.Background()

	boom := errors.New("boom")
	err := mem.WithAccount(ctx, account.ID, func(u loyalty.AccountUnit) error {
		a := u.Account()
		a.CurrentBalance = 999
		require.NoError(t, u.AppendMovement(ctx, loyalty.Movement{
			ID:        loyalty.NewMovementID(),
			AccountID: account.ID,
			Type:      loyalty.MovementAdjusted,
			Amount:    899,
		}))
		require.NoError(t, u.UpdateAccount(ctx, *a))
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := mem.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), after.CurrentBalance)

	movements, err := mem.Movements(ctx, account.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestMemory_WithAccount_MissingAccount(t *testing.T) {
	mem := store.NewMemory()

	err := mem.WithAccount(context.Background(), "ghost", func(loyalty.AccountUnit) error {
		t.Fatal("callback must not run for a missing account")
		return nil
	})
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

func TestMemory_ListPrograms_SortedByName(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for _, name := range []string{"Zeta Rewards", "alpha club", "Mid Tier"} {
		require.NoError(t, mem.SaveProgram(ctx, loyalty.Program{
			ID:   loyalty.ProgramID(name),
			Name: name,
		}))
	}

	programs, err := mem.ListPrograms(ctx)
	require.NoError(t, err)
	require.Len(t, programs, 3)
	assert.Equal(t, "alpha club", programs[0].Name)
	assert.Equal(t, "Mid Tier", programs[1].Name)
	assert.Equal(t, "Zeta Rewards", programs[2].Name)
}
