package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newEnv builds a memory-backed engine with one customer and one open
// program ready for enrollment.
func newEnv(t *testing.T) (*store.Memory, *loyalty.Programs, *loyalty.Accounts) {
	t.Helper()
	mem := store.NewMemory()
	programs := loyalty.NewPrograms(mem)
	accounts := loyalty.NewAccounts(mem, programs)

	ctx := context.Background()
	require.NoError(t, mem.SaveCustomer(ctx, loyalty.Customer{
		ID:        "cust-1",
		Name:      "Maria Lopez",
		Email:     "maria@example.com",
		CreatedAt: time.Now().UTC(),
	}))

	_, err := programs.Create(ctx, validProgramSpec())
	require.NoError(t, err)

	return mem, programs, accounts
}

// =============================================================================
// ENROLLMENT
// =============================================================================

func TestAccounts_Enroll(t *testing.T) {
	// GIVEN: an existing customer and an open program
	// WHEN:  enrolling with no initial balance
	// THEN:  an active zero-balance account exists

	_, _, accounts := newEnv(t)
	ctx := context.Background()

	account, err := accounts.Enroll(ctx, "cust-1", "prog-test", 0)
	require.NoError(t, err)

	assert.NotEmpty(t, account.ID)
	assert.Equal(t, loyalty.CustomerID("cust-1"), account.CustomerID)
	assert.Zero(t, account.CurrentBalance)
	assert.False(t, account.Closed())

	found, err := accounts.Find(ctx, "cust-1", "prog-test")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)
}

func TestAccounts_Enroll_InitialBalanceIsLedgered(t *testing.T) {
	// GIVEN: an enrollment with a 500-point opening grant
	// THEN:  the grant exists as an adjustment movement, so replaying the
	//        ledger reproduces the balance from the very first read

	mem, _, accounts := newEnv(t)
	ctx := context.Background()

	account, err := accounts.Enroll(ctx, "cust-1", "prog-test", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.CurrentBalance)

	movements, err := mem.Movements(ctx, account.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, loyalty.MovementAdjusted, movements[0].Type)
	assert.Equal(t, int64(500), movements[0].Amount)
	assert.Equal(t, int64(500), movements[0].BalanceAfter)

	assert.NoError(t, loyalty.VerifyLedger(*account, movements))
}

func TestAccounts_Enroll_NegativeInitialBalance(t *testing.T) {
	_, _, accounts := newEnv(t)

	_, err := accounts.Enroll(context.Background(), "cust-1", "prog-test", -10)
	var verr *loyalty.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "initial_balance", verr.Field)
}

func TestAccounts_Enroll_MissingCustomer(t *testing.T) {
	_, _, accounts := newEnv(t)

	_, err := accounts.Enroll(context.Background(), "ghost", "prog-test", 0)
	assert.ErrorIs(t, err, loyalty.ErrCustomerNotFound)
}

func TestAccounts_Enroll_MissingProgram(t *testing.T) {
	_, _, accounts := newEnv(t)

	_, err := accounts.Enroll(context.Background(), "cust-1", "ghost", 0)
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
}

func TestAccounts_Enroll_DeactivatedProgram(t *testing.T) {
	// A deactivated program is not enrollable and reads as absent.
	_, programs, accounts := newEnv(t)
	ctx := context.Background()

	_, err := programs.Deactivate(ctx, "prog-test")
	require.NoError(t, err)

	_, err = accounts.Enroll(ctx, "cust-1", "prog-test", 0)
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
}

func TestAccounts_Enroll_ProgramOutsideWindow(t *testing.T) {
	// GIVEN: a program whose validity window already ended
	// THEN:  enrollment is refused the same way as a missing program

	_, programs, accounts := newEnv(t)
	ctx := context.Background()

	spec := validProgramSpec()
	spec.ID = "prog-ended"
	spec.StartDate = time.Now().UTC().AddDate(-1, 0, 0)
	end := spec.StartDate.AddDate(0, 6, 0)
	spec.EndDate = &end
	_, err := programs.Create(ctx, spec)
	require.NoError(t, err)

	_, err = accounts.Enroll(ctx, "cust-1", "prog-ended", 0)
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
}

func TestAccounts_Enroll_DuplicateActiveEnrollment(t *testing.T) {
	_, _, accounts := newEnv(t)
	ctx := context.Background()

	_, err := accounts.Enroll(ctx, "cust-1", "prog-test", 0)
	require.NoError(t, err)

	_, err = accounts.Enroll(ctx, "cust-1", "prog-test", 0)
	assert.ErrorIs(t, err, loyalty.ErrDuplicateEnrollment)
}

func TestAccounts_Enroll_AllowedAfterClose(t *testing.T) {
	// Closing the first account frees the (customer, program) slot.
	_, _, accounts := newEnv(t)
	ctx := context.Background()

	first, err := accounts.Enroll(ctx, "cust-1", "prog-test", 0)
	require.NoError(t, err)

	_, err = accounts.Close(ctx, first.ID, "customer request")
	require.NoError(t, err)

	second, err := accounts.Enroll(ctx, "cust-1", "prog-test", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

// =============================================================================
// LOOKUP & CLOSE
// =============================================================================

func TestAccounts_Get_NotFound(t *testing.T) {
	_, _, accounts := newEnv(t)

	_, err := accounts.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

func TestAccounts_Close_Idempotent(t *testing.T) {
	// GIVEN: an open account
	// WHEN:  closing it twice
	// THEN:  both calls succeed; the close timestamp and reason are from
	//        the first call

	_, _, accounts := newEnv(t)
	ctx := context.Background()

	account, err := accounts.Enroll(ctx, "cust-1", "prog-test", 100)
	require.NoError(t, err)

	closed, err := accounts.Close(ctx, account.ID, "customer request")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, "customer request", closed.CloseReason)
	// Residual balance is untouched; expiration is the sweep's concern.
	assert.Equal(t, int64(100), closed.CurrentBalance)

	again, err := accounts.Close(ctx, account.ID, "different reason")
	require.NoError(t, err)
	assert.Equal(t, closed.ClosedAt.Unix(), again.ClosedAt.Unix())
	assert.Equal(t, "customer request", again.CloseReason)
}

func TestAccounts_ComputeTier(t *testing.T) {
	info := loyalty.ComputeTier(&loyalty.Account{CurrentBalance: 6_000})
	assert.Equal(t, loyalty.TierOro, info.Current)
	assert.Equal(t, loyalty.TierPlatino, info.Next)
	assert.Equal(t, int64(9_000), info.PointsToNext)
}
