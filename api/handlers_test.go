package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	handler := NewHandler(store.NewMemory(), loyalty.NopNotifier{})
	handler.Sweeper = NewExpirationSweeper(handler.Store, handler.Movements, handler.Programs)

	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, handler
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createProgram(t *testing.T, srv *httptest.Server, id string) ProgramDTO {
	t.Helper()
	start := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	var payload CreateProgramRequest
	require.NoError(t, json.Unmarshal([]byte(factory.RetailProgramJSON(id, "acme", "Acme Rewards", 0.01, 0.05, start)), &payload))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/programs", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var dto ProgramDTO
	decodeInto(t, resp, &dto)
	return dto
}

func createCustomer(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/customers", CreateCustomerRequest{
		ID:    id,
		Name:  "Maria Lopez",
		Email: "maria@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func enroll(t *testing.T, srv *httptest.Server, customerID, programID string, initial int64) AccountDTO {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", EnrollRequest{
		CustomerID:     customerID,
		ProgramID:      programID,
		InitialBalance: initial,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var dto AccountDTO
	decodeInto(t, resp, &dto)
	return dto
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body ErrorResponse
	decodeInto(t, resp, &body)
	return body.Code
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestAPI_FullWorkflow(t *testing.T) {
	// Program -> customer -> enrollment -> earn -> redeem -> history -> tier,
	// all through the HTTP surface.

	srv, _ := newTestServer(t)

	program := createProgram(t, srv, "acme-rewards")
	assert.True(t, program.Active)
	createCustomer(t, srv, "cust-1")

	account := enroll(t, srv, "cust-1", "acme-rewards", 0)
	assert.Equal(t, "BRONZE", account.Tier)

	// 1% of 150,000.00 accrues 1,500 points.
	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/earn", srv.URL, account.ID), map[string]any{
		"purchase_amount": "150000.00",
		"reference":       "order-42",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var earned MovementDTO
	decodeInto(t, resp, &earned)
	assert.Equal(t, int64(1_500), earned.Amount)
	assert.Equal(t, "order-42", earned.Reference)

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/redeem", srv.URL, account.ID), RedeemRequest{Points: 400, Reason: "gift card"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var redeemed MovementDTO
	decodeInto(t, resp, &redeemed)
	assert.Equal(t, int64(-400), redeemed.Amount)
	assert.Equal(t, int64(1_100), redeemed.BalanceAfter)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%s/movements", srv.URL, account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []MovementDTO
	decodeInto(t, resp, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "earned", history[0].Type)
	assert.Equal(t, "redeemed", history[1].Type)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%s/tier", srv.URL, account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tier TierDTO
	decodeInto(t, resp, &tier)
	assert.Equal(t, "PLATA", tier.Tier)
	assert.Equal(t, "ORO", tier.NextTier)
	assert.Equal(t, int64(3_900), tier.PointsToNext)
	assert.Equal(t, int64(1_100), tier.Balance)
}

func TestAPI_CloseAccount(t *testing.T) {
	srv, _ := newTestServer(t)
	createProgram(t, srv, "acme-rewards")
	createCustomer(t, srv, "cust-1")
	account := enroll(t, srv, "cust-1", "acme-rewards", 100)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/close", srv.URL, account.ID), CloseAccountRequest{Reason: "customer request"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var closed AccountDTO
	decodeInto(t, resp, &closed)
	assert.NotNil(t, closed.ClosedAt)
	assert.Equal(t, "customer request", closed.CloseReason)

	// Earning on a closed account is a conflict.
	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/earn", srv.URL, account.ID), map[string]any{"purchase_amount": "100"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "closed_account", errorCode(t, resp))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	createProgram(t, srv, "acme-rewards")
	createCustomer(t, srv, "cust-1")
	account := enroll(t, srv, "cust-1", "acme-rewards", 100)

	t.Run("unknown account is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/ghost", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "not_found", errorCode(t, resp))
	})

	t.Run("unknown program is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/programs/ghost", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("duplicate enrollment is 409", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", EnrollRequest{CustomerID: "cust-1", ProgramID: "acme-rewards"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "duplicate_enrollment", errorCode(t, resp))
	})

	t.Run("overdraw is 409 insufficient_balance", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/redeem", srv.URL, account.ID), RedeemRequest{Points: 9_999})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "insufficient_balance", errorCode(t, resp))
	})

	t.Run("non-positive redeem is 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/redeem", srv.URL, account.ID), RedeemRequest{Points: 0})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation", errorCode(t, resp))
	})

	t.Run("negative purchase is 422", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/accounts/%s/earn", srv.URL, account.ID), map[string]any{"purchase_amount": "-10"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "policy_violation", errorCode(t, resp))
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/customers", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPI_CreateProgram_PolicyViolation(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := CreateProgramRequest{
		ID:          "shady",
		CompanyID:   "acme",
		Name:        "Shady Rewards",
		Description: "too short",
		StartDate:   time.Now().UTC().Format("2006-01-02"),
	}
	payload.AccrualRate = mustDecimal(t, "0.01")
	payload.PointValue = mustDecimal(t, "0.05")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/programs", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "policy_violation", errorCode(t, resp))
}

func TestAPI_DeactivateProgram(t *testing.T) {
	srv, _ := newTestServer(t)
	createProgram(t, srv, "acme-rewards")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/programs/acme-rewards/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dto ProgramDTO
	decodeInto(t, resp, &dto)
	assert.False(t, dto.Active)
}

// =============================================================================
// ADMIN SWEEP
// =============================================================================

func TestAPI_AdminSweep(t *testing.T) {
	// GIVEN: an account in a program whose validity window has ended
	// WHEN:  the sweep endpoint runs
	// THEN:  the full balance is expired through the ledger

	srv, handler := newTestServer(t)
	ctx := context.Background()

	// Seed directly: the registry would refuse a program that is already
	// over, which is exactly the state the sweep exists for.
	now := time.Now().UTC()
	ended := now.AddDate(0, -1, 0)
	require.NoError(t, handler.Store.SaveProgram(ctx, loyalty.Program{
		ID:          "prog-over",
		CompanyID:   "acme",
		Name:        "Ended Rewards",
		Description: "A program whose validity window has already closed.",
		AccrualRate: mustDecimal(t, "0.01"),
		PointValue:  mustDecimal(t, "0.05"),
		StartDate:   now.AddDate(-1, 0, 0),
		EndDate:     &ended,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	require.NoError(t, handler.Store.CreateAccount(ctx, loyalty.Account{
		ID:             "acc-over",
		CustomerID:     "cust-1",
		ProgramID:      "prog-over",
		EnrolledAt:     now.AddDate(-1, 0, 0),
		CurrentBalance: 750,
		LifetimeEarned: 750,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result SweepResultDTO
	decodeInto(t, resp, &result)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Failed)

	account, err := handler.Store.GetAccount(ctx, "acc-over")
	require.NoError(t, err)
	assert.Zero(t, account.CurrentBalance)

	movements, err := handler.Store.Movements(ctx, "acc-over", 0, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, loyalty.MovementExpired, movements[0].Type)
	assert.Equal(t, int64(-750), movements[0].Amount)
}

func TestAPI_AdminSweep_Unconfigured(t *testing.T) {
	handler := NewHandler(store.NewMemory(), loyalty.NopNotifier{})
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/sweep", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
