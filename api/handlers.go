/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty points ledger and tier engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Programs:
    GET    /api/programs                    List all programs
    POST   /api/programs                    Create program from JSON
    GET    /api/programs/{id}               Get program details
    POST   /api/programs/{id}/deactivate    Soft-deactivate a program

  Customers:
    GET    /api/customers                   List customers
    POST   /api/customers                   Register customer
    GET    /api/customers/{id}              Get customer

  Accounts:
    POST   /api/accounts                    Enroll customer in program
    GET    /api/accounts/{id}               Get account with derived tier
    POST   /api/accounts/{id}/close         Close account

  Movements:
    POST   /api/accounts/{id}/earn          Credit points for a purchase
    POST   /api/accounts/{id}/redeem        Spend points
    POST   /api/accounts/{id}/adjust        Manual correction
    POST   /api/accounts/{id}/expire        Policy expiration
    GET    /api/accounts/{id}/movements     Ledger history (offset/limit)
    GET    /api/accounts/{id}/tier          Tier, next-tier distance, benefits

  Admin:
    POST   /api/admin/sweep                 Run the expiration sweep now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Programs/Accounts/Movements: Domain services
  - ProgramFactory: JSON to ProgramSpec conversion

ERROR HANDLING:
  Domain errors map to HTTP status by classification:
  - 400: validation errors
  - 404: missing program/account/customer
  - 409: duplicate enrollment, insufficient balance
  - 422: policy violations (regulatory rules)
  - 503: lock acquisition timeout (retryable)
  - 500: everything else

SECURITY NOTE:
  No authentication middleware. All endpoints are public; front with an
  authenticating gateway in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - sweep.go: Background expiration sweeper
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          loyalty.Store
	Programs       *loyalty.Programs
	Accounts       *loyalty.Accounts
	Movements      *loyalty.Movements
	ProgramFactory *factory.ProgramFactory

	// Sweeper is optional; when set, POST /api/admin/sweep runs it.
	Sweeper *ExpirationSweeper
}

// NewHandler wires the domain services over the given store.
func NewHandler(store loyalty.Store, notifier loyalty.Notifier) *Handler {
	programs := loyalty.NewPrograms(store)
	return &Handler{
		Store:          store,
		Programs:       programs,
		Accounts:       loyalty.NewAccounts(store, programs),
		Movements:      loyalty.NewMovements(store, programs, notifier),
		ProgramFactory: factory.NewProgramFactory(),
	}
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns all programs.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Programs.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = h.toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProgram creates a program from its JSON definition.
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req CreateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	spec, err := h.ProgramFactory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid program definition", err)
		return
	}

	program, err := h.Programs.Create(r.Context(), *spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.toProgramDTO(*program))
}

// GetProgram returns a single program.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ProgramID(chi.URLParam(r, "id"))

	program, err := h.Programs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProgramDTO(*program))
}

// DeactivateProgram soft-deactivates a program. Existing accounts keep
// their balances; new accrual stops.
func (h *Handler) DeactivateProgram(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ProgramID(chi.URLParam(r, "id"))

	program, err := h.Programs.Deactivate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toProgramDTO(*program))
}

func (h *Handler) toProgramDTO(p loyalty.Program) ProgramDTO {
	return ProgramDTO{
		ProgramJSON: h.ProgramFactory.ToJSON(p),
		Active:      p.Active,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a customer in the directory.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	customer := loyalty.Customer{
		ID:        loyalty.CustomerID(req.ID),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveCustomer(r.Context(), customer); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save customer", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCustomerDTO(customer))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := loyalty.CustomerID(chi.URLParam(r, "id"))

	customer, err := h.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*customer))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Enroll creates an account for a customer in a program.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Accounts.Enroll(r.Context(),
		loyalty.CustomerID(req.CustomerID),
		loyalty.ProgramID(req.ProgramID),
		req.InitialBalance)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(*account))
}

// GetAccount returns an account with its derived tier.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	account, err := h.Accounts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

// CloseAccount closes an account. Idempotent.
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	var req CloseAccountRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body is fine
	}

	account, err := h.Accounts.Close(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// Earn credits points for a purchase.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	movement, err := h.Movements.Earn(r.Context(), id, req.PurchaseAmount, req.Reference)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*movement))
}

// Redeem spends points.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	movement, err := h.Movements.Redeem(r.Context(), id, req.Points, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*movement))
}

// Adjust applies a manual correction.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	movement, err := h.Movements.Adjust(r.Context(), id, req.Delta, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*movement))
}

// Expire removes points by policy.
func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	movement, err := h.Movements.Expire(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*movement))
}

// GetMovements returns a page of the account's ledger history.
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	movements, err := h.Movements.History(r.Context(), id, offset, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// GetTier returns the account's tier, next-tier distance and benefits.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))
	ctx := r.Context()

	account, err := h.Accounts.Get(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	info := loyalty.TierInfoFor(account.CurrentBalance)
	dto := TierDTO{
		AccountID:    string(account.ID),
		Balance:      account.CurrentBalance,
		Tier:         string(info.Current),
		NextTier:     string(info.Next),
		PointsToNext: info.PointsToNext,
	}

	// Benefits come from the program's per-tier configuration.
	if program, err := h.Programs.Get(ctx, account.ProgramID); err == nil {
		for _, b := range loyalty.BenefitsOf(info.Current, program) {
			dto.Benefits = append(dto.Benefits, BenefitDTO{Name: b.Name, Description: b.Description})
		}
	}

	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the expiration sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "Sweeper not configured", nil)
		return
	}

	result := h.Sweeper.RunNow(r.Context())
	writeJSON(w, http.StatusOK, SweepResultDTO{
		Processed: result.Processed,
		Expired:   result.Expired,
		Failed:    result.Failed,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status and error code.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, loyalty.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case loyalty.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, loyalty.ErrDuplicateEnrollment):
		status, code = http.StatusConflict, "duplicate_enrollment"
	case errors.Is(err, loyalty.ErrInsufficientBalance):
		status, code = http.StatusConflict, "insufficient_balance"
	case errors.Is(err, loyalty.ErrClosedAccount):
		status, code = http.StatusConflict, "closed_account"
	case errors.Is(err, loyalty.ErrPolicyViolation):
		status, code = http.StatusUnprocessableEntity, "policy_violation"
	case loyalty.IsRetryable(err):
		status, code = http.StatusServiceUnavailable, "concurrency"
	}

	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: nil,
	})
}
