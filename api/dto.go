/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Program:
    ProgramDTO (wraps factory.ProgramJSON), CreateProgramRequest

  Customer:
    CustomerDTO, CreateCustomerRequest

  Account:
    AccountDTO, EnrollRequest, CloseAccountRequest

  Movement:
    MovementDTO, EarnRequest, RedeemRequest, AdjustRequest, ExpireRequest

  Tier:
    TierDTO

VALIDATION:
  Structural validation (required fields, ranges) lives in the domain
  services; DTOs are pure data carriers. Handlers only reject bodies that
  fail to decode.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/program.go: ProgramJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ProgramDTO represents a program in API responses.
type ProgramDTO struct {
	factory.ProgramJSON
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CreateProgramRequest is the request to create a program.
// The body is the program definition itself.
type CreateProgramRequest = factory.ProgramJSON

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateCustomerRequest is the request to register a customer.
type CreateCustomerRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// AccountDTO represents an enrollment in API responses.
type AccountDTO struct {
	ID               string  `json:"id"`
	CustomerID       string  `json:"customer_id"`
	ProgramID        string  `json:"program_id"`
	EnrolledAt       string  `json:"enrolled_at"`
	ClosedAt         *string `json:"closed_at,omitempty"`
	CloseReason      string  `json:"close_reason,omitempty"`
	CurrentBalance   int64   `json:"current_balance"`
	LifetimeEarned   int64   `json:"lifetime_earned"`
	LifetimeRedeemed int64   `json:"lifetime_redeemed"`
	Tier             string  `json:"tier"`
}

// EnrollRequest is the request to enroll a customer in a program.
type EnrollRequest struct {
	CustomerID     string `json:"customer_id"`
	ProgramID      string `json:"program_id"`
	InitialBalance int64  `json:"initial_balance,omitempty"`
}

// CloseAccountRequest is the request to close an account.
type CloseAccountRequest struct {
	Reason string `json:"reason,omitempty"`
}

// EarnRequest credits points for a purchase.
type EarnRequest struct {
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	Reference      string          `json:"reference,omitempty"`
}

// RedeemRequest spends points.
type RedeemRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason,omitempty"`
}

// AdjustRequest applies a manual correction.
type AdjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// ExpireRequest removes points by policy.
type ExpireRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// MovementDTO represents a ledger movement.
type MovementDTO struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	Reference    string `json:"reference,omitempty"`
	Description  string `json:"description,omitempty"`
	OccurredAt   string `json:"occurred_at"`
	BalanceAfter int64  `json:"balance_after"`
}

// TierDTO represents derived tier state.
type TierDTO struct {
	AccountID    string       `json:"account_id"`
	Balance      int64        `json:"balance"`
	Tier         string       `json:"tier"`
	NextTier     string       `json:"next_tier,omitempty"`
	PointsToNext int64        `json:"points_to_next,omitempty"`
	Benefits     []BenefitDTO `json:"benefits,omitempty"`
}

// BenefitDTO represents one perk granted at the account's tier.
type BenefitDTO struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SweepResultDTO summarizes a manual expiration sweep.
type SweepResultDTO struct {
	Processed int `json:"processed"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a loyalty.Account) AccountDTO {
	dto := AccountDTO{
		ID:               string(a.ID),
		CustomerID:       string(a.CustomerID),
		ProgramID:        string(a.ProgramID),
		EnrolledAt:       a.EnrolledAt.Format(time.RFC3339),
		CloseReason:      a.CloseReason,
		CurrentBalance:   a.CurrentBalance,
		LifetimeEarned:   a.LifetimeEarned,
		LifetimeRedeemed: a.LifetimeRedeemed,
		Tier:             string(loyalty.TierOf(a.CurrentBalance)),
	}
	if a.ClosedAt != nil {
		s := a.ClosedAt.Format(time.RFC3339)
		dto.ClosedAt = &s
	}
	return dto
}

func toMovementDTO(m loyalty.Movement) MovementDTO {
	return MovementDTO{
		ID:           string(m.ID),
		AccountID:    string(m.AccountID),
		Type:         string(m.Type),
		Amount:       m.Amount,
		Reference:    m.Reference,
		Description:  m.Description,
		OccurredAt:   m.OccurredAt.Format(time.RFC3339),
		BalanceAfter: m.BalanceAfter,
	}
}

func toMovementDTOs(movements []loyalty.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	return dtos
}

func toCustomerDTO(c loyalty.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Email:     c.Email,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}
