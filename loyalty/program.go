/*
program.go - Program registry and creation-time policy rules

PURPOSE:
  Holds per-company loyalty-program configuration and enforces the rules
  that apply when a program is defined: numeric ranges, the regulatory
  transparency minimums, and the sensitive-data screen.

VALIDATION ORDER:
  1. Field ranges (accrual rate, point value, date ordering)
     -> ValidationError
  2. Regulatory rules (description length, minimum validity span,
     sensitive-data markers) -> PolicyViolationError

  The distinction matters to callers: a ValidationError is a malformed
  request; a PolicyViolationError is a well-formed request the program
  rules forbid, and the specific rule is always surfaced.

LIFECYCLE:
  Programs are created once per company and mutated only through explicit
  administrative updates. They are never physically deleted while accounts
  reference them; Deactivate flips the active flag instead.

SEE ALSO:
  - sensitive.go: Marker detection
  - account.go: Enrollment checks the validity window through this registry
*/
package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// PROGRAM REGISTRY
// =============================================================================

// Programs is the registry service for loyalty-program configuration.
type Programs struct {
	store ProgramStore

	// now is swappable for tests.
	now func() time.Time
}

func NewPrograms(store ProgramStore) *Programs {
	return &Programs{store: store, now: time.Now}
}

// Create validates the spec and persists a new active program.
// No state is written when any check fails.
func (p *Programs) Create(ctx context.Context, spec ProgramSpec) (*Program, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	if err := screenSpec(spec); err != nil {
		return nil, err
	}

	now := p.now().UTC()
	program := Program{
		ID:             spec.ID,
		CompanyID:      spec.CompanyID,
		Name:           spec.Name,
		Description:    spec.Description,
		AccrualRate:    spec.AccrualRate,
		PointValue:     spec.PointValue,
		StartDate:      spec.StartDate,
		EndDate:        spec.EndDate,
		BenefitsByTier: spec.BenefitsByTier,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if program.ID == "" {
		program.ID = ProgramID(fmt.Sprintf("prog-%d-%d", now.UnixNano(), idSeq.Add(1)))
	}

	if err := p.store.SaveProgram(ctx, program); err != nil {
		return nil, fmt.Errorf("failed to save program: %w", err)
	}
	return &program, nil
}

// Get returns the program or ErrProgramNotFound.
func (p *Programs) Get(ctx context.Context, id ProgramID) (*Program, error) {
	program, err := p.store.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, fmt.Errorf("program %s: %w", id, ErrProgramNotFound)
	}
	return program, nil
}

// List returns all programs.
func (p *Programs) List(ctx context.Context) ([]Program, error) {
	return p.store.ListPrograms(ctx)
}

// Deactivate soft-deactivates a program. Accounts referencing it remain;
// new enrollments and earns are refused while inactive.
func (p *Programs) Deactivate(ctx context.Context, id ProgramID) (*Program, error) {
	program, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !program.Active {
		return program, nil
	}
	program.Active = false
	program.UpdatedAt = p.now().UTC()
	if err := p.store.SaveProgram(ctx, *program); err != nil {
		return nil, fmt.Errorf("failed to deactivate program: %w", err)
	}
	return program, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// validateSpec checks field ranges. Malformed input, caught before any
// policy evaluation or write.
func validateSpec(spec ProgramSpec) error {
	if spec.CompanyID == "" {
		return &ValidationError{Field: "company_id", Reason: "required"}
	}
	if spec.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if spec.AccrualRate.IsNegative() || spec.AccrualRate.GreaterThan(MaxAccrualRate) {
		return &ValidationError{Field: "accrual_rate", Reason: "must be within [0, 0.5]"}
	}
	if spec.PointValue.LessThan(MinPointValue) {
		return &ValidationError{Field: "point_value", Reason: "must be at least 0.01"}
	}
	if spec.StartDate.IsZero() {
		return &ValidationError{Field: "start_date", Reason: "required"}
	}
	if spec.EndDate != nil && !spec.EndDate.After(spec.StartDate) {
		return &ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}
	return nil
}

// screenSpec applies the regulatory rules. The spec is well-formed by the
// time this runs.
func screenSpec(spec ProgramSpec) error {
	if len([]rune(spec.Description)) < MinDescriptionLen {
		return &PolicyViolationError{
			Rule:   "description_too_short",
			Detail: fmt.Sprintf("description must be at least %d characters", MinDescriptionLen),
		}
	}
	if spec.EndDate != nil {
		minEnd := spec.StartDate.AddDate(0, MinValidityMonths, 0)
		if spec.EndDate.Before(minEnd) {
			return &PolicyViolationError{
				Rule:   "validity_window",
				Detail: fmt.Sprintf("validity window must span at least %d months", MinValidityMonths),
			}
		}
	}

	// The screen runs over the serialized payload so markers hidden in any
	// field (names, descriptions, benefit text) are caught uniformly.
	payload, err := json.Marshal(spec)
	if err != nil {
		return &ValidationError{Field: "spec", Reason: "not serializable"}
	}
	if class, found := ScanSensitive(payload); found {
		return &PolicyViolationError{
			Rule:   "sensitive_data",
			Detail: fmt.Sprintf("payload contains a %s marker", class),
		}
	}
	return nil
}
