/*
Package factory provides JSON to Go program conversion.

PURPOSE:
  Converts JSON program definitions into loyalty.ProgramSpec values. This
  enables program configuration without code changes - a company admin can
  define a loyalty program in JSON, and the factory creates the proper Go
  structs for the registry to validate and store.

WHY JSON?
  - Non-developers can modify programs
  - Easy integration with admin UI
  - Version control for program definitions
  - Database storage of program configs

JSON SCHEMA:
  {
    "id": "acme-rewards",
    "company_id": "acme",
    "name": "Acme Rewards",
    "description": "Earn 1 point for every 100 spent ...",
    "accrual_rate": "0.01",
    "point_value": "0.05",
    "start_date": "2026-01-01",
    "end_date": "2026-12-31",
    "benefits_by_tier": {
      "ORO": [{"name": "free_shipping", "description": "Free shipping on all orders"}]
    }
  }

KEY FEATURES:
  - Parses dates as plain days (2006-01-02) or full RFC 3339 timestamps
  - Decimal fields accept JSON strings or numbers
  - The factory only converts; all policy rules (rate caps, description
    minimums, validity window) are enforced by the program registry

USAGE:
  factory := NewProgramFactory()
  spec, err := factory.ParseProgram(jsonString)
  program, err := registry.Create(ctx, *spec)

SEE ALSO:
  - loyalty/types.go: ProgramSpec definition
  - loyalty/program.go: Registry validation and policy screening
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProgramJSON is the JSON representation of a program definition.
type ProgramJSON struct {
	ID             string                   `json:"id,omitempty"`
	CompanyID      string                   `json:"company_id"`
	Name           string                   `json:"name"`
	Description    string                   `json:"description"`
	AccrualRate    decimal.Decimal          `json:"accrual_rate"`
	PointValue     decimal.Decimal          `json:"point_value"`
	StartDate      string                   `json:"start_date"`
	EndDate        string                   `json:"end_date,omitempty"`
	BenefitsByTier map[string][]BenefitJSON `json:"benefits_by_tier,omitempty"`
}

// BenefitJSON is one perk granted at a tier.
type BenefitJSON struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// =============================================================================
// PROGRAM FACTORY
// =============================================================================

// ProgramFactory converts JSON programs to Go structs.
type ProgramFactory struct{}

// NewProgramFactory creates a new program factory.
func NewProgramFactory() *ProgramFactory {
	return &ProgramFactory{}
}

// ParseProgram parses a JSON string into a ProgramSpec.
func (f *ProgramFactory) ParseProgram(jsonStr string) (*loyalty.ProgramSpec, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse program JSON: %w", err)
	}

	return f.FromJSON(pj)
}

// FromJSON converts ProgramJSON to loyalty.ProgramSpec.
func (f *ProgramFactory) FromJSON(pj ProgramJSON) (*loyalty.ProgramSpec, error) {
	startDate, err := parseDate(pj.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start_date: %w", err)
	}

	spec := &loyalty.ProgramSpec{
		ID:          loyalty.ProgramID(pj.ID),
		CompanyID:   loyalty.CompanyID(pj.CompanyID),
		Name:        pj.Name,
		Description: pj.Description,
		AccrualRate: pj.AccrualRate,
		PointValue:  pj.PointValue,
		StartDate:   startDate,
	}

	if pj.EndDate != "" {
		endDate, err := parseDate(pj.EndDate)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date: %w", err)
		}
		spec.EndDate = &endDate
	}

	if len(pj.BenefitsByTier) > 0 {
		spec.BenefitsByTier = make(map[loyalty.Tier][]loyalty.Benefit, len(pj.BenefitsByTier))
		for tierName, benefits := range pj.BenefitsByTier {
			tier := loyalty.Tier(tierName)
			for _, b := range benefits {
				spec.BenefitsByTier[tier] = append(spec.BenefitsByTier[tier], loyalty.Benefit{
					Name:        b.Name,
					Description: b.Description,
				})
			}
		}
	}

	return spec, nil
}

// ToJSON converts a Program back to its JSON representation.
func (f *ProgramFactory) ToJSON(p loyalty.Program) ProgramJSON {
	pj := ProgramJSON{
		ID:          string(p.ID),
		CompanyID:   string(p.CompanyID),
		Name:        p.Name,
		Description: p.Description,
		AccrualRate: p.AccrualRate,
		PointValue:  p.PointValue,
		StartDate:   p.StartDate.UTC().Format(time.RFC3339),
	}
	if p.EndDate != nil {
		pj.EndDate = p.EndDate.UTC().Format(time.RFC3339)
	}

	if len(p.BenefitsByTier) > 0 {
		pj.BenefitsByTier = make(map[string][]BenefitJSON, len(p.BenefitsByTier))
		for tier, benefits := range p.BenefitsByTier {
			for _, b := range benefits {
				pj.BenefitsByTier[string(tier)] = append(pj.BenefitsByTier[string(tier)], BenefitJSON{
					Name:        b.Name,
					Description: b.Description,
				})
			}
		}
	}

	return pj
}

// parseDate accepts a plain day or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected 2006-01-02 or RFC 3339, got %q", s)
	}
	return t.UTC(), nil
}

// =============================================================================
// PRESET PROGRAMS
// =============================================================================

// RetailProgramJSON returns a ready-to-parse retail program definition:
// accrualRate of purchase value accrues as points, each worth pointValue.
func RetailProgramJSON(id, companyID, name string, accrualRate, pointValue float64, startDate string) string {
	pj := ProgramJSON{
		ID:          id,
		CompanyID:   companyID,
		Name:        name,
		Description: fmt.Sprintf("%s: earn points on every purchase at a rate of %g per unit spent, redeemable for rewards at %g per point. Points never transfer between customers.", name, accrualRate, pointValue),
		AccrualRate: decimal.NewFromFloat(accrualRate),
		PointValue:  decimal.NewFromFloat(pointValue),
		StartDate:   startDate,
		BenefitsByTier: map[string][]BenefitJSON{
			string(loyalty.TierOro): {
				{Name: "free_shipping", Description: "Free shipping on all orders"},
			},
			string(loyalty.TierPlatino): {
				{Name: "priority_support", Description: "Priority customer support line"},
			},
			string(loyalty.TierDiamante): {
				{Name: "personal_shopper", Description: "Dedicated personal shopper"},
			},
		},
	}
	out, _ := json.Marshal(pj)
	return string(out)
}
