package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const longDescription = "Earn points on every purchase and redeem them for rewards; full terms published on the company site."

func validProgramSpec() loyalty.ProgramSpec {
	start := time.Now().UTC().AddDate(0, 0, -1)
	return loyalty.ProgramSpec{
		ID:          "prog-test",
		CompanyID:   "acme",
		Name:        "Acme Rewards",
		Description: longDescription,
		AccrualRate: decimal.NewFromFloat(0.01),
		PointValue:  decimal.NewFromFloat(0.05),
		StartDate:   start,
	}
}

func newPrograms() *loyalty.Programs {
	return loyalty.NewPrograms(store.NewMemory())
}

// =============================================================================
// CREATION - HAPPY PATH
// =============================================================================

func TestPrograms_Create_Valid(t *testing.T) {
	// GIVEN: a well-formed spec passing every regulatory rule
	// WHEN:  creating the program
	// THEN:  it is persisted active with timestamps set

	programs := newPrograms()
	ctx := context.Background()

	program, err := programs.Create(ctx, validProgramSpec())
	require.NoError(t, err)

	assert.Equal(t, loyalty.ProgramID("prog-test"), program.ID)
	assert.True(t, program.Active)
	assert.False(t, program.CreatedAt.IsZero())

	got, err := programs.Get(ctx, program.ID)
	require.NoError(t, err)
	assert.Equal(t, program.Name, got.Name)
	assert.True(t, program.AccrualRate.Equal(got.AccrualRate))
}

func TestPrograms_Create_GeneratesIDWhenEmpty(t *testing.T) {
	programs := newPrograms()

	spec := validProgramSpec()
	spec.ID = ""
	program, err := programs.Create(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEmpty(t, program.ID)
}

// =============================================================================
// CREATION - VALIDATION ERRORS (malformed input)
// =============================================================================

func TestPrograms_Create_ValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*loyalty.ProgramSpec)
		field  string
	}{
		{"missing company", func(s *loyalty.ProgramSpec) { s.CompanyID = "" }, "company_id"},
		{"missing name", func(s *loyalty.ProgramSpec) { s.Name = "" }, "name"},
		{"negative rate", func(s *loyalty.ProgramSpec) { s.AccrualRate = decimal.NewFromFloat(-0.1) }, "accrual_rate"},
		{"rate above cap", func(s *loyalty.ProgramSpec) { s.AccrualRate = decimal.NewFromFloat(0.51) }, "accrual_rate"},
		{"point value too small", func(s *loyalty.ProgramSpec) { s.PointValue = decimal.NewFromFloat(0.001) }, "point_value"},
		{"missing start date", func(s *loyalty.ProgramSpec) { s.StartDate = time.Time{} }, "start_date"},
		{"end before start", func(s *loyalty.ProgramSpec) {
			end := s.StartDate.AddDate(0, 0, -1)
			s.EndDate = &end
		}, "end_date"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validProgramSpec()
			tc.mutate(&spec)

			_, err := newPrograms().Create(context.Background(), spec)
			require.Error(t, err)

			var verr *loyalty.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.True(t, loyalty.IsClientError(err))
		})
	}
}

func TestPrograms_Create_RateBoundariesAccepted(t *testing.T) {
	// 0 and 0.5 are inclusive bounds.
	for _, rate := range []float64{0, 0.5} {
		spec := validProgramSpec()
		spec.ID = ""
		spec.AccrualRate = decimal.NewFromFloat(rate)
		_, err := newPrograms().Create(context.Background(), spec)
		assert.NoError(t, err, "rate %v", rate)
	}
}

// =============================================================================
// CREATION - POLICY VIOLATIONS (regulatory rules)
// =============================================================================

func TestPrograms_Create_DescriptionTooShort(t *testing.T) {
	spec := validProgramSpec()
	spec.Description = "too short"

	_, err := newPrograms().Create(context.Background(), spec)
	require.Error(t, err)

	var perr *loyalty.PolicyViolationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "description_too_short", perr.Rule)
}

func TestPrograms_Create_ValidityWindowTooShort(t *testing.T) {
	// GIVEN: a bounded window spanning only two months
	// THEN:  rejected as a policy violation, not a validation error

	spec := validProgramSpec()
	end := spec.StartDate.AddDate(0, 2, 0)
	spec.EndDate = &end

	_, err := newPrograms().Create(context.Background(), spec)
	require.Error(t, err)

	var perr *loyalty.PolicyViolationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "validity_window", perr.Rule)
}

func TestPrograms_Create_ThreeMonthWindowAccepted(t *testing.T) {
	spec := validProgramSpec()
	end := spec.StartDate.AddDate(0, 3, 0)
	spec.EndDate = &end

	_, err := newPrograms().Create(context.Background(), spec)
	assert.NoError(t, err)
}

func TestPrograms_Create_SensitiveDataRejected(t *testing.T) {
	cases := []struct {
		name        string
		description string
	}{
		{"id document", longDescription + " contact holder 1234567Z for details"},
		{"iban", longDescription + " deposit to ES9121000418450200051332"},
		{"card number run", longDescription + " card 4111111111111111 on file"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validProgramSpec()
			spec.Description = tc.description

			_, err := newPrograms().Create(context.Background(), spec)
			require.Error(t, err)

			var perr *loyalty.PolicyViolationError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "sensitive_data", perr.Rule)
			// The offending value itself must never echo back.
			assert.NotContains(t, perr.Detail, "1234567")
			assert.NotContains(t, perr.Detail, "4111")
		})
	}
}

// =============================================================================
// LOOKUP & DEACTIVATION
// =============================================================================

func TestPrograms_Get_NotFound(t *testing.T) {
	_, err := newPrograms().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
	assert.True(t, loyalty.IsNotFound(err))
}

func TestPrograms_Deactivate(t *testing.T) {
	// GIVEN: an active program
	// WHEN:  deactivating it twice
	// THEN:  it ends inactive both times (idempotent soft delete)

	programs := newPrograms()
	ctx := context.Background()

	program, err := programs.Create(ctx, validProgramSpec())
	require.NoError(t, err)

	deactivated, err := programs.Deactivate(ctx, program.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	again, err := programs.Deactivate(ctx, program.ID)
	require.NoError(t, err)
	assert.False(t, again.Active)
}

// =============================================================================
// VALIDITY WINDOW
// =============================================================================

func TestProgram_WithinValidityWindow(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	program := loyalty.Program{StartDate: start, EndDate: &end}

	assert.False(t, program.WithinValidityWindow(start.Add(-time.Second)), "before start")
	assert.True(t, program.WithinValidityWindow(start), "start is inclusive")
	assert.True(t, program.WithinValidityWindow(end.Add(-time.Second)), "inside window")
	assert.False(t, program.WithinValidityWindow(end), "end is exclusive")

	openEnded := loyalty.Program{StartDate: start}
	assert.True(t, openEnded.WithinValidityWindow(end.AddDate(10, 0, 0)), "nil end never closes")
}
