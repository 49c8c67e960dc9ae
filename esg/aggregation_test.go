package esg_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/verdant/esg-engine/esg"
	"github.com/verdant/esg-engine/esg/store"
)

type engineFixture struct {
	svc     *esg.VersioningService
	catalog *store.MemoryCatalog
	data    *store.MemoryData
	fiscal  *store.MemoryFiscalConfigs
	engine  *esg.Engine
}

func newEngineFixture() *engineFixture {
	assignments := store.NewMemoryAssignments()
	catalog := store.NewMemoryCatalog()
	data := store.NewMemoryData()
	fiscal := store.NewMemoryFiscalConfigs()
	log := quietLogger()

	svc := esg.NewVersioningService(assignments, data, log)
	resolver := esg.NewResolver(assignments, fiscal, log, 64)
	svc.SetInvalidator(resolver)

	return &engineFixture{
		svc:     svc,
		catalog: catalog,
		data:    data,
		fiscal:  fiscal,
		engine:  esg.NewEngine(catalog, resolver, data, fiscal, log),
	}
}

func (f *engineFixture) put(t *testing.T, field, entity, company, date, value string) {
	t.Helper()
	d, err := esg.ParseDate(date)
	if err != nil {
		t.Fatalf("parse %s: %v", date, err)
	}
	err = f.data.Put(context.Background(), esg.RawDatum{
		ID:            esg.DatumID(fmt.Sprintf("%s-%s-%s", field, entity, date)),
		FieldID:       esg.FieldID(field),
		EntityID:      esg.EntityID(entity),
		CompanyID:     esg.CompanyID(company),
		ReportingDate: d,
		Value:         esg.MustDecimal(value),
	})
	if err != nil {
		t.Fatalf("put %s@%s: %v", field, date, err)
	}
}

func (f *engineFixture) compute(t *testing.T, field, entity, company, date string) *esg.ComputeResult {
	t.Helper()
	d, _ := esg.ParseDate(date)
	result, err := f.engine.Compute(context.Background(), esg.FieldID(field), esg.EntityID(entity), d, esg.CompanyID(company))
	if err != nil {
		t.Fatalf("compute %s@%s: %v", field, date, err)
	}
	return result
}

func requireOK(t *testing.T, r *esg.ComputeResult, want string) {
	t.Helper()
	if r.Status != esg.ComputeOK {
		t.Fatalf("status = %s (%s), want ok", r.Status, r.Reason)
	}
	if !r.Value.Equal(esg.MustDecimal(want)) {
		t.Fatalf("value = %s, want %s", r.Value, want)
	}
}

// =============================================================================
// RULE DERIVATION
// =============================================================================

func TestRuleFor(t *testing.T) {
	cases := []struct {
		dep, computed esg.Frequency
		method        esg.AggregationMethod
		months        int
	}{
		{esg.FrequencyMonthly, esg.FrequencyAnnual, esg.MethodSum, 12},
		{esg.FrequencyQuarterly, esg.FrequencyAnnual, esg.MethodSum, 12},
		{esg.FrequencyMonthly, esg.FrequencyQuarterly, esg.MethodSum, 3},
		{esg.FrequencyMonthly, esg.FrequencyMonthly, esg.MethodLatest, 1},
		{esg.FrequencyAnnual, esg.FrequencyAnnual, esg.MethodLatest, 12},
	}
	for _, c := range cases {
		rule, err := esg.RuleFor(c.dep, c.computed)
		if err != nil {
			t.Errorf("RuleFor(%s, %s): %v", c.dep, c.computed, err)
			continue
		}
		if rule.Method != c.method || rule.LookbackMonths != c.months {
			t.Errorf("RuleFor(%s, %s) = %s, want %s over %d months",
				c.dep, c.computed, rule, c.method, c.months)
		}
	}
}

func TestRuleFor_RejectsUpsampling(t *testing.T) {
	for _, c := range []struct{ dep, computed esg.Frequency }{
		{esg.FrequencyAnnual, esg.FrequencyMonthly},
		{esg.FrequencyAnnual, esg.FrequencyQuarterly},
		{esg.FrequencyQuarterly, esg.FrequencyMonthly},
	} {
		if _, err := esg.RuleFor(c.dep, c.computed); !errors.Is(err, esg.ErrIllegalUpsampling) {
			t.Errorf("RuleFor(%s, %s) = %v, want ErrIllegalUpsampling", c.dep, c.computed, err)
		}
	}
}

// =============================================================================
// COMPUTE - The full pipeline
// =============================================================================

func TestCompute_MonthlyToAnnualSum(t *testing.T) {
	// GIVEN: A monthly energy field and an annual computed total
	// WHEN: Twelve monthly values of 10 exist in the fiscal year
	// THEN: The annual value is their sum, 120

	f := newEngineFixture()
	mustCreate(t, f.svc, "energy", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "total_energy", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_energy", Name: "Total energy", Computed: true,
		Formula:  "E",
		Mappings: []esg.VariableMapping{{Variable: "E", RawFieldID: "energy"}},
	})

	for m := 1; m <= 12; m++ {
		end := esg.EndOfMonth(2025, timeMonth(m))
		f.put(t, "energy", "site-1", "acme", end.String(), "10")
	}

	requireOK(t, f.compute(t, "total_energy", "site-1", "acme", "2025-12-31"), "120")
}

func TestCompute_QuarterlyToAnnualSum(t *testing.T) {
	// Two quarterly observations of 380 sum to 760; the SUM rule is permissive
	// about gaps, completeness lives in ShouldCompute.
	f := newEngineFixture()
	mustCreate(t, f.svc, "water", "site-1", "acme", esg.FrequencyQuarterly)
	mustCreate(t, f.svc, "total_water", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_water", Name: "Total water", Computed: true,
		Formula:  "W",
		Mappings: []esg.VariableMapping{{Variable: "W", RawFieldID: "water"}},
	})

	f.put(t, "water", "site-1", "acme", "2025-03-31", "380")
	f.put(t, "water", "site-1", "acme", "2025-06-30", "380")

	requireOK(t, f.compute(t, "total_water", "site-1", "acme", "2025-12-31"), "760")
}

func TestCompute_QuarterWindowExcludesPriorQuarter(t *testing.T) {
	// GIVEN: Monthly data including a large value on the last day of Q1
	// WHEN: Computing the quarterly total at the Q2 end
	// THEN: Only the Q2 months contribute; Mar 31 stays in Q1

	f := newEngineFixture()
	mustCreate(t, f.svc, "energy", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "q_energy", "site-1", "acme", esg.FrequencyQuarterly)
	f.catalog.Define(esg.FieldDefinition{
		ID: "q_energy", Name: "Quarterly energy", Computed: true,
		Formula:  "E",
		Mappings: []esg.VariableMapping{{Variable: "E", RawFieldID: "energy"}},
	})

	f.put(t, "energy", "site-1", "acme", "2025-03-31", "999")
	f.put(t, "energy", "site-1", "acme", "2025-04-30", "100")
	f.put(t, "energy", "site-1", "acme", "2025-05-31", "150")
	f.put(t, "energy", "site-1", "acme", "2025-06-30", "130")

	requireOK(t, f.compute(t, "q_energy", "site-1", "acme", "2025-06-30"), "380")
}

func TestCompute_EqualFrequenciesUseLatest(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "headcount", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "headcount_copy", "site-1", "acme", esg.FrequencyMonthly)
	f.catalog.Define(esg.FieldDefinition{
		ID: "headcount_copy", Name: "Headcount copy", Computed: true,
		Formula:  "H",
		Mappings: []esg.VariableMapping{{Variable: "H", RawFieldID: "headcount"}},
	})

	f.put(t, "headcount", "site-1", "acme", "2025-03-31", "42")

	requireOK(t, f.compute(t, "headcount_copy", "site-1", "acme", "2025-03-31"), "42")
}

func TestCompute_MultiVariableFormula(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "scope1", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "scope2", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "emissions", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "emissions", Name: "Total emissions", Computed: true,
		Formula: "A + B",
		Mappings: []esg.VariableMapping{
			{Variable: "A", RawFieldID: "scope1"},
			{Variable: "B", RawFieldID: "scope2"},
		},
	})

	f.put(t, "scope1", "site-1", "acme", "2025-12-31", "10.5")
	f.put(t, "scope2", "site-1", "acme", "2025-12-31", "-2")

	result := f.compute(t, "emissions", "site-1", "acme", "2025-12-31")
	requireOK(t, result, "8.5")

	// Inputs are reported for explainability
	if !result.Inputs["A"].Equal(esg.MustDecimal("10.5")) {
		t.Errorf("input A = %s, want 10.5", result.Inputs["A"])
	}
}

func TestCompute_CoefficientScalesDependency(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "gas", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "gas_co2e", "site-1", "acme", esg.FrequencyAnnual)
	coef := esg.MustDecimal("2.5")
	f.catalog.Define(esg.FieldDefinition{
		ID: "gas_co2e", Name: "Gas CO2e", Computed: true,
		Formula: "G",
		Mappings: []esg.VariableMapping{
			{Variable: "G", RawFieldID: "gas", Coefficient: &coef},
		},
	})

	f.put(t, "gas", "site-1", "acme", "2025-12-31", "100")

	requireOK(t, f.compute(t, "gas_co2e", "site-1", "acme", "2025-12-31"), "250")
}

func TestCompute_ZeroCoefficientZeroesDependency(t *testing.T) {
	// An explicit zero is honored, not silently promoted to identity.
	f := newEngineFixture()
	mustCreate(t, f.svc, "gas", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "gas_co2e", "site-1", "acme", esg.FrequencyAnnual)
	zero := esg.MustDecimal("0")
	f.catalog.Define(esg.FieldDefinition{
		ID: "gas_co2e", Name: "Gas CO2e", Computed: true,
		Formula: "G",
		Mappings: []esg.VariableMapping{
			{Variable: "G", RawFieldID: "gas", Coefficient: &zero},
		},
	})

	f.put(t, "gas", "site-1", "acme", "2025-12-31", "100")

	requireOK(t, f.compute(t, "gas_co2e", "site-1", "acme", "2025-12-31"), "0")
}

func TestCompute_DimensionalDependencyWithFilter(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "headcount", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "ft_headcount", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "ft_headcount", Name: "Full-time headcount", Computed: true,
		Formula: "H",
		Mappings: []esg.VariableMapping{{
			Variable: "H", RawFieldID: "headcount",
			Aggregation: esg.SpecificDimension,
			Filter:      map[string]string{"contract": "full_time"},
		}},
	})

	date, _ := esg.ParseDate("2025-12-31")
	datum := esg.RawDatum{
		ID: "hc", FieldID: "headcount", EntityID: "site-1", CompanyID: "acme",
		ReportingDate: date,
		Breakdowns: []esg.Breakdown{
			{Dimensions: map[string]string{"contract": "full_time"}, Value: esg.MustDecimal("45")},
			{Dimensions: map[string]string{"contract": "part_time"}, Value: esg.MustDecimal("25")},
		},
	}
	datum.Value = datum.BreakdownTotal()
	if err := f.data.Put(context.Background(), datum); err != nil {
		t.Fatalf("put: %v", err)
	}

	requireOK(t, f.compute(t, "ft_headcount", "site-1", "acme", "2025-12-31"), "45")
}

func TestCompute_WeightedAverageOverride(t *testing.T) {
	// Recency weights 1..n by date ascending: (10*1 + 40*2) / 3
	f := newEngineFixture()
	mustCreate(t, f.svc, "intensity", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "trend", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "trend", Name: "Intensity trend", Computed: true,
		Formula: "I",
		Mappings: []esg.VariableMapping{{
			Variable: "I", RawFieldID: "intensity",
			RuleOverride: &esg.AggregationRule{Method: esg.MethodWeightedAverage, LookbackMonths: 12},
		}},
	})

	f.put(t, "intensity", "site-1", "acme", "2025-01-31", "10")
	f.put(t, "intensity", "site-1", "acme", "2025-02-28", "40")

	want := esg.MustDecimal("90").Div(esg.MustDecimal("3"))
	result := f.compute(t, "trend", "site-1", "acme", "2025-12-31")
	if result.Status != esg.ComputeOK {
		t.Fatalf("status = %s (%s)", result.Status, result.Reason)
	}
	if !result.Value.Equal(want) {
		t.Errorf("value = %s, want %s", result.Value, want)
	}
}

// =============================================================================
// COMPUTE - Failure and skip modes
// =============================================================================

func TestCompute_UpsamplingIsAnError(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "annual_budget", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "monthly_budget", "site-1", "acme", esg.FrequencyMonthly)
	f.catalog.Define(esg.FieldDefinition{
		ID: "monthly_budget", Name: "Monthly budget", Computed: true,
		Formula:  "B",
		Mappings: []esg.VariableMapping{{Variable: "B", RawFieldID: "annual_budget"}},
	})

	date, _ := esg.ParseDate("2025-01-31")
	_, err := f.engine.Compute(context.Background(), "monthly_budget", "site-1", date, "acme")
	if !errors.Is(err, esg.ErrIllegalUpsampling) {
		t.Fatalf("expected ErrIllegalUpsampling, got %v", err)
	}

	var up *esg.UpsamplingError
	if !errors.As(err, &up) {
		t.Fatalf("expected *UpsamplingError, got %T", err)
	}
	if up.Dependency != "annual_budget" || up.From != esg.FrequencyAnnual || up.To != esg.FrequencyMonthly {
		t.Errorf("error names wrong pair: %v", up)
	}
}

func TestCompute_SkipsWhenNoData(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "energy", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "total_energy", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_energy", Name: "Total energy", Computed: true,
		Formula:  "E",
		Mappings: []esg.VariableMapping{{Variable: "E", RawFieldID: "energy"}},
	})

	result := f.compute(t, "total_energy", "site-1", "acme", "2025-12-31")
	if result.Status != esg.ComputeSkipped {
		t.Fatalf("status = %s, want skipped", result.Status)
	}
	if result.Reason == "" {
		t.Error("skipped result must carry a reason")
	}
	if result.Value != nil {
		t.Error("skipped result must not carry a value")
	}
}

func TestCompute_SkipsWhenDependencyHasNoAssignment(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "total_energy", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_energy", Name: "Total energy", Computed: true,
		Formula:  "E",
		Mappings: []esg.VariableMapping{{Variable: "E", RawFieldID: "energy"}},
	})

	result := f.compute(t, "total_energy", "site-1", "acme", "2025-12-31")
	if result.Status != esg.ComputeSkipped {
		t.Fatalf("status = %s, want skipped", result.Status)
	}
}

func TestCompute_DivisionByZeroDegradesToSkipped(t *testing.T) {
	f := newEngineFixture()
	mustCreate(t, f.svc, "energy", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "headcount", "site-1", "acme", esg.FrequencyAnnual)
	mustCreate(t, f.svc, "energy_per_head", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "energy_per_head", Name: "Energy per head", Computed: true,
		Formula: "E / H",
		Mappings: []esg.VariableMapping{
			{Variable: "E", RawFieldID: "energy"},
			{Variable: "H", RawFieldID: "headcount"},
		},
	})

	f.put(t, "energy", "site-1", "acme", "2025-12-31", "1000")
	f.put(t, "headcount", "site-1", "acme", "2025-12-31", "0")

	result := f.compute(t, "energy_per_head", "site-1", "acme", "2025-12-31")
	if result.Status != esg.ComputeSkipped {
		t.Fatalf("status = %s, want skipped (division by zero is degraded, not fatal)", result.Status)
	}
}

func TestCompute_UnknownFieldIsAnError(t *testing.T) {
	f := newEngineFixture()
	date, _ := esg.ParseDate("2025-12-31")

	_, err := f.engine.Compute(context.Background(), "nope", "site-1", date, "acme")
	if !errors.Is(err, esg.ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
}

// =============================================================================
// SHOULD COMPUTE - Completeness pre-check
// =============================================================================

func TestShouldCompute_Thresholds(t *testing.T) {
	// GIVEN: 6 of 12 expected monthly observations
	// THEN: 50% completeness passes a 0.5 threshold and fails a 0.75 one

	f := newEngineFixture()
	mustCreate(t, f.svc, "energy", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "total_energy", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_energy", Name: "Total energy", Computed: true,
		Formula:  "E",
		Mappings: []esg.VariableMapping{{Variable: "E", RawFieldID: "energy"}},
	})

	for m := 1; m <= 6; m++ {
		f.put(t, "energy", "site-1", "acme", esg.EndOfMonth(2025, timeMonth(m)).String(), "10")
	}

	date, _ := esg.ParseDate("2025-12-31")
	ctx := context.Background()

	should, _, err := f.engine.ShouldCompute(ctx, "total_energy", "site-1", date, "acme", 0.5)
	if err != nil {
		t.Fatalf("should-compute: %v", err)
	}
	if !should {
		t.Error("50% complete should pass a 0.5 threshold")
	}

	should, reason, err := f.engine.ShouldCompute(ctx, "total_energy", "site-1", date, "acme", 0.75)
	if err != nil {
		t.Fatalf("should-compute: %v", err)
	}
	if should {
		t.Error("50% complete should fail a 0.75 threshold")
	}
	if reason == "" {
		t.Error("a negative answer must explain itself")
	}
}

func TestShouldCompute_CompleteQuarterMidYear(t *testing.T) {
	// GIVEN: All three monthly values of Q2, plus one from Q1
	// WHEN: Checking completeness at the Q2 end with threshold 1.0
	// THEN: The window holds exactly the Q2 months, so 3 of 3 passes

	f := newEngineFixture()
	mustCreate(t, f.svc, "energy", "site-1", "acme", esg.FrequencyMonthly)
	mustCreate(t, f.svc, "q_energy", "site-1", "acme", esg.FrequencyQuarterly)
	f.catalog.Define(esg.FieldDefinition{
		ID: "q_energy", Name: "Quarterly energy", Computed: true,
		Formula:  "E",
		Mappings: []esg.VariableMapping{{Variable: "E", RawFieldID: "energy"}},
	})

	f.put(t, "energy", "site-1", "acme", "2025-03-31", "999")
	f.put(t, "energy", "site-1", "acme", "2025-04-30", "100")
	f.put(t, "energy", "site-1", "acme", "2025-05-31", "150")
	f.put(t, "energy", "site-1", "acme", "2025-06-30", "130")

	date, _ := esg.ParseDate("2025-06-30")
	should, reason, err := f.engine.ShouldCompute(context.Background(), "q_energy", "site-1", date, "acme", 1.0)
	if err != nil {
		t.Fatalf("should-compute: %v", err)
	}
	if !should {
		t.Errorf("full quarter should pass a 1.0 threshold, got: %s", reason)
	}
}

// =============================================================================
// RECOMPUTE TRIGGER
// =============================================================================

func TestRecomputeDependents_PersistsComputedValue(t *testing.T) {
	// GIVEN: An annual computed field depending on quarterly water data
	// WHEN: The last quarterly value of a full year is written
	// THEN: The dependent recomputes at its own period end and persists

	f := newEngineFixture()
	ctx := context.Background()
	mustCreate(t, f.svc, "water", "site-1", "acme", esg.FrequencyQuarterly)
	mustCreate(t, f.svc, "total_water", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_water", Name: "Total water", Computed: true,
		Formula:  "W",
		Mappings: []esg.VariableMapping{{Variable: "W", RawFieldID: "water"}},
	})

	f.put(t, "water", "site-1", "acme", "2025-03-31", "380")
	f.put(t, "water", "site-1", "acme", "2025-06-30", "380")
	f.put(t, "water", "site-1", "acme", "2025-09-30", "380")
	f.put(t, "water", "site-1", "acme", "2025-12-31", "380")

	written, _ := esg.ParseDate("2025-06-30")
	outcomes, err := f.engine.RecomputeDependents(ctx, "water", "site-1", written, "acme")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if outcomes[0].FieldID != "total_water" {
		t.Errorf("recomputed %s, want total_water", outcomes[0].FieldID)
	}
	// The annual field's period containing June 30 ends December 31
	if got := outcomes[0].Date.String(); got != "2025-12-31" {
		t.Errorf("target date = %s, want 2025-12-31", got)
	}
	if outcomes[0].Result.Status != esg.ComputeOK {
		t.Fatalf("status = %s (%s)", outcomes[0].Result.Status, outcomes[0].Result.Reason)
	}

	yearEnd, _ := esg.ParseDate("2025-12-31")
	stored, err := f.data.Get(ctx, "total_water", "site-1", yearEnd, "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored == nil {
		t.Fatal("computed value was not persisted")
	}
	if !stored.Computed {
		t.Error("persisted datum must be marked computed")
	}
	if !stored.Value.Equal(esg.MustDecimal("1520")) {
		t.Errorf("stored value = %s, want 1520", stored.Value)
	}
}

func TestRecomputeDependents_SkipsIncompleteYear(t *testing.T) {
	// GIVEN: Only two of four quarterly values
	// WHEN: A raw write triggers the dependent's recompute
	// THEN: The partial aggregate is not persisted; the outcome explains why

	f := newEngineFixture()
	ctx := context.Background()
	mustCreate(t, f.svc, "water", "site-1", "acme", esg.FrequencyQuarterly)
	mustCreate(t, f.svc, "total_water", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_water", Name: "Total water", Computed: true,
		Formula:  "W",
		Mappings: []esg.VariableMapping{{Variable: "W", RawFieldID: "water"}},
	})

	f.put(t, "water", "site-1", "acme", "2025-03-31", "380")
	f.put(t, "water", "site-1", "acme", "2025-06-30", "380")

	written, _ := esg.ParseDate("2025-06-30")
	outcomes, err := f.engine.RecomputeDependents(ctx, "water", "site-1", written, "acme")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if outcomes[0].Result.Status != esg.ComputeSkipped {
		t.Fatalf("status = %s, want skipped (2 of 4 quarters)", outcomes[0].Result.Status)
	}
	if !strings.Contains(outcomes[0].Result.Reason, "%") {
		t.Errorf("reason should report completeness, got %q", outcomes[0].Result.Reason)
	}

	yearEnd, _ := esg.ParseDate("2025-12-31")
	stored, err := f.data.Get(ctx, "total_water", "site-1", yearEnd, "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored != nil {
		t.Errorf("partial aggregate %s must not be persisted", stored.Value)
	}
}

func TestComputeIfReady_HonorsThreshold(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	mustCreate(t, f.svc, "water", "site-1", "acme", esg.FrequencyQuarterly)
	mustCreate(t, f.svc, "total_water", "site-1", "acme", esg.FrequencyAnnual)
	f.catalog.Define(esg.FieldDefinition{
		ID: "total_water", Name: "Total water", Computed: true,
		Formula:  "W",
		Mappings: []esg.VariableMapping{{Variable: "W", RawFieldID: "water"}},
	})

	f.put(t, "water", "site-1", "acme", "2025-03-31", "380")
	f.put(t, "water", "site-1", "acme", "2025-06-30", "380")

	date, _ := esg.ParseDate("2025-12-31")

	result, err := f.engine.ComputeIfReady(ctx, "total_water", "site-1", date, "acme", 1.0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.Status != esg.ComputeSkipped {
		t.Errorf("status at 1.0 = %s, want skipped", result.Status)
	}

	result, err = f.engine.ComputeIfReady(ctx, "total_water", "site-1", date, "acme", 0.5)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	requireOK(t, result, "760")
}

func TestRecomputeDependents_NoDependentsIsANoOp(t *testing.T) {
	f := newEngineFixture()
	date, _ := esg.ParseDate("2025-03-31")

	outcomes, err := f.engine.RecomputeDependents(context.Background(), "orphan", "site-1", date, "acme")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if outcomes != nil {
		t.Errorf("expected no outcomes, got %v", outcomes)
	}
}

// timeMonth converts a 1-based month number for fixtures.
func timeMonth(m int) time.Month { return time.Month(m) }
