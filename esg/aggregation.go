/*
aggregation.go - Deriving computed-field values from raw dependencies

PURPOSE:
  A computed field's value at a date is produced by an eight-step pipeline:
  1. Resolve the computed field's own assignment (for its frequency)
  2. Resolve each dependency's assignment (for its frequency)
  3. Select an aggregation rule from the (dependency -> computed) frequency
     pair, unless the mapping overrides it
  4. Reject upsampling (coarser dependency feeding a finer field) outright
  5. Bound the aggregation window with the fiscal calendar
  6. Fetch the dependency's raw values in the window, collapsing dimensional
     payloads per the mapping
  7. Reduce the series to one number per the rule's method, scaled by the
     mapping's coefficient
  8. Substitute every variable into the formula and evaluate

RULE TABLE (derived, never persisted):
  Monthly   -> Annual    SUM over 12 months
  Quarterly -> Annual    SUM over 12 months
  Monthly   -> Quarterly SUM over 3 months
  equal frequencies      LATEST over one period
  coarser -> finer       illegal upsampling, descriptive error

INCOMPLETE DATA:
  Missing assignments or missing raw values are not failures. Compute returns
  a structured skipped result with a human-readable reason. Formula
  evaluation failures degrade the same way, plus a logged diagnostic.

SEE ALSO:
  - fiscal.go: Window arithmetic
  - dimensions.go: Breakdown reduction
  - formula.go: Expression evaluation
*/
package esg

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// RULE DERIVATION
// =============================================================================

// RuleFor derives the aggregation rule for a dependency feeding a computed
// field. Fails with ErrIllegalUpsampling when the dependency is coarser.
func RuleFor(dep, computed Frequency) (AggregationRule, error) {
	if !dep.IsValid() || !computed.IsValid() {
		return AggregationRule{}, fmt.Errorf("invalid frequency pair (%s -> %s)", dep, computed)
	}
	if dep.CoarserThan(computed) {
		return AggregationRule{}, ErrIllegalUpsampling
	}
	if dep == computed {
		return AggregationRule{Method: MethodLatest, LookbackMonths: computed.MonthsPerPeriod()}, nil
	}
	return AggregationRule{Method: MethodSum, LookbackMonths: computed.MonthsPerPeriod()}, nil
}

// DefaultCompletenessThreshold is the completeness ratio a recompute must
// clear before its result is persisted, unless configured otherwise.
const DefaultCompletenessThreshold = 0.75

// =============================================================================
// COMPUTE RESULT
// =============================================================================

type ComputeStatus string

const (
	ComputeOK      ComputeStatus = "ok"
	ComputeSkipped ComputeStatus = "skipped"
)

// ComputeResult is the outcome of one computation. A skipped result carries
// the reason computation could not proceed; it is not an error.
type ComputeResult struct {
	Status ComputeStatus
	Value  *decimal.Decimal
	Reason string

	// Inputs holds the reduced, coefficient-scaled value substituted for each
	// formula variable, for explainability.
	Inputs map[string]decimal.Decimal
}

func skipped(reason string) *ComputeResult {
	return &ComputeResult{Status: ComputeSkipped, Reason: reason}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	catalog   FieldCatalog
	resolver  *Resolver
	data      DatumStore
	fiscal    FiscalConfigReader
	dims      DimensionalAggregator
	threshold float64
	log       logrus.FieldLogger
}

func NewEngine(catalog FieldCatalog, resolver *Resolver, data DatumStore, fiscal FiscalConfigReader, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		catalog:   catalog,
		resolver:  resolver,
		data:      data,
		fiscal:    fiscal,
		threshold: DefaultCompletenessThreshold,
		log:       log,
	}
}

// SetCompletenessThreshold overrides the ratio the recompute trigger requires
// before persisting a derived value.
func (e *Engine) SetCompletenessThreshold(t float64) {
	e.threshold = t
}

// Compute derives the value of a computed field for (entity, date).
func (e *Engine) Compute(ctx context.Context, fieldID FieldID, entity EntityID, date TimePoint, company CompanyID) (*ComputeResult, error) {
	def, err := e.catalog.Field(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}
	if !def.Computed {
		return nil, fmt.Errorf("field %s is not computed", fieldID)
	}

	own, err := e.resolver.Resolve(ctx, fieldID, entity, date, company)
	if err != nil {
		return nil, err
	}
	if own == nil {
		return skipped(fmt.Sprintf("no assignment for computed field %s", fieldID)), nil
	}

	cal, err := e.calendar(ctx, company)
	if err != nil {
		return nil, err
	}

	formula, err := ParseFormula(def.Formula)
	if err != nil {
		e.log.WithError(err).WithField("field", fieldID).Warn("computed field has malformed formula")
		return skipped(fmt.Sprintf("formula %q could not be parsed", def.Formula)), nil
	}

	inputs := make(map[string]decimal.Decimal, len(def.Mappings))
	for _, m := range def.Mappings {
		value, skipReason, err := e.dependencyValue(ctx, cal, m, own.Frequency, entity, date, company)
		if err != nil {
			return nil, err
		}
		if skipReason != "" {
			return skipped(skipReason), nil
		}
		inputs[m.Variable] = value
	}

	result, err := formula.Eval(inputs)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"field":  fieldID,
			"entity": entity,
		}).Warn("formula evaluation failed")
		return skipped(fmt.Sprintf("formula evaluation failed: %v", err)), nil
	}

	return &ComputeResult{Status: ComputeOK, Value: &result, Inputs: inputs}, nil
}

// ComputeIfReady runs the completeness pre-check first and only derives the
// value when the dependency data clears the threshold. Below it, the outcome
// is a skipped result carrying the completeness reason.
func (e *Engine) ComputeIfReady(ctx context.Context, fieldID FieldID, entity EntityID, date TimePoint, company CompanyID, threshold float64) (*ComputeResult, error) {
	ok, reason, err := e.ShouldCompute(ctx, fieldID, entity, date, company, threshold)
	if err != nil {
		return nil, err
	}
	if !ok {
		return skipped(reason), nil
	}
	return e.Compute(ctx, fieldID, entity, date, company)
}

func (e *Engine) calendar(ctx context.Context, company CompanyID) (FiscalCalendar, error) {
	cfg, err := e.fiscal.FiscalConfig(ctx, company)
	if err != nil {
		return FiscalCalendar{}, fmt.Errorf("%w: %v", ErrNoFiscalConfig, err)
	}
	return NewFiscalCalendar(cfg), nil
}

// dependencyValue resolves, fetches and reduces one dependency. A non-empty
// skip reason means the computation cannot proceed but nothing went wrong.
func (e *Engine) dependencyValue(ctx context.Context, cal FiscalCalendar, m VariableMapping, computedFreq Frequency, entity EntityID, date TimePoint, company CompanyID) (decimal.Decimal, string, error) {
	dep, err := e.resolver.Resolve(ctx, m.RawFieldID, entity, date, company)
	if err != nil {
		return decimal.Zero, "", err
	}
	if dep == nil {
		return decimal.Zero, fmt.Sprintf("no assignment for dependency %s", m.RawFieldID), nil
	}

	rule, err := e.ruleFor(m, dep.Frequency, computedFreq)
	if err != nil {
		return decimal.Zero, "", err
	}

	window := cal.LookbackWindow(rule.LookbackMonths, date)
	rows, err := e.data.Range(ctx, m.RawFieldID, entity, company, window.Start, window.End)
	if err != nil {
		return decimal.Zero, "", err
	}
	if len(rows) == 0 {
		return decimal.Zero, fmt.Sprintf("no data for dependency %s in %s", m.RawFieldID, window), nil
	}

	obs := make([]observation, len(rows))
	for i, row := range rows {
		obs[i] = observation{
			date:  row.ReportingDate,
			value: e.dims.Reduce(row, m.Aggregation, m.Filter),
		}
	}

	reduced, err := reduceObservations(obs, rule.Method)
	if err != nil {
		return decimal.Zero, "", err
	}

	if m.Coefficient != nil {
		reduced = reduced.Mul(*m.Coefficient)
	}
	return reduced, "", nil
}

func (e *Engine) ruleFor(m VariableMapping, depFreq, computedFreq Frequency) (AggregationRule, error) {
	if m.RuleOverride != nil {
		return *m.RuleOverride, nil
	}
	rule, err := RuleFor(depFreq, computedFreq)
	if err != nil {
		return AggregationRule{}, &UpsamplingError{Dependency: m.RawFieldID, From: depFreq, To: computedFreq}
	}
	return rule, nil
}

// =============================================================================
// SHOULD COMPUTE - Completeness check before expensive computation
// =============================================================================

// ShouldCompute reports whether enough dependency data is present to justify
// computing the field. The threshold is a ratio in [0, 1]; expected counts
// derive from the dependency's period ends falling inside the window.
func (e *Engine) ShouldCompute(ctx context.Context, fieldID FieldID, entity EntityID, date TimePoint, company CompanyID, threshold float64) (bool, string, error) {
	def, err := e.catalog.Field(ctx, fieldID)
	if err != nil {
		return false, "", err
	}
	if def == nil {
		return false, "", fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}

	own, err := e.resolver.Resolve(ctx, fieldID, entity, date, company)
	if err != nil {
		return false, "", err
	}
	if own == nil {
		return false, fmt.Sprintf("no assignment for computed field %s", fieldID), nil
	}

	cal, err := e.calendar(ctx, company)
	if err != nil {
		return false, "", err
	}

	expectedTotal, actualTotal := 0, 0
	for _, m := range def.Mappings {
		dep, err := e.resolver.Resolve(ctx, m.RawFieldID, entity, date, company)
		if err != nil {
			return false, "", err
		}
		if dep == nil {
			return false, fmt.Sprintf("no assignment for dependency %s", m.RawFieldID), nil
		}

		rule, err := e.ruleFor(m, dep.Frequency, own.Frequency)
		if err != nil {
			return false, "", err
		}

		window := cal.LookbackWindow(rule.LookbackMonths, date)
		expected := cal.ElapsedPeriodEnds(dep.Frequency, window.Start, window.End)
		if expected == 0 {
			expected = 1
		}

		rows, err := e.data.Range(ctx, m.RawFieldID, entity, company, window.Start, window.End)
		if err != nil {
			return false, "", err
		}

		expectedTotal += expected
		actualTotal += len(rows)
	}

	if expectedTotal == 0 {
		return false, "field has no dependencies", nil
	}

	ratio := float64(actualTotal) / float64(expectedTotal)
	if ratio >= threshold {
		return true, "", nil
	}
	return false, fmt.Sprintf("%.0f%% of expected values present, need %.0f%%", ratio*100, threshold*100), nil
}

// =============================================================================
// RECOMPUTE TRIGGER - Refresh dependents after a raw write
// =============================================================================

// RecomputeOutcome reports one downstream computation triggered by a raw write.
type RecomputeOutcome struct {
	FieldID FieldID
	Date    TimePoint
	Result  *ComputeResult
}

// RecomputeDependents recomputes every computed field that declares the raw
// field as a dependency, at the computed field's period end containing the
// written date. Each dependent must clear the completeness threshold;
// results that do are persisted as computed data points, the rest come back
// skipped with the completeness reason.
func (e *Engine) RecomputeDependents(ctx context.Context, raw FieldID, entity EntityID, date TimePoint, company CompanyID) ([]RecomputeOutcome, error) {
	dependents, err := e.catalog.DependentsOf(ctx, raw)
	if err != nil {
		return nil, err
	}
	if len(dependents) == 0 {
		return nil, nil
	}

	cal, err := e.calendar(ctx, company)
	if err != nil {
		return nil, err
	}

	var outcomes []RecomputeOutcome
	for _, def := range dependents {
		own, err := e.resolver.Resolve(ctx, def.ID, entity, date, company)
		if err != nil {
			return nil, err
		}
		if own == nil {
			outcomes = append(outcomes, RecomputeOutcome{
				FieldID: def.ID,
				Date:    date,
				Result:  skipped(fmt.Sprintf("no assignment for computed field %s", def.ID)),
			})
			continue
		}

		target := cal.PeriodContaining(own.Frequency, date).End
		result, err := e.ComputeIfReady(ctx, def.ID, entity, target, company, e.threshold)
		if err != nil {
			return nil, err
		}

		if result.Status == ComputeOK {
			if err := e.data.Upsert(ctx, RawDatum{
				ID:            DatumID(fmt.Sprintf("computed-%s-%s-%s", def.ID, entity, target)),
				FieldID:       def.ID,
				EntityID:      entity,
				CompanyID:     company,
				ReportingDate: target,
				Value:         *result.Value,
				Computed:      true,
				AssignmentID:  own.ID,
			}); err != nil {
				return nil, fmt.Errorf("persist computed value for %s: %w", def.ID, err)
			}
		}

		outcomes = append(outcomes, RecomputeOutcome{FieldID: def.ID, Date: target, Result: result})
	}
	return outcomes, nil
}

// =============================================================================
// REDUCTION - One number from a dated series
// =============================================================================

type observation struct {
	date  TimePoint
	value decimal.Decimal
}

// reduceObservations reduces a date-ascending series per the method.
func reduceObservations(obs []observation, method AggregationMethod) (decimal.Decimal, error) {
	if len(obs) == 0 {
		return decimal.Zero, nil
	}

	switch method {
	case MethodSum:
		total := decimal.Zero
		for _, o := range obs {
			total = total.Add(o.value)
		}
		return total, nil

	case MethodAverage:
		total := decimal.Zero
		for _, o := range obs {
			total = total.Add(o.value)
		}
		return total.Div(decimal.NewFromInt(int64(len(obs)))), nil

	case MethodLatest:
		return obs[len(obs)-1].value, nil

	case MethodEarliest:
		return obs[0].value, nil

	case MethodMax:
		max := obs[0].value
		for _, o := range obs[1:] {
			if o.value.GreaterThan(max) {
				max = o.value
			}
		}
		return max, nil

	case MethodMin:
		min := obs[0].value
		for _, o := range obs[1:] {
			if o.value.LessThan(min) {
				min = o.value
			}
		}
		return min, nil

	case MethodWeightedAverage:
		// Linearly increasing recency weights: the i-th observation by date
		// ascending carries weight i+1.
		weighted := decimal.Zero
		weightSum := decimal.Zero
		for i, o := range obs {
			w := decimal.NewFromInt(int64(i + 1))
			weighted = weighted.Add(o.value.Mul(w))
			weightSum = weightSum.Add(w)
		}
		return weighted.Div(weightSum), nil

	case MethodCount:
		return decimal.NewFromInt(int64(len(obs))), nil

	default:
		return decimal.Zero, fmt.Errorf("unknown aggregation method %q", method)
	}
}
