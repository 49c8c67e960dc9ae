/*
Package esg provides the assignment versioning and temporal aggregation engine.

PURPOSE:
  Organizations assign recurring ESG metrics ("fields") to organizational
  units ("entities") and collect periodic values for them. This package
  contains the domain-agnostic core for that system:
  1. A versioned, append-only history of assignment configuration
     (versioning.go, assignment.go)
  2. Resolution of the one authoritative configuration for any
     (field, entity, date) triple (resolver.go)
  3. Derivation of computed-field values by aggregating raw data points
     collected at different frequencies and dimensional breakdowns
     (aggregation.go, dimensions.go, formula.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe IDs for fields, entities, companies, assignments
  - Frequency: Collection cadence (monthly/quarterly/annual) with the
    compatibility lattice used by the aggregation engine
  - SeriesStatus: Lifecycle state of one assignment version
  - AggregationRule: How a dependency's raw values reduce to one number

DESIGN PRINCIPLES:
  1. Immutability: Assignment versions are never edited, only superseded
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing field/entity IDs
  4. Tenancy: Every read and write path is parameterized by company ID

SEE ALSO:
  - assignment.go: Assignment record and data series
  - fiscal.go: Fiscal-year-relative period arithmetic
  - aggregation.go: Frequency pairing and value reduction
*/
package esg

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FieldID string
type EntityID string
type CompanyID string
type AssignmentID string
type DataSeriesID string
type DatumID string

// =============================================================================
// FREQUENCY - Collection cadence and compatibility lattice
// =============================================================================

// Frequency is the cadence at which values are collected for an assignment.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

// MonthsPerPeriod returns the length of one reporting period in months.
// This doubles as the coarseness rank: a larger value is a coarser frequency.
func (f Frequency) MonthsPerPeriod() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencyAnnual:
		return 12
	default:
		return 0
	}
}

// PeriodsPerYear returns how many reporting periods fit in one fiscal year.
func (f Frequency) PeriodsPerYear() int {
	switch f {
	case FrequencyMonthly:
		return 12
	case FrequencyQuarterly:
		return 4
	case FrequencyAnnual:
		return 1
	default:
		return 0
	}
}

func (f Frequency) IsValid() bool {
	return f == FrequencyMonthly || f == FrequencyQuarterly || f == FrequencyAnnual
}

// CoarserThan reports whether f has longer periods than other.
// A coarser dependency feeding a finer computed field is upsampling,
// which the aggregation engine rejects.
func (f Frequency) CoarserThan(other Frequency) bool {
	return f.MonthsPerPeriod() > other.MonthsPerPeriod()
}

// =============================================================================
// SERIES STATUS - Lifecycle of one assignment version
// =============================================================================

// SeriesStatus is the lifecycle state of a single assignment version.
//
// Transitions:
//   (create)            -> active     version 1 of a new series
//   active -> superseded             replaced by a newer version
//   active -> inactive               deliberately removed, no replacement
//   any    -> legacy                 migrated historical data (never created here)
//
// Superseded, inactive and legacy rows are retained forever for audit and
// historical resolution. There is no delete.
type SeriesStatus string

const (
	StatusActive     SeriesStatus = "active"
	StatusInactive   SeriesStatus = "inactive"
	StatusSuperseded SeriesStatus = "superseded"
	StatusLegacy     SeriesStatus = "legacy"
)

// Versionable reports whether a row in this status may serve as the base of a
// new version. Superseded and legacy rows are terminal.
func (s SeriesStatus) Versionable() bool {
	return s == StatusActive || s == StatusInactive
}

// =============================================================================
// AGGREGATION RULES - How dependency values reduce to one number
// =============================================================================

type AggregationMethod string

const (
	MethodSum             AggregationMethod = "SUM"
	MethodAverage         AggregationMethod = "AVERAGE"
	MethodLatest          AggregationMethod = "LATEST"
	MethodEarliest        AggregationMethod = "EARLIEST"
	MethodMax             AggregationMethod = "MAX"
	MethodMin             AggregationMethod = "MIN"
	MethodWeightedAverage AggregationMethod = "WEIGHTED_AVERAGE"
	MethodCount           AggregationMethod = "COUNT"
)

// AggregationRule pairs a reduction method with the lookback window it applies
// over. Rules are derived on the fly from the (dependency frequency, computed
// frequency) pair, or supplied as an override on a variable mapping. They are
// never persisted.
type AggregationRule struct {
	Method         AggregationMethod
	LookbackMonths int
}

func (r AggregationRule) String() string {
	return fmt.Sprintf("%s over %d months", r.Method, r.LookbackMonths)
}

// =============================================================================
// DIMENSION AGGREGATION - How dimensional breakdowns collapse
// =============================================================================

// DimensionAggregation selects how a dimensional datum is reduced before the
// aggregation engine sees it.
type DimensionAggregation string

const (
	// SumAllDimensions sums every breakdown combination regardless of value.
	SumAllDimensions DimensionAggregation = "SUM_ALL_DIMENSIONS"

	// SpecificDimension keeps only breakdowns matching the mapping's filter.
	SpecificDimension DimensionAggregation = "SPECIFIC_DIMENSION"
)

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustDecimal parses a decimal literal, returning zero on malformed input.
// For fixtures and configuration defaults only; real input paths return errors.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
