/*
datum.go - Raw data points and their persistence interface

PURPOSE:
  A RawDatum is one observed (or derived) value for (field, entity, reporting
  date, company). Dimensional data carries a typed list of per-combination
  breakdowns plus a precomputed total, validated at write time - not an
  untyped JSON payload inspected at read time.

UNIQUENESS:
  At most one non-draft datum exists per (field, entity, reporting date,
  company). Drafts are invisible to aggregation and exempt from the
  constraint.

SEE ALSO:
  - dimensions.go: Reduction of breakdowns to one number
  - aggregation.go: Range queries feeding computed fields
*/
package esg

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BREAKDOWN - One dimensional combination of a datum
// =============================================================================

// Breakdown is the value for one combination of dimension values, e.g.
// {gender: Male, department: Engineering} -> 25.
type Breakdown struct {
	Dimensions map[string]string
	Value      decimal.Decimal
}

// Matches reports whether the breakdown satisfies every key/value pair in the
// filter exactly. An empty filter matches everything.
func (b Breakdown) Matches(filter map[string]string) bool {
	for k, want := range filter {
		if got, ok := b.Dimensions[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// =============================================================================
// RAW DATUM - One value for (field, entity, reporting date)
// =============================================================================

type RawDatum struct {
	ID        DatumID
	FieldID   FieldID
	EntityID  EntityID
	CompanyID CompanyID

	ReportingDate TimePoint

	// Value is the datum's scalar value. For dimensional data this is the
	// precomputed total across all breakdowns.
	Value decimal.Decimal

	// Breakdowns is empty for non-dimensional data.
	Breakdowns []Breakdown

	// Draft rows are invisible to aggregation and exempt from uniqueness.
	Draft bool

	// Computed marks values derived by the aggregation engine rather than
	// directly entered.
	Computed bool

	// AssignmentID links the datum to the assignment version that governed
	// its collection, when known.
	AssignmentID AssignmentID

	CreatedAt time.Time
}

// BreakdownTotal sums all breakdown values. Write paths use it to fill in the
// precomputed total; a mismatch against Value indicates a malformed payload.
func (d RawDatum) BreakdownTotal() decimal.Decimal {
	total := decimal.Zero
	for _, b := range d.Breakdowns {
		total = total.Add(b.Value)
	}
	return total
}

// =============================================================================
// DATUM STORE - Persistence interface
// =============================================================================

// DatumStore persists raw data points.
type DatumStore interface {
	// Put persists a datum. Fails with ErrDuplicateDatum when a non-draft row
	// already exists for the same (field, entity, reporting date, company).
	Put(ctx context.Context, d RawDatum) error

	// Upsert persists a datum, replacing any existing row for the same key.
	// Used by the aggregation engine when rewriting computed values.
	Upsert(ctx context.Context, d RawDatum) error

	// Get returns the non-draft datum for the exact key, or nil.
	Get(ctx context.Context, field FieldID, entity EntityID, date TimePoint, company CompanyID) (*RawDatum, error)

	// Range returns non-draft data for the key within [from, to], ordered by
	// reporting date ascending.
	Range(ctx context.Context, field FieldID, entity EntityID, company CompanyID, from, to TimePoint) ([]RawDatum, error)

	// CountFor returns how many non-draft rows reference the key, across all
	// dates. The versioning service uses it to size change warnings.
	CountFor(ctx context.Context, field FieldID, entity EntityID, company CompanyID) (int, error)
}

// FiscalConfigReader yields a company's fiscal-year configuration. Supplied
// by the surrounding application; the engine treats it as read-only.
type FiscalConfigReader interface {
	FiscalConfig(ctx context.Context, company CompanyID) (FiscalYearConfig, error)
}
