/*
assignment.go - Versioned assignment records and their persistence interface

PURPOSE:
  An Assignment is the unit of configuration: "collect field X for entity Y
  at this frequency, in this unit, under this topic". Assignments are
  versioned within a data series - every edit supersedes the current row and
  inserts a new one, so the full configuration history is retained forever.

KEY CONCEPTS:
  Data series:
    All versions of one logical assignment share a DataSeriesID. Version
    numbers increase monotonically from 1. Reading a series returns rows
    most-recent-first.

  Single-active invariant:
    For a given (field, entity, company) at most one row has status=active
    at any instant. Stores enforce this declaratively (a uniqueness
    constraint scoped to status=active); the versioning service enforces it
    again with a pre-insert guard (see versioning.go).

APPEND-ONLY CONTRACT:
  The store exposes Insert and UpdateStatus only. Rows are never deleted and
  no attribute other than status (plus its audit reason) is ever updated.

SEE ALSO:
  - versioning.go: State-machine transitions over this store
  - resolver.go: Read path returning the one authoritative row
  - store/sqlite: Production store with the partial unique index
*/
package esg

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// ASSIGNMENT - One version of a field-to-entity configuration
// =============================================================================

type Assignment struct {
	ID        AssignmentID
	FieldID   FieldID
	EntityID  EntityID
	CompanyID CompanyID

	Frequency Frequency
	Unit      string // optional override of the field's default unit
	Topic     string // optional override of the field's default topic

	// Series bookkeeping. DataSeriesID is stable across all versions of the
	// same logical assignment; SeriesVersion starts at 1 and increases by one
	// per transition.
	DataSeriesID  DataSeriesID
	SeriesVersion int
	SeriesStatus  SeriesStatus

	// Audit trail for the most recent transition affecting this row.
	ChangeReason string
	ChangedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SeriesKey identifies the configuration slot an assignment occupies. The
// single-active invariant is scoped to this key.
type SeriesKey struct {
	FieldID   FieldID
	EntityID  EntityID
	CompanyID CompanyID
}

func (a Assignment) Key() SeriesKey {
	return SeriesKey{FieldID: a.FieldID, EntityID: a.EntityID, CompanyID: a.CompanyID}
}

// =============================================================================
// CHANGE SET - Proposed edits to an assignment
// =============================================================================

// ChangeSet holds the mutable attributes a new version may change. Nil fields
// are left as-is. Identity fields (field, entity, company) are not here by
// construction; attempts to change them arrive via IdentityChanges and are
// always blocking.
type ChangeSet struct {
	Frequency *Frequency
	Unit      *string
	Topic     *string

	// IdentityChanges records attempted edits to immutable identity fields,
	// keyed by attribute name. Populated by transport layers that accept
	// free-form patches; always rejected by validation.
	IdentityChanges map[string]string
}

// IsEmpty reports whether the change set would alter nothing.
func (c ChangeSet) IsEmpty() bool {
	return c.Frequency == nil && c.Unit == nil && c.Topic == nil && len(c.IdentityChanges) == 0
}

// ApplyTo returns a copy of the assignment with the changes applied.
func (c ChangeSet) ApplyTo(a Assignment) Assignment {
	if c.Frequency != nil {
		a.Frequency = *c.Frequency
	}
	if c.Unit != nil {
		a.Unit = *c.Unit
	}
	if c.Topic != nil {
		a.Topic = *c.Topic
	}
	return a
}

// =============================================================================
// VALIDATION RESULT - Outcome of a pure change check
// =============================================================================

// ValidationResult reports whether a proposed change may proceed. Blocking
// errors abort the transition; warnings accompany an otherwise valid change
// (e.g. a frequency change that strands existing data at the old cadence).
type ValidationResult struct {
	IsValid  bool
	Blocking []string
	Warnings []string
}

func (r *ValidationResult) addBlocking(msg string) {
	r.Blocking = append(r.Blocking, msg)
	r.IsValid = false
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// =============================================================================
// ASSIGNMENT STORE - Persistence interface
// =============================================================================

// AssignmentStore persists assignment rows. Implementations must provide the
// declarative single-active constraint: Insert fails with ErrActiveConflict
// when a second active row for the same SeriesKey would result.
type AssignmentStore interface {
	// Insert persists a new assignment row. The only way rows come into being.
	Insert(ctx context.Context, a Assignment) error

	// UpdateStatus durably transitions the status of one row, recording the
	// reason and actor. Status (and its audit trail) is the only mutable part
	// of a persisted row.
	UpdateStatus(ctx context.Context, id AssignmentID, status SeriesStatus, reason, actor string) error

	// Get returns the row by id, or nil if absent.
	Get(ctx context.Context, id AssignmentID) (*Assignment, error)

	// ActiveFor returns all rows with status=active for the key. A correct
	// store returns zero or one; the slice return lets the versioning service
	// detect and repair invariant violations from partial failures.
	ActiveFor(ctx context.Context, key SeriesKey) ([]Assignment, error)

	// Series returns every version in a data series, most recent first.
	Series(ctx context.Context, seriesID DataSeriesID) ([]Assignment, error)
}

// SortSeries orders assignments most-recent-first by version. Stores may use
// it rather than relying on query ordering.
func SortSeries(rows []Assignment) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].SeriesVersion > rows[j].SeriesVersion
	})
}

// LatestVersion returns the highest version number in a series, 0 when empty.
func LatestVersion(rows []Assignment) int {
	max := 0
	for _, r := range rows {
		if r.SeriesVersion > max {
			max = r.SeriesVersion
		}
	}
	return max
}
