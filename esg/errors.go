/*
errors.go - Centralized error types for the esg engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Collaborating packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any mutation (immutable field edits,
     illegal frequency upsampling)
  2. Conflict errors - The single-active invariant guard tripped; the whole
     version-creation operation aborts with no partial state
  3. Resolution errors - Lookup failures and tenancy violations

NOT ERRORS:
  Incomplete dependency data never surfaces as an error. The aggregation
  engine returns a structured skipped result with a human-readable reason
  instead (see ComputeResult in aggregation.go).

USAGE:
  if errors.Is(err, esg.ErrActiveConflict) {
      // concurrent version creation, safe to retry
  }

SEE ALSO:
  - versioning.go: Uses conflict and validation errors
  - aggregation.go: Uses upsampling validation errors
*/
package esg

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAssignmentNotFound is returned when a referenced assignment doesn't exist.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrFieldNotFound is returned when a referenced field definition doesn't exist.
	ErrFieldNotFound = errors.New("field not found")

	// ErrTenantMismatch is returned when a caller's company does not own the
	// assignment it is operating on. Cross-tenant access is forbidden by construction.
	ErrTenantMismatch = errors.New("assignment belongs to a different company")

	// ErrNotVersionable is returned when versioning a superseded or legacy row.
	ErrNotVersionable = errors.New("assignment is not active or inactive")

	// ErrNotActive is returned when superseding an assignment that is not active.
	ErrNotActive = errors.New("assignment is not active")

	// ErrActiveConflict is returned when the single-active guard finds another
	// active assignment for the same (field, entity, company).
	ErrActiveConflict = errors.New("another active assignment exists for this field and entity")

	// ErrImmutableField is returned when a change set touches identity fields.
	ErrImmutableField = errors.New("identity fields are immutable")

	// ErrIllegalUpsampling is returned when a dependency's frequency is coarser
	// than the computed field's frequency. There is no defensible way to split
	// an annual observation into months, so the engine refuses to guess.
	ErrIllegalUpsampling = errors.New("cannot derive higher-frequency values from lower-frequency source")

	// ErrDuplicateDatum is returned when a second non-draft datum is written for
	// the same (field, entity, reporting date, company).
	ErrDuplicateDatum = errors.New("datum already exists for this reporting date")

	// ErrInvalidReportingDate is returned at the data-write path when the date is
	// not a period end for the assignment's frequency and fiscal calendar.
	ErrInvalidReportingDate = errors.New("not a valid reporting date for this assignment")

	// ErrNoFiscalConfig is returned when a company has no fiscal-year configuration.
	ErrNoFiscalConfig = errors.New("no fiscal year configuration for company")

	// ErrMalformedFormula is returned when a formula expression fails to parse.
	ErrMalformedFormula = errors.New("malformed formula expression")

	// ErrUnknownVariable is returned when a formula references a variable with
	// no resolved value.
	ErrUnknownVariable = errors.New("formula variable has no value")

	// ErrDivisionByZero is returned when a formula divides by a zero value.
	ErrDivisionByZero = errors.New("division by zero in formula")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationFailure carries the blocking errors from a rejected change set.
type ValidationFailure struct {
	AssignmentID AssignmentID
	Blocking     []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.AssignmentID, strings.Join(e.Blocking, "; "))
}

func (e *ValidationFailure) Unwrap() error { return ErrImmutableField }

// ConflictError provides details about a single-active invariant violation.
type ConflictError struct {
	FieldID    FieldID
	EntityID   EntityID
	CompanyID  CompanyID
	ExistingID AssignmentID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("active assignment %s already exists for field=%s entity=%s company=%s",
		e.ExistingID, e.FieldID, e.EntityID, e.CompanyID)
}

func (e *ConflictError) Unwrap() error { return ErrActiveConflict }

// UpsamplingError names the frequency pair that made an aggregation illegal.
type UpsamplingError struct {
	Dependency FieldID
	From       Frequency
	To         Frequency
}

func (e *UpsamplingError) Error() string {
	return fmt.Sprintf("dependency %s is %s but computed field is %s: %v",
		e.Dependency, e.From, e.To, ErrIllegalUpsampling)
}

func (e *UpsamplingError) Unwrap() error { return ErrIllegalUpsampling }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the operation aborted on the uniqueness guard and
// might succeed on retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrActiveConflict)
}

// IsValidationFailure returns true if the error is due to invalid caller input.
func IsValidationFailure(err error) bool {
	return errors.Is(err, ErrImmutableField) ||
		errors.Is(err, ErrIllegalUpsampling) ||
		errors.Is(err, ErrInvalidReportingDate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrFieldNotFound)
}
