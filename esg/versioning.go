/*
versioning.go - State-machine transitions over the assignment store

PURPOSE:
  All writes to assignment history flow through this service:
  1. Create       - start a new data series at version 1, active
  2. CreateVersion - supersede the current row, insert version N+1 active
  3. Supersede    - deactivate an active row with no replacement
  4. ValidateChange - pure pre-check of a proposed change set

SINGLE-ACTIVE INVARIANT:
  "At most one active assignment per (field, entity, company)" is enforced
  twice: declaratively by the store (a uniqueness constraint scoped to
  status=active) and here by a pre-insert guard that queries currently-active
  rows. The guard is the only mechanism that can act mid-transition, before
  the store constraint is checked.

TWO-PHASE TRANSITION:
  CreateVersion performs two sequential durable writes: phase 1 marks the
  current row superseded, phase 2 inserts the new row active. The ordering is
  deliberate - the pre-insert guard must observe the superseded state of the
  old row, or the insert would spuriously fail against its own predecessor.
  A guard-bypass token scoped to the (field, entity, company) key covers the
  orchestrated sequence and is released on every exit path. The token is a
  local value threaded through the call, never process-shared state.

FAILURE MODES:
  Validation failure  -> reported error, no mutation
  Phase 2 failure     -> phase 1 rolled back, no partial state survives
  Duplicate actives found before transition -> forcibly superseded and logged
  at error severity; recovery hides an upstream invariant violation, so the
  log line is the alarm.

SEE ALSO:
  - assignment.go: Record shape and store interface
  - resolver.go: Receives cache invalidation after every transition
*/
package esg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// SERVICE
// =============================================================================

// CacheInvalidator receives a notification after every assignment transition
// so resolution caches never serve a stale version.
type CacheInvalidator interface {
	Invalidate(key SeriesKey)
}

// VersioningService owns all assignment state transitions.
type VersioningService struct {
	store AssignmentStore
	data  DatumStore
	log   logrus.FieldLogger

	invalidator CacheInvalidator
}

func NewVersioningService(store AssignmentStore, data DatumStore, log logrus.FieldLogger) *VersioningService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VersioningService{store: store, data: data, log: log}
}

// SetInvalidator wires the resolver's cache invalidation hook.
func (s *VersioningService) SetInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

// =============================================================================
// GUARD BYPASS - Transaction-scoped token
// =============================================================================

// guardBypass suppresses the pre-insert guard for one orchestrated two-phase
// sequence. It is created inside CreateVersion, passed down explicitly, and
// released on every exit path. Being a local value rather than shared state,
// it cannot leak across requests.
type guardBypass struct {
	key      SeriesKey
	released bool
}

func (b *guardBypass) covers(key SeriesKey) bool {
	return b != nil && !b.released && b.key == key
}

func (b *guardBypass) release() {
	if b != nil {
		b.released = true
	}
}

// =============================================================================
// CREATE - Version 1 of a new series
// =============================================================================

// NewAssignmentInput carries the attributes of a brand-new assignment.
type NewAssignmentInput struct {
	FieldID   FieldID
	EntityID  EntityID
	CompanyID CompanyID
	Frequency Frequency
	Unit      string
	Topic     string
}

// Create starts a new data series: version 1, status active. Fails with a
// ConflictError when an active assignment already occupies the key.
func (s *VersioningService) Create(ctx context.Context, in NewAssignmentInput, reason, actor string) (*Assignment, error) {
	if !in.Frequency.IsValid() {
		return nil, fmt.Errorf("invalid frequency %q", in.Frequency)
	}
	now := time.Now().UTC()
	a := Assignment{
		ID:            AssignmentID(uuid.NewString()),
		FieldID:       in.FieldID,
		EntityID:      in.EntityID,
		CompanyID:     in.CompanyID,
		Frequency:     in.Frequency,
		Unit:          in.Unit,
		Topic:         in.Topic,
		DataSeriesID:  DataSeriesID(uuid.NewString()),
		SeriesVersion: 1,
		SeriesStatus:  StatusActive,
		ChangeReason:  reason,
		ChangedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.guardedInsert(ctx, a, nil); err != nil {
		return nil, err
	}
	s.invalidate(a.Key())
	return &a, nil
}

// =============================================================================
// CREATE VERSION - Supersede-then-activate
// =============================================================================

// CreateVersion transitions a series to its next version. The current row
// must be active or inactive and owned by the caller's company. Returns the
// new active row plus any non-blocking warnings from validation.
func (s *VersioningService) CreateVersion(ctx context.Context, caller CompanyID, id AssignmentID, changes ChangeSet, reason, actor string) (*Assignment, []string, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cur == nil {
		return nil, nil, ErrAssignmentNotFound
	}
	if cur.CompanyID != caller {
		return nil, nil, ErrTenantMismatch
	}
	if !cur.SeriesStatus.Versionable() {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotVersionable, id, cur.SeriesStatus)
	}

	result, err := s.ValidateChange(ctx, caller, id, changes)
	if err != nil {
		return nil, nil, err
	}
	if !result.IsValid {
		return nil, nil, &ValidationFailure{AssignmentID: id, Blocking: result.Blocking}
	}

	if err := s.healDuplicateActives(ctx, *cur, actor); err != nil {
		return nil, nil, err
	}

	bypass := &guardBypass{key: cur.Key()}
	defer bypass.release()

	// Phase 1: durably supersede the current row.
	wasActive := cur.SeriesStatus == StatusActive
	if wasActive {
		if err := s.store.UpdateStatus(ctx, cur.ID, StatusSuperseded, reason, actor); err != nil {
			return nil, nil, fmt.Errorf("supersede version %d: %w", cur.SeriesVersion, err)
		}
	}

	// Phase 2: insert the next version as active.
	next := changes.ApplyTo(*cur)
	next.ID = AssignmentID(uuid.NewString())
	next.SeriesVersion = cur.SeriesVersion + 1
	next.SeriesStatus = StatusActive
	next.ChangeReason = reason
	next.ChangedBy = actor
	now := time.Now().UTC()
	next.CreatedAt = now
	next.UpdatedAt = now

	if err := s.guardedInsert(ctx, next, bypass); err != nil {
		if wasActive {
			// Restore the prior audit fields too; the failed transition must
			// not overwrite the record of how this version came to be.
			if rbErr := s.store.UpdateStatus(ctx, cur.ID, StatusActive, cur.ChangeReason, cur.ChangedBy); rbErr != nil {
				s.log.WithError(rbErr).WithFields(logrus.Fields{
					"assignment": cur.ID,
					"series":     cur.DataSeriesID,
				}).Error("rollback after failed version insert left series without an active row")
			}
		}
		return nil, nil, err
	}

	s.invalidate(next.Key())
	return &next, result.Warnings, nil
}

// =============================================================================
// SUPERSEDE - Deactivate with no replacement
// =============================================================================

// Supersede transitions an active assignment to inactive. The series keeps
// its history; no new version is created.
func (s *VersioningService) Supersede(ctx context.Context, caller CompanyID, id AssignmentID, reason, actor string) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrAssignmentNotFound
	}
	if cur.CompanyID != caller {
		return ErrTenantMismatch
	}
	if cur.SeriesStatus != StatusActive {
		return fmt.Errorf("%w: %s is %s", ErrNotActive, id, cur.SeriesStatus)
	}

	if err := s.store.UpdateStatus(ctx, cur.ID, StatusInactive, reason, actor); err != nil {
		return err
	}
	s.invalidate(cur.Key())
	return nil
}

// =============================================================================
// VALIDATE CHANGE - Pure pre-check, no mutation
// =============================================================================

// ValidateChange checks a proposed change set against the current row.
// Blocking: edits to identity fields. Warning-only: frequency changes when
// data already references the key (counts the rows), and unit changes.
func (s *VersioningService) ValidateChange(ctx context.Context, caller CompanyID, id AssignmentID, changes ChangeSet) (*ValidationResult, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrAssignmentNotFound
	}
	if cur.CompanyID != caller {
		return nil, ErrTenantMismatch
	}

	result := &ValidationResult{IsValid: true}

	for attr := range changes.IdentityChanges {
		result.addBlocking(fmt.Sprintf("%s is immutable; create a new assignment instead", attr))
	}

	if changes.Frequency != nil && *changes.Frequency != cur.Frequency {
		if !changes.Frequency.IsValid() {
			result.addBlocking(fmt.Sprintf("invalid frequency %q", *changes.Frequency))
		} else if s.data != nil {
			count, err := s.data.CountFor(ctx, cur.FieldID, cur.EntityID, cur.CompanyID)
			if err != nil {
				return nil, err
			}
			if count > 0 {
				result.addWarning(fmt.Sprintf(
					"frequency change from %s to %s affects %d existing data points collected at the old cadence",
					cur.Frequency, *changes.Frequency, count))
			}
		}
	}

	if changes.Unit != nil && *changes.Unit != cur.Unit {
		result.addWarning(fmt.Sprintf(
			"unit change from %q to %q may require recalculation of derived values",
			cur.Unit, *changes.Unit))
	}

	return result, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// guardedInsert runs the application-level single-active guard before handing
// the row to the store, unless a bypass token covering the key is in effect.
// The store's own constraint remains authoritative either way.
func (s *VersioningService) guardedInsert(ctx context.Context, a Assignment, bypass *guardBypass) error {
	if !bypass.covers(a.Key()) {
		actives, err := s.store.ActiveFor(ctx, a.Key())
		if err != nil {
			return err
		}
		if len(actives) > 0 {
			return &ConflictError{
				FieldID:    a.FieldID,
				EntityID:   a.EntityID,
				CompanyID:  a.CompanyID,
				ExistingID: actives[0].ID,
			}
		}
	}
	return s.store.Insert(ctx, a)
}

// healDuplicateActives supersedes any active row for the key other than the
// one being transitioned. Structurally impossible under the invariant, but
// partial failures can leave duplicates behind; logged at error severity
// because it means an earlier write broke the invariant upstream.
func (s *VersioningService) healDuplicateActives(ctx context.Context, cur Assignment, actor string) error {
	actives, err := s.store.ActiveFor(ctx, cur.Key())
	if err != nil {
		return err
	}
	for _, a := range actives {
		if a.ID == cur.ID {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"assignment": a.ID,
			"series":     a.DataSeriesID,
			"field":      a.FieldID,
			"entity":     a.EntityID,
			"company":    a.CompanyID,
		}).Error("duplicate active assignment found; forcibly superseding")
		if err := s.store.UpdateStatus(ctx, a.ID, StatusSuperseded, "self-heal: duplicate active", actor); err != nil {
			return fmt.Errorf("heal duplicate active %s: %w", a.ID, err)
		}
	}
	return nil
}

func (s *VersioningService) invalidate(key SeriesKey) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(key)
	}
}
