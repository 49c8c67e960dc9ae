/*
resolver.go - Read path: the one authoritative assignment for a date

PURPOSE:
  Given (field, entity, date, company), return the assignment whose
  configuration governs that data point. The primary rule is simple - the
  currently active row for the key - but the surrounding machinery matters:

  PERMISSIVENESS:
    Resolve does not reject based on whether the date falls inside the
    active assignment's fiscal period. The same lookup serves metadata and
    display surfaces, where a date outside the current period is routine.
    The strict check lives in IsValidReportingDate and runs at the moment a
    new data write is accepted.

  DEFENSE:
    If multiple active rows exist (an invariant violation upstream), the
    highest version wins and a diagnostic is emitted.

CACHING:
  A bounded LRU fronts the store, keyed by (field, entity, date, company)
  PLUS a per-key generation counter. The versioning service bumps the
  generation after every transition, so every cached resolution for the key -
  including negative "no assignment" entries - is unreachable the instant a
  version changes. Stale entries age out of the LRU by capacity.

SEE ALSO:
  - versioning.go: Pushes invalidation through CacheInvalidator
  - fiscal.go: Reporting-date arithmetic
*/
package esg

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// DefaultResolverCacheSize bounds the resolution cache when no size is given.
const DefaultResolverCacheSize = 4096

// =============================================================================
// RESOLVER
// =============================================================================

type resolveKey struct {
	field   FieldID
	entity  EntityID
	company CompanyID
	date    string
	gen     uint64
}

// cachedResolution wraps the result so negative lookups cache too.
type cachedResolution struct {
	assignment *Assignment
}

type Resolver struct {
	store  AssignmentStore
	fiscal FiscalConfigReader
	log    logrus.FieldLogger

	mu    sync.Mutex
	gens  map[SeriesKey]uint64
	cache *lru.Cache[resolveKey, cachedResolution]
}

func NewResolver(store AssignmentStore, fiscal FiscalConfigReader, log logrus.FieldLogger, cacheSize int) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultResolverCacheSize
	}
	cache, _ := lru.New[resolveKey, cachedResolution](cacheSize)
	return &Resolver{
		store:  store,
		fiscal: fiscal,
		log:    log,
		gens:   make(map[SeriesKey]uint64),
		cache:  cache,
	}
}

// Invalidate bumps the generation for a key, orphaning every cached
// resolution that references it. Implements CacheInvalidator.
func (r *Resolver) Invalidate(key SeriesKey) {
	r.mu.Lock()
	r.gens[key]++
	r.mu.Unlock()
}

func (r *Resolver) generation(key SeriesKey) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[key]
}

// =============================================================================
// RESOLVE - Primary lookup
// =============================================================================

// Resolve returns the assignment governing (field, entity, date) for the
// company, or nil when none is active. A nil result is not an error; callers
// aggregating data treat it as incomplete input.
func (r *Resolver) Resolve(ctx context.Context, field FieldID, entity EntityID, date TimePoint, company CompanyID) (*Assignment, error) {
	seriesKey := SeriesKey{FieldID: field, EntityID: entity, CompanyID: company}
	key := resolveKey{
		field:   field,
		entity:  entity,
		company: company,
		date:    date.String(),
		gen:     r.generation(seriesKey),
	}

	if hit, ok := r.cache.Get(key); ok {
		return hit.assignment, nil
	}

	actives, err := r.store.ActiveFor(ctx, seriesKey)
	if err != nil {
		return nil, err
	}

	var resolved *Assignment
	switch len(actives) {
	case 0:
		resolved = nil
	case 1:
		a := actives[0]
		resolved = &a
	default:
		// Invariant violation upstream: prefer the highest version and say so.
		SortSeries(actives)
		a := actives[0]
		resolved = &a
		r.log.WithFields(logrus.Fields{
			"field":   field,
			"entity":  entity,
			"company": company,
			"count":   len(actives),
			"chosen":  a.ID,
		}).Warn("multiple active assignments; resolving to highest version")
	}

	r.cache.Add(key, cachedResolution{assignment: resolved})
	return resolved, nil
}

// ResolveWithExplicitID resolves via a caller-supplied assignment id, used
// when a write is tied to a specific historical version. The id must match
// the field and entity and the date must be a reporting date under that
// assignment's cadence; anything else falls back to the primary rule.
func (r *Resolver) ResolveWithExplicitID(ctx context.Context, field FieldID, entity EntityID, date TimePoint, company CompanyID, id AssignmentID) (*Assignment, error) {
	if id == "" {
		return r.Resolve(ctx, field, entity, date, company)
	}

	a, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.FieldID != field || a.EntityID != entity || a.CompanyID != company {
		return r.Resolve(ctx, field, entity, date, company)
	}

	ok, err := r.IsValidReportingDate(ctx, *a, date)
	if err != nil {
		return nil, err
	}
	if !ok {
		return r.Resolve(ctx, field, entity, date, company)
	}
	return a, nil
}

// =============================================================================
// REPORTING DATES - The strict check, used at data-write time
// =============================================================================

// IsValidReportingDate reports whether the date is a period end for the
// assignment's frequency under its company's fiscal calendar.
func (r *Resolver) IsValidReportingDate(ctx context.Context, a Assignment, date TimePoint) (bool, error) {
	cal, err := r.calendarFor(ctx, a.CompanyID)
	if err != nil {
		return false, err
	}
	return cal.IsPeriodEnd(a.Frequency, date), nil
}

// ValidReportingDates lists the reporting dates for an assignment in a
// fiscal year. Pass fiscalYear 0 for the year containing today.
func (r *Resolver) ValidReportingDates(ctx context.Context, a Assignment, fiscalYear int) ([]TimePoint, error) {
	cal, err := r.calendarFor(ctx, a.CompanyID)
	if err != nil {
		return nil, err
	}
	if fiscalYear == 0 {
		fiscalYear = cal.FiscalYearOf(Today())
	}
	return cal.PeriodEnds(a.Frequency, fiscalYear), nil
}

func (r *Resolver) calendarFor(ctx context.Context, company CompanyID) (FiscalCalendar, error) {
	cfg, err := r.fiscal.FiscalConfig(ctx, company)
	if err != nil {
		return FiscalCalendar{}, fmt.Errorf("%w: %v", ErrNoFiscalConfig, err)
	}
	return NewFiscalCalendar(cfg), nil
}
