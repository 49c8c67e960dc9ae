// Package store provides in-memory implementations of the esg persistence
// interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/verdant/esg-engine/esg"
)

// =============================================================================
// MEMORY ASSIGNMENT STORE
// =============================================================================

// MemoryAssignments implements esg.AssignmentStore. The single-active
// constraint is enforced on Insert, mirroring the partial unique index the
// SQLite store declares.
type MemoryAssignments struct {
	mu   sync.RWMutex
	rows map[esg.AssignmentID]esg.Assignment
}

func NewMemoryAssignments() *MemoryAssignments {
	return &MemoryAssignments{rows: make(map[esg.AssignmentID]esg.Assignment)}
}

func (m *MemoryAssignments) Insert(_ context.Context, a esg.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.SeriesStatus == esg.StatusActive {
		for _, row := range m.rows {
			if row.SeriesStatus == esg.StatusActive && row.Key() == a.Key() {
				return &esg.ConflictError{
					FieldID:    a.FieldID,
					EntityID:   a.EntityID,
					CompanyID:  a.CompanyID,
					ExistingID: row.ID,
				}
			}
		}
	}

	m.rows[a.ID] = a
	return nil
}

func (m *MemoryAssignments) UpdateStatus(_ context.Context, id esg.AssignmentID, status esg.SeriesStatus, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return esg.ErrAssignmentNotFound
	}
	row.SeriesStatus = status
	row.ChangeReason = reason
	row.ChangedBy = actor
	m.rows[id] = row
	return nil
}

func (m *MemoryAssignments) Get(_ context.Context, id esg.AssignmentID) (*esg.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemoryAssignments) ActiveFor(_ context.Context, key esg.SeriesKey) ([]esg.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var actives []esg.Assignment
	for _, row := range m.rows {
		if row.SeriesStatus == esg.StatusActive && row.Key() == key {
			actives = append(actives, row)
		}
	}
	esg.SortSeries(actives)
	return actives, nil
}

func (m *MemoryAssignments) Series(_ context.Context, seriesID esg.DataSeriesID) ([]esg.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []esg.Assignment
	for _, row := range m.rows {
		if row.DataSeriesID == seriesID {
			rows = append(rows, row)
		}
	}
	esg.SortSeries(rows)
	return rows, nil
}

// ForceInsert bypasses the single-active check. Tests use it to fabricate the
// duplicate-active corruption the versioning service self-heals.
func (m *MemoryAssignments) ForceInsert(a esg.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = a
}

// =============================================================================
// MEMORY DATUM STORE
// =============================================================================

type datumKey struct {
	Field   esg.FieldID
	Entity  esg.EntityID
	Company esg.CompanyID
}

// MemoryData implements esg.DatumStore. Rows are kept date-ascending per key
// so range reads need no sorting.
type MemoryData struct {
	mu   sync.RWMutex
	rows map[datumKey][]esg.RawDatum
}

func NewMemoryData() *MemoryData {
	return &MemoryData{rows: make(map[datumKey][]esg.RawDatum)}
}

func (m *MemoryData) Put(_ context.Context, d esg.RawDatum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := datumKey{Field: d.FieldID, Entity: d.EntityID, Company: d.CompanyID}
	if !d.Draft {
		for _, row := range m.rows[k] {
			if !row.Draft && row.ReportingDate.Equal(d.ReportingDate) {
				return esg.ErrDuplicateDatum
			}
		}
	}
	m.insertLocked(k, d)
	return nil
}

func (m *MemoryData) Upsert(_ context.Context, d esg.RawDatum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := datumKey{Field: d.FieldID, Entity: d.EntityID, Company: d.CompanyID}
	rows := m.rows[k]
	for i, row := range rows {
		if !row.Draft && row.ReportingDate.Equal(d.ReportingDate) {
			rows[i] = d
			return nil
		}
	}
	m.insertLocked(k, d)
	return nil
}

// insertLocked keeps the slice date-ascending via binary search.
func (m *MemoryData) insertLocked(k datumKey, d esg.RawDatum) {
	rows := m.rows[k]
	i := sort.Search(len(rows), func(i int) bool {
		return rows[i].ReportingDate.After(d.ReportingDate)
	})
	rows = append(rows, esg.RawDatum{})
	copy(rows[i+1:], rows[i:])
	rows[i] = d
	m.rows[k] = rows
}

func (m *MemoryData) Get(_ context.Context, field esg.FieldID, entity esg.EntityID, date esg.TimePoint, company esg.CompanyID) (*esg.RawDatum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := datumKey{Field: field, Entity: entity, Company: company}
	for _, row := range m.rows[k] {
		if !row.Draft && row.ReportingDate.Equal(date) {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemoryData) Range(_ context.Context, field esg.FieldID, entity esg.EntityID, company esg.CompanyID, from, to esg.TimePoint) ([]esg.RawDatum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := datumKey{Field: field, Entity: entity, Company: company}
	var result []esg.RawDatum
	for _, row := range m.rows[k] {
		if !row.Draft && row.ReportingDate.AfterOrEqual(from) && row.ReportingDate.BeforeOrEqual(to) {
			result = append(result, row)
		}
	}
	return result, nil
}

func (m *MemoryData) CountFor(_ context.Context, field esg.FieldID, entity esg.EntityID, company esg.CompanyID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := datumKey{Field: field, Entity: entity, Company: company}
	count := 0
	for _, row := range m.rows[k] {
		if !row.Draft {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// MEMORY FIELD CATALOG
// =============================================================================

// MemoryCatalog implements esg.FieldCatalog.
type MemoryCatalog struct {
	mu     sync.RWMutex
	fields map[esg.FieldID]esg.FieldDefinition
}

func NewMemoryCatalog(fields ...esg.FieldDefinition) *MemoryCatalog {
	c := &MemoryCatalog{fields: make(map[esg.FieldID]esg.FieldDefinition)}
	for _, f := range fields {
		c.fields[f.ID] = f
	}
	return c
}

func (c *MemoryCatalog) Define(f esg.FieldDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields[f.ID] = f
}

func (c *MemoryCatalog) Field(_ context.Context, id esg.FieldID) (*esg.FieldDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.fields[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (c *MemoryCatalog) DependentsOf(_ context.Context, raw esg.FieldID) ([]esg.FieldDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var deps []esg.FieldDefinition
	for _, f := range c.fields {
		if f.Computed && f.DependsOn(raw) {
			deps = append(deps, f)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
	return deps, nil
}

// =============================================================================
// MEMORY FISCAL CONFIGS
// =============================================================================

// MemoryFiscalConfigs implements esg.FiscalConfigReader with a writable map.
// Companies without an explicit config fall back to the calendar year.
type MemoryFiscalConfigs struct {
	mu      sync.RWMutex
	configs map[esg.CompanyID]esg.FiscalYearConfig
}

func NewMemoryFiscalConfigs() *MemoryFiscalConfigs {
	return &MemoryFiscalConfigs{configs: make(map[esg.CompanyID]esg.FiscalYearConfig)}
}

func (m *MemoryFiscalConfigs) Set(company esg.CompanyID, cfg esg.FiscalYearConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[company] = cfg
}

func (m *MemoryFiscalConfigs) FiscalConfig(_ context.Context, company esg.CompanyID) (esg.FiscalYearConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cfg, ok := m.configs[company]; ok {
		return cfg, nil
	}
	return esg.DefaultFiscalYearConfig, nil
}
