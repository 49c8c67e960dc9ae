/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (esg.AssignmentStore, esg.DatumStore,
  esg.FieldCatalog, esg.FiscalConfigReader) over a single SQLite connection.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  esg.AssignmentStore:    Store.Assignments() view
  esg.DatumStore:         Store.Data() view
  esg.FieldCatalog:       Store itself
  esg.FiscalConfigReader: Store itself

  The assignment and datum interfaces both declare a Get method with
  different signatures, so each is served by a small view type sharing the
  Store's connection and lock.

KEY TABLES:
  assignments:    Versioned assignment history (append + status updates only)
  data_points:    Raw and computed values, dimensional payloads as JSON
  fields:         Field definitions with mapping config
  fiscal_configs: Per-company fiscal year end

INVARIANT ENFORCEMENT:
  The single-active rule is declared as a partial unique index on
  (field_id, entity_id, company_id) scoped to series_status = 'active'. This
  is the authoritative enforcement; the versioning service's pre-insert guard
  is defense-in-depth. Datum uniqueness uses the same technique scoped to
  draft = 0.

APPEND-ONLY ENFORCEMENT:
  Assignment rows are never deleted. Only series_status and its audit fields
  are ever updated, so superseded and inactive rows serve historical
  resolution forever.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  behind the single writer.

USAGE:
  store, err := sqlite.New("./data/esg.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - esg/assignment.go, esg/datum.go: Interface definitions
  - esg/store/memory.go: In-memory implementations for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/verdant/esg-engine/esg"
)

// Store holds the shared connection. Use Assignments() and Data() for the
// interfaces whose method names collide.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Assignments returns the esg.AssignmentStore view.
func (s *Store) Assignments() *AssignmentStore {
	return &AssignmentStore{s: s}
}

// Data returns the esg.DatumStore view.
func (s *Store) Data() *DatumStore {
	return &DatumStore{s: s}
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Assignment history: rows are appended and status-updated, never deleted
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		field_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		frequency TEXT NOT NULL,
		unit TEXT,
		topic TEXT,
		data_series_id TEXT NOT NULL,
		series_version INTEGER NOT NULL,
		series_status TEXT NOT NULL,
		change_reason TEXT,
		changed_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one active assignment per (field, entity, company).
	-- Authoritative enforcement of the single-active rule; the versioning
	-- service's pre-insert guard is defense-in-depth on top.
	CREATE UNIQUE INDEX IF NOT EXISTS ux_assignments_single_active
		ON assignments(field_id, entity_id, company_id)
		WHERE series_status = 'active';

	CREATE INDEX IF NOT EXISTS idx_assignments_series
		ON assignments(data_series_id, series_version DESC);
	CREATE INDEX IF NOT EXISTS idx_assignments_key
		ON assignments(field_id, entity_id, company_id);

	-- Raw and computed data points
	CREATE TABLE IF NOT EXISTS data_points (
		id TEXT PRIMARY KEY,
		field_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		reporting_date TEXT NOT NULL,
		value TEXT NOT NULL,
		breakdowns_json TEXT,
		draft INTEGER NOT NULL DEFAULT 0,
		computed INTEGER NOT NULL DEFAULT 0,
		assignment_id TEXT,
		created_at TEXT NOT NULL
	);

	-- At most one non-draft datum per (field, entity, company, reporting date)
	CREATE UNIQUE INDEX IF NOT EXISTS ux_data_points_reporting_date
		ON data_points(field_id, entity_id, company_id, reporting_date)
		WHERE draft = 0;

	CREATE INDEX IF NOT EXISTS idx_data_points_range
		ON data_points(field_id, entity_id, company_id, reporting_date);

	-- Field definitions; mappings stored as JSON config
	CREATE TABLE IF NOT EXISTS fields (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT,
		computed INTEGER NOT NULL DEFAULT 0,
		formula TEXT,
		mappings_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Per-company fiscal year end
	CREATE TABLE IF NOT EXISTS fiscal_configs (
		company_id TEXT PRIMARY KEY,
		end_month INTEGER NOT NULL,
		end_day INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ASSIGNMENT STORE (esg.AssignmentStore)
// =============================================================================

// AssignmentStore is the assignment view over the shared connection.
type AssignmentStore struct {
	s *Store
}

// Insert persists a new assignment row. A second active row for the key
// violates ux_assignments_single_active and surfaces as a ConflictError.
func (v *AssignmentStore) Insert(ctx context.Context, a esg.Assignment) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	query := `
		INSERT INTO assignments
		(id, field_id, entity_id, company_id, frequency, unit, topic,
		 data_series_id, series_version, series_status, change_reason, changed_by,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := v.s.db.ExecContext(ctx, query,
		a.ID, a.FieldID, a.EntityID, a.CompanyID,
		a.Frequency, nullString(a.Unit), nullString(a.Topic),
		a.DataSeriesID, a.SeriesVersion, a.SeriesStatus,
		nullString(a.ChangeReason), nullString(a.ChangedBy),
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &esg.ConflictError{
				FieldID:   a.FieldID,
				EntityID:  a.EntityID,
				CompanyID: a.CompanyID,
			}
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// UpdateStatus durably transitions one row's status and audit fields.
func (v *AssignmentStore) UpdateStatus(ctx context.Context, id esg.AssignmentID, status esg.SeriesStatus, reason, actor string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	query := `
		UPDATE assignments
		SET series_status = ?, change_reason = ?, changed_by = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := v.s.db.ExecContext(ctx, query,
		status, nullString(reason), nullString(actor),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return esg.ErrActiveConflict
		}
		return fmt.Errorf("failed to update assignment status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return esg.ErrAssignmentNotFound
	}
	return nil
}

// Get returns an assignment by id, or nil when absent.
func (v *AssignmentStore) Get(ctx context.Context, id esg.AssignmentID) (*esg.Assignment, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	rows, err := v.s.queryAssignments(ctx, selectAssignments+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ActiveFor returns all active rows for the key. Zero or one when healthy;
// more than one only after an upstream invariant violation.
func (v *AssignmentStore) ActiveFor(ctx context.Context, key esg.SeriesKey) ([]esg.Assignment, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.queryAssignments(ctx,
		selectAssignments+`
		WHERE field_id = ? AND entity_id = ? AND company_id = ? AND series_status = 'active'
		ORDER BY series_version DESC`,
		key.FieldID, key.EntityID, key.CompanyID)
}

// Series returns every version in a data series, most recent first.
func (v *AssignmentStore) Series(ctx context.Context, seriesID esg.DataSeriesID) ([]esg.Assignment, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.queryAssignments(ctx,
		selectAssignments+" WHERE data_series_id = ? ORDER BY series_version DESC",
		seriesID)
}

const selectAssignments = `
	SELECT id, field_id, entity_id, company_id, frequency, unit, topic,
	       data_series_id, series_version, series_status, change_reason, changed_by,
	       created_at, updated_at
	FROM assignments
`

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]esg.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []esg.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func scanAssignment(rows *sql.Rows) (esg.Assignment, error) {
	var (
		a                    esg.Assignment
		unit, topic          sql.NullString
		changeReason, actor  sql.NullString
		createdAt, updatedAt string
	)

	err := rows.Scan(
		&a.ID, &a.FieldID, &a.EntityID, &a.CompanyID, &a.Frequency,
		&unit, &topic, &a.DataSeriesID, &a.SeriesVersion, &a.SeriesStatus,
		&changeReason, &actor, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan assignment: %w", err)
	}

	a.Unit = unit.String
	a.Topic = topic.String
	a.ChangeReason = changeReason.String
	a.ChangedBy = actor.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return a, nil
}

// =============================================================================
// DATUM STORE (esg.DatumStore)
// =============================================================================

// DatumStore is the data-point view over the shared connection.
type DatumStore struct {
	s *Store
}

// Put persists a datum. A second non-draft row for the same key violates
// ux_data_points_reporting_date and surfaces as ErrDuplicateDatum.
func (v *DatumStore) Put(ctx context.Context, d esg.RawDatum) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, err := v.s.db.ExecContext(ctx, insertDatum, datumArgs(d)...); err != nil {
		if isUniqueConstraintError(err) {
			return esg.ErrDuplicateDatum
		}
		return fmt.Errorf("failed to insert datum: %w", err)
	}
	return nil
}

// Upsert persists a datum, replacing any existing non-draft row for the key.
// Delete-then-insert rather than ON CONFLICT: a replayed computed datum
// collides on both the reporting-date index and its deterministic primary
// key, and a single conflict target cannot cover both.
func (v *DatumStore) Upsert(ctx context.Context, d esg.RawDatum) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	tx, err := v.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	if !d.Draft {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM data_points
			 WHERE (field_id = ? AND entity_id = ? AND company_id = ? AND reporting_date = ? AND draft = 0)
			    OR id = ?`,
			d.FieldID, d.EntityID, d.CompanyID, d.ReportingDate.String(), d.ID)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM data_points WHERE id = ?", d.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to clear datum for upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, insertDatum, datumArgs(d)...); err != nil {
		return fmt.Errorf("failed to upsert datum: %w", err)
	}
	return tx.Commit()
}

const insertDatum = `
	INSERT INTO data_points
	(id, field_id, entity_id, company_id, reporting_date, value, breakdowns_json,
	 draft, computed, assignment_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func datumArgs(d esg.RawDatum) []any {
	var breakdownsJSON sql.NullString
	if len(d.Breakdowns) > 0 {
		b, _ := json.Marshal(d.Breakdowns)
		breakdownsJSON = sql.NullString{String: string(b), Valid: true}
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		d.ID, d.FieldID, d.EntityID, d.CompanyID,
		d.ReportingDate.String(), d.Value.String(), breakdownsJSON,
		boolToInt(d.Draft), boolToInt(d.Computed), nullString(string(d.AssignmentID)),
		createdAt.UTC().Format(time.RFC3339),
	}
}

// Get returns the non-draft datum for the exact key, or nil.
func (v *DatumStore) Get(ctx context.Context, field esg.FieldID, entity esg.EntityID, date esg.TimePoint, company esg.CompanyID) (*esg.RawDatum, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	rows, err := v.s.queryData(ctx,
		selectData+`
		WHERE field_id = ? AND entity_id = ? AND company_id = ?
		  AND reporting_date = ? AND draft = 0`,
		field, entity, company, date.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Range returns non-draft data in [from, to], date ascending.
func (v *DatumStore) Range(ctx context.Context, field esg.FieldID, entity esg.EntityID, company esg.CompanyID, from, to esg.TimePoint) ([]esg.RawDatum, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.queryData(ctx,
		selectData+`
		WHERE field_id = ? AND entity_id = ? AND company_id = ? AND draft = 0
		  AND reporting_date >= ? AND reporting_date <= ?
		ORDER BY reporting_date ASC`,
		field, entity, company, from.String(), to.String())
}

// CountFor returns the number of non-draft rows referencing the key.
func (v *DatumStore) CountFor(ctx context.Context, field esg.FieldID, entity esg.EntityID, company esg.CompanyID) (int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var count int
	err := v.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM data_points
		 WHERE field_id = ? AND entity_id = ? AND company_id = ? AND draft = 0`,
		field, entity, company,
	).Scan(&count)
	return count, err
}

const selectData = `
	SELECT id, field_id, entity_id, company_id, reporting_date, value,
	       breakdowns_json, draft, computed, assignment_id, created_at
	FROM data_points
`

func (s *Store) queryData(ctx context.Context, query string, args ...any) ([]esg.RawDatum, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query data points: %w", err)
	}
	defer rows.Close()

	var data []esg.RawDatum
	for rows.Next() {
		d, err := scanDatum(rows)
		if err != nil {
			return nil, err
		}
		data = append(data, d)
	}
	return data, rows.Err()
}

func scanDatum(rows *sql.Rows) (esg.RawDatum, error) {
	var (
		d               esg.RawDatum
		reportingDate   string
		value           string
		breakdownsJSON  sql.NullString
		draft, computed int
		assignmentID    sql.NullString
		createdAt       string
	)

	err := rows.Scan(
		&d.ID, &d.FieldID, &d.EntityID, &d.CompanyID, &reportingDate,
		&value, &breakdownsJSON, &draft, &computed, &assignmentID, &createdAt,
	)
	if err != nil {
		return d, fmt.Errorf("failed to scan datum: %w", err)
	}

	d.ReportingDate, err = esg.ParseDate(reportingDate)
	if err != nil {
		return d, fmt.Errorf("failed to parse reporting date %q: %w", reportingDate, err)
	}
	d.Value, err = decimal.NewFromString(value)
	if err != nil {
		return d, fmt.Errorf("failed to parse value %q: %w", value, err)
	}
	d.Draft = draft != 0
	d.Computed = computed != 0
	d.AssignmentID = esg.AssignmentID(assignmentID.String)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if breakdownsJSON.Valid && breakdownsJSON.String != "" {
		if err := json.Unmarshal([]byte(breakdownsJSON.String), &d.Breakdowns); err != nil {
			return d, fmt.Errorf("failed to parse breakdowns: %w", err)
		}
	}
	return d, nil
}

// =============================================================================
// FIELD CATALOG (esg.FieldCatalog)
// =============================================================================

// SaveField persists (or replaces) a field definition.
func (s *Store) SaveField(ctx context.Context, f esg.FieldDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mappingsJSON, err := json.Marshal(f.Mappings)
	if err != nil {
		return fmt.Errorf("failed to encode mappings: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO fields (id, name, unit, computed, formula, mappings_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			computed = excluded.computed,
			formula = excluded.formula,
			mappings_json = excluded.mappings_json,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		f.ID, f.Name, nullString(f.Unit), boolToInt(f.Computed),
		nullString(f.Formula), string(mappingsJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save field: %w", err)
	}
	return nil
}

// Field returns a field definition by id, or nil.
func (s *Store) Field(ctx context.Context, id esg.FieldID) (*esg.FieldDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, err := s.queryFields(ctx, selectFields+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &fields[0], nil
}

// DependentsOf returns computed fields with a mapping onto the raw field.
// Mapping edges live inside JSON config, so the filter runs in Go.
func (s *Store) DependentsOf(ctx context.Context, raw esg.FieldID) ([]esg.FieldDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, err := s.queryFields(ctx, selectFields+" WHERE computed = 1 ORDER BY id")
	if err != nil {
		return nil, err
	}

	var deps []esg.FieldDefinition
	for _, f := range fields {
		if f.DependsOn(raw) {
			deps = append(deps, f)
		}
	}
	return deps, nil
}

const selectFields = `
	SELECT id, name, unit, computed, formula, mappings_json
	FROM fields
`

func (s *Store) queryFields(ctx context.Context, query string, args ...any) ([]esg.FieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	var fields []esg.FieldDefinition
	for rows.Next() {
		var (
			f            esg.FieldDefinition
			unit         sql.NullString
			computed     int
			formula      sql.NullString
			mappingsJSON sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Name, &unit, &computed, &formula, &mappingsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		f.Unit = unit.String
		f.Computed = computed != 0
		f.Formula = formula.String
		if mappingsJSON.Valid && mappingsJSON.String != "" {
			if err := json.Unmarshal([]byte(mappingsJSON.String), &f.Mappings); err != nil {
				return nil, fmt.Errorf("failed to parse mappings for %s: %w", f.ID, err)
			}
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// =============================================================================
// FISCAL CONFIGS (esg.FiscalConfigReader)
// =============================================================================

// SetFiscalConfig saves a company's fiscal year end.
func (s *Store) SetFiscalConfig(ctx context.Context, company esg.CompanyID, cfg esg.FiscalYearConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO fiscal_configs (company_id, end_month, end_day, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			end_month = excluded.end_month,
			end_day = excluded.end_day,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		company, int(cfg.EndMonth), cfg.EndDay, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save fiscal config: %w", err)
	}
	return nil
}

// FiscalConfig returns a company's fiscal year end, defaulting to the
// calendar year when none is configured.
func (s *Store) FiscalConfig(ctx context.Context, company esg.CompanyID) (esg.FiscalYearConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var endMonth, endDay int
	err := s.db.QueryRowContext(ctx,
		"SELECT end_month, end_day FROM fiscal_configs WHERE company_id = ?",
		company,
	).Scan(&endMonth, &endDay)
	if err == sql.ErrNoRows {
		return esg.DefaultFiscalYearConfig, nil
	}
	if err != nil {
		return esg.FiscalYearConfig{}, fmt.Errorf("failed to read fiscal config: %w", err)
	}
	return esg.FiscalYearConfig{EndMonth: time.Month(endMonth), EndDay: endDay}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError detects SQLite uniqueness violations. go-sqlite3
// error codes require type assertions; string matching is simpler and stable.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
