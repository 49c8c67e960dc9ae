/*
handlers.go - HTTP API handlers for the assignment versioning engine

PURPOSE:
  Exposes the versioning, resolution and aggregation engines via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Assignments:
    POST   /api/assignments                    Create (version 1 of a new series)
    GET    /api/assignments/{id}               Get one version
    POST   /api/assignments/{id}/versions      Create the next version
    POST   /api/assignments/{id}/validate      Pre-check a change set
    POST   /api/assignments/{id}/supersede     Deactivate with no replacement
    GET    /api/assignments/{id}/reporting-dates  Valid dates for a fiscal year
    GET    /api/series/{id}                    Full version history

  Resolution:
    GET    /api/resolve                        Authoritative assignment for
                                               (field, entity, date, company)

  Data:
    POST   /api/data                           Write a datum (strict date check,
                                               triggers dependent recompute)
    GET    /api/data                           Read a datum by exact key

  Computation:
    POST   /api/compute                        Compute a field value
    POST   /api/compute/check                  Data-completeness pre-check

  Fields:
    POST   /api/fields                         Save a field definition
    GET    /api/fields/{id}                    Get a field definition

  Fiscal:
    GET    /api/companies/{id}/fiscal-config   Get fiscal year end
    PUT    /api/companies/{id}/fiscal-config   Set fiscal year end

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, illegal upsampling
  - 403: Cross-tenant access
  - 404: Resource not found
  - 409: Conflict (single-active guard, duplicate datum)
  - 500: Internal errors

SECURITY NOTE:
  Tenancy comes from the company_id in requests; there is no authentication
  layer here. Put one in front before exposing this publicly.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/verdant/esg-engine/esg"
	"github.com/verdant/esg-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Versioning *esg.VersioningService
	Resolver   *esg.Resolver
	Engine     *esg.Engine
	Log        logrus.FieldLogger
}

// NewHandler creates a handler over a fully wired engine.
func NewHandler(store *sqlite.Store, versioning *esg.VersioningService, resolver *esg.Resolver, engine *esg.Engine, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:      store,
		Versioning: versioning,
		Resolver:   resolver,
		Engine:     engine,
		Log:        log,
	}
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// CreateAssignment starts a new data series at version 1.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FieldID == "" || req.EntityID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "field_id, entity_id and company_id are required", nil)
		return
	}

	a, err := h.Versioning.Create(r.Context(), esg.NewAssignmentInput{
		FieldID:   esg.FieldID(req.FieldID),
		EntityID:  esg.EntityID(req.EntityID),
		CompanyID: esg.CompanyID(req.CompanyID),
		Frequency: esg.Frequency(req.Frequency),
		Unit:      req.Unit,
		Topic:     req.Topic,
	}, req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to create assignment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAssignmentDTO(*a))
}

// GetAssignment returns a single assignment version.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id := esg.AssignmentID(chi.URLParam(r, "id"))

	a, err := h.Store.Assignments().Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Assignment not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// CreateVersion supersedes the assignment and inserts the next version.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id := esg.AssignmentID(chi.URLParam(r, "id"))

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	next, warnings, err := h.Versioning.CreateVersion(
		r.Context(), esg.CompanyID(req.CompanyID), id, changeSetFrom(req), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to create version", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateVersionResponse{
		Assignment: toAssignmentDTO(*next),
		Warnings:   warnings,
	})
}

// ValidateChange pre-checks a change set without mutating anything.
func (h *Handler) ValidateChange(w http.ResponseWriter, r *http.Request) {
	id := esg.AssignmentID(chi.URLParam(r, "id"))

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	result, err := h.Versioning.ValidateChange(r.Context(), esg.CompanyID(req.CompanyID), id, changeSetFrom(req))
	if err != nil {
		writeDomainError(w, "Failed to validate change", err)
		return
	}

	writeJSON(w, http.StatusOK, ValidationResultDTO{
		IsValid:  result.IsValid,
		Blocking: result.Blocking,
		Warnings: result.Warnings,
	})
}

// Supersede deactivates an active assignment with no replacement.
func (h *Handler) Supersede(w http.ResponseWriter, r *http.Request) {
	id := esg.AssignmentID(chi.URLParam(r, "id"))

	var req SupersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	if err := h.Versioning.Supersede(r.Context(), esg.CompanyID(req.CompanyID), id, req.Reason, req.Actor); err != nil {
		writeDomainError(w, "Failed to supersede assignment", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSeries returns the full version history of a data series.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	seriesID := esg.DataSeriesID(chi.URLParam(r, "id"))

	rows, err := h.Store.Assignments().Series(r.Context(), seriesID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read series", err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "Series not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toAssignmentDTOs(rows))
}

// GetReportingDates lists the valid reporting dates for a fiscal year.
// Query: fiscal_year (optional; defaults to the year containing today).
func (h *Handler) GetReportingDates(w http.ResponseWriter, r *http.Request) {
	id := esg.AssignmentID(chi.URLParam(r, "id"))

	a, err := h.Store.Assignments().Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Assignment not found", nil)
		return
	}

	fiscalYear := 0
	if raw := r.URL.Query().Get("fiscal_year"); raw != "" {
		fiscalYear, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid fiscal_year", err)
			return
		}
	}

	dates, err := h.Resolver.ValidReportingDates(r.Context(), *a, fiscalYear)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute reporting dates", err)
		return
	}

	dto := ReportingDatesDTO{
		AssignmentID: string(a.ID),
		Frequency:    string(a.Frequency),
		FiscalYear:   fiscalYear,
		Dates:        make([]string, len(dates)),
	}
	for i, d := range dates {
		dto.Dates[i] = d.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESOLUTION HANDLERS
// =============================================================================

// Resolve returns the assignment governing (field, entity, date, company).
// Query: field, entity, company, date, assignment_id (optional pin).
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := esg.FieldID(q.Get("field"))
	entity := esg.EntityID(q.Get("entity"))
	company := esg.CompanyID(q.Get("company"))
	if field == "" || entity == "" || company == "" {
		writeError(w, http.StatusBadRequest, "field, entity and company are required", nil)
		return
	}

	date, err := esg.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	a, err := h.Resolver.ResolveWithExplicitID(r.Context(), field, entity, date, company,
		esg.AssignmentID(q.Get("assignment_id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "No active assignment for this key", nil)
		return
	}

	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// =============================================================================
// DATA HANDLERS
// =============================================================================

// WriteDatum accepts one value for (field, entity, reporting date). The date
// must be a valid period end for the resolved assignment; writes then trigger
// recomputation of every dependent computed field.
func (h *Handler) WriteDatum(w http.ResponseWriter, r *http.Request) {
	var req WriteDatumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FieldID == "" || req.EntityID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "field_id, entity_id and company_id are required", nil)
		return
	}

	date, err := esg.ParseDate(req.ReportingDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reporting_date", err)
		return
	}

	field := esg.FieldID(req.FieldID)
	entity := esg.EntityID(req.EntityID)
	company := esg.CompanyID(req.CompanyID)

	a, err := h.Resolver.ResolveWithExplicitID(r.Context(), field, entity, date, company,
		esg.AssignmentID(req.AssignmentID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "No active assignment for this key", nil)
		return
	}

	ok, err := h.Resolver.IsValidReportingDate(r.Context(), *a, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check reporting date", err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, esg.ErrInvalidReportingDate.Error(), nil)
		return
	}

	datum, err := datumFrom(req, date, a.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid datum payload", err)
		return
	}

	if err := h.Store.Data().Put(r.Context(), datum); err != nil {
		writeDomainError(w, "Failed to store datum", err)
		return
	}

	resp := WriteDatumResponse{Datum: toDatumDTO(datum)}

	// Drafts are invisible to aggregation, so nothing downstream changes.
	if !datum.Draft {
		outcomes, err := h.Engine.RecomputeDependents(r.Context(), field, entity, date, company)
		if err != nil {
			h.Log.WithError(err).WithFields(logrus.Fields{
				"field":  field,
				"entity": entity,
			}).Warn("dependent recomputation failed after datum write")
		} else {
			resp.Recomputed = toRecomputeOutcomeDTOs(outcomes)
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// GetDatum reads one datum by exact key.
// Query: field, entity, company, date.
func (h *Handler) GetDatum(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := esg.FieldID(q.Get("field"))
	entity := esg.EntityID(q.Get("entity"))
	company := esg.CompanyID(q.Get("company"))
	if field == "" || entity == "" || company == "" {
		writeError(w, http.StatusBadRequest, "field, entity and company are required", nil)
		return
	}

	date, err := esg.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	d, err := h.Store.Data().Get(r.Context(), field, entity, date, company)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read datum", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Datum not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toDatumDTO(*d))
}

// =============================================================================
// COMPUTATION HANDLERS
// =============================================================================

// Compute derives a computed field's value at a date. The computation is
// gated on data completeness; below the threshold the result comes back
// skipped with the completeness reason.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	req, date, ok := h.decodeComputeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.ComputeIfReady(r.Context(),
		esg.FieldID(req.FieldID), esg.EntityID(req.EntityID), date, esg.CompanyID(req.CompanyID),
		req.threshold())
	if err != nil {
		writeDomainError(w, "Failed to compute field", err)
		return
	}

	writeJSON(w, http.StatusOK, toComputeResultDTO(result))
}

// ShouldCompute reports whether enough dependency data is present.
func (h *Handler) ShouldCompute(w http.ResponseWriter, r *http.Request) {
	req, date, ok := h.decodeComputeRequest(w, r)
	if !ok {
		return
	}

	should, reason, err := h.Engine.ShouldCompute(r.Context(),
		esg.FieldID(req.FieldID), esg.EntityID(req.EntityID), date, esg.CompanyID(req.CompanyID),
		req.threshold())
	if err != nil {
		writeDomainError(w, "Failed to check completeness", err)
		return
	}

	writeJSON(w, http.StatusOK, ShouldComputeResponse{ShouldCompute: should, Reason: reason})
}

func (h *Handler) decodeComputeRequest(w http.ResponseWriter, r *http.Request) (ComputeRequest, esg.TimePoint, bool) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, esg.TimePoint{}, false
	}
	if req.FieldID == "" || req.EntityID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "field_id, entity_id and company_id are required", nil)
		return req, esg.TimePoint{}, false
	}
	date, err := esg.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return req, esg.TimePoint{}, false
	}
	return req, date, true
}

// =============================================================================
// FIELD HANDLERS
// =============================================================================

// SaveField creates or replaces a field definition.
func (h *Handler) SaveField(w http.ResponseWriter, r *http.Request) {
	var req FieldDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	def := esg.FieldDefinition{
		ID:       esg.FieldID(req.ID),
		Name:     req.Name,
		Unit:     req.Unit,
		Computed: req.Computed,
		Formula:  req.Formula,
	}
	for _, m := range req.Mappings {
		mapping := esg.VariableMapping{
			Variable:    m.Variable,
			RawFieldID:  esg.FieldID(m.RawFieldID),
			Aggregation: esg.DimensionAggregation(m.Aggregation),
			Filter:      m.Filter,
		}
		if m.Coefficient != nil {
			c := decimal.NewFromFloat(*m.Coefficient)
			mapping.Coefficient = &c
		}
		def.Mappings = append(def.Mappings, mapping)
	}

	if def.Computed {
		if _, err := esg.ParseFormula(def.Formula); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid formula", err)
			return
		}
	}

	if err := h.Store.SaveField(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save field", err)
		return
	}

	writeJSON(w, http.StatusCreated, toFieldDTO(def))
}

// GetField returns a field definition.
func (h *Handler) GetField(w http.ResponseWriter, r *http.Request) {
	id := esg.FieldID(chi.URLParam(r, "id"))

	f, err := h.Store.Field(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get field", err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "Field not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toFieldDTO(*f))
}

// =============================================================================
// FISCAL HANDLERS
// =============================================================================

// GetFiscalConfig returns a company's fiscal year end.
func (h *Handler) GetFiscalConfig(w http.ResponseWriter, r *http.Request) {
	company := esg.CompanyID(chi.URLParam(r, "id"))

	cfg, err := h.Store.FiscalConfig(r.Context(), company)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read fiscal config", err)
		return
	}

	writeJSON(w, http.StatusOK, FiscalConfigDTO{
		CompanyID: string(company),
		EndMonth:  int(cfg.EndMonth),
		EndDay:    cfg.EndDay,
	})
}

// SetFiscalConfig sets a company's fiscal year end.
func (h *Handler) SetFiscalConfig(w http.ResponseWriter, r *http.Request) {
	company := esg.CompanyID(chi.URLParam(r, "id"))

	var req FiscalConfigDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EndMonth < 1 || req.EndMonth > 12 || req.EndDay < 1 || req.EndDay > 31 {
		writeError(w, http.StatusBadRequest, "end_month must be 1-12 and end_day 1-31", nil)
		return
	}

	cfg := esg.FiscalYearConfig{EndMonth: time.Month(req.EndMonth), EndDay: req.EndDay}
	if err := h.Store.SetFiscalConfig(r.Context(), company, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save fiscal config", err)
		return
	}

	writeJSON(w, http.StatusOK, FiscalConfigDTO{
		CompanyID: string(company),
		EndMonth:  req.EndMonth,
		EndDay:    req.EndDay,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func changeSetFrom(req CreateVersionRequest) esg.ChangeSet {
	changes := esg.ChangeSet{Unit: req.Unit, Topic: req.Topic}
	if req.Frequency != nil {
		f := esg.Frequency(*req.Frequency)
		changes.Frequency = &f
	}
	// Free-form patches to identity fields are recorded and always rejected.
	if req.FieldID != nil || req.EntityID != nil {
		changes.IdentityChanges = make(map[string]string)
		if req.FieldID != nil {
			changes.IdentityChanges["field_id"] = *req.FieldID
		}
		if req.EntityID != nil {
			changes.IdentityChanges["entity_id"] = *req.EntityID
		}
	}
	return changes
}

func datumFrom(req WriteDatumRequest, date esg.TimePoint, assignmentID esg.AssignmentID) (esg.RawDatum, error) {
	d := esg.RawDatum{
		ID:            esg.DatumID(req.FieldID + "-" + req.EntityID + "-" + date.String()),
		FieldID:       esg.FieldID(req.FieldID),
		EntityID:      esg.EntityID(req.EntityID),
		CompanyID:     esg.CompanyID(req.CompanyID),
		ReportingDate: date,
		Draft:         req.Draft,
		AssignmentID:  assignmentID,
	}
	for _, b := range req.Breakdowns {
		d.Breakdowns = append(d.Breakdowns, esg.Breakdown{
			Dimensions: b.Dimensions,
			Value:      decimal.NewFromFloat(b.Value),
		})
	}
	switch {
	case req.Value != nil:
		d.Value = decimal.NewFromFloat(*req.Value)
	case len(d.Breakdowns) > 0:
		d.Value = d.BreakdownTotal()
	default:
		return d, errors.New("either value or breakdowns must be provided")
	}
	return d, nil
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case esg.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case errors.Is(err, esg.ErrTenantMismatch):
		writeError(w, http.StatusForbidden, msg, err)
	case esg.IsConflict(err), errors.Is(err, esg.ErrDuplicateDatum):
		writeError(w, http.StatusConflict, msg, err)
	case esg.IsValidationFailure(err), errors.Is(err, esg.ErrNotVersionable), errors.Is(err, esg.ErrNotActive):
		writeError(w, http.StatusBadRequest, msg, err)
	default:
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
