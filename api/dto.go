/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Assignments:
    AssignmentDTO, CreateAssignmentRequest, CreateVersionRequest,
    SupersedeRequest, ValidationResultDTO

  Data:
    DatumDTO, BreakdownDTO, WriteDatumRequest, WriteDatumResponse

  Computation:
    ComputeRequest, ComputeResultDTO, RecomputeOutcomeDTO,
    ShouldComputeResponse

  Fields:
    FieldDTO, MappingDTO

  Fiscal:
    FiscalConfigDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - esg/assignment.go, esg/datum.go: Domain types these mirror
*/
package api

import (
	"time"

	"github.com/verdant/esg-engine/esg"
)

// =============================================================================
// ASSIGNMENT TYPES
// =============================================================================

// AssignmentDTO represents one assignment version in API responses.
type AssignmentDTO struct {
	ID            string `json:"id"`
	FieldID       string `json:"field_id"`
	EntityID      string `json:"entity_id"`
	CompanyID     string `json:"company_id"`
	Frequency     string `json:"frequency"`
	Unit          string `json:"unit,omitempty"`
	Topic         string `json:"topic,omitempty"`
	DataSeriesID  string `json:"data_series_id"`
	SeriesVersion int    `json:"series_version"`
	SeriesStatus  string `json:"series_status"`
	ChangeReason  string `json:"change_reason,omitempty"`
	ChangedBy     string `json:"changed_by,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// CreateAssignmentRequest starts a new data series at version 1.
type CreateAssignmentRequest struct {
	FieldID   string `json:"field_id"`
	EntityID  string `json:"entity_id"`
	CompanyID string `json:"company_id"`
	Frequency string `json:"frequency"`
	Unit      string `json:"unit,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// CreateVersionRequest proposes changes for the next version of a series.
// Absent fields are left as-is. Identity fields (field, entity, company) are
// immutable; attempts to change them are reported and rejected.
type CreateVersionRequest struct {
	CompanyID string  `json:"company_id"`
	Frequency *string `json:"frequency,omitempty"`
	Unit      *string `json:"unit,omitempty"`
	Topic     *string `json:"topic,omitempty"`

	FieldID  *string `json:"field_id,omitempty"`
	EntityID *string `json:"entity_id,omitempty"`

	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// SupersedeRequest deactivates an assignment with no replacement.
type SupersedeRequest struct {
	CompanyID string `json:"company_id"`
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// CreateVersionResponse carries the new version plus validation warnings.
type CreateVersionResponse struct {
	Assignment AssignmentDTO `json:"assignment"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// ValidationResultDTO reports the outcome of a change pre-check.
type ValidationResultDTO struct {
	IsValid  bool     `json:"is_valid"`
	Blocking []string `json:"blocking,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ReportingDatesDTO lists the valid reporting dates for an assignment.
type ReportingDatesDTO struct {
	AssignmentID string   `json:"assignment_id"`
	Frequency    string   `json:"frequency"`
	FiscalYear   int      `json:"fiscal_year"`
	Dates        []string `json:"dates"`
}

// =============================================================================
// DATA TYPES
// =============================================================================

// BreakdownDTO is the value for one combination of dimension values.
type BreakdownDTO struct {
	Dimensions map[string]string `json:"dimensions"`
	Value      float64           `json:"value"`
}

// DatumDTO represents one data point in API responses.
type DatumDTO struct {
	ID            string         `json:"id"`
	FieldID       string         `json:"field_id"`
	EntityID      string         `json:"entity_id"`
	CompanyID     string         `json:"company_id"`
	ReportingDate string         `json:"reporting_date"`
	Value         float64        `json:"value"`
	Breakdowns    []BreakdownDTO `json:"breakdowns,omitempty"`
	Draft         bool           `json:"draft,omitempty"`
	Computed      bool           `json:"computed,omitempty"`
	AssignmentID  string         `json:"assignment_id,omitempty"`
}

// WriteDatumRequest submits a value for (field, entity, reporting date).
// For dimensional data the value may be omitted; it is then derived as the
// breakdown total. AssignmentID pins the write to a specific version.
type WriteDatumRequest struct {
	FieldID       string         `json:"field_id"`
	EntityID      string         `json:"entity_id"`
	CompanyID     string         `json:"company_id"`
	ReportingDate string         `json:"reporting_date"`
	Value         *float64       `json:"value,omitempty"`
	Breakdowns    []BreakdownDTO `json:"breakdowns,omitempty"`
	Draft         bool           `json:"draft,omitempty"`
	AssignmentID  string         `json:"assignment_id,omitempty"`
}

// WriteDatumResponse reports the stored datum and any downstream
// recomputations the write triggered.
type WriteDatumResponse struct {
	Datum      DatumDTO              `json:"datum"`
	Recomputed []RecomputeOutcomeDTO `json:"recomputed,omitempty"`
}

// =============================================================================
// COMPUTATION TYPES
// =============================================================================

// ComputeRequest asks for a computed field's value at a date. Threshold is
// the completeness ratio the computation must clear; absent means the default.
type ComputeRequest struct {
	FieldID   string   `json:"field_id"`
	EntityID  string   `json:"entity_id"`
	CompanyID string   `json:"company_id"`
	Date      string   `json:"date"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (r ComputeRequest) threshold() float64 {
	if r.Threshold != nil {
		return *r.Threshold
	}
	return esg.DefaultCompletenessThreshold
}

// ComputeResultDTO is the outcome of one computation. A skipped result
// carries the reason; it is not an error.
type ComputeResultDTO struct {
	Status string             `json:"status"`
	Value  *float64           `json:"value,omitempty"`
	Reason string             `json:"reason,omitempty"`
	Inputs map[string]float64 `json:"inputs,omitempty"`
}

// RecomputeOutcomeDTO is one downstream computation triggered by a raw write.
type RecomputeOutcomeDTO struct {
	FieldID string           `json:"field_id"`
	Date    string           `json:"date"`
	Result  ComputeResultDTO `json:"result"`
}

// ShouldComputeResponse reports data completeness ahead of computation.
type ShouldComputeResponse struct {
	ShouldCompute bool   `json:"should_compute"`
	Reason        string `json:"reason,omitempty"`
}

// =============================================================================
// FIELD TYPES
// =============================================================================

// MappingDTO binds a formula variable to a raw dependency field.
type MappingDTO struct {
	Variable    string            `json:"variable"`
	RawFieldID  string            `json:"raw_field_id"`
	Coefficient *float64          `json:"coefficient,omitempty"`
	Aggregation string            `json:"aggregation,omitempty"`
	Filter      map[string]string `json:"filter,omitempty"`
}

// FieldDTO represents a field definition.
type FieldDTO struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Unit     string       `json:"unit,omitempty"`
	Computed bool         `json:"computed"`
	Formula  string       `json:"formula,omitempty"`
	Mappings []MappingDTO `json:"mappings,omitempty"`
}

// =============================================================================
// FISCAL TYPES
// =============================================================================

// FiscalConfigDTO is a company's fiscal year end.
type FiscalConfigDTO struct {
	CompanyID string `json:"company_id"`
	EndMonth  int    `json:"end_month"`
	EndDay    int    `json:"end_day"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAssignmentDTO(a esg.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:            string(a.ID),
		FieldID:       string(a.FieldID),
		EntityID:      string(a.EntityID),
		CompanyID:     string(a.CompanyID),
		Frequency:     string(a.Frequency),
		Unit:          a.Unit,
		Topic:         a.Topic,
		DataSeriesID:  string(a.DataSeriesID),
		SeriesVersion: a.SeriesVersion,
		SeriesStatus:  string(a.SeriesStatus),
		ChangeReason:  a.ChangeReason,
		ChangedBy:     a.ChangedBy,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.Format(time.RFC3339),
	}
}

func toAssignmentDTOs(rows []esg.Assignment) []AssignmentDTO {
	dtos := make([]AssignmentDTO, len(rows))
	for i, a := range rows {
		dtos[i] = toAssignmentDTO(a)
	}
	return dtos
}

func toDatumDTO(d esg.RawDatum) DatumDTO {
	value, _ := d.Value.Float64()
	dto := DatumDTO{
		ID:            string(d.ID),
		FieldID:       string(d.FieldID),
		EntityID:      string(d.EntityID),
		CompanyID:     string(d.CompanyID),
		ReportingDate: d.ReportingDate.String(),
		Value:         value,
		Draft:         d.Draft,
		Computed:      d.Computed,
		AssignmentID:  string(d.AssignmentID),
	}
	for _, b := range d.Breakdowns {
		v, _ := b.Value.Float64()
		dto.Breakdowns = append(dto.Breakdowns, BreakdownDTO{Dimensions: b.Dimensions, Value: v})
	}
	return dto
}

func toComputeResultDTO(r *esg.ComputeResult) ComputeResultDTO {
	dto := ComputeResultDTO{Status: string(r.Status), Reason: r.Reason}
	if r.Value != nil {
		v, _ := r.Value.Float64()
		dto.Value = &v
	}
	if len(r.Inputs) > 0 {
		dto.Inputs = make(map[string]float64, len(r.Inputs))
		for name, val := range r.Inputs {
			f, _ := val.Float64()
			dto.Inputs[name] = f
		}
	}
	return dto
}

func toRecomputeOutcomeDTOs(outcomes []esg.RecomputeOutcome) []RecomputeOutcomeDTO {
	dtos := make([]RecomputeOutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		dtos[i] = RecomputeOutcomeDTO{
			FieldID: string(o.FieldID),
			Date:    o.Date.String(),
			Result:  toComputeResultDTO(o.Result),
		}
	}
	return dtos
}

func toFieldDTO(f esg.FieldDefinition) FieldDTO {
	dto := FieldDTO{
		ID:       string(f.ID),
		Name:     f.Name,
		Unit:     f.Unit,
		Computed: f.Computed,
		Formula:  f.Formula,
	}
	for _, m := range f.Mappings {
		md := MappingDTO{
			Variable:    m.Variable,
			RawFieldID:  string(m.RawFieldID),
			Aggregation: string(m.Aggregation),
			Filter:      m.Filter,
		}
		if m.Coefficient != nil {
			c, _ := m.Coefficient.Float64()
			md.Coefficient = &c
		}
		dto.Mappings = append(dto.Mappings, md)
	}
	return dto
}
