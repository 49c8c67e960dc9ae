/*
field.go - Field definitions and the dependency graph of computed fields

PURPOSE:
  A field is a metric being collected (energy use, headcount, emissions).
  Computed fields derive their value from raw fields through a one-hop
  dependency graph: each VariableMapping binds a formula variable to a raw
  field, scaled by a coefficient and reduced through a dimensional
  aggregation.

EXAMPLE:
  energy_intensity = ENERGY / HEADCOUNT
    mapping 1: variable ENERGY    -> field grid_energy, coefficient 1
    mapping 2: variable HEADCOUNT -> field headcount,   coefficient 1,
               SPECIFIC_DIMENSION filter {contract: full_time}

SEE ALSO:
  - formula.go: The expression the variables substitute into
  - aggregation.go: Walks mappings to compute a field's value
*/
package esg

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VARIABLE MAPPING - One edge in the dependency graph
// =============================================================================

// VariableMapping binds a formula variable to a raw dependency field.
type VariableMapping struct {
	Variable   string
	RawFieldID FieldID

	// Coefficient scales the reduced dependency value before substitution.
	// Nil means identity; an explicit zero zeroes the dependency.
	Coefficient *decimal.Decimal

	// Aggregation selects how dimensional data collapses; Filter applies only
	// to SpecificDimension.
	Aggregation DimensionAggregation
	Filter      map[string]string

	// RuleOverride replaces the frequency-derived aggregation rule when set.
	RuleOverride *AggregationRule
}

// =============================================================================
// FIELD DEFINITION - Raw or computed metric
// =============================================================================

type FieldDefinition struct {
	ID   FieldID
	Name string
	Unit string

	// Computed fields carry a formula and the mappings feeding it. Raw fields
	// have neither.
	Computed bool
	Formula  string
	Mappings []VariableMapping
}

// DependsOn reports whether the field's formula consumes the given raw field.
func (f FieldDefinition) DependsOn(raw FieldID) bool {
	for _, m := range f.Mappings {
		if m.RawFieldID == raw {
			return true
		}
	}
	return false
}

// =============================================================================
// FIELD CATALOG - Lookup interface
// =============================================================================

// FieldCatalog resolves field definitions and the reverse dependency edges
// used to recompute downstream fields after a raw write.
type FieldCatalog interface {
	// Field returns the definition by id, or nil if absent.
	Field(ctx context.Context, id FieldID) (*FieldDefinition, error)

	// DependentsOf returns every computed field with a mapping onto the raw field.
	DependentsOf(ctx context.Context, raw FieldID) ([]FieldDefinition, error)
}
