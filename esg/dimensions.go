/*
dimensions.go - Reduction of dimensional breakdowns to scalar values

PURPOSE:
  Raw data may be split along categorical axes (gender, age band,
  department). Before the aggregation engine can reduce a dependency's
  values over time, each dimensional datum must collapse to one number:
  either the total across every breakdown combination, or the total of the
  combinations matching a specific filter.

REDUCTIONS:
  SUM_ALL_DIMENSIONS:  sum of every breakdown's value
  SPECIFIC_DIMENSION:  sum of breakdowns matching all filter key/values

  Also supported, for reporting surfaces:
  - Cross-tabulation: total per unique value of one named dimension
  - Cross-entity totals: sum of per-entity totals, optionally filtered

SEE ALSO:
  - datum.go: Breakdown type and precomputed totals
  - aggregation.go: Feeds reduced values into the rule methods
*/
package esg

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DIMENSIONAL AGGREGATOR
// =============================================================================

// DimensionalAggregator collapses dimensional data to scalars.
type DimensionalAggregator struct{}

// Reduce collapses one datum per the requested aggregation. Non-dimensional
// data passes its scalar value straight through; a SPECIFIC_DIMENSION request
// against it yields zero because no breakdown can match.
func (DimensionalAggregator) Reduce(d RawDatum, agg DimensionAggregation, filter map[string]string) decimal.Decimal {
	if len(d.Breakdowns) == 0 {
		if agg == SpecificDimension && len(filter) > 0 {
			return decimal.Zero
		}
		return d.Value
	}

	switch agg {
	case SpecificDimension:
		total := decimal.Zero
		for _, b := range d.Breakdowns {
			if b.Matches(filter) {
				total = total.Add(b.Value)
			}
		}
		return total
	default: // SumAllDimensions
		return d.BreakdownTotal()
	}
}

// ReduceAll collapses a series of data points, preserving order.
func (da DimensionalAggregator) ReduceAll(data []RawDatum, agg DimensionAggregation, filter map[string]string) []decimal.Decimal {
	values := make([]decimal.Decimal, len(data))
	for i, d := range data {
		values[i] = da.Reduce(d, agg, filter)
	}
	return values
}

// =============================================================================
// CROSS-TABULATION - Totals per value of one dimension
// =============================================================================

// CrossTab totals values per unique value of the named dimension across the
// given data. Breakdowns missing the dimension are grouped under "".
func (DimensionalAggregator) CrossTab(data []RawDatum, dimension string) map[string]decimal.Decimal {
	tab := make(map[string]decimal.Decimal)
	for _, d := range data {
		if len(d.Breakdowns) == 0 {
			tab[""] = tab[""].Add(d.Value)
			continue
		}
		for _, b := range d.Breakdowns {
			key := b.Dimensions[dimension]
			tab[key] = tab[key].Add(b.Value)
		}
	}
	return tab
}

// =============================================================================
// CROSS-ENTITY TOTALS - Organization-wide rollups
// =============================================================================

// EntityTotal is one entity's contribution to a cross-entity rollup.
type EntityTotal struct {
	EntityID EntityID
	Total    decimal.Decimal
}

// EntityTotals sums per-entity totals across the given data, applying the
// dimensional reduction per datum first. The grand total is the sum of the
// per-entity totals.
func (da DimensionalAggregator) EntityTotals(data []RawDatum, agg DimensionAggregation, filter map[string]string) (decimal.Decimal, []EntityTotal) {
	perEntity := make(map[EntityID]decimal.Decimal)
	var order []EntityID
	for _, d := range data {
		if _, seen := perEntity[d.EntityID]; !seen {
			order = append(order, d.EntityID)
		}
		perEntity[d.EntityID] = perEntity[d.EntityID].Add(da.Reduce(d, agg, filter))
	}

	grand := decimal.Zero
	totals := make([]EntityTotal, 0, len(order))
	for _, id := range order {
		grand = grand.Add(perEntity[id])
		totals = append(totals, EntityTotal{EntityID: id, Total: perEntity[id]})
	}
	return grand, totals
}
