/*
fiscal.go - Fiscal-year-relative period arithmetic

PURPOSE:
  Pure, side-effect-free conversion of a company's fiscal-year configuration
  (end month/day) into concrete period boundaries: fiscal year start/end,
  quarter ends, month ends, and the fiscal year any reporting date belongs to.

KEY CONCEPTS:
  FiscalYearConfig:
    The last day of the fiscal year, e.g. {March, 31} for an April-March year.
    A fiscal year is numbered by the calendar year containing its END date:
    fiscal year 2025 with a March 31 end runs 2024-04-01 .. 2025-03-31.

  Period ends:
    Reporting dates are always period ENDS. Annual yields one date (the fiscal
    year end), quarterly four, monthly twelve, each clipped to the fiscal year
    end so an irregular end-day never produces a date past the year boundary.

EDGE CASES:
  When the configured end day does not exist in a month (day 31 in February),
  the boundary clamps to the last valid day of that month.

EXAMPLE:
  cfg := esg.FiscalYearConfig{EndMonth: time.March, EndDay: 31}
  cal := esg.NewFiscalCalendar(cfg)
  cal.PeriodEnds(esg.FrequencyQuarterly, 2025)
  // -> 2024-06-30, 2024-09-30, 2024-12-31, 2025-03-31

SEE ALSO:
  - aggregation.go: Uses period ends to bound aggregation windows
  - resolver.go: Uses period ends for reporting-date validation
*/
package esg

import "time"

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] date range.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the date falls within the period [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Months returns the period length in whole months, assuming the period is
// aligned to fiscal boundaries.
func (p Period) Months() int {
	y := p.End.Year() - p.Start.Year()
	m := int(p.End.Month()) - int(p.Start.Month())
	return y*12 + m + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// FISCAL YEAR CONFIG - Per-company year boundary
// =============================================================================

// FiscalYearConfig defines the last day of a company's fiscal year.
type FiscalYearConfig struct {
	EndMonth time.Month
	EndDay   int
}

// DefaultFiscalYearConfig is a calendar year (ends December 31).
var DefaultFiscalYearConfig = FiscalYearConfig{EndMonth: time.December, EndDay: 31}

func (c FiscalYearConfig) IsValid() bool {
	return c.EndMonth >= time.January && c.EndMonth <= time.December &&
		c.EndDay >= 1 && c.EndDay <= 31
}

// =============================================================================
// FISCAL CALENDAR - Pure period boundary functions
// =============================================================================

// FiscalCalendar derives concrete period boundaries from a fiscal config.
// All methods are pure functions of the config and their arguments.
type FiscalCalendar struct {
	Config FiscalYearConfig
}

func NewFiscalCalendar(cfg FiscalYearConfig) FiscalCalendar {
	if !cfg.IsValid() {
		cfg = DefaultFiscalYearConfig
	}
	return FiscalCalendar{Config: cfg}
}

// YearEnd returns the last day of the fiscal year numbered by the calendar
// year containing it. The configured end day clamps to short months.
func (c FiscalCalendar) YearEnd(fiscalYear int) TimePoint {
	return ClampDay(fiscalYear, c.Config.EndMonth, c.Config.EndDay)
}

// YearBounds returns the full [start, end] period of a fiscal year.
// The start is the day after the previous fiscal year's end.
func (c FiscalCalendar) YearBounds(fiscalYear int) Period {
	return Period{
		Start: c.YearEnd(fiscalYear - 1).AddDays(1),
		End:   c.YearEnd(fiscalYear),
	}
}

// FiscalYearOf returns the fiscal year a reporting date belongs to: the
// current calendar year if the date falls on or before that year's fiscal
// end, otherwise the next.
func (c FiscalCalendar) FiscalYearOf(date TimePoint) int {
	if date.BeforeOrEqual(c.YearEnd(date.Year())) {
		return date.Year()
	}
	return date.Year() + 1
}

// YearContaining returns the fiscal year period containing the date.
func (c FiscalCalendar) YearContaining(date TimePoint) Period {
	return c.YearBounds(c.FiscalYearOf(date))
}

// PeriodEnds returns the reporting dates (period ends) for a frequency within
// a fiscal year, each clipped to not exceed the fiscal year end.
func (c FiscalCalendar) PeriodEnds(freq Frequency, fiscalYear int) []TimePoint {
	bounds := c.YearBounds(fiscalYear)
	step := freq.MonthsPerPeriod()
	if step == 0 {
		return nil
	}

	var ends []TimePoint
	for i := 1; i <= freq.PeriodsPerYear(); i++ {
		end := bounds.Start.AddMonths(i * step).AddDays(-1)
		if end.After(bounds.End) {
			end = bounds.End
		}
		ends = append(ends, end)
	}
	return ends
}

// PeriodContaining returns the reporting period of the given frequency that
// contains the date: [previous period end + 1 day, period end].
func (c FiscalCalendar) PeriodContaining(freq Frequency, date TimePoint) Period {
	fy := c.FiscalYearOf(date)
	start := c.YearBounds(fy).Start
	for _, end := range c.PeriodEnds(freq, fy) {
		if date.BeforeOrEqual(end) {
			return Period{Start: start, End: end}
		}
		start = end.AddDays(1)
	}
	// Unreachable for valid frequencies: the last period end is the year end.
	return c.YearBounds(fy)
}

// LookbackWindow returns the fiscal-aligned window of the last n monthly
// periods, ending at the date. The start is the first day of the monthly
// period n-1 steps before the one containing the date, so a window anchored
// at a period end never reaches into the preceding period.
func (c FiscalCalendar) LookbackWindow(months int, date TimePoint) Period {
	start := c.PeriodContaining(FrequencyMonthly, date).Start
	for i := 1; i < months; i++ {
		start = c.PeriodContaining(FrequencyMonthly, start.AddDays(-1)).Start
	}
	return Period{Start: start, End: date}
}

// IsPeriodEnd reports whether the date is a reporting date for the frequency.
func (c FiscalCalendar) IsPeriodEnd(freq Frequency, date TimePoint) bool {
	for _, end := range c.PeriodEnds(freq, c.FiscalYearOf(date)) {
		if end.Equal(date) {
			return true
		}
	}
	return false
}

// ElapsedPeriodEnds returns how many period ends of the frequency fall inside
// the window [from, to]. The aggregation engine uses this as the expected
// observation count when judging dependency completeness.
func (c FiscalCalendar) ElapsedPeriodEnds(freq Frequency, from, to TimePoint) int {
	count := 0
	for fy := c.FiscalYearOf(from); fy <= c.FiscalYearOf(to); fy++ {
		for _, end := range c.PeriodEnds(freq, fy) {
			if end.AfterOrEqual(from) && end.BeforeOrEqual(to) {
				count++
			}
		}
	}
	return count
}
