package esg_test

import (
	"testing"
	"time"

	"github.com/verdant/esg-engine/esg"
)

// =============================================================================
// FISCAL YEAR BOUNDARIES
// =============================================================================

func TestYearBounds_AprilMarchYear(t *testing.T) {
	// GIVEN: A fiscal year ending March 31
	// WHEN: Asking for fiscal year 2025
	// THEN: It runs 2024-04-01 .. 2025-03-31

	cal := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.March, EndDay: 31})
	bounds := cal.YearBounds(2025)

	if got, want := bounds.Start.String(), "2024-04-01"; got != want {
		t.Errorf("start = %s, want %s", got, want)
	}
	if got, want := bounds.End.String(), "2025-03-31"; got != want {
		t.Errorf("end = %s, want %s", got, want)
	}
}

func TestYearBounds_CalendarYear(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.DefaultFiscalYearConfig)
	bounds := cal.YearBounds(2025)

	if got, want := bounds.Start.String(), "2025-01-01"; got != want {
		t.Errorf("start = %s, want %s", got, want)
	}
	if got, want := bounds.End.String(), "2025-12-31"; got != want {
		t.Errorf("end = %s, want %s", got, want)
	}
}

func TestYearEnd_ClampsToShortMonth(t *testing.T) {
	// GIVEN: A fiscal year configured to end February 31 (which never exists)
	// THEN: The boundary clamps to the last real day, leap-year aware

	cal := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.February, EndDay: 31})

	if got, want := cal.YearEnd(2025).String(), "2025-02-28"; got != want {
		t.Errorf("2025 end = %s, want %s", got, want)
	}
	if got, want := cal.YearEnd(2024).String(), "2024-02-29"; got != want {
		t.Errorf("2024 end = %s, want %s", got, want)
	}
}

func TestFiscalYearOf(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.March, EndDay: 31})

	cases := []struct {
		date string
		want int
	}{
		{"2025-03-31", 2025}, // on the boundary
		{"2025-04-01", 2026}, // day after belongs to the next year
		{"2024-12-15", 2025},
		{"2025-01-01", 2025},
	}
	for _, c := range cases {
		date, _ := esg.ParseDate(c.date)
		if got := cal.FiscalYearOf(date); got != c.want {
			t.Errorf("FiscalYearOf(%s) = %d, want %d", c.date, got, c.want)
		}
	}
}

// =============================================================================
// PERIOD ENDS
// =============================================================================

func TestPeriodEnds_Quarterly_AprilMarchYear(t *testing.T) {
	// GIVEN: An April-March fiscal year
	// WHEN: Listing quarterly reporting dates for fiscal 2025
	// THEN: Four quarter ends, the last being the fiscal year end

	cal := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.March, EndDay: 31})
	ends := cal.PeriodEnds(esg.FrequencyQuarterly, 2025)

	want := []string{"2024-06-30", "2024-09-30", "2024-12-31", "2025-03-31"}
	if len(ends) != len(want) {
		t.Fatalf("expected %d period ends, got %d", len(want), len(ends))
	}
	for i, w := range want {
		if got := ends[i].String(); got != w {
			t.Errorf("end[%d] = %s, want %s", i, got, w)
		}
	}
}

func TestPeriodEnds_Monthly_CountAndLast(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.DefaultFiscalYearConfig)
	ends := cal.PeriodEnds(esg.FrequencyMonthly, 2025)

	if len(ends) != 12 {
		t.Fatalf("expected 12 monthly ends, got %d", len(ends))
	}
	if got, want := ends[0].String(), "2025-01-31"; got != want {
		t.Errorf("first = %s, want %s", got, want)
	}
	if got, want := ends[1].String(), "2025-02-28"; got != want {
		t.Errorf("february = %s, want %s", got, want)
	}
	if got, want := ends[11].String(), "2025-12-31"; got != want {
		t.Errorf("last = %s, want %s", got, want)
	}
}

func TestPeriodEnds_Annual(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.June, EndDay: 30})
	ends := cal.PeriodEnds(esg.FrequencyAnnual, 2025)

	if len(ends) != 1 {
		t.Fatalf("expected 1 annual end, got %d", len(ends))
	}
	if got, want := ends[0].String(), "2025-06-30"; got != want {
		t.Errorf("end = %s, want %s", got, want)
	}
}

func TestIsPeriodEnd(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.DefaultFiscalYearConfig)

	marchEnd, _ := esg.ParseDate("2025-03-31")
	if !cal.IsPeriodEnd(esg.FrequencyQuarterly, marchEnd) {
		t.Error("2025-03-31 should be a quarterly period end of a calendar year")
	}

	midMonth, _ := esg.ParseDate("2025-03-15")
	if cal.IsPeriodEnd(esg.FrequencyMonthly, midMonth) {
		t.Error("2025-03-15 is not a month end")
	}
	if cal.IsPeriodEnd(esg.FrequencyAnnual, marchEnd) {
		t.Error("2025-03-31 is not the calendar year end")
	}
}

// =============================================================================
// PERIOD CONTAINMENT AND COUNTING
// =============================================================================

func TestPeriodContaining(t *testing.T) {
	// GIVEN: An April-March fiscal year
	// WHEN: Asking for the quarter containing 2024-08-15
	// THEN: The second quarter, 2024-07-01 .. 2024-09-30

	cal := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.March, EndDay: 31})
	date, _ := esg.ParseDate("2024-08-15")

	p := cal.PeriodContaining(esg.FrequencyQuarterly, date)
	if got, want := p.Start.String(), "2024-07-01"; got != want {
		t.Errorf("start = %s, want %s", got, want)
	}
	if got, want := p.End.String(), "2024-09-30"; got != want {
		t.Errorf("end = %s, want %s", got, want)
	}
}

func TestLookbackWindow(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.DefaultFiscalYearConfig)

	// Three months back from a quarter end stays inside the quarter; the
	// previous quarter's end (Mar 31) is outside the window.
	q2End, _ := esg.ParseDate("2025-06-30")
	w := cal.LookbackWindow(3, q2End)
	if got, want := w.Start.String(), "2025-04-01"; got != want {
		t.Errorf("start = %s, want %s", got, want)
	}
	if got, want := w.End.String(), "2025-06-30"; got != want {
		t.Errorf("end = %s, want %s", got, want)
	}
	if prior, _ := esg.ParseDate("2025-03-31"); w.Contains(prior) {
		t.Error("the previous quarter end must not fall in the window")
	}

	// A full fiscal year back under an April-March calendar
	aprMar := esg.NewFiscalCalendar(esg.FiscalYearConfig{EndMonth: time.March, EndDay: 31})
	fyEnd, _ := esg.ParseDate("2025-03-31")
	w = aprMar.LookbackWindow(12, fyEnd)
	if got, want := w.Start.String(), "2024-04-01"; got != want {
		t.Errorf("fiscal year window start = %s, want %s", got, want)
	}
}

func TestElapsedPeriodEnds(t *testing.T) {
	cal := esg.NewFiscalCalendar(esg.DefaultFiscalYearConfig)

	from, _ := esg.ParseDate("2025-01-01")
	to, _ := esg.ParseDate("2025-12-31")

	if got := cal.ElapsedPeriodEnds(esg.FrequencyMonthly, from, to); got != 12 {
		t.Errorf("monthly ends in a full year = %d, want 12", got)
	}
	if got := cal.ElapsedPeriodEnds(esg.FrequencyQuarterly, from, to); got != 4 {
		t.Errorf("quarterly ends in a full year = %d, want 4", got)
	}

	// A half-open window crossing a year boundary
	from, _ = esg.ParseDate("2024-11-15")
	to, _ = esg.ParseDate("2025-02-28")
	if got := cal.ElapsedPeriodEnds(esg.FrequencyMonthly, from, to); got != 4 {
		t.Errorf("monthly ends Nov 15 .. Feb 28 = %d, want 4", got)
	}
}

func TestPeriodMonths(t *testing.T) {
	start, _ := esg.ParseDate("2024-04-01")
	end, _ := esg.ParseDate("2025-03-31")
	p := esg.Period{Start: start, End: end}

	if got := p.Months(); got != 12 {
		t.Errorf("months = %d, want 12", got)
	}
	if !p.Contains(esg.NewTimePoint(2024, time.October, 10)) {
		t.Error("period should contain 2024-10-10")
	}
	if p.Contains(esg.NewTimePoint(2025, time.April, 1)) {
		t.Error("period should not contain the day after its end")
	}
}
