package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The archival boundary
// =============================================================================

// Period is an inclusive calendar range [Start, End] that one archival run
// snapshots and clears. Monthly jobs archive a calendar month, the invoice
// job a calendar year.
type Period struct {
	Kind  PeriodKind
	Start TimePoint
	End   TimePoint
}

type PeriodKind string

const (
	PeriodMonth PeriodKind = "month"
	PeriodYear  PeriodKind = "year"
)

func MonthPeriod(year int, month time.Month) Period {
	return Period{Kind: PeriodMonth, Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

func YearPeriod(year int) Period {
	return Period{Kind: PeriodYear, Start: StartOfYear(year), End: EndOfYear(year)}
}

// PreviousMonth returns the calendar month before the one containing date.
func PreviousMonth(date TimePoint) Period {
	prev := StartOfMonth(date.Year(), date.Month()).AddMonths(-1)
	return MonthPeriod(prev.Year(), prev.Month())
}

// PreviousYear returns the calendar year before the one containing date.
func PreviousYear(date TimePoint) Period {
	return YearPeriod(date.Year() - 1)
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Year is the archive_year of the period.
func (p Period) Year() int { return p.Start.Year() }

// Month is the archive_month (1-12), or 0 for a yearly period.
func (p Period) Month() int {
	if p.Kind != PeriodMonth {
		return 0
	}
	return int(p.Start.Month())
}

// Key identifies the period in locks and run records: "2025-03" or "2025".
func (p Period) Key() string {
	if p.Kind == PeriodMonth {
		return fmt.Sprintf("%04d-%02d", p.Year(), p.Month())
	}
	return fmt.Sprintf("%04d", p.Year())
}

// Validate rejects inverted and unknown periods.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	if p.Kind != PeriodMonth && p.Kind != PeriodYear {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPeriod, p.Kind)
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
