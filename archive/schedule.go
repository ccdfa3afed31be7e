/*
schedule.go - When each job runs and which period it archives

JOB KINDS:
  monthly_registers:    Cash registers + bank accounts, every invocation,
                        previous calendar month
  monthly_transactions: Transactions + full rollover, 1st of the month only,
                        previous calendar month
  annual_invoices:      Invoices, January 1st only, previous calendar year

CLOCK:
  The gate is evaluated on the calendar date of "now" in now's location.
  Callers convert to the configured timezone first (see Runner).

A CLOSED GATE IS A SKIP:
  Check returns *ledger.NotEligibleError (errors.Is ErrNotEligibleToday).
  The runner reports it as a successful, skipped run.
*/
package archive

import (
	"fmt"
	"time"

	"github.com/agencyops/ledger-archive/ledger"
)

type JobKind string

const (
	JobMonthlyRegisters    JobKind = "monthly_registers"
	JobMonthlyTransactions JobKind = "monthly_transactions"
	JobAnnualInvoices      JobKind = "annual_invoices"
)

// JobKinds lists every job, in scheduler order.
func JobKinds() []JobKind {
	return []JobKind{JobMonthlyRegisters, JobMonthlyTransactions, JobAnnualInvoices}
}

func ParseJobKind(s string) (JobKind, error) {
	for _, k := range JobKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job kind %q", ledger.ErrValidation, s)
}

// Gate is the day-of-calendar condition a job needs.
type Gate int

const (
	GateAlways Gate = iota
	GateFirstOfMonth
	GateFirstOfYear
)

// SchedulePolicy bundles the date gate and the period granularity of a job.
type SchedulePolicy struct {
	Kind        JobKind
	Gate        Gate
	Granularity ledger.PeriodKind
	SkipReason  string
}

var policies = map[JobKind]SchedulePolicy{
	JobMonthlyRegisters: {
		Kind:        JobMonthlyRegisters,
		Gate:        GateAlways,
		Granularity: ledger.PeriodMonth,
	},
	JobMonthlyTransactions: {
		Kind:        JobMonthlyTransactions,
		Gate:        GateFirstOfMonth,
		Granularity: ledger.PeriodMonth,
		SkipReason:  "Archive process only runs on the 1st of the month",
	},
	JobAnnualInvoices: {
		Kind:        JobAnnualInvoices,
		Gate:        GateFirstOfYear,
		Granularity: ledger.PeriodYear,
		SkipReason:  "Archive process only runs on January 1st",
	},
}

func PolicyFor(kind JobKind) (SchedulePolicy, error) {
	p, ok := policies[kind]
	if !ok {
		return SchedulePolicy{}, fmt.Errorf("%w: unknown job kind %q", ledger.ErrValidation, kind)
	}
	return p, nil
}

// ShouldRun reports whether the gate is open on now's calendar date.
func (p SchedulePolicy) ShouldRun(now time.Time) bool {
	switch p.Gate {
	case GateFirstOfMonth:
		return now.Day() == 1
	case GateFirstOfYear:
		return now.Month() == time.January && now.Day() == 1
	default:
		return true
	}
}

// Check is ShouldRun as an error.
func (p SchedulePolicy) Check(now time.Time) error {
	if p.ShouldRun(now) {
		return nil
	}
	return &ledger.NotEligibleError{Job: string(p.Kind), Reason: p.SkipReason}
}

// TargetPeriod is the calendar period before the one containing now.
func (p SchedulePolicy) TargetPeriod(now time.Time) ledger.Period {
	today := ledger.DateOf(now)
	if p.Granularity == ledger.PeriodYear {
		return ledger.PreviousYear(today)
	}
	return ledger.PreviousMonth(today)
}
