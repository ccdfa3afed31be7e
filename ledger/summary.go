package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FINANCIAL SUMMARY - Per-currency result of one archival period
// =============================================================================

// FinancialSummary is the archived figure for one currency of one source.
//
// INVARIANT: Balance = InitialAmount - Expenses + Revenue
type FinancialSummary struct {
	InitialAmount decimal.Decimal `json:"initial_amount"`
	Revenue       decimal.Decimal `json:"revenue"`
	Expenses      decimal.Decimal `json:"expenses"`
	Balance       decimal.Decimal `json:"balance"`
}

// SummaryReport is what the aggregator produces for one source.
type SummaryReport struct {
	Summary map[Currency]FinancialSummary

	// Unsummarized lists currencies that moved during the period but have
	// no entry in the source's balance set. Their activity is not in
	// Summary; callers surface them as warnings.
	Unsummarized []Currency
}

// SourceRef identifies the source a summary is computed for.
type SourceRef struct {
	Type SourceType
	ID   string
}

// Summarize computes the per-currency summary of a source for a period.
//
// The current balances are the initial amount of each currency. Revenue and
// expenses are summed over the transactions that belong to the source, fall
// inside the period by transaction date, and match the currency. Only
// currencies present in balances are summarized. Pure; inputs are not
// modified.
func Summarize(src SourceRef, balances CurrencyAmountSet, txs []Transaction, period Period) SummaryReport {
	revenue := make(map[Currency]decimal.Decimal)
	expenses := make(map[Currency]decimal.Decimal)
	active := make(map[Currency]bool)

	for _, tx := range txs {
		if tx.SourceID != src.ID || tx.SourceType != src.Type {
			continue
		}
		if !period.Contains(tx.TransactionDate) {
			continue
		}
		switch tx.Type {
		case Inflow:
			revenue[tx.Currency] = revenue[tx.Currency].Add(tx.Amount)
		case Outflow:
			expenses[tx.Currency] = expenses[tx.Currency].Add(tx.Amount)
		default:
			continue
		}
		active[tx.Currency] = true
	}

	report := SummaryReport{Summary: make(map[Currency]FinancialSummary, len(balances))}
	for _, m := range balances {
		rev := revenue[m.Currency]
		exp := expenses[m.Currency]
		report.Summary[m.Currency] = FinancialSummary{
			InitialAmount: m.Amount,
			Revenue:       rev,
			Expenses:      exp,
			Balance:       m.Amount.Sub(exp).Add(rev),
		}
	}

	for c := range active {
		if _, ok := report.Summary[c]; !ok {
			report.Unsummarized = append(report.Unsummarized, c)
		}
	}
	sort.Slice(report.Unsummarized, func(i, j int) bool { return report.Unsummarized[i] < report.Unsummarized[j] })
	return report
}

// PeriodTotals sums inflows and outflows per currency across all sources.
// Used for the header of the transaction snapshot document.
func PeriodTotals(txs []Transaction) map[Currency]FinancialSummary {
	out := make(map[Currency]FinancialSummary)
	for _, tx := range txs {
		s := out[tx.Currency]
		switch tx.Type {
		case Inflow:
			s.Revenue = s.Revenue.Add(tx.Amount)
		case Outflow:
			s.Expenses = s.Expenses.Add(tx.Amount)
		}
		s.Balance = s.Revenue.Sub(s.Expenses)
		out[tx.Currency] = s
	}
	return out
}
