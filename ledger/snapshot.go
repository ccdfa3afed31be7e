package ledger

import "time"

// =============================================================================
// ARCHIVE RECORDS - Append-only, one row per entity per period
// =============================================================================

// ArchivePeriod is the natural-key half of an archive row. Month is 0 for
// yearly archives.
type ArchivePeriod struct {
	Month int `json:"archive_month,omitempty"`
	Year  int `json:"archive_year"`
}

func ArchivePeriodOf(p Period) ArchivePeriod {
	return ArchivePeriod{Month: p.Month(), Year: p.Year()}
}

// BalanceArchive is the snapshot shared by cash-register and bank-account
// archives. (OriginalEntityID, Period) is unique.
type BalanceArchive struct {
	ID                string                        `json:"id"`
	OriginalEntityID  string                        `json:"original_entity_id"`
	Period            ArchivePeriod                 `json:"period"`
	Balances          CurrencyAmountSet             `json:"balances"`
	FinancialSummary  map[Currency]FinancialSummary `json:"financial_summary"`
	Unsummarized      []Currency                    `json:"unsummarized_currencies,omitempty"`
	OriginalCreatedAt time.Time                     `json:"created_at"`
	ArchivedAt        time.Time                     `json:"archived_at"`
}

type CashRegisterArchive struct {
	BalanceArchive
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

type BankAccountArchive struct {
	BalanceArchive
	BankName    string `json:"bank_name"`
	AccountType string `json:"account_type"`
}

// TransactionArchive keeps a full copy of a transaction deleted from the
// live store. OriginalTransactionID is unique.
type TransactionArchive struct {
	ID          string        `json:"id"`
	Transaction Transaction   `json:"transaction"`
	Period      ArchivePeriod `json:"period"`
	DocumentRef string        `json:"document_ref"`
	ArchivedAt  time.Time     `json:"archived_at"`
}

// InvoiceArchive keeps a full copy of an invoice deleted from the live store.
// The original invoice ID is unique.
type InvoiceArchive struct {
	ID         string        `json:"id"`
	Invoice    Invoice       `json:"invoice"`
	Period     ArchivePeriod `json:"period"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// NewCashRegisterArchive snapshots a register with its computed summary.
func NewCashRegisterArchive(id string, r CashRegister, report SummaryReport, p Period, at time.Time) CashRegisterArchive {
	return CashRegisterArchive{
		BalanceArchive: newBalanceArchive(id, string(r.ID), r.Balances, report, p, r.CreatedAt, at),
		Name:           r.Name,
		Location:       r.Location,
	}
}

// NewBankAccountArchive snapshots a bank account with its computed summary.
func NewBankAccountArchive(id string, a BankAccount, report SummaryReport, p Period, at time.Time) BankAccountArchive {
	return BankAccountArchive{
		BalanceArchive: newBalanceArchive(id, string(a.ID), a.Balances, report, p, a.CreatedAt, at),
		BankName:       a.BankName,
		AccountType:    a.AccountType,
	}
}

func newBalanceArchive(id, entityID string, balances CurrencyAmountSet, report SummaryReport, p Period, created, at time.Time) BalanceArchive {
	return BalanceArchive{
		ID:                id,
		OriginalEntityID:  entityID,
		Period:            ArchivePeriodOf(p),
		Balances:          balances.Clone(),
		FinancialSummary:  report.Summary,
		Unsummarized:      report.Unsummarized,
		OriginalCreatedAt: created,
		ArchivedAt:        at,
	}
}
