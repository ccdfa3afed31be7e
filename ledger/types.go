/*
Package ledger provides the data model and pure calculations of the
archival engine.

PURPOSE:
  Holds the live ledger records (cash registers, bank accounts,
  transactions, invoices), the append-only archive records written once
  per accounting period, and the arithmetic that turns one into the other.
  Nothing in this package talks to a database or a clock.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An amount in a single currency
  - CurrencyAmountSet: At most one Money per currency, order irrelevant
  - CashRegister / BankAccount: Balance-holding sources
  - Transaction: Immutable inflow (entree) or outflow (sortie) on a source
  - Invoice: Numbered "<seq>/<year>", archived and deleted once a year

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every amount, never float64
  2. Immutability: Transactions are referenced, never mutated
  3. Type Safety: Distinct ID types for each record kind

SEE ALSO:
  - summary.go: Per-currency financial summary (the Aggregator)
  - snapshot.go: Archive records
  - store.go: Persistence contracts
*/
package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Amount in one currency
// =============================================================================

// Currency is an ISO-ish currency code. It is not validated against a
// global list; agencies record whatever codes their registers hold.
type Currency string

type Money struct {
	Currency Currency        `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

func NewMoney(currency Currency, amount float64) Money {
	return Money{Currency: currency, Amount: decimal.NewFromFloat(amount)}
}

// ParseAmount parses a stored decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// CurrencyAmountSet holds at most one Money per currency.
type CurrencyAmountSet []Money

// Get returns the amount held for a currency.
func (s CurrencyAmountSet) Get(c Currency) (decimal.Decimal, bool) {
	for _, m := range s {
		if m.Currency == c {
			return m.Amount, true
		}
	}
	return decimal.Zero, false
}

// Currencies returns the currencies present, sorted.
func (s CurrencyAmountSet) Currencies() []Currency {
	out := make([]Currency, 0, len(s))
	for _, m := range s {
		out = append(out, m.Currency)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Zeroed returns a copy with every currency kept and every amount set to 0.
func (s CurrencyAmountSet) Zeroed() CurrencyAmountSet {
	out := make(CurrencyAmountSet, len(s))
	for i, m := range s {
		out[i] = Money{Currency: m.Currency, Amount: decimal.Zero}
	}
	return out
}

// Clone returns an independent copy.
func (s CurrencyAmountSet) Clone() CurrencyAmountSet {
	if s == nil {
		return nil
	}
	out := make(CurrencyAmountSet, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both sets hold the same amounts per currency.
func (s CurrencyAmountSet) Equal(other CurrencyAmountSet) bool {
	if len(s) != len(other) {
		return false
	}
	for _, m := range s {
		v, ok := other.Get(m.Currency)
		if !ok || !v.Equal(m.Amount) {
			return false
		}
	}
	return true
}

// Validate rejects empty and duplicate currency codes.
func (s CurrencyAmountSet) Validate() error {
	seen := make(map[Currency]bool, len(s))
	for _, m := range s {
		if strings.TrimSpace(string(m.Currency)) == "" {
			return fmt.Errorf("%w: empty currency code", ErrValidation)
		}
		if seen[m.Currency] {
			return fmt.Errorf("%w: duplicate currency %s", ErrValidation, m.Currency)
		}
		seen[m.Currency] = true
	}
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CashRegisterID string
type BankAccountID string
type TransactionID string
type InvoiceID string

// =============================================================================
// SOURCES - Cash registers (caisses) and bank accounts (comptes bancaires)
// =============================================================================

// SourceType names the kind of record a transaction posts against.
type SourceType string

const (
	SourceCashRegister SourceType = "caisse"
	SourceBankAccount  SourceType = "compte_bancaire"
)

// CashRegister is a physical or logical register holding multi-currency
// balances. The monthly archival job zeroes its balances; it is never deleted.
type CashRegister struct {
	ID        CashRegisterID    `json:"id"`
	Name      string            `json:"name"`
	Location  string            `json:"location,omitempty"`
	Balances  CurrencyAmountSet `json:"balances"`
	CreatedAt time.Time         `json:"created_at"`
}

// BankAccount has the same shape as a CashRegister but its balances are an
// external fact: the monthly job archives them and leaves them untouched.
// Only the full rollover clears them.
type BankAccount struct {
	ID          BankAccountID     `json:"id"`
	BankName    string            `json:"bank_name"`
	AccountType string            `json:"account_type"`
	Balances    CurrencyAmountSet `json:"balances"`
	CreatedAt   time.Time         `json:"created_at"`
}

// =============================================================================
// TRANSACTION - Inflow or outflow on a source
// =============================================================================

type Direction string

const (
	Inflow  Direction = "entree"
	Outflow Direction = "sortie"
)

type Transaction struct {
	ID              TransactionID   `json:"id"`
	SourceID        string          `json:"source_id"`
	SourceType      SourceType      `json:"source_type"`
	Type            Direction       `json:"type"`
	Currency        Currency        `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
	TransactionDate TimePoint       `json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks the enumerations and the amount sign.
func (t Transaction) Validate() error {
	if t.ID == "" || t.SourceID == "" {
		return fmt.Errorf("%w: transaction requires id and source_id", ErrValidation)
	}
	if t.SourceType != SourceCashRegister && t.SourceType != SourceBankAccount {
		return fmt.Errorf("%w: unknown source_type %q", ErrValidation, t.SourceType)
	}
	if t.Type != Inflow && t.Type != Outflow {
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t.Type)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: negative amount on %s", ErrValidation, t.ID)
	}
	return nil
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceNumber has the form "<seq>/<year>", e.g. "0042/2024".
type InvoiceNumber string

// Year returns the year suffix of the number.
func (n InvoiceNumber) Year() (int, error) {
	s := string(n)
	i := strings.LastIndex(s, "/")
	if i < 0 || i == len(s)-1 {
		return 0, fmt.Errorf("%w: invoice number %q has no year suffix", ErrValidation, s)
	}
	y, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: invoice number %q: %v", ErrValidation, s, err)
	}
	return y, nil
}

// HasYear reports whether the number's suffix is the given year.
func (n InvoiceNumber) HasYear(year int) bool {
	y, err := n.Year()
	return err == nil && y == year
}

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type InvoiceItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (i InvoiceItem) Total() decimal.Decimal { return i.Quantity.Mul(i.UnitPrice) }

type InvoiceTotals struct {
	Currency Currency        `json:"currency"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID        InvoiceID     `json:"id"`
	Number    InvoiceNumber `json:"invoice_number"`
	ClientID  string        `json:"client_id"`
	Items     []InvoiceItem `json:"items"`
	Totals    InvoiceTotals `json:"totals"`
	Status    InvoiceStatus `json:"status"`
	IssueDate TimePoint     `json:"issue_date"`
	CreatedAt time.Time     `json:"created_at"`
}
