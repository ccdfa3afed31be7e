/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

INTERFACES IMPLEMENTED:
  ledger.TxStore:      Live ledger reads, archive inserts, resets, purges
  ledger.ArchiveStore: Archive read-back
  ledger.LockStore:    Job locks
  ledger.RunStore:     Job run records

KEY TABLES:
  cash_registers, bank_accounts:  Live balances (balances_json)
  transactions, invoices:         Live rows, deleted after archival
  cash_register_archives,
  bank_account_archives:          One row per entity per month
  transaction_archives,
  invoice_archives:               One row per archived record
  job_locks, job_runs:            Run coordination

IDEMPOTENCY:
  Every archive table has a unique index on its natural key:
  - idx_register_archives_period: (original_entity_id, archive_month, archive_year)
  - idx_bank_archives_period:     (original_entity_id, archive_month, archive_year)
  - transaction_archives.original_transaction_id UNIQUE
  - invoice_archives.original_invoice_id UNIQUE
  A conflicting insert returns ledger.ErrAlreadyArchived.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole callback so an archive insert and its reset commit together.

USAGE:
  store, err := sqlite.New("./data/archive.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agencyops/ledger-archive/ledger"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.Backend      = (*Store)(nil)
	_ ledger.ArchiveStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Live ledger
	CREATE TABLE IF NOT EXISTS cash_registers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		balances_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS bank_accounts (
		id TEXT PRIMARY KEY,
		bank_name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		balances_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		source_type TEXT NOT NULL CHECK (source_type IN ('caisse', 'compte_bancaire')),
		tx_type TEXT NOT NULL CHECK (tx_type IN ('entree', 'sortie')),
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		transaction_date TEXT NOT NULL,
		created_at TEXT
	);

	-- Period queries per source (hot path of the monthly job)
	CREATE INDEX IF NOT EXISTS idx_transactions_source_date
		ON transactions(source_type, source_id, transaction_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(transaction_date);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL,
		items_json TEXT NOT NULL DEFAULT '[]',
		totals_json TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		created_at TEXT
	);

	-- Archives (append-only)
	CREATE TABLE IF NOT EXISTS cash_register_archives (
		id TEXT PRIMARY KEY,
		original_entity_id TEXT NOT NULL,
		name TEXT NOT NULL,
		location TEXT,
		balances_json TEXT NOT NULL,
		financial_summary_json TEXT NOT NULL,
		unsummarized_json TEXT,
		archive_month INTEGER NOT NULL,
		archive_year INTEGER NOT NULL,
		created_at TEXT,
		archived_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_register_archives_period
		ON cash_register_archives(original_entity_id, archive_month, archive_year);

	CREATE TABLE IF NOT EXISTS bank_account_archives (
		id TEXT PRIMARY KEY,
		original_entity_id TEXT NOT NULL,
		bank_name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		balances_json TEXT NOT NULL,
		financial_summary_json TEXT NOT NULL,
		unsummarized_json TEXT,
		archive_month INTEGER NOT NULL,
		archive_year INTEGER NOT NULL,
		created_at TEXT,
		archived_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bank_archives_period
		ON bank_account_archives(original_entity_id, archive_month, archive_year);

	CREATE TABLE IF NOT EXISTS transaction_archives (
		id TEXT PRIMARY KEY,
		original_transaction_id TEXT NOT NULL UNIQUE,
		transaction_json TEXT NOT NULL,
		archive_month INTEGER NOT NULL,
		archive_year INTEGER NOT NULL,
		document_ref TEXT,
		archived_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_archives_period
		ON transaction_archives(archive_year, archive_month);

	CREATE TABLE IF NOT EXISTS invoice_archives (
		id TEXT PRIMARY KEY,
		original_invoice_id TEXT NOT NULL UNIQUE,
		invoice_number TEXT NOT NULL,
		invoice_json TEXT NOT NULL,
		archive_year INTEGER NOT NULL,
		archived_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoice_archives_year
		ON invoice_archives(archive_year);

	-- Run coordination
	CREATE TABLE IF NOT EXISTS job_locks (
		job_kind TEXT NOT NULL,
		period_key TEXT NOT NULL,
		holder TEXT NOT NULL,
		acquired_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (job_kind, period_key)
	);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job_kind TEXT NOT NULL,
		period_key TEXT NOT NULL,
		state TEXT NOT NULL,
		archived INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		already_archived INTEGER DEFAULT 0,
		error TEXT,
		manifest_json TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_kind_period
		ON job_runs(job_kind, period_key, state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERY LAYER - shared by the pooled connection and WithTx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store against either *sql.DB or *sql.Tx.
// Callers hold Store.mu.
type queries struct {
	q dbtx
}

var _ ledger.Store = queries{}

func (s *Store) conn() queries { return queries{q: s.db} }

// =============================================================================
// LIVE READS
// =============================================================================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const (
	selectCashRegisters = "SELECT id, name, location, balances_json, created_at FROM cash_registers"
	selectBankAccounts  = "SELECT id, bank_name, account_type, balances_json, created_at FROM bank_accounts"
)

func (q queries) ListCashRegisters(ctx context.Context) ([]ledger.CashRegister, error) {
	rows, err := q.q.QueryContext(ctx, selectCashRegisters+" ORDER BY id")
	if err != nil {
		return nil, ledger.ReadError("list cash registers", err)
	}
	defer rows.Close()

	var out []ledger.CashRegister
	for rows.Next() {
		r, err := scanCashRegister(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.ReadError("list cash registers", err)
	}
	return out, nil
}

func (q queries) GetCashRegister(ctx context.Context, id ledger.CashRegisterID) (*ledger.CashRegister, error) {
	r, err := scanCashRegister(q.q.QueryRowContext(ctx, selectCashRegisters+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return r, err
}

func scanCashRegister(row rowScanner) (*ledger.CashRegister, error) {
	var (
		r                   ledger.CashRegister
		location, createdAt sql.NullString
		balances            string
	)
	err := row.Scan(&r.ID, &r.Name, &location, &balances, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ledger.ReadError("scan cash register", err)
	}
	r.Location = location.String
	if r.Balances, err = decodeBalances(balances); err != nil {
		return nil, ledger.ReadError("decode cash register "+string(r.ID), err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, ledger.ReadError("decode cash register "+string(r.ID), err)
	}
	return &r, nil
}

func (q queries) ListBankAccounts(ctx context.Context) ([]ledger.BankAccount, error) {
	rows, err := q.q.QueryContext(ctx, selectBankAccounts+" ORDER BY id")
	if err != nil {
		return nil, ledger.ReadError("list bank accounts", err)
	}
	defer rows.Close()

	var out []ledger.BankAccount
	for rows.Next() {
		a, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.ReadError("list bank accounts", err)
	}
	return out, nil
}

func (q queries) GetBankAccount(ctx context.Context, id ledger.BankAccountID) (*ledger.BankAccount, error) {
	a, err := scanBankAccount(q.q.QueryRowContext(ctx, selectBankAccounts+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return a, err
}

func scanBankAccount(row rowScanner) (*ledger.BankAccount, error) {
	var (
		a         ledger.BankAccount
		balances  string
		createdAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.BankName, &a.AccountType, &balances, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ledger.ReadError("scan bank account", err)
	}
	if a.Balances, err = decodeBalances(balances); err != nil {
		return nil, ledger.ReadError("decode bank account "+string(a.ID), err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, ledger.ReadError("decode bank account "+string(a.ID), err)
	}
	return &a, nil
}

const selectTransactions = `
	SELECT id, source_id, source_type, tx_type, currency, amount, description, transaction_date, created_at
	FROM transactions
`

func (q queries) TransactionsInPeriod(ctx context.Context, p ledger.Period) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx, selectTransactions+`
		WHERE transaction_date >= ? AND transaction_date <= ?
		ORDER BY transaction_date ASC, id ASC`,
		p.Start.String(), p.End.String())
}

func (q queries) TransactionsForSource(ctx context.Context, src ledger.SourceRef, p ledger.Period) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx, selectTransactions+`
		WHERE source_type = ? AND source_id = ?
		  AND transaction_date >= ? AND transaction_date <= ?
		ORDER BY transaction_date ASC, id ASC`,
		src.Type, src.ID, p.Start.String(), p.End.String())
}

func (q queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.ReadError("query transactions", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx                     ledger.Transaction
			amount, txDate         string
			description, createdAt sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.SourceID, &tx.SourceType, &tx.Type, &tx.Currency,
			&amount, &description, &txDate, &createdAt); err != nil {
			return nil, ledger.ReadError("scan transaction", err)
		}
		if tx.Amount, err = ledger.ParseAmount(amount); err != nil {
			return nil, ledger.ReadError("decode transaction "+string(tx.ID), err)
		}
		tx.Description = description.String
		if tx.TransactionDate, err = ledger.ParseDate(txDate); err != nil {
			return nil, ledger.ReadError("decode transaction "+string(tx.ID), err)
		}
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, ledger.ReadError("decode transaction "+string(tx.ID), err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.ReadError("query transactions", err)
	}
	return out, nil
}

func (q queries) InvoicesForYear(ctx context.Context, year int) ([]ledger.Invoice, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, invoice_number, client_id, items_json, totals_json, status, issue_date, created_at
		FROM invoices
		WHERE invoice_number LIKE ?
		ORDER BY id`,
		fmt.Sprintf("%%/%d", year))
	if err != nil {
		return nil, ledger.ReadError("list invoices", err)
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		var (
			inv                  ledger.Invoice
			items, totals, issue string
			createdAt            sql.NullString
		)
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.ClientID, &items, &totals, &inv.Status, &issue, &createdAt); err != nil {
			return nil, ledger.ReadError("scan invoice", err)
		}
		// LIKE also matches "…/12024"; keep exact suffixes only.
		if !inv.Number.HasYear(year) {
			continue
		}
		if err := json.Unmarshal([]byte(items), &inv.Items); err != nil {
			return nil, ledger.ReadError("decode invoice items "+string(inv.ID), err)
		}
		if err := json.Unmarshal([]byte(totals), &inv.Totals); err != nil {
			return nil, ledger.ReadError("decode invoice totals "+string(inv.ID), err)
		}
		if inv.IssueDate, err = ledger.ParseDate(issue); err != nil {
			return nil, ledger.ReadError("decode invoice "+string(inv.ID), err)
		}
		if inv.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, ledger.ReadError("decode invoice "+string(inv.ID), err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.ReadError("list invoices", err)
	}
	return out, nil
}

// =============================================================================
// ARCHIVE INSERTS
// =============================================================================

func (q queries) InsertCashRegisterArchive(ctx context.Context, a ledger.CashRegisterArchive) error {
	return q.insertBalanceArchive(ctx, "cash_register_archives", `
		INSERT INTO cash_register_archives
		(id, original_entity_id, name, location, balances_json, financial_summary_json, unsummarized_json,
		 archive_month, archive_year, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.BalanceArchive, a.Name, nullString(a.Location))
}

func (q queries) InsertBankAccountArchive(ctx context.Context, a ledger.BankAccountArchive) error {
	return q.insertBalanceArchive(ctx, "bank_account_archives", `
		INSERT INTO bank_account_archives
		(id, original_entity_id, bank_name, account_type, balances_json, financial_summary_json, unsummarized_json,
		 archive_month, archive_year, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.BalanceArchive, a.BankName, a.AccountType)
}

// insertBalanceArchive binds the shared BalanceArchive columns after the two
// table-specific identifying columns.
func (q queries) insertBalanceArchive(ctx context.Context, table, query string, a ledger.BalanceArchive, ident1, ident2 any) error {
	balances, _ := json.Marshal(a.Balances)
	summary, _ := json.Marshal(a.FinancialSummary)
	var unsummarized sql.NullString
	if len(a.Unsummarized) > 0 {
		b, _ := json.Marshal(a.Unsummarized)
		unsummarized = nullString(string(b))
	}

	_, err := q.q.ExecContext(ctx, query,
		a.ID, a.OriginalEntityID, ident1, ident2,
		string(balances), string(summary), unsummarized,
		a.Period.Month, a.Period.Year,
		formatTime(a.OriginalCreatedAt), formatTime(a.ArchivedAt),
	)
	return archiveInsertError("insert "+table, err)
}

func (q queries) InsertTransactionArchive(ctx context.Context, a ledger.TransactionArchive) error {
	payload, err := json.Marshal(a.Transaction)
	if err != nil {
		return ledger.WriteError("encode transaction archive", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO transaction_archives
		(id, original_transaction_id, transaction_json, archive_month, archive_year, document_ref, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Transaction.ID, string(payload), a.Period.Month, a.Period.Year,
		nullString(a.DocumentRef), formatTime(a.ArchivedAt),
	)
	return archiveInsertError("insert transaction_archives", err)
}

func (q queries) InsertInvoiceArchive(ctx context.Context, a ledger.InvoiceArchive) error {
	payload, err := json.Marshal(a.Invoice)
	if err != nil {
		return ledger.WriteError("encode invoice archive", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO invoice_archives
		(id, original_invoice_id, invoice_number, invoice_json, archive_year, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Invoice.ID, a.Invoice.Number, string(payload), a.Period.Year, formatTime(a.ArchivedAt),
	)
	return archiveInsertError("insert invoice_archives", err)
}

func archiveInsertError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return ledger.ErrAlreadyArchived
	}
	return ledger.WriteError(op, err)
}

// =============================================================================
// RESETS AND PURGES
// =============================================================================

func (q queries) ZeroCashRegister(ctx context.Context, id ledger.CashRegisterID) error {
	r, err := q.GetCashRegister(ctx, id)
	if err != nil {
		return err
	}
	zeroed, _ := json.Marshal(nonNil(r.Balances.Zeroed()))
	res, err := q.q.ExecContext(ctx, "UPDATE cash_registers SET balances_json = ? WHERE id = ?", string(zeroed), id)
	return affectedOne("zero cash register "+string(id), res, err)
}

func (q queries) ClearBankAccount(ctx context.Context, id ledger.BankAccountID) error {
	res, err := q.q.ExecContext(ctx, "UPDATE bank_accounts SET balances_json = '[]' WHERE id = ?", id)
	return affectedOne("clear bank account "+string(id), res, err)
}

func (q queries) ZeroAllCashRegisters(ctx context.Context) (int, error) {
	registers, err := q.ListCashRegisters(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range registers {
		if err := q.ZeroCashRegister(ctx, r.ID); err != nil {
			return 0, err
		}
	}
	return len(registers), nil
}

func (q queries) ClearAllBankAccounts(ctx context.Context) (int, error) {
	res, err := q.q.ExecContext(ctx, "UPDATE bank_accounts SET balances_json = '[]'")
	if err != nil {
		return 0, ledger.WriteError("clear bank accounts", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q queries) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	return affectedOne("delete transaction "+string(id), res, err)
}

func (q queries) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM invoices WHERE id = ?", id)
	return affectedOne("delete invoice "+string(id), res, err)
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return ledger.WriteError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.WriteError(op, err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// =============================================================================
// LOCKED ENTRY POINTS (ledger.Store on *Store)
// =============================================================================

func (s *Store) ListCashRegisters(ctx context.Context) ([]ledger.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListCashRegisters(ctx)
}

func (s *Store) ListBankAccounts(ctx context.Context) ([]ledger.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListBankAccounts(ctx)
}

// GetCashRegister retrieves a cash register by ID.
func (s *Store) GetCashRegister(ctx context.Context, id ledger.CashRegisterID) (*ledger.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetCashRegister(ctx, id)
}

// GetBankAccount retrieves a bank account by ID.
func (s *Store) GetBankAccount(ctx context.Context, id ledger.BankAccountID) (*ledger.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetBankAccount(ctx, id)
}

func (s *Store) TransactionsInPeriod(ctx context.Context, p ledger.Period) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().TransactionsInPeriod(ctx, p)
}

func (s *Store) TransactionsForSource(ctx context.Context, src ledger.SourceRef, p ledger.Period) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().TransactionsForSource(ctx, src, p)
}

func (s *Store) InvoicesForYear(ctx context.Context, year int) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().InvoicesForYear(ctx, year)
}

func (s *Store) InsertCashRegisterArchive(ctx context.Context, a ledger.CashRegisterArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertCashRegisterArchive(ctx, a)
}

func (s *Store) InsertBankAccountArchive(ctx context.Context, a ledger.BankAccountArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertBankAccountArchive(ctx, a)
}

func (s *Store) InsertTransactionArchive(ctx context.Context, a ledger.TransactionArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertTransactionArchive(ctx, a)
}

func (s *Store) InsertInvoiceArchive(ctx context.Context, a ledger.InvoiceArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertInvoiceArchive(ctx, a)
}

func (s *Store) ZeroCashRegister(ctx context.Context, id ledger.CashRegisterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().ZeroCashRegister(ctx, id)
}

func (s *Store) ClearBankAccount(ctx context.Context, id ledger.BankAccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().ClearBankAccount(ctx, id)
}

func (s *Store) ZeroAllCashRegisters(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().ZeroAllCashRegisters(ctx)
}

func (s *Store) ClearAllBankAccounts(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().ClearAllBankAccounts(ctx)
}

func (s *Store) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().DeleteTransaction(ctx, id)
}

func (s *Store) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().DeleteInvoice(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.WriteError("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.WriteError("commit transaction", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime stores the zero time as NULL.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// parseTime reads NULL back as the zero time.
func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return t, nil
}

func decodeBalances(s string) (ledger.CurrencyAmountSet, error) {
	var set ledger.CurrencyAmountSet
	if s == "" {
		return set, nil
	}
	if err := json.Unmarshal([]byte(s), &set); err != nil {
		return nil, err
	}
	return set, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
