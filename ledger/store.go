/*
store.go - Persistence contracts for the live ledger and its archives

PURPOSE:
  Defines the interface between the archival engine and the database.
  The engine receives a store value; there is no process-wide client.

KEY INTERFACES:
  Store:        Live reads, archive inserts, resets and purges
  TxStore:      Store plus WithTx for the archive+reset atomic unit
  ArchiveStore: Read-back of archive tables (API, audits, tests)
  LockStore:    Advisory lock per (job kind, period)
  RunStore:     Run records per job invocation

APPEND-ONLY ARCHIVES:
  Archive tables only have Insert methods. An insert whose natural key
  already exists fails with ErrAlreadyArchived and changes nothing.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - ledger/store/memory.go: In-memory for testing
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Live ledger plus append-only archives
// =============================================================================

type Store interface {
	// Batch-level reads. A failure here aborts the whole run.
	ListCashRegisters(ctx context.Context) ([]CashRegister, error)
	ListBankAccounts(ctx context.Context) ([]BankAccount, error)
	TransactionsInPeriod(ctx context.Context, period Period) ([]Transaction, error)
	InvoicesForYear(ctx context.Context, year int) ([]Invoice, error)

	// TransactionsForSource returns one source's transactions in [period.Start, period.End].
	TransactionsForSource(ctx context.Context, src SourceRef, period Period) ([]Transaction, error)

	// Single-entity reads. Inside WithTx they see the row the unit resets.
	GetCashRegister(ctx context.Context, id CashRegisterID) (*CashRegister, error)
	GetBankAccount(ctx context.Context, id BankAccountID) (*BankAccount, error)

	// Archive inserts. Fail with ErrAlreadyArchived on natural-key conflict.
	InsertCashRegisterArchive(ctx context.Context, a CashRegisterArchive) error
	InsertBankAccountArchive(ctx context.Context, a BankAccountArchive) error
	InsertTransactionArchive(ctx context.Context, a TransactionArchive) error
	InsertInvoiceArchive(ctx context.Context, a InvoiceArchive) error

	// Resets and purges. Fail with ErrNotFound when the row is gone.
	ZeroCashRegister(ctx context.Context, id CashRegisterID) error
	ClearBankAccount(ctx context.Context, id BankAccountID) error
	ZeroAllCashRegisters(ctx context.Context) (int, error)
	ClearAllBankAccounts(ctx context.Context) (int, error)
	DeleteTransaction(ctx context.Context, id TransactionID) error
	DeleteInvoice(ctx context.Context, id InvoiceID) error

	// SaveJobRun upserts a run record. Inside WithTx it commits with the
	// unit's other writes.
	SaveJobRun(ctx context.Context, run JobRun) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ArchiveStore reads archive tables back.
type ArchiveStore interface {
	ListCashRegisterArchives(ctx context.Context, p ArchivePeriod) ([]CashRegisterArchive, error)
	ListBankAccountArchives(ctx context.Context, p ArchivePeriod) ([]BankAccountArchive, error)
	ListTransactionArchives(ctx context.Context, p ArchivePeriod) ([]TransactionArchive, error)
	ListInvoiceArchives(ctx context.Context, year int) ([]InvoiceArchive, error)
}

// =============================================================================
// JOB COORDINATION - Locks and run records
// =============================================================================

// JobLock guards one (job kind, period) against concurrent runs.
type JobLock struct {
	JobKind    string
	PeriodKey  string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

type LockStore interface {
	// AcquireJobLock takes the lock, or takes over an expired one.
	// Returns ErrRunInProgress when an unexpired lock is held by someone else.
	AcquireJobLock(ctx context.Context, lock JobLock) error

	// ReleaseJobLock drops the lock if holder still owns it.
	ReleaseJobLock(ctx context.Context, jobKind, periodKey, holder string) error
}

// JobRun is the durable record of one job invocation.
type JobRun struct {
	ID              string
	JobKind         string
	PeriodKey       string
	State           string
	Archived        int
	Failed          int
	AlreadyArchived int
	Error           string
	ManifestJSON    string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

type RunStore interface {
	SaveJobRun(ctx context.Context, run JobRun) error
	ListJobRuns(ctx context.Context, jobKind string, limit int) ([]JobRun, error)

	// HasCompletedRun reports whether a run for the period finished with
	// state "completed" or "partially_failed".
	HasCompletedRun(ctx context.Context, jobKind, periodKey string) (bool, error)
}

// Backend is everything the runner needs from persistence.
type Backend interface {
	TxStore
	LockStore
	RunStore
}
